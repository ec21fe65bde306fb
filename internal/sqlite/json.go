// JSON payloads stored in the normalized rows. A node row carries the node
// minus its messages; an edge row carries the whole edge.
package sqlite

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// nodeJSON is the payload column of a nodes row.
type nodeJSON struct {
	ID                  string         `json:"id"`
	Type                string         `json:"type"`
	Position            types.Position `json:"position"`
	Data                map[string]any `json:"data,omitempty"`
	ParentNodeID        *string        `json:"parentNodeId,omitempty"`
	ForkedFromMessageID *string        `json:"forkedFromMessageId,omitempty"`
}

func encodeNode(n types.Node) (string, error) {
	b, err := json.Marshal(nodeJSON{
		ID:                  n.ID,
		Type:                n.Type,
		Position:            n.Position,
		Data:                n.Data,
		ParentNodeID:        n.ParentNodeID,
		ForkedFromMessageID: n.ForkedFromMessageID,
	})
	if err != nil {
		return "", errors.Wrapf(err, "encode node %s", n.ID)
	}
	return string(b), nil
}

func decodeNode(payload string) (types.Node, error) {
	var nj nodeJSON
	if err := json.Unmarshal([]byte(payload), &nj); err != nil {
		return types.Node{}, errors.Wrap(err, "decode node payload")
	}
	return types.Node{
		ID:                  nj.ID,
		Type:                nj.Type,
		Position:            nj.Position,
		Data:                nj.Data,
		ParentNodeID:        nj.ParentNodeID,
		ForkedFromMessageID: nj.ForkedFromMessageID,
	}, nil
}

func encodeEdge(e types.Edge) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrapf(err, "encode edge %s", e.ID)
	}
	return string(b), nil
}

func decodeEdge(payload string) (types.Edge, error) {
	var e types.Edge
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return types.Edge{}, errors.Wrap(err, "decode edge payload")
	}
	return e, nil
}

func encodeDocument(d types.Document) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", errors.Wrapf(err, "encode document %s", d.ID)
	}
	return string(b), nil
}

func decodeDocument(s string) (types.Document, error) {
	var d types.Document
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return types.Document{}, errors.Wrap(err, "decode document")
	}
	return d, nil
}

// encodeJSON marshals v for a TEXT column; a nil pointer becomes NULL.
func encodeJSON(v any) (any, error) {
	if vp, ok := v.(*types.Viewport); ok && vp == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
