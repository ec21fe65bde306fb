// Package merge reconciles a stale canvas write with the stored state.
//
// The policy is a union by id: the incoming (local) arrays are kept as given
// and any stored (remote) id the local side does not carry is appended in
// stored order. Edits to an id both sides carry are not reconciled; the
// local copy wins.
package merge

import "github.com/mesh-intelligence/easel/pkg/types"

// IDUnion is the id-union Merger.
type IDUnion struct{}

var _ types.Merger = IDUnion{}

// Merge returns the id-union of local and remote nodes and edges.
func (IDUnion) Merge(localNodes []types.Node, localEdges []types.Edge, remoteNodes []types.Node, remoteEdges []types.Edge) ([]types.Node, []types.Edge) {
	return Nodes(localNodes, remoteNodes), Edges(localEdges, remoteEdges)
}

// Nodes unions node slices by id, local first.
func Nodes(local, remote []types.Node) []types.Node {
	seen := make(map[string]bool, len(local))
	out := make([]types.Node, 0, len(local)+len(remote))
	for _, n := range local {
		seen[n.ID] = true
		out = append(out, n)
	}
	for _, n := range remote {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	return out
}

// Edges unions edge slices by id, local first.
func Edges(local, remote []types.Edge) []types.Edge {
	seen := make(map[string]bool, len(local))
	out := make([]types.Edge, 0, len(local)+len(remote))
	for _, e := range local {
		seen[e.ID] = true
		out = append(out, e)
	}
	for _, e := range remote {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}
