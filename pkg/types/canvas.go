// Canvas, node and edge entities.

package types

import "time"

// Node type constants.
const (
	NodeTypeEntry           = "entry"
	NodeTypeBranch          = "branch"
	NodeTypeContext         = "context"
	NodeTypeExternalContext = "externalContext"
	NodeTypeLLMCall         = "llmCall"
	NodeTypeUserMessage     = "userMessage"
	NodeTypeGroup           = "group"
)

var validNodeTypes = map[string]bool{
	NodeTypeEntry:           true,
	NodeTypeBranch:          true,
	NodeTypeContext:         true,
	NodeTypeExternalContext: true,
	NodeTypeLLMCall:         true,
	NodeTypeUserMessage:     true,
	NodeTypeGroup:           true,
}

// IsValidNodeType reports whether t is one of the known node variants.
func IsValidNodeType(t string) bool {
	return validNodeTypes[t]
}

// Position is a node's location on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the UI's pan and zoom state.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Node is a conversation fragment on a canvas.
type Node struct {
	// ID is unique within a canvas.
	ID string `json:"id"`

	// Type is one of the NodeType constants.
	Type string `json:"type"`

	Position Position `json:"position"`

	// Data carries UI payload the store does not interpret.
	Data map[string]any `json:"data,omitempty"`

	// Messages keeps the shape each entry arrived in (flat or paired turn).
	Messages []MessageEntry `json:"messages"`

	// ParentNodeID names the node this one was forked from. It is a lookup
	// key only; the parent may no longer exist.
	ParentNodeID *string `json:"parentNodeId,omitempty"`

	// ForkedFromMessageID names the message the fork was taken at.
	ForkedFromMessageID *string `json:"forkedFromMessageId,omitempty"`
}

// Edge is a directed connection between two nodes of the same canvas.
type Edge struct {
	ID    string         `json:"id"`
	From  string         `json:"from"`
	To    string         `json:"to"`
	Label string         `json:"label,omitempty"`
	Style map[string]any `json:"style,omitempty"`
}

// Canvas is the top-level saved entity.
type Canvas struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	Version   int64     `json:"version"`
	Note      string    `json:"note,omitempty"`
	Viewport  *Viewport `json:"viewport,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Document is the denormalized JSON blob stored with every canvas row and
// captured by backups.
type Document struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Version  int64     `json:"version"`
	Note     string    `json:"note,omitempty"`
	Viewport *Viewport `json:"viewport,omitempty"`
}

// Document returns the canvas in its stored document shape.
func (c *Canvas) Document() Document {
	return Document{
		ID:       c.ID,
		Title:    c.Title,
		Nodes:    nonNilNodes(c.Nodes),
		Edges:    nonNilEdges(c.Edges),
		Version:  c.Version,
		Note:     c.Note,
		Viewport: c.Viewport,
	}
}

// Counts returns the node, edge and flattened message counts of the document.
func (d Document) Counts() (nodes, edges, messages int) {
	for _, n := range d.Nodes {
		messages += len(FlattenMessages(n.Messages))
	}
	return len(d.Nodes), len(d.Edges), messages
}

// NodeIndex returns the position of the node with id, or -1.
func NodeIndex(nodes []Node, id string) int {
	for i := range nodes {
		if nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// CanvasSummary is one entry of a canvas listing.
type CanvasSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Version   int64     `json:"version"`
	NodeCount int       `json:"nodeCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CanvasPatch lists the canvas fields UpdateCanvas replaces. Nil fields are
// left unchanged.
type CanvasPatch struct {
	Title    *string   `json:"title,omitempty"`
	Nodes    *[]Node   `json:"nodes,omitempty"`
	Edges    *[]Edge   `json:"edges,omitempty"`
	Note     *string   `json:"note,omitempty"`
	Viewport *Viewport `json:"viewport,omitempty"`
}

// Apply copies the set fields of p onto c.
func (p CanvasPatch) Apply(c *Canvas) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Nodes != nil {
		c.Nodes = *p.Nodes
	}
	if p.Edges != nil {
		c.Edges = *p.Edges
	}
	if p.Note != nil {
		c.Note = *p.Note
	}
	if p.Viewport != nil {
		c.Viewport = p.Viewport
	}
}

// NodePatch lists the node fields UpdateNode replaces. Nil fields are left
// unchanged; messages are replaced through UpdateNodeMessages.
type NodePatch struct {
	Type                *string        `json:"type,omitempty"`
	Position            *Position      `json:"position,omitempty"`
	Data                map[string]any `json:"data,omitempty"`
	ParentNodeID        *string        `json:"parentNodeId,omitempty"`
	ForkedFromMessageID *string        `json:"forkedFromMessageId,omitempty"`
}

// Apply copies the set fields of p onto n.
func (p NodePatch) Apply(n *Node) {
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Position != nil {
		n.Position = *p.Position
	}
	if p.Data != nil {
		n.Data = p.Data
	}
	if p.ParentNodeID != nil {
		n.ParentNodeID = p.ParentNodeID
	}
	if p.ForkedFromMessageID != nil {
		n.ForkedFromMessageID = p.ForkedFromMessageID
	}
}

func nonNilNodes(nodes []Node) []Node {
	if nodes == nil {
		return []Node{}
	}
	return nodes
}

func nonNilEdges(edges []Edge) []Edge {
	if edges == nil {
		return []Edge{}
	}
	return edges
}
