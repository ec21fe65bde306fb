// Conversation threads and checkpoints: manual save points scoped to a
// thread of a canvas, versioned independently of the canvas itself.

package types

import "time"

// ConversationThread is a named line of checkpoints on a canvas.
type ConversationThread struct {
	ID              string    `json:"id"`
	CanvasID        string    `json:"canvasId"`
	UserID          string    `json:"userId"`
	Title           string    `json:"title"`
	CheckpointCount int       `json:"checkpointCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ThreadCheckpoint is a snapshot of nodes, edges and viewport.
type ThreadCheckpoint struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Version   int64     `json:"version"`
	Label     string    `json:"label"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	Viewport  *Viewport `json:"viewport,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ThreadNode is the normalized row of one node inside a checkpoint.
type ThreadNode struct {
	CheckpointID string `json:"checkpointId"`
	NodeID       string `json:"nodeId"`
	Type         string `json:"type"`
	MessageCount int    `json:"messageCount"`
}

// CheckpointInput is the payload of a new checkpoint.
type CheckpointInput struct {
	Label    string    `json:"label" validate:"max=200"`
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Viewport *Viewport `json:"viewport,omitempty"`
}
