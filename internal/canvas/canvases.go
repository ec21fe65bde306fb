package canvas

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// DefaultCanvasTitle names canvases created by CreateDefaultCanvas.
const DefaultCanvasTitle = "New Conversation"

// GetCanvas returns the hydrated canvas.
func (s *Service) GetCanvas(ctx context.Context, owner, canvasID string) (cv *types.Canvas, err error) {
	defer guard("get canvas", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.GetCanvas(ctx, owner, canvasID)
}

// ListCanvases returns the owner's canvases, most recently updated first.
func (s *Service) ListCanvases(ctx context.Context, owner string) (out []types.CanvasSummary, err error) {
	defer guard("list canvases", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.ListCanvases(ctx, owner)
}

// CreateDefaultCanvas creates a canvas holding a single entry node at
// version 1 and makes it the owner's active canvas.
func (s *Service) CreateDefaultCanvas(ctx context.Context, owner string) (cv *types.Canvas, err error) {
	defer guard("create default canvas", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	cv = &types.Canvas{
		ID:     newID(),
		UserID: owner,
		Title:  DefaultCanvasTitle,
		Nodes: []types.Node{{
			ID:       newID(),
			Type:     types.NodeTypeEntry,
			Position: types.Position{X: 250, Y: 100},
			Messages: []types.MessageEntry{},
		}},
		Edges:   []types.Edge{},
		Version: 1,
	}
	if err := s.store.CreateCanvas(ctx, cv); err != nil {
		return nil, errors.Wrap(err, "create default canvas")
	}
	if err := s.store.SetActiveCanvas(ctx, owner, cv.ID); err != nil {
		log.Warn().Err(err).Str("canvas_id", cv.ID).Msg("canvas service: active canvas update failed")
	}
	return cv, nil
}

// DeleteCanvas removes a canvas with its nodes, edges and messages and drops
// its cached metadata. Backups are kept.
func (s *Service) DeleteCanvas(ctx context.Context, owner, canvasID string) (res types.OpResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("delete canvas: internal error: %v", r)
		}
		if err != nil {
			res = types.OpFailed(err)
		}
	}()
	if err := requireOwner(owner); err != nil {
		return res, err
	}
	if err := s.store.DeleteCanvas(ctx, owner, canvasID); err != nil {
		return res, err
	}
	s.invalidate(ctx, owner, canvasID)
	log.Debug().Str("canvas_id", canvasID).Msg("canvas service: deleted")
	return types.OpResult{Success: true, Deleted: 1}, nil
}

// Resync rebuilds a canvas's normalized rows from its stored document.
func (s *Service) Resync(ctx context.Context, owner, canvasID string) (err error) {
	defer guard("resync canvas", &err)
	if err := requireOwner(owner); err != nil {
		return err
	}
	return s.store.SyncCanvas(ctx, owner, canvasID)
}

// ActiveCanvas returns the id of the canvas the owner saved last, or "".
func (s *Service) ActiveCanvas(ctx context.Context, owner string) (id string, err error) {
	defer guard("active canvas", &err)
	if err := requireOwner(owner); err != nil {
		return "", err
	}
	return s.store.ActiveCanvas(ctx, owner)
}

// Node-level edits. Each writes the normalized rows and patches the
// document, bumping the canvas version.

// AddNode appends n to a canvas.
func (s *Service) AddNode(ctx context.Context, owner, canvasID string, n types.Node) (err error) {
	defer guard("add node", &err)
	if err := requireOwner(owner); err != nil {
		return err
	}
	return s.store.AddNode(ctx, owner, canvasID, n)
}

// UpdateNode applies patch to one node.
func (s *Service) UpdateNode(ctx context.Context, owner, canvasID, nodeID string, patch types.NodePatch) (n *types.Node, err error) {
	defer guard("update node", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.UpdateNode(ctx, owner, canvasID, nodeID, patch)
}

// RemoveNode deletes a node and the edges touching it. Nodes forked from it
// keep their parentNodeId.
func (s *Service) RemoveNode(ctx context.Context, owner, canvasID, nodeID string) (err error) {
	defer guard("remove node", &err)
	if err := requireOwner(owner); err != nil {
		return err
	}
	return s.store.RemoveNode(ctx, owner, canvasID, nodeID)
}

// UpdateNodeMessages replaces a node's messages.
func (s *Service) UpdateNodeMessages(ctx context.Context, owner, canvasID, nodeID string, msgs []types.MessageEntry) (err error) {
	defer guard("update node messages", &err)
	if err := requireOwner(owner); err != nil {
		return err
	}
	return s.store.UpdateNodeMessages(ctx, owner, canvasID, nodeID, msgs)
}
