package canvas

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// CreateThread opens a named thread of checkpoints on a canvas.
func (s *Service) CreateThread(ctx context.Context, owner, canvasID, title string) (th *types.ConversationThread, err error) {
	defer guard("create thread", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.CreateThread(ctx, owner, canvasID, title)
}

// ListThreads returns a canvas's threads, oldest first.
func (s *Service) ListThreads(ctx context.Context, owner, canvasID string) (out []types.ConversationThread, err error) {
	defer guard("list threads", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.ListThreads(ctx, owner, canvasID)
}

// DeleteThread removes a thread and its checkpoints.
func (s *Service) DeleteThread(ctx context.Context, owner, threadID string) (res types.OpResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("delete thread: internal error: %v", r)
		}
		if err != nil {
			res = types.OpFailed(err)
		}
	}()
	if err := requireOwner(owner); err != nil {
		return res, err
	}
	if err := s.store.DeleteThread(ctx, owner, threadID); err != nil {
		return res, err
	}
	return types.OpResult{Success: true, Deleted: 1}, nil
}

// CreateCheckpoint stores a snapshot at the thread's next version.
func (s *Service) CreateCheckpoint(ctx context.Context, owner, threadID string, in types.CheckpointInput) (cp *types.ThreadCheckpoint, err error) {
	defer guard("create checkpoint", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if err := s.check("checkpoint", in); err != nil {
		return nil, err
	}
	return s.store.CreateCheckpoint(ctx, owner, threadID, in)
}

// ListCheckpoints returns a thread's checkpoints by version.
func (s *Service) ListCheckpoints(ctx context.Context, owner, threadID string) (out []types.ThreadCheckpoint, err error) {
	defer guard("list checkpoints", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.ListCheckpoints(ctx, owner, threadID)
}

// GetCheckpoint returns one checkpoint of a thread.
func (s *Service) GetCheckpoint(ctx context.Context, owner, threadID, checkpointID string) (cp *types.ThreadCheckpoint, err error) {
	defer guard("get checkpoint", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.GetCheckpoint(ctx, owner, threadID, checkpointID)
}
