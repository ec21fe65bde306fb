package canvas

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// GetMetadata returns a canvas's metadata, read through the cache. A canvas
// that was never saved through Save has empty metadata.
func (s *Service) GetMetadata(ctx context.Context, owner, canvasID string) (md *types.ConversationMetadata, err error) {
	defer guard("get metadata", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}

	cached, err := s.cache.Get(ctx, owner, canvasID)
	if err != nil {
		log.Warn().Err(err).Str("canvas_id", canvasID).Msg("canvas service: cache read failed")
	} else if cached != nil {
		return cached, nil
	}

	md, err = s.store.GetMetadata(ctx, owner, canvasID)
	if errors.Is(err, types.ErrNotFound) {
		cv, gerr := s.store.GetCanvas(ctx, owner, canvasID)
		if gerr != nil {
			return nil, gerr
		}
		md = &types.ConversationMetadata{
			CanvasID:   canvasID,
			UserID:     owner,
			Versioning: types.VersioningSummary{CurrentVersion: cv.Version},
		}
		err = nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, md); err != nil {
		log.Warn().Err(err).Str("canvas_id", canvasID).Msg("canvas service: cache write failed")
	}
	return md, nil
}

// GetSettings returns the owner's retention settings.
func (s *Service) GetSettings(ctx context.Context, owner string) (settings types.Settings, err error) {
	defer guard("get settings", &err)
	if err := requireOwner(owner); err != nil {
		return types.Settings{}, err
	}
	return s.store.GetSettings(ctx, owner)
}

// UpdateSettings validates and stores the owner's retention settings. The
// new cap applies from the next prune.
func (s *Service) UpdateSettings(ctx context.Context, owner string, settings types.Settings) (out types.Settings, err error) {
	defer guard("update settings", &err)
	if err := requireOwner(owner); err != nil {
		return types.Settings{}, err
	}
	if err := s.check("settings", settings); err != nil {
		return types.Settings{}, err
	}
	if err := s.store.PutSettings(ctx, owner, settings); err != nil {
		return types.Settings{}, err
	}
	return settings, nil
}

// GetSession returns a save session's counters. Sessions are looked up by
// id but only returned to their owner.
func (s *Service) GetSession(ctx context.Context, owner, sessionID string) (sess *types.Session, err error) {
	defer guard("get session", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	sess, err = s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != owner {
		return nil, types.ErrNotFound
	}
	return sess, nil
}
