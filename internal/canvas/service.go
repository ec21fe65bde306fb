// Package canvas is the save pipeline and the operations layered over a
// types.Store: versioned saves with optimistic concurrency and id-union
// conflict merging, backups and retention, node edits, metadata, settings
// and thread checkpoints.
//
// Every exported method is a boundary. Panics are recovered into errors,
// and save-shaped operations always return a populated SaveResult so the
// caller can report {success:false, error} without inspecting internals.
package canvas

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/internal/cache"
	"github.com/mesh-intelligence/easel/internal/merge"
	"github.com/mesh-intelligence/easel/pkg/types"
)

// Options tunes a Service. The zero value is usable.
type Options struct {
	// RetryBaseDelay is the backoff unit. Zero means types.DefaultRetryBaseDelay.
	RetryBaseDelay time.Duration

	// DefaultRetries is the retry budget of saves that name none. Zero
	// means types.DefaultRetryCount.
	DefaultRetries int

	// Sleep waits between retries. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// Service coordinates saves and the operations around them.
type Service struct {
	store    types.Store
	merger   types.Merger
	cache    types.MetadataCache
	validate *validator.Validate

	baseDelay      time.Duration
	defaultRetries int
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

// NewService builds a Service over store. A nil merger means id-union; a
// nil cache means no caching.
func NewService(store types.Store, merger types.Merger, mc types.MetadataCache, opts Options) *Service {
	if merger == nil {
		merger = merge.IDUnion{}
	}
	if mc == nil {
		mc = cache.Nop{}
	}
	s := &Service{
		store:          store,
		merger:         merger,
		cache:          mc,
		validate:       validator.New(),
		baseDelay:      opts.RetryBaseDelay,
		defaultRetries: opts.DefaultRetries,
		sleep:          opts.Sleep,
		now:            opts.Now,
	}
	if s.baseDelay <= 0 {
		s.baseDelay = types.DefaultRetryBaseDelay
	}
	if s.defaultRetries <= 0 {
		s.defaultRetries = types.DefaultRetryCount
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// guard converts a panic in op into an error. Deferred by every exported
// method.
func guard(op string, errp *error) {
	if r := recover(); r != nil {
		*errp = errors.Errorf("%s: internal error: %v", op, r)
		log.Error().Str("op", op).Interface("panic", r).Msg("canvas service: recovered panic")
	}
}

func requireOwner(owner string) error {
	if owner == "" {
		return types.ErrAuthenticationRequired
	}
	return nil
}

func (s *Service) check(what string, v any) error {
	if err := s.validate.Struct(v); err != nil {
		return errors.Wrapf(types.ErrInvalidData, "%s: %v", what, err)
	}
	return nil
}

// invalidate drops cached metadata; a cache failure only costs freshness
// until the entry expires.
func (s *Service) invalidate(ctx context.Context, owner, canvasID string) {
	if err := s.cache.Invalidate(ctx, owner, canvasID); err != nil {
		log.Warn().Err(err).Str("canvas_id", canvasID).Msg("canvas service: cache invalidate failed")
	}
}

// newID generates a UUID v7.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
