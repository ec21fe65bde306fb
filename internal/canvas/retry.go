package canvas

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// Retry causes, also the label values of metrics.SaveRetries.
const (
	causeConflict  = "conflict"
	causeTransient = "transient"
)

// retryCause reports whether err is worth another write attempt and why.
// A failed version gate is merged and retried; a transient database error
// is retried as is. Anything else is final.
func retryCause(err error) (string, bool) {
	switch {
	case errors.Is(err, types.ErrVersionConflict):
		return causeConflict, true
	case errors.Is(err, types.ErrTransient):
		return causeTransient, true
	}
	return "", false
}

// backoff is the wait before retry n (0-based): 2^n times the base delay.
func (s *Service) backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	return s.baseDelay * time.Duration(1<<uint(attempt))
}

func (s *Service) retries(o types.SaveOptions) int {
	if o.RetryCount == nil {
		return s.defaultRetries
	}
	return *o.RetryCount
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
