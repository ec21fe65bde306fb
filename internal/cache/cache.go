// Package cache holds ConversationMetadata caches. The service reads
// metadata through a cache and invalidates it on every save and delete; a
// cache failure is never fatal and is treated as a miss.
package cache

import (
	"context"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// Nop is the cache used when no Redis URL is configured. Every lookup misses.
type Nop struct{}

var _ types.MetadataCache = Nop{}

func (Nop) Get(context.Context, string, string) (*types.ConversationMetadata, error) {
	return nil, nil
}

func (Nop) Set(context.Context, *types.ConversationMetadata) error { return nil }

func (Nop) Invalidate(context.Context, string, string) error { return nil }
