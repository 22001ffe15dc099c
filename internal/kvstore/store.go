// Package kvstore defines the key-value capability the persistence subsystem
// is built on. The substrate is shared and mutable: unrelated applications may
// co-locate keys, so callers scope everything they own under a namespace
// prefix and must never clear beyond it.
package kvstore

import "context"

// Store is the injected key-value capability. Implementations return
// sentinel.ErrNotFound for missing keys and sentinel.ErrQuotaExceeded when a
// write would exceed the substrate's capacity. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// ListKeys returns all keys beginning with prefix, in unspecified order.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
