// Package storage defines the persistence interfaces for client-side portal
// state.
//
// Implementations live in subpackages: redisstore provides the fast store and
// advisory change notifications, sqlite the durable fallback. Everything is
// keyed small JSON payloads; the backend remains the source of truth for all
// of it.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// KV persists small JSON payloads under well-known keys.
type KV interface {
	// Load returns the payload stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces the payload stored under key.
	Save(ctx context.Context, key string, payload []byte) error
	// Delete removes the payload stored under key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error
}

// Notifier delivers advisory change notifications for storage keys.
//
// Notifications are best-effort: observers use them only as a hint to
// re-check authoritative state, never as the state itself. Any transport
// satisfies the contract as long as the callback fires with the changed key.
//
// Implementations must not deliver changes that this instance wrote itself.
// Observers react to notifications by re-checking state and writing the
// result back, so a self-delivered write would feed its own trigger.
type Notifier interface {
	// Watch invokes onChange with the changed key until stop is called or ctx
	// is cancelled. Only changes from other instances are delivered.
	Watch(ctx context.Context, onChange func(key string)) (stop func(), err error)
}
