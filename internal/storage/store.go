// Package storage provides abstractions for local persistent data storage.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KV.Get when the key has never been set.
var ErrNotFound = errors.New("key not found")

// KV is a durable string key -> string value store local to this device.
// This abstraction allows swapping storage backends without changing the
// overlay layer.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
