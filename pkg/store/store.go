// Package store defines the datastore abstraction the plugin persists
// through: a flat, path-keyed byte-value store, the same shape the
// daemon exposes for its own plugin datastore (keys like
// [greenlight, peerlist] or [glconf, request]). The signer-state mirror
// (package statestore) is held in memory only and is not written
// through this store.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// Key is a hierarchical datastore path, e.g. []string{"glconf", "request"}.
type Key []string

// String joins the key segments with "/" for use as a storage-layer
// primary key.
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Datastore is a flat path-keyed byte store.
type Datastore interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Put(ctx context.Context, key Key, value []byte) error
	Delete(ctx context.Context, key Key) error
	Close() error
	Ping(ctx context.Context) error
}
