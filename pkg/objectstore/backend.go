// Package objectstore provides the backend-agnostic remote blob interface
// used to upload, fetch, list, and delete volume files, plus an ordered
// async queue (Adapter) that decouples the catalog's commit path from
// backend latency.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Entry describes one object as reported by a backend listing.
type Entry struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Backend is implemented by every remote storage provider. Implementations
// must be safe for concurrent use; the Adapter serializes writes to a
// single object but may call different backends (or the same backend for
// different objects) concurrently is never assumed — see Adapter for the
// ordering guarantee actually provided.
type Backend interface {
	// Put uploads the full contents of r under name, overwriting any
	// existing object of the same name.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get returns a reader for the named object. Returns ErrNotFound if
	// the object does not exist.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes the named object. Idempotent: deleting a
	// non-existent object succeeds.
	Delete(ctx context.Context, name string) error

	// List returns every object whose name has the given prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Healthcheck performs a lightweight connectivity check.
	Healthcheck(ctx context.Context) error
}
