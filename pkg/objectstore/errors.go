package objectstore

import "errors"

// ErrNotFound is returned by Backend.Get when the named object does not
// exist on the backend. Backend.Delete of a missing object returns nil.
var ErrNotFound = errors.New("objectstore: object not found")

// ErrQueueClosed is returned by Adapter methods called after Close.
var ErrQueueClosed = errors.New("objectstore: adapter queue is closed")
