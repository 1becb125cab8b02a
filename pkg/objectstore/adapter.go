package objectstore

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/coldvault/coldvault/internal/logger"
	"github.com/coldvault/coldvault/internal/telemetry"
)

type jobKind int

const (
	jobPut jobKind = iota
	jobDelete
)

type job struct {
	kind    jobKind
	name    string
	data    []byte
	size    int64
	onFlush FlushHook
	result  chan error
}

// FlushHook is invoked once, immediately before the worker's first
// attempt to write to the backend, giving the caller a place to commit
// the catalog state transition (temporary -> uploading) that marks an
// upload as genuinely underway. Running it here rather than at Put's
// call site keeps that transition out of the pre-commit transaction
// that created the volume row, so a crash before the worker reaches it
// leaves the row in "temporary" rather than a stranded "uploading"
// (spec.md §5 commit-before-upload discipline). A non-nil error aborts
// the put before the backend is touched.
type FlushHook func(ctx context.Context) error

// AdapterConfig configures the Adapter's queue and retry behavior.
type AdapterConfig struct {
	// QueueSize bounds the number of pending mutating operations.
	// Default: 1000.
	QueueSize int

	// MaxRetries bounds the number of retry attempts per operation
	// before it is reported as failed. Default: 5.
	MaxRetries uint64

	// MaxBackoff caps the exponential backoff interval between retries.
	// Default: 30s.
	MaxBackoff time.Duration
}

func (c *AdapterConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Adapter wraps a Backend with a single-worker FIFO queue for Put and
// Delete, guaranteeing that operations submitted in order complete in
// that same order — in particular that a volume's Put is durably applied
// to the backend before any later Delete referencing the same or a
// dependent volume is attempted (spec.md §4.2, §5 upload/delete ordering).
// Get and List are read-only and bypass the queue.
type Adapter struct {
	backend Backend
	config  AdapterConfig

	queue     chan job
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu        sync.Mutex
	pending   int
	completed int
	failed    int
	lastErr   error
	started   bool
	closed    bool
	emptyCond *sync.Cond
}

// NewAdapter wraps backend in a single-worker ordered queue.
func NewAdapter(backend Backend, config AdapterConfig) *Adapter {
	config.applyDefaults()
	a := &Adapter{
		backend:   backend,
		config:    config,
		queue:     make(chan job, config.QueueSize),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	a.emptyCond = sync.NewCond(&a.mu)
	return a
}

// Start launches the single background worker. Calling Start more than
// once is a no-op.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.worker(ctx)

	go func() {
		a.wg.Wait()
		close(a.stoppedCh)
	}()
}

// Close stops accepting new work, drains the queue, and waits up to
// timeout for the worker to exit.
func (a *Adapter) Close(timeout time.Duration) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.queue)
	close(a.stopCh)

	select {
	case <-a.stoppedCh:
	case <-time.After(timeout):
		return fmt.Errorf("objectstore: adapter close timed out with %d pending", a.Pending())
	}
	return nil
}

func (a *Adapter) worker(ctx context.Context) {
	defer a.wg.Done()
	for j := range a.queue {
		a.process(ctx, j)
	}
}

func (a *Adapter) process(ctx context.Context, j job) {
	var err error
	switch j.kind {
	case jobPut:
		err = a.putWithRetry(ctx, j.name, j.data, j.size, j.onFlush)
	case jobDelete:
		err = a.deleteWithRetry(ctx, j.name)
	}

	a.mu.Lock()
	a.pending--
	if err != nil {
		a.failed++
		a.lastErr = err
		logger.Error("objectstore: queued operation failed", logger.VolumeName(j.name), logger.Err(err))
	} else {
		a.completed++
	}
	if a.pending == 0 {
		a.emptyCond.Broadcast()
	}
	a.mu.Unlock()

	if j.result != nil {
		j.result <- err
		close(j.result)
	}
}

func (a *Adapter) backoffPolicy() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = a.config.MaxBackoff
	return backoff.WithMaxRetries(bo, a.config.MaxRetries)
}

func (a *Adapter) putWithRetry(ctx context.Context, name string, data []byte, size int64, onFlush FlushHook) error {
	ctx, span := telemetry.StartObjectStoreSpan(ctx, telemetry.SpanObjectStorePut, name, telemetry.Size(size))
	defer span.End()

	if onFlush != nil {
		if err := onFlush(ctx); err != nil {
			err = fmt.Errorf("objectstore: flush hook for %s: %w", name, err)
			telemetry.RecordError(ctx, err)
			return err
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		err := a.backend.Put(ctx, name, newByteReader(data), size)
		if err != nil {
			logger.DebugCtx(ctx, "objectstore: put attempt failed, retrying", logger.VolumeName(name), logger.Attempt(attempt), logger.MaxRetries(a.config.MaxRetries), logger.Err(err))
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(a.backoffPolicy(), ctx))
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

func (a *Adapter) deleteWithRetry(ctx context.Context, name string) error {
	ctx, span := telemetry.StartObjectStoreSpan(ctx, telemetry.SpanObjectStoreDelete, name)
	defer span.End()

	op := func() error {
		return a.backend.Delete(ctx, name)
	}
	err := backoff.Retry(op, backoff.WithContext(a.backoffPolicy(), ctx))
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

func (a *Adapter) enqueue(j job) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrQueueClosed
	}
	a.pending++
	a.mu.Unlock()

	a.queue <- j
	return nil
}

// Put enqueues an upload and returns immediately. The returned channel
// receives the terminal error (nil on success) once the operation has
// been processed; callers that don't need to wait may discard it.
// onFlush, if non-nil, runs once the worker is about to make its first
// attempt against the backend; callers use it to commit a catalog state
// transition exactly when the upload genuinely starts, rather than
// before the volume row's creating transaction commits.
func (a *Adapter) Put(ctx context.Context, name string, r io.Reader, size int64, onFlush FlushHook) (<-chan error, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("objectstore: buffer put %s: %w", name, err)
	}
	result := make(chan error, 1)
	if err := a.enqueue(job{kind: jobPut, name: name, data: data, size: size, onFlush: onFlush, result: result}); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete enqueues a deletion and returns immediately, strictly after any
// Put already enqueued for an earlier submission (FIFO ordering).
func (a *Adapter) Delete(ctx context.Context, name string) (<-chan error, error) {
	result := make(chan error, 1)
	if err := a.enqueue(job{kind: jobDelete, name: name, result: result}); err != nil {
		return nil, err
	}
	return result, nil
}

// Get bypasses the queue and reads directly from the backend.
func (a *Adapter) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	ctx, span := telemetry.StartObjectStoreSpan(ctx, telemetry.SpanObjectStoreGet, name)
	defer span.End()

	r, err := a.backend.Get(ctx, name)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return r, err
}

// List bypasses the queue and lists directly from the backend.
func (a *Adapter) List(ctx context.Context, prefix string) ([]Entry, error) {
	return a.backend.List(ctx, prefix)
}

// Healthcheck bypasses the queue.
func (a *Adapter) Healthcheck(ctx context.Context) error {
	return a.backend.Healthcheck(ctx)
}

// Pending returns the number of operations currently queued or in
// flight.
func (a *Adapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Stats returns cumulative queue counters.
func (a *Adapter) Stats() (pending, completed, failed int, lastErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending, a.completed, a.failed, a.lastErr
}

// WaitForEmpty blocks until every enqueued operation has completed, or
// ctx is cancelled. Used before transitioning the crash-flag off and
// before compact/purge report success (spec.md §3).
func (a *Adapter) WaitForEmpty(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.mu.Lock()
		for a.pending > 0 {
			a.emptyCond.Wait()
		}
		a.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushPending is an alias for WaitForEmpty kept for callers that think
// of this step as "flushing" rather than "waiting".
func (a *Adapter) FlushPending(ctx context.Context) error {
	return a.WaitForEmpty(ctx)
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
