package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes buffered log output on shutdown.
type Closer interface {
	Close()
}

// nopCloser backs synchronous mode, where there is nothing to flush.
type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the handler chain it was logged against, so
// handlers derived via WithAttrs keep their attributes when the record is
// written later.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler decouples log emission from log writing. Records go into a
// bounded queue and workers write them out; when the queue is full the
// record is dropped instead of stalling the caller. Confirmation polling
// and status fan-out emit in bursts, and a slow stdout must not back up
// into the request path.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// asyncCore is shared by every handler derived from one NewAsyncHandler call.
type asyncCore struct {
	queue   chan entry
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewAsyncHandler wraps inner with a queue of the given capacity, drained
// by the given number of workers.
func NewAsyncHandler(inner slog.Handler, capacity, workers int) *AsyncHandler {
	core := &asyncCore{queue: make(chan entry, capacity)}
	for range workers {
		core.wg.Add(1)
		go core.run()
	}
	return &AsyncHandler{inner: inner, core: core}
}

func (c *asyncCore) run() {
	defer c.wg.Done()
	for e := range c.queue {
		_ = e.h.Handle(context.Background(), e.rec)
	}
}

// Enabled delegates to the wrapped handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // hugeParam: receiver shape fixed by slog.Handler
	select {
	case h.core.queue <- entry{h: h.inner, rec: rec}:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler that shares the queue and workers.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup derives a handler that shares the queue and workers.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// Dropped reports how many records were discarded on queue overflow.
func (h *AsyncHandler) Dropped() int64 {
	return h.core.dropped.Load()
}

// Close writes out everything already enqueued and stops the workers.
// The handler must not be used afterwards.
func (h *AsyncHandler) Close() {
	close(h.core.queue)
	h.core.wg.Wait()
}
