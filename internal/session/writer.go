package session

import (
	"context"
	"sync"
	"time"

	"weatherbot/internal/common/logger"
	"weatherbot/internal/common/metrics"
)

// mirrorOp is one durable write queued for asynchronous execution.
type mirrorOp func(ctx context.Context, st Store) error

// mirrorWriter executes durable writes on a small worker pool behind a
// bounded queue. The request path enqueues and returns immediately; when the
// queue is full the write is dropped and counted, never blocked on.
type mirrorWriter struct {
	store     Store
	ops       chan mirrorOp
	timeout   time.Duration
	logger    logger.Logger
	onFailure func(err error)

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newMirrorWriter(store Store, queueSize, workers int, timeout time.Duration, log logger.Logger, onFailure func(error)) *mirrorWriter {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 2
	}

	w := &mirrorWriter{
		store:     store,
		ops:       make(chan mirrorOp, queueSize),
		timeout:   timeout,
		logger:    log.WithFields(map[string]interface{}{"component": "session-mirror"}),
		onFailure: onFailure,
	}

	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go w.loop()
	}
	return w
}

// enqueue hands the op to the pool. Returns false when the queue is full.
func (w *mirrorWriter) enqueue(op mirrorOp) bool {
	select {
	case w.ops <- op:
		return true
	default:
		metrics.MirrorWritesDropped.Inc()
		w.logger.Warn("mirror queue full, dropping durable write", map[string]interface{}{
			"queueSize": cap(w.ops),
		})
		return false
	}
}

func (w *mirrorWriter) loop() {
	defer w.wg.Done()
	for op := range w.ops {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := op(ctx, w.store)
		cancel()
		if err != nil {
			metrics.MirrorWriteFailures.Inc()
			w.logger.Warn("durable mirror write failed", map[string]interface{}{
				"error": err.Error(),
			})
			if w.onFailure != nil {
				w.onFailure(err)
			}
		}
	}
}

// close drains queued ops and waits for the workers to finish.
func (w *mirrorWriter) close() {
	w.closeOnce.Do(func() {
		close(w.ops)
	})
	w.wg.Wait()
}
