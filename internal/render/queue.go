package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/logger"
	"github.com/ivlev/shadowplay/internal/metrics"
	"github.com/ivlev/shadowplay/internal/session"
)

const defaultQueueDepth = 128

// Queue runs render jobs on a fixed pool of workers. Submit is asynchronous;
// callers poll the session status for the outcome. Each running job carries
// its own cancelable context so one session can be aborted without touching
// the rest of the pool.
type Queue struct {
	store    session.Store
	renderer *Renderer
	log      *logger.Logger
	workers  int

	jobs chan string

	mu      sync.Mutex
	running map[string]context.CancelFunc

	wg sync.WaitGroup
}

func NewQueue(workers int, store session.Store, renderer *Renderer, log *logger.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		store:    store,
		renderer: renderer,
		log:      log,
		workers:  workers,
		jobs:     make(chan string, defaultQueueDepth),
		running:  make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled;
// Wait blocks until the last in-flight job has finished.
func (q *Queue) Start(ctx context.Context) {
	for w := 0; w < q.workers; w++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-q.jobs:
					q.run(ctx, id)
				}
			}
		}()
	}
}

// Wait blocks until every worker has stopped.
func (q *Queue) Wait() { q.wg.Wait() }

// Submit moves a PENDING session to PROCESSING and enqueues its render job.
// A session in any other state is rejected with ErrConflict. A full queue
// fails the session and reports ErrResourceExhausted.
func (q *Queue) Submit(ctx context.Context, id string) error {
	sess, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusPending {
		return fmt.Errorf("%w: session %s is %s, render needs %s",
			errs.ErrConflict, id, sess.Status, session.StatusPending)
	}

	if _, err := q.store.SetStatus(ctx, id, session.StatusProcessing, ""); err != nil {
		if errors.Is(err, errs.ErrValidation) || errors.Is(err, errs.ErrTerminalState) {
			// Проиграли гонку второму submit или отмене
			return fmt.Errorf("%w: session %s already left %s", errs.ErrConflict, id, session.StatusPending)
		}
		return err
	}

	select {
	case q.jobs <- id:
		return nil
	default:
		// Очередь забита, откатить в PENDING нельзя, поэтому честный отказ
		if _, serr := q.store.SetStatus(ctx, id, session.StatusFailed, ""); serr != nil {
			// Сессия зависнет в PROCESSING до RecoverInterrupted на старте
			q.log.Error("could not fail session after queue overflow", "session_id", id, "error", serr)
		}
		return fmt.Errorf("%w: render queue full", errs.ErrResourceExhausted)
	}
}

// Abort cancels the running job for id, if any. The session record itself
// is not touched; callers cancel it through the store first.
func (q *Queue) Abort(id string) {
	q.mu.Lock()
	cancel, ok := q.running[id]
	q.mu.Unlock()
	if ok {
		cancel()
	}
}

func (q *Queue) run(ctx context.Context, id string) {
	jobCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.running[id] = cancel
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.running, id)
		q.mu.Unlock()
		cancel()
	}()

	metrics.RendersActive.Inc()
	start := time.Now()
	err := q.renderer.Render(jobCtx, id)
	metrics.RendersActive.Dec()
	metrics.RenderDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.RendersTotal.WithLabelValues("done").Inc()
	case errors.Is(err, context.Canceled):
		metrics.RendersTotal.WithLabelValues("cancelled").Inc()
	default:
		metrics.RendersTotal.WithLabelValues("failed").Inc()
	}
}

// RecoverInterrupted fails every PROCESSING session left behind by a crash
// or restart. Run once at startup, before the queue accepts jobs.
func (q *Queue) RecoverInterrupted(ctx context.Context) error {
	processing := session.StatusProcessing
	stale, err := q.store.List(ctx, &processing)
	if err != nil {
		return err
	}
	for _, s := range stale {
		if _, err := q.store.SetStatus(ctx, s.ID, session.StatusFailed, ""); err != nil {
			q.log.Warn("could not fail interrupted session", "session_id", s.ID, "error", err)
			continue
		}
		q.log.Warn("failed session interrupted by restart", "session_id", s.ID)
	}
	return nil
}
