// Package engine is the operations facade the API layer talks to. It wires
// the session store, scene registry and render queue together and owns the
// synchronous validation at the ingestion boundary.
package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/logger"
	"github.com/ivlev/shadowplay/internal/metrics"
	"github.com/ivlev/shadowplay/internal/render"
	"github.com/ivlev/shadowplay/internal/scene"
	"github.com/ivlev/shadowplay/internal/session"
)

// durationSlack is how far a captured segment may drift from the scene's
// scheduled duration before we log it. Drift is tolerated, the timeline is
// built from captured durations either way.
const durationSlack = 0.5

type Engine struct {
	store  session.Store
	scenes *scene.Registry
	queue  *render.Queue
	log    *logger.Logger
}

func New(store session.Store, scenes *scene.Registry, queue *render.Queue, log *logger.Logger) *Engine {
	return &Engine{store: store, scenes: scenes, queue: queue, log: log}
}

// CreateSession opens a new capture session against an existing scene.
func (e *Engine) CreateSession(ctx context.Context, sceneID string) (*session.Session, error) {
	if _, err := e.scenes.Scene(sceneID); err != nil {
		return nil, err
	}
	s, err := e.store.Create(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	metrics.SessionsCreated.Inc()
	return s, nil
}

func (e *Engine) Session(ctx context.Context, id string) (*session.Session, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) Sessions(ctx context.Context, filter *session.Status) ([]*session.Session, error) {
	return e.store.List(ctx, filter)
}

// SceneIDs lists the scenes sessions can be created against.
func (e *Engine) SceneIDs() []string {
	return e.scenes.SceneIDs()
}

// UploadSegment validates one captured segment and upserts it by index.
// Validation failures are rejected whole, nothing is partially applied. The
// session's status is never touched; re-uploading an index overwrites it.
func (e *Engine) UploadSegment(ctx context.Context, sessionID string, addressedIndex int, seg session.Segment) (*session.Session, error) {
	if seg.Index != addressedIndex {
		metrics.SegmentsRejected.WithLabelValues("index_mismatch").Inc()
		return nil, fmt.Errorf("%w: body declares segment %d but request addresses %d",
			errs.ErrValidation, seg.Index, addressedIndex)
	}

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sc, err := e.scenes.Scene(sess.SceneID)
	if err != nil {
		return nil, err
	}

	if seg.Index < 0 || seg.Index >= sc.SegmentCount() {
		metrics.SegmentsRejected.WithLabelValues("index_range").Inc()
		return nil, fmt.Errorf("%w: segment index %d outside scene %s's %d configured segments",
			errs.ErrValidation, seg.Index, sc.ID, sc.SegmentCount())
	}
	if seg.Duration <= 0 {
		metrics.SegmentsRejected.WithLabelValues("duration").Inc()
		return nil, fmt.Errorf("%w: segment %d duration %.3f", errs.ErrValidation, seg.Index, seg.Duration)
	}
	for i := range seg.Frames {
		if err := seg.Frames[i].Validate(); err != nil {
			metrics.SegmentsRejected.WithLabelValues("landmarks").Inc()
			return nil, fmt.Errorf("segment %d frame %d: %w", seg.Index, i, err)
		}
	}

	if sched := sc.Segments[seg.Index].Duration; math.Abs(seg.Duration-sched) > durationSlack {
		e.log.Warn("captured duration drifts from schedule",
			"session_id", sessionID, "segment", seg.Index,
			"captured", seg.Duration, "scheduled", sched)
	}

	out, err := e.store.PutSegment(ctx, sessionID, seg)
	if err != nil {
		return nil, err
	}
	metrics.SegmentsIngested.Inc()
	return out, nil
}

// SubmitRender queues the session's render. The call returns as soon as the
// job is accepted; callers poll the session status for the outcome.
func (e *Engine) SubmitRender(ctx context.Context, id string) error {
	return e.queue.Submit(ctx, id)
}

// Cancel marks the session CANCELLED from any state and aborts its render
// job if one is in flight. Repeated cancellation is a no-op success.
func (e *Engine) Cancel(ctx context.Context, id string) (*session.Session, error) {
	s, err := e.store.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	e.queue.Abort(id)
	return s, nil
}

// Delete removes the session and its artifacts as one logical operation,
// aborting any in-flight render first.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.queue.Abort(id)
	return e.store.Delete(ctx, id)
}
