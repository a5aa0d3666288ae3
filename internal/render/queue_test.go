package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/session"
)

func waitForStatus(t *testing.T, store session.Store, id string, want session.Status) *session.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if s.Status == want {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	s, _ := store.Get(context.Background(), id)
	t.Fatalf("session %s never reached %s, stuck at %s", id, want, s.Status)
	return nil
}

func TestQueueRunsJobToDone(t *testing.T) {
	rig := newRenderRig(t)
	s := rig.newCompleteSession(t)

	q := NewQueue(1, rig.store, rig.renderer, rig.renderer.log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	if err := q.Submit(ctx, s.ID); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	done := waitForStatus(t, rig.store, s.ID, session.StatusDone)
	if done.OutputPath == "" {
		t.Error("OutputPath empty after render")
	}
	cancel()
	q.Wait()
}

func TestQueueSubmitRejectsNonPending(t *testing.T) {
	rig := newRenderRig(t)
	s := rig.newCompleteSession(t)
	ctx := context.Background()

	if _, err := rig.store.Cancel(ctx, s.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	q := NewQueue(1, rig.store, rig.renderer, rig.renderer.log)
	if err := q.Submit(ctx, s.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestQueueSubmitUnknownSession(t *testing.T) {
	rig := newRenderRig(t)
	q := NewQueue(1, rig.store, rig.renderer, rig.renderer.log)

	if err := q.Submit(context.Background(), "no-such-id"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestQueueSubmitMarksProcessing(t *testing.T) {
	rig := newRenderRig(t)
	s := rig.newCompleteSession(t)
	ctx := context.Background()

	// Воркеры не запущены: job остаётся в очереди
	q := NewQueue(1, rig.store, rig.renderer, rig.renderer.log)
	if err := q.Submit(ctx, s.ID); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, _ := rig.store.Get(ctx, s.ID)
	if got.Status != session.StatusProcessing {
		t.Errorf("Status = %s, want %s", got.Status, session.StatusProcessing)
	}

	if err := q.Submit(ctx, s.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second submit err = %v, want ErrConflict", err)
	}
}

func TestQueueFullFailsSession(t *testing.T) {
	rig := newRenderRig(t)
	s := rig.newCompleteSession(t)
	ctx := context.Background()

	q := NewQueue(1, rig.store, rig.renderer, rig.renderer.log)
	q.jobs = make(chan string) // без буфера и без воркеров приём невозможен

	err := q.Submit(ctx, s.ID)
	if !errors.Is(err, errs.ErrResourceExhausted) {
		t.Fatalf("err = %v, want ErrResourceExhausted", err)
	}

	got, _ := rig.store.Get(ctx, s.ID)
	if got.Status != session.StatusFailed {
		t.Errorf("Status = %s, want %s", got.Status, session.StatusFailed)
	}
}

// failFailedStore ломает запись статуса FAILED, остальное делегирует.
type failFailedStore struct {
	session.Store
}

func (f *failFailedStore) SetStatus(ctx context.Context, id string, status session.Status, outputPath string) (*session.Session, error) {
	if status == session.StatusFailed {
		return nil, fmt.Errorf("%w: sessions dir unwritable", errs.ErrStorageIO)
	}
	return f.Store.SetStatus(ctx, id, status, outputPath)
}

func TestQueueFullSurvivesStatusWriteFailure(t *testing.T) {
	rig := newRenderRig(t)
	s := rig.newCompleteSession(t)
	ctx := context.Background()

	q := NewQueue(1, &failFailedStore{Store: rig.store}, rig.renderer, rig.renderer.log)
	q.jobs = make(chan string) // без буфера и без воркеров приём невозможен

	err := q.Submit(ctx, s.ID)
	if !errors.Is(err, errs.ErrResourceExhausted) {
		t.Fatalf("err = %v, want ErrResourceExhausted", err)
	}

	// FAILED не записался: сессию подберёт RecoverInterrupted после рестарта
	got, _ := rig.store.Get(ctx, s.ID)
	if got.Status != session.StatusProcessing {
		t.Errorf("Status = %s, want %s", got.Status, session.StatusProcessing)
	}
}

func TestQueueAbortCancelsRunningJob(t *testing.T) {
	rig := newRenderRig(t)
	rig.decoder.src.total = 1000
	rig.decoder.src.frameWait = 5 * time.Millisecond
	s := rig.newCompleteSession(t)

	q := NewQueue(1, rig.store, rig.renderer, rig.renderer.log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	if err := q.Submit(ctx, s.ID); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Дождаться, пока job реально начнёт читать кадры
	deadline := time.Now().Add(5 * time.Second)
	for rig.decoder.src.served.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never started decoding")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := rig.store.Cancel(context.Background(), s.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	q.Abort(s.ID)

	for !rig.decoder.src.closed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("job never stopped after abort")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := waitForStatus(t, rig.store, s.ID, session.StatusCancelled)
	if got.OutputPath != "" {
		t.Errorf("OutputPath = %q after abort", got.OutputPath)
	}
	if _, err := os.Stat(filepath.Join(rig.outDir, session.OutputName(s.ID))); !os.IsNotExist(err) {
		t.Error("aborted render left an output file")
	}
	cancel()
	q.Wait()
}

func TestRecoverInterrupted(t *testing.T) {
	rig := newRenderRig(t)
	ctx := context.Background()

	stuck := rig.newCompleteSession(t)
	if _, err := rig.store.SetStatus(ctx, stuck.ID, session.StatusProcessing, ""); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	fresh, _ := rig.store.Create(ctx, "pond")

	q := NewQueue(1, rig.store, rig.renderer, rig.renderer.log)
	if err := q.RecoverInterrupted(ctx); err != nil {
		t.Fatalf("RecoverInterrupted failed: %v", err)
	}

	got, _ := rig.store.Get(ctx, stuck.ID)
	if got.Status != session.StatusFailed {
		t.Errorf("interrupted session = %s, want %s", got.Status, session.StatusFailed)
	}
	untouched, _ := rig.store.Get(ctx, fresh.ID)
	if untouched.Status != session.StatusPending {
		t.Errorf("pending session = %s, want untouched", untouched.Status)
	}
}
