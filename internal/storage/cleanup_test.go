package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/logger"
	"github.com/ivlev/shadowplay/internal/session"
)

func newTestCleaner(t *testing.T, policy Policy) (*Cleaner, *session.FileStore) {
	t.Helper()
	base := t.TempDir()
	log := logger.NewNop()
	store, err := session.NewFileStore(filepath.Join(base, "sessions"), filepath.Join(base, "outputs"), log)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return NewCleaner(store, policy, log), store
}

// makePair creates a cancelled session aged back by age, with an output
// file of outputBytes when non-zero.
func makePair(t *testing.T, store *session.FileStore, age time.Duration, outputBytes int) string {
	t.Helper()
	ctx := context.Background()
	s, err := store.Create(ctx, "lakeside")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Cancel(ctx, s.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if outputBytes > 0 {
		out := filepath.Join(store.OutputsDir(), session.OutputName(s.ID))
		if err := os.WriteFile(out, bytes.Repeat([]byte{'x'}, outputBytes), 0o644); err != nil {
			t.Fatalf("write output failed: %v", err)
		}
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(filepath.Join(store.SessionsDir(), session.MetaName(s.ID)), old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	return s.ID
}

func pairExists(store *session.FileStore, id string) bool {
	_, err := os.Stat(filepath.Join(store.SessionsDir(), session.MetaName(id)))
	return err == nil
}

func usedBytes(t *testing.T, store *session.FileStore) uint64 {
	t.Helper()
	var total uint64
	for _, dir := range []string{store.SessionsDir(), store.OutputsDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			total += uint64(info.Size())
		}
	}
	return total
}

func TestSweepExpiredDeletesOldPairs(t *testing.T) {
	c, store := newTestCleaner(t, Policy{MaxAge: 7 * 24 * time.Hour})
	old := makePair(t, store, 10*24*time.Hour, 500)
	young := makePair(t, store, 3*24*time.Hour, 500)

	rep, err := c.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}

	if pairExists(store, old) {
		t.Error("10 day old pair survived a 7 day sweep")
	}
	if !pairExists(store, young) {
		t.Error("3 day old pair was deleted by a 7 day sweep")
	}
	if _, err := os.Stat(filepath.Join(store.OutputsDir(), session.OutputName(old))); !os.IsNotExist(err) {
		t.Error("output file outlived its metadata")
	}
	if rep.FilesDeleted != 2 {
		t.Errorf("FilesDeleted = %d, want 2 (metadata + output)", rep.FilesDeleted)
	}
	if rep.SpaceFreedMB <= 0 {
		t.Errorf("SpaceFreedMB = %f, want > 0", rep.SpaceFreedMB)
	}
}

func TestSweepExcludesActiveSessions(t *testing.T) {
	c, store := newTestCleaner(t, Policy{MaxAge: 7 * 24 * time.Hour})
	ctx := context.Background()

	pending, err := store.Create(ctx, "lakeside")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	processing, err := store.Create(ctx, "lakeside")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.SetStatus(ctx, processing.ID, session.StatusProcessing, ""); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	old := time.Now().Add(-30 * 24 * time.Hour)
	for _, id := range []string{pending.ID, processing.ID} {
		if err := os.Chtimes(filepath.Join(store.SessionsDir(), session.MetaName(id)), old, old); err != nil {
			t.Fatalf("Chtimes failed: %v", err)
		}
	}

	if _, err := c.SweepExpired(ctx); err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}

	if !pairExists(store, pending.ID) {
		t.Error("ancient PENDING session was swept")
	}
	if !pairExists(store, processing.ID) {
		t.Error("ancient PROCESSING session was swept")
	}
}

func TestSweepRemovesOrphanedArtifacts(t *testing.T) {
	c, store := newTestCleaner(t, Policy{})

	orphanOut := filepath.Join(store.OutputsDir(), session.OutputName("dead-session"))
	orphanQR := filepath.Join(store.OutputsDir(), session.QRName("dead-session"))
	stalePart := filepath.Join(store.OutputsDir(), session.OutputName("crashed")+".part")
	freshPart := filepath.Join(store.OutputsDir(), session.OutputName("running")+".part")
	for _, p := range []string{orphanOut, orphanQR, stalePart, freshPart} {
		if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
			t.Fatalf("write %s failed: %v", p, err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stalePart, old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	if _, err := c.SweepExpired(context.Background()); err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}

	for _, p := range []string{orphanOut, orphanQR, stalePart} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("orphan %s survived the sweep", filepath.Base(p))
		}
	}
	if _, err := os.Stat(freshPart); err != nil {
		t.Error("in-flight .part file was removed")
	}
}

func TestSweepKeepsArtifactsOfLiveSessions(t *testing.T) {
	c, store := newTestCleaner(t, Policy{})
	id := makePair(t, store, time.Hour, 500)

	if _, err := c.SweepExpired(context.Background()); err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store.OutputsDir(), session.OutputName(id))); err != nil {
		t.Error("output of a live session was treated as an orphan")
	}
}

func TestEvictOldestFirstUntilTarget(t *testing.T) {
	c, store := newTestCleaner(t, Policy{EmergencyThreshold: 500, EmergencyTarget: 15000})

	oldest := makePair(t, store, 20*24*time.Hour, 10000)
	middle := makePair(t, store, 19*24*time.Hour, 10000)
	newest := makePair(t, store, 18*24*time.Hour, 10000)

	capacity := usedBytes(t, store) + 100
	c.free = func(string) (uint64, uint64, error) {
		return capacity - usedBytes(t, store), capacity, nil
	}

	rep, err := c.EvictForSpace(context.Background())
	if err != nil {
		t.Fatalf("EvictForSpace failed: %v", err)
	}

	if pairExists(store, oldest) {
		t.Error("oldest pair survived eviction")
	}
	if pairExists(store, middle) {
		t.Error("second oldest pair survived while target was unmet")
	}
	if !pairExists(store, newest) {
		t.Error("newest pair was evicted after the target was already reached")
	}
	if rep.FilesDeleted == 0 {
		t.Error("report shows no deletions")
	}
}

func TestEvictNothingAboveThreshold(t *testing.T) {
	c, store := newTestCleaner(t, Policy{EmergencyThreshold: 500, EmergencyTarget: 1000})
	id := makePair(t, store, 20*24*time.Hour, 1000)

	c.free = func(string) (uint64, uint64, error) {
		return 10000, 20000, nil
	}

	rep, err := c.EvictForSpace(context.Background())
	if err != nil {
		t.Fatalf("EvictForSpace failed: %v", err)
	}
	if rep.FilesDeleted != 0 {
		t.Errorf("eviction deleted %d files with free space above threshold", rep.FilesDeleted)
	}
	if !pairExists(store, id) {
		t.Error("pair deleted with free space above threshold")
	}
}

func TestEvictReportsExhaustionWhenTargetUnreachable(t *testing.T) {
	c, store := newTestCleaner(t, Policy{EmergencyThreshold: 1 << 40, EmergencyTarget: 1 << 41})
	makePair(t, store, 20*24*time.Hour, 1000)
	makePair(t, store, 19*24*time.Hour, 1000)

	c.free = func(string) (uint64, uint64, error) {
		return 100, 200, nil
	}

	_, err := c.EvictForSpace(context.Background())
	if !errors.Is(err, errs.ErrResourceExhausted) {
		t.Fatalf("err = %v, want ErrResourceExhausted", err)
	}

	sessions, listErr := store.List(context.Background(), nil)
	if listErr != nil {
		t.Fatalf("List failed: %v", listErr)
	}
	if len(sessions) != 0 {
		t.Errorf("%d eligible pairs left undeleted before giving up", len(sessions))
	}
}

func TestEvictSkipsActiveSessions(t *testing.T) {
	c, store := newTestCleaner(t, Policy{EmergencyThreshold: 1 << 40, EmergencyTarget: 1 << 41})
	ctx := context.Background()

	active, err := store.Create(ctx, "lakeside")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.SetStatus(ctx, active.ID, session.StatusProcessing, ""); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	ancient := time.Now().Add(-40 * 24 * time.Hour)
	if err := os.Chtimes(filepath.Join(store.SessionsDir(), session.MetaName(active.ID)), ancient, ancient); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	victim := makePair(t, store, 20*24*time.Hour, 1000)

	c.free = func(string) (uint64, uint64, error) {
		return 100, 200, nil
	}

	c.EvictForSpace(ctx)

	if !pairExists(store, active.ID) {
		t.Error("PROCESSING session was evicted")
	}
	if pairExists(store, victim) {
		t.Error("eligible pair was skipped while eviction was giving up")
	}
}
