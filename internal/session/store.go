package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/logger"
)

// Store is the single mutation entry point for session records. Writers on
// the same id are serialized; the last committed write wins.
type Store interface {
	Create(ctx context.Context, sceneID string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, filter *Status) ([]*Session, error)
	PutSegment(ctx context.Context, id string, seg Segment) (*Session, error)
	SetStatus(ctx context.Context, id string, status Status, outputPath string) (*Session, error)
	Cancel(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// FileStore persists one JSON record per session under sessionsDir and owns
// the paired artifacts under outputsDir. Records are written to a temp file
// and renamed so readers never observe a partial write.
type FileStore struct {
	sessionsDir string
	outputsDir  string
	log         *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(sessionsDir, outputsDir string, log *logger.Logger) (*FileStore, error) {
	for _, dir := range []string{sessionsDir, outputsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", errs.ErrStorageIO, dir, err)
		}
	}
	return &FileStore{
		sessionsDir: sessionsDir,
		outputsDir:  outputsDir,
		log:         log,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// SessionsDir returns the metadata directory the store writes to.
func (fs *FileStore) SessionsDir() string { return fs.sessionsDir }

// OutputsDir returns the artifact directory paired with the metadata.
func (fs *FileStore) OutputsDir() string { return fs.outputsDir }

func (fs *FileStore) Create(ctx context.Context, sceneID string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		SceneID:   sceneID,
		Status:    StatusPending,
		Segments:  make(map[int]Segment),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := fs.persist(s); err != nil {
		return nil, err
	}
	fs.log.Info("session created", "session_id", s.ID, "scene_id", sceneID)
	return s, nil
}

func (fs *FileStore) Get(ctx context.Context, id string) (*Session, error) {
	return fs.load(id)
}

func (fs *FileStore) List(ctx context.Context, filter *Status) ([]*Session, error) {
	entries, err := os.ReadDir(fs.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", errs.ErrStorageIO, err)
	}
	var out []*Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s, err := fs.load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			// Raced deletions and corrupt records do not abort a listing.
			fs.log.Warn("skipping unreadable session record", "file", e.Name(), "error", err)
			continue
		}
		if filter != nil && s.Status != *filter {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (fs *FileStore) PutSegment(ctx context.Context, id string, seg Segment) (*Session, error) {
	s, err := fs.mutate(id, func(s *Session) error {
		if s.Segments == nil {
			s.Segments = make(map[int]Segment)
		}
		s.Segments[seg.Index] = seg
		return nil
	})
	if err != nil {
		return nil, err
	}
	fs.log.Debug("segment stored",
		"session_id", id, "segment", seg.Index, "frames", len(seg.Frames))
	return s, nil
}

func (fs *FileStore) SetStatus(ctx context.Context, id string, status Status, outputPath string) (*Session, error) {
	s, err := fs.mutate(id, func(s *Session) error {
		if !status.Valid() {
			return fmt.Errorf("%w: unknown status %q", errs.ErrValidation, status)
		}
		if s.Status.Terminal() {
			return fmt.Errorf("%w: session %s is %s", errs.ErrTerminalState, s.ID, s.Status)
		}
		if !s.Status.CanTransition(status) {
			return fmt.Errorf("%w: illegal transition %s to %s", errs.ErrValidation, s.Status, status)
		}
		if status == StatusDone {
			if outputPath == "" {
				return fmt.Errorf("%w: done requires an output path", errs.ErrValidation)
			}
			s.OutputPath = outputPath
		} else {
			s.OutputPath = ""
		}
		s.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	fs.log.Info("session status changed", "session_id", id, "status", status)
	return s, nil
}

// Cancel is unconditional and idempotent: it works from every state,
// including terminal ones, and changes nothing but status, output path and
// the update stamp.
func (fs *FileStore) Cancel(ctx context.Context, id string) (*Session, error) {
	s, err := fs.mutate(id, func(s *Session) error {
		s.Status = StatusCancelled
		s.OutputPath = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	fs.log.Info("session cancelled", "session_id", id)
	return s, nil
}

// Delete removes the metadata record together with the session's rendered
// output and QR sidecar. Artifacts go first; an interrupted delete leaves
// only an orphan metadata record for the next sweep.
func (fs *FileStore) Delete(ctx context.Context, id string) error {
	lock := fs.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	meta := fs.metaPath(id)
	if _, err := os.Stat(meta); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: session %s", errs.ErrNotFound, id)
		}
		return fmt.Errorf("%w: stat %s: %v", errs.ErrStorageIO, meta, err)
	}
	artifacts := []string{
		filepath.Join(fs.outputsDir, OutputName(id)),
		filepath.Join(fs.outputsDir, QRName(id)),
	}
	for _, p := range artifacts {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove %s: %v", errs.ErrStorageIO, p, err)
		}
	}
	if err := os.Remove(meta); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", errs.ErrStorageIO, meta, err)
	}

	fs.mu.Lock()
	delete(fs.locks, id)
	fs.mu.Unlock()

	fs.log.Info("session deleted", "session_id", id)
	return nil
}

func (fs *FileStore) lockFor(id string) *sync.Mutex {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	l, ok := fs.locks[id]
	if !ok {
		l = &sync.Mutex{}
		fs.locks[id] = l
	}
	return l
}

func (fs *FileStore) metaPath(id string) string {
	return filepath.Join(fs.sessionsDir, MetaName(id))
}

func (fs *FileStore) load(id string) (*Session, error) {
	raw, err := os.ReadFile(fs.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: session %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: read session %s: %v", errs.ErrStorageIO, id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %v", errs.ErrStorageIO, id, err)
	}
	return &s, nil
}

func (fs *FileStore) persist(s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encode session %s: %v", errs.ErrStorageIO, s.ID, err)
	}
	final := fs.metaPath(s.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", errs.ErrStorageIO, tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", errs.ErrStorageIO, tmp, err)
	}
	return nil
}

// mutate loads, applies fn, stamps and persists a session under the id's
// writer lock. UpdatedAt moves strictly forward even when the wall clock
// does not.
func (fs *FileStore) mutate(id string, fn func(*Session) error) (*Session, error) {
	lock := fs.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := fs.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Nanosecond)
	}
	s.UpdatedAt = now
	if err := fs.persist(s); err != nil {
		return nil, err
	}
	return s, nil
}
