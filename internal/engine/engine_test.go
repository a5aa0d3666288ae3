package engine

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/logger"
	"github.com/ivlev/shadowplay/internal/pose"
	"github.com/ivlev/shadowplay/internal/render"
	"github.com/ivlev/shadowplay/internal/scene"
	"github.com/ivlev/shadowplay/internal/session"
	"github.com/ivlev/shadowplay/internal/video"
)

const heronYAML = `id: heron
parts:
  - name: body
    artwork: body.png
    scale_mode: manual
    scale_start: 1
    scale_end: 1
`

const lakesideYAML = `id: lakeside
base_video: lakeside.mp4
character: heron
anchor: {x: 640, y: 360}
segments:
  - {duration: 6, path_type: enter_left}
  - {duration: 8, path_type: static}
`

func writeConfigs(t *testing.T, base string) (scenesDir, charsDir string) {
	t.Helper()
	scenesDir = filepath.Join(base, "scenes")
	charsDir = filepath.Join(base, "characters")
	for _, dir := range []string{scenesDir, charsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
	}

	f, err := os.Create(filepath.Join(charsDir, "body.png"))
	if err != nil {
		t.Fatalf("create artwork failed: %v", err)
	}
	if err := png.Encode(f, image.NewNRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode artwork failed: %v", err)
	}
	f.Close()

	if err := os.WriteFile(filepath.Join(charsDir, "heron.yaml"), []byte(heronYAML), 0o644); err != nil {
		t.Fatalf("write character failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(scenesDir, "lakeside.yaml"), []byte(lakesideYAML), 0o644); err != nil {
		t.Fatalf("write scene failed: %v", err)
	}
	return scenesDir, charsDir
}

func newTestEngine(t *testing.T) (*Engine, session.Store) {
	t.Helper()
	base := t.TempDir()
	scenesDir, charsDir := writeConfigs(t, base)
	log := logger.NewNop()

	reg, err := scene.NewRegistry(scenesDir, charsDir, log)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	store, err := session.NewFileStore(filepath.Join(base, "sessions"), filepath.Join(base, "outputs"), log)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	renderer := render.NewRenderer(
		render.Config{OutputDir: store.OutputsDir(), EncoderName: "libx264", Quality: 23},
		store, reg, &video.FFmpegProber{}, &video.FFmpegDecoder{}, &video.FFmpegEncoder{}, log,
	)
	queue := render.NewQueue(1, store, renderer, log)
	return New(store, reg, queue, log), store
}

func validFrame(ts float64) pose.Frame {
	return pose.Frame{Timestamp: ts, Landmarks: make([]pose.Landmark, pose.LandmarkCount)}
}

func validSegment(index int, duration float64) session.Segment {
	return session.Segment{
		Index:    index,
		Duration: duration,
		Frames:   []pose.Frame{validFrame(0), validFrame(500)},
	}
}

func TestCreateSession(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s, err := e.CreateSession(ctx, "lakeside")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if s.Status != session.StatusPending {
		t.Errorf("Status = %s, want %s", s.Status, session.StatusPending)
	}
	if s.SceneID != "lakeside" {
		t.Errorf("SceneID = %s, want lakeside", s.SceneID)
	}
	if s.ID == "" {
		t.Error("session id is empty")
	}
}

func TestCreateSessionUnknownScene(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CreateSession(context.Background(), "volcano")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUploadSegmentIndexMismatch(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _ := e.CreateSession(ctx, "lakeside")

	_, err := e.UploadSegment(ctx, s.ID, 1, validSegment(0, 6))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	got, _ := e.Session(ctx, s.ID)
	if got.SegmentCount() != 0 {
		t.Error("rejected segment was partially applied")
	}
}

func TestUploadSegmentOutOfRange(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _ := e.CreateSession(ctx, "lakeside")

	_, err := e.UploadSegment(ctx, s.ID, 5, validSegment(5, 6))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestUploadSegmentBadLandmarkCount(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _ := e.CreateSession(ctx, "lakeside")

	seg := validSegment(0, 6)
	seg.Frames[1].Landmarks = seg.Frames[1].Landmarks[:10]

	_, err := e.UploadSegment(ctx, s.ID, 0, seg)
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	got, _ := e.Session(ctx, s.ID)
	if got.SegmentCount() != 0 {
		t.Error("rejected segment was partially applied")
	}
}

func TestUploadSegmentUnknownSession(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.UploadSegment(context.Background(), "no-such-id", 0, validSegment(0, 6))
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUploadSegmentUpsert(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _ := e.CreateSession(ctx, "lakeside")

	if _, err := e.UploadSegment(ctx, s.ID, 0, validSegment(0, 6)); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}

	redo := validSegment(0, 6)
	redo.Frames = append(redo.Frames, validFrame(1000))
	if _, err := e.UploadSegment(ctx, s.ID, 0, redo); err != nil {
		t.Fatalf("re-upload failed: %v", err)
	}

	got, _ := e.Session(ctx, s.ID)
	if got.SegmentCount() != 1 {
		t.Errorf("SegmentCount = %d, want 1", got.SegmentCount())
	}
	if n := len(got.Segments[0].Frames); n != 3 {
		t.Errorf("re-upload did not overwrite: %d frames, want 3", n)
	}
}

func TestUploadSegmentIgnoresStatus(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _ := e.CreateSession(ctx, "lakeside")

	if _, err := e.Cancel(ctx, s.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := e.UploadSegment(ctx, s.ID, 0, validSegment(0, 6)); err != nil {
		t.Fatalf("upload after cancel failed: %v", err)
	}

	got, _ := e.Session(ctx, s.ID)
	if got.Status != session.StatusCancelled {
		t.Errorf("upload changed status to %s", got.Status)
	}
	if got.SegmentCount() != 1 {
		t.Error("segment not stored")
	}
}

func TestSubmitRenderMarksProcessing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _ := e.CreateSession(ctx, "lakeside")
	e.UploadSegment(ctx, s.ID, 0, validSegment(0, 6))
	e.UploadSegment(ctx, s.ID, 1, validSegment(1, 8))

	if err := e.SubmitRender(ctx, s.ID); err != nil {
		t.Fatalf("SubmitRender failed: %v", err)
	}
	got, _ := e.Session(ctx, s.ID)
	if got.Status != session.StatusProcessing {
		t.Errorf("Status = %s, want %s", got.Status, session.StatusProcessing)
	}

	if err := e.SubmitRender(ctx, s.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second submit err = %v, want ErrConflict", err)
	}
}

func TestSubmitRenderUnknownSession(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.SubmitRender(context.Background(), "no-such-id")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _ := e.CreateSession(ctx, "lakeside")

	for i := 0; i < 3; i++ {
		got, err := e.Cancel(ctx, s.ID)
		if err != nil {
			t.Fatalf("Cancel #%d failed: %v", i+1, err)
		}
		if got.Status != session.StatusCancelled {
			t.Errorf("Cancel #%d: status %s", i+1, got.Status)
		}
	}
}

func TestDeleteRemovesSessionAndArtifacts(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	s, _ := e.CreateSession(ctx, "lakeside")

	fs := store.(*session.FileStore)
	out := filepath.Join(fs.OutputsDir(), session.OutputName(s.ID))
	qr := filepath.Join(fs.OutputsDir(), session.QRName(s.ID))
	for _, p := range []string{out, qr} {
		if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
			t.Fatalf("write artifact failed: %v", err)
		}
	}

	if err := e.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := e.Session(ctx, s.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	for _, p := range []string{out, qr} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("artifact %s survived deletion", filepath.Base(p))
		}
	}
}
