package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/logger"
	"github.com/ivlev/shadowplay/internal/scene"
	"github.com/ivlev/shadowplay/internal/session"
	"github.com/ivlev/shadowplay/internal/share"
	"github.com/ivlev/shadowplay/internal/system"
	"github.com/ivlev/shadowplay/internal/video"
)

// Config carries the encode settings shared by every render job.
type Config struct {
	OutputDir     string
	EncoderName   string
	Quality       int
	PublicBaseURL string
	DebugOverlay  bool
}

// Renderer turns one complete capture session into the finished composited
// video and reports the outcome through the store. It holds no per-job
// state; the queue decides how many jobs run at once.
type Renderer struct {
	cfg     Config
	store   session.Store
	scenes  *scene.Registry
	prober  video.Prober
	decoder video.Decoder
	encoder video.Encoder
	log     *logger.Logger
}

func NewRenderer(
	cfg Config,
	store session.Store,
	scenes *scene.Registry,
	prober video.Prober,
	decoder video.Decoder,
	encoder video.Encoder,
	log *logger.Logger,
) *Renderer {
	return &Renderer{
		cfg:     cfg,
		store:   store,
		scenes:  scenes,
		prober:  prober,
		decoder: decoder,
		encoder: encoder,
		log:     log,
	}
}

// Render produces the session's final video. The queue hands sessions over
// already in PROCESSING. On success the session moves to DONE with its
// output path set; on error it moves to FAILED and partial output is
// removed. A session cancelled mid-render keeps CANCELLED and the finished
// result, if any, is discarded.
func (r *Renderer) Render(ctx context.Context, id string) error {
	sess, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}

	outPath, err := r.renderSession(ctx, sess)
	if err != nil {
		r.fail(id, err)
		return err
	}

	// Статус пишем на свежем контексте: отменённый job не должен
	// помешать зафиксировать результат
	if _, err := r.store.SetStatus(context.Background(), id, session.StatusDone, outPath); err != nil {
		os.Remove(outPath)
		if errors.Is(err, errs.ErrTerminalState) {
			// Отмена успела раньше, результат никому не нужен
			r.log.Info("render finished after cancel, output discarded", "session_id", id)
			return nil
		}
		return err
	}

	if r.cfg.PublicBaseURL != "" {
		qrPath := filepath.Join(r.cfg.OutputDir, session.QRName(id))
		url := share.VideoURL(r.cfg.PublicBaseURL, session.OutputName(id))
		if err := share.WriteQR(url, qrPath); err != nil {
			// Видео готово, страдает только выдача QR-кода
			r.log.Warn("qr sidecar failed", "session_id", id, "error", err)
		}
	}

	r.log.Info("render finished", "session_id", id, "output", outPath)
	return nil
}

func (r *Renderer) fail(id string, cause error) {
	if _, err := r.store.SetStatus(context.Background(), id, session.StatusFailed, ""); err != nil {
		if errors.Is(err, errs.ErrTerminalState) {
			return
		}
		r.log.Error("could not mark session failed", "session_id", id, "error", err)
		return
	}
	r.log.Error("render failed", "session_id", id, "error", cause)
}

func (r *Renderer) renderSession(ctx context.Context, sess *session.Session) (string, error) {
	sc, err := r.scenes.Scene(sess.SceneID)
	if err != nil {
		return "", err
	}
	rig, err := r.scenes.Rig(sc.Character)
	if err != nil {
		return "", err
	}
	if missing := sess.MissingIndices(sc.SegmentCount()); len(missing) > 0 {
		return "", fmt.Errorf("%w: segments %v not captured", errs.ErrRenderFailure, missing)
	}
	if sess.SegmentCount() != sc.SegmentCount() {
		return "", fmt.Errorf("%w: session has %d segments, scene %s expects %d",
			errs.ErrRenderFailure, sess.SegmentCount(), sc.ID, sc.SegmentCount())
	}

	probe, err := r.prober.Probe(ctx, sc.BaseVideo)
	if err != nil {
		return "", fmt.Errorf("%w: probe %s: %v", errs.ErrRenderFailure, sc.BaseVideo, err)
	}

	timeline, err := NewTimeline(sess.OrderedSegments())
	if err != nil {
		return "", err
	}

	outPath := filepath.Join(r.cfg.OutputDir, session.OutputName(sess.ID))
	tmpPath := outPath + ".part"
	defer os.Remove(tmpPath)

	audio := ""
	if probe.HasAudio {
		audio = sc.BaseVideo
	}
	sink, err := r.encoder.Start(ctx, video.StreamParams{
		Width:       probe.Width,
		Height:      probe.Height,
		FPS:         probe.FPS,
		OutPath:     tmpPath,
		AudioFrom:   audio,
		EncoderName: r.cfg.EncoderName,
		Quality:     r.cfg.Quality,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrRenderFailure, err)
	}

	src, err := r.decoder.OpenFrames(ctx, sc.BaseVideo, probe.Width, probe.Height)
	if err != nil {
		sink.Close()
		return "", fmt.Errorf("%w: %v", errs.ErrRenderFailure, err)
	}
	defer src.Close()

	comp := NewCompositor(rig, sc.Anchor, probe.Width, probe.Height, r.cfg.DebugOverlay)

	start := time.Now()
	frame := system.GetImage(image.Rect(0, 0, probe.Width, probe.Height))
	defer system.PutImage(frame)

	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			sink.Close()
			return "", err
		}
		err := src.Next(frame)
		if err == io.EOF {
			break
		}
		if err != nil {
			sink.Close()
			return "", fmt.Errorf("%w: %v", errs.ErrRenderFailure, err)
		}

		t := float64(frames) / probe.FPS
		if sample, ok := timeline.Resolve(t); ok {
			segCfg := sc.Segments[sample.SegmentIndex]
			comp.Composite(frame, FrameInput{
				PathOffset: PathOffset(segCfg, sample.LocalTime),
				TimeFrac:   TimeFraction(segCfg.Duration, sample.LocalTime),
				Frame:      sample.Frame,
				HasFrame:   sample.HasFrame,
			})
		}

		if err := sink.WriteFrame(frame); err != nil {
			sink.Close()
			return "", fmt.Errorf("%w: %v", errs.ErrRenderFailure, err)
		}
		frames++
	}

	if err := sink.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrRenderFailure, err)
	}
	if frames == 0 {
		return "", fmt.Errorf("%w: base video %s decoded no frames", errs.ErrRenderFailure, sc.BaseVideo)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return "", fmt.Errorf("%w: finalize output: %v", errs.ErrStorageIO, err)
	}

	r.log.Info("render encoded",
		"session_id", sess.ID,
		"frames", frames,
		"resolution", fmt.Sprintf("%dx%d", probe.Width, probe.Height),
		"took_s", time.Since(start).Seconds(),
	)
	return outPath, nil
}
