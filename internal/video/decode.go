package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
)

// FrameSource yields decoded RGBA frames in presentation order.
type FrameSource interface {
	// Next fills dst with the next frame and returns io.EOF after the
	// last one. dst must hold width*height*4 bytes.
	Next(dst *image.RGBA) error
	Close() error
}

type Decoder interface {
	OpenFrames(ctx context.Context, path string, width, height int) (FrameSource, error)
}

type FFmpegDecoder struct{}

func (d *FFmpegDecoder) OpenFrames(ctx context.Context, path string, width, height int) (FrameSource, error) {
	// Разворачиваем весь ролик в raw RGBA на stdout
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	return &ffmpegFrames{
		cmd:       cmd,
		out:       stdout,
		stderr:    &stderr,
		frameSize: width * height * 4,
	}, nil
}

type ffmpegFrames struct {
	cmd       *exec.Cmd
	out       io.ReadCloser
	stderr    *bytes.Buffer
	frameSize int
	finished  bool
}

func (f *ffmpegFrames) Next(dst *image.RGBA) error {
	if f.finished {
		return io.EOF
	}
	if len(dst.Pix) < f.frameSize {
		return fmt.Errorf("frame buffer too small: %d < %d", len(dst.Pix), f.frameSize)
	}

	n, err := io.ReadFull(f.out, dst.Pix[:f.frameSize])
	switch err {
	case nil:
		return nil
	case io.EOF:
		f.finished = true
		if werr := f.cmd.Wait(); werr != nil {
			return fmt.Errorf("ffmpeg decode error: %v, output: %s", werr, f.stderr.String())
		}
		return io.EOF
	case io.ErrUnexpectedEOF:
		f.finished = true
		f.cmd.Wait()
		return fmt.Errorf("truncated frame: %d of %d bytes, output: %s", n, f.frameSize, f.stderr.String())
	default:
		return fmt.Errorf("read frame error: %w", err)
	}
}

func (f *ffmpegFrames) Close() error {
	if f.finished {
		return nil
	}
	f.finished = true
	// Обрываем декодер на середине ролика
	f.out.Close()
	if f.cmd.Process != nil {
		f.cmd.Process.Kill()
	}
	f.cmd.Wait()
	return nil
}
