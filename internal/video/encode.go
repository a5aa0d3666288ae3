package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
)

// StreamParams describes one encode run. Frames arrive through WriteFrame
// in presentation order at the declared rate.
type StreamParams struct {
	Width       int
	Height      int
	FPS         float64
	OutPath     string
	AudioFrom   string // контейнер, из которого забираем звуковую дорожку
	EncoderName string
	Quality     int
}

// FrameSink consumes composited frames. Close flushes the stream and
// reports any encoder failure.
type FrameSink interface {
	WriteFrame(img image.Image) error
	Close() error
}

type Encoder interface {
	Start(ctx context.Context, params StreamParams) (FrameSink, error)
}

type FFmpegEncoder struct{}

func (e *FFmpegEncoder) Start(ctx context.Context, params StreamParams) (FrameSink, error) {
	args := e.buildFFmpegArgs(params)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	return &ffmpegSink{cmd: cmd, stdin: stdin, stderr: &stderr}, nil
}

func (e *FFmpegEncoder) buildFFmpegArgs(p StreamParams) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", fmt.Sprintf("%g", p.FPS),
		"-i", "-",
	}

	// Звук забираем из исходного ролика как есть, без перекодирования
	if p.AudioFrom != "" {
		args = append(args,
			"-i", p.AudioFrom,
			"-map", "0:v",
			"-map", "1:a?",
			"-c:a", "copy",
			"-shortest",
		)
	}

	args = append(args,
		"-pix_fmt", "yuv420p",
		"-c:v", p.EncoderName,
	)

	// Качество в зависимости от энкодера
	switch p.EncoderName {
	case "h264_videotoolbox":
		bitrate := p.Quality * 100
		args = append(args, "-b:v", fmt.Sprintf("%dk", bitrate))
	case "h264_nvenc":
		args = append(args, "-cq", fmt.Sprintf("%d", p.Quality))
	default: // libx264
		args = append(args, "-crf", fmt.Sprintf("%d", p.Quality), "-preset", "medium")
	}

	// Плееры в киоске начинают воспроизведение до конца загрузки
	args = append(args, "-movflags", "+faststart")

	// Пишем во временный файл без расширения .mp4, контейнер задаём явно
	args = append(args, "-f", "mp4")

	args = append(args, p.OutPath)
	return args
}

type ffmpegSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	closed bool
}

func (s *ffmpegSink) WriteFrame(img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	}
	if _, err := s.stdin.Write(rgba.Pix); err != nil {
		return fmt.Errorf("write raw error: %w", err)
	}
	return nil
}

func (s *ffmpegSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg wait error: %v, output: %s", err, s.stderr.String())
	}
	return nil
}
