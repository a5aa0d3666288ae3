package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ffprobe на повреждённом файле может висеть, поэтому жёсткий таймаут
const probeTimeout = 10 * time.Second

// ProbeResult describes the streams of a base video.
type ProbeResult struct {
	Width    int
	Height   int
	FPS      float64
	Duration float64
	HasAudio bool
}

type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

type FFmpegProber struct{}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *FFmpegProber) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe error: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("ffprobe parse error: %w", err)
	}

	res := &ProbeResult{}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			// Берём первый видеопоток, остальные игнорируем
			if res.Width == 0 {
				res.Width = s.Width
				res.Height = s.Height
				res.FPS = parseFrameRate(s.AvgFrameRate)
				if res.FPS == 0 {
					res.FPS = parseFrameRate(s.RFrameRate)
				}
			}
		case "audio":
			res.HasAudio = true
		}
	}
	if res.Width <= 0 || res.Height <= 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	if res.FPS <= 0 {
		res.FPS = 30
	}
	res.Duration, _ = strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)
	return res, nil
}

// parseFrameRate разбирает дробь вида "30000/1001"
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
