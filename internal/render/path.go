// Package render turns a complete capture session into the finished
// composited video: pure time mapping and placement math at the bottom, the
// ffmpeg-backed frame pipeline and worker queue on top.
package render

import (
	"github.com/ivlev/shadowplay/internal/scene"
)

// TimeFraction returns t/duration clamped to [0, 1]. The path offset and
// manual part scaling share this fraction so they stay in lockstep.
func TimeFraction(duration, t float64) float64 {
	if duration <= 0 || t <= 0 {
		return 0
	}
	if t >= duration {
		return 1
	}
	return t / duration
}

// PathOffset calculates the character's screen-space offset at time t within
// a segment. The ends are exact: t <= 0 yields offset_start and
// t >= duration yields offset_end with no floating error in between.
func PathOffset(cfg scene.SegmentConfig, t float64) scene.Vec2 {
	start, end := cfg.Path()
	frac := TimeFraction(cfg.Duration, t)
	if frac == 0 {
		return start
	}
	if frac == 1 {
		return end
	}
	return scene.Vec2{
		X: lerp(start.X, end.X, frac),
		Y: lerp(start.Y, end.Y, frac),
	}
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
