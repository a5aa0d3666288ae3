package render

import (
	"image"
	"math"

	"github.com/fogleman/gg"

	"github.com/ivlev/shadowplay/internal/pose"
	"github.com/ivlev/shadowplay/internal/scene"
)

const (
	autoScaleMin = 0.25
	autoScaleMax = 4.0
)

// FrameInput is everything time-dependent the compositor needs for one
// output frame. HasFrame false means no pose data exists for this instant;
// the puppet then draws fully at rest.
type FrameInput struct {
	PathOffset scene.Vec2
	TimeFrac   float64
	Frame      pose.Frame
	HasFrame   bool
}

// Placement is the resolved transform for one part: artwork top-left
// position, the screen-space pivot it rotates and scales about, the angle
// in radians and the uniform scale factor.
type Placement struct {
	Pos   scene.Vec2
	Pivot scene.Vec2
	Angle float64
	Scale float64
}

// Compositor draws a compiled rig onto base video frames. It is built once
// per render, after the base video's resolution is known, and is safe to
// call from a single render goroutine.
type Compositor struct {
	rig    *scene.Rig
	anchor scene.Vec2
	width  float64
	height float64
	debug  bool
}

func NewCompositor(rig *scene.Rig, anchor scene.Vec2, width, height int, debug bool) *Compositor {
	return &Compositor{
		rig:    rig,
		anchor: anchor,
		width:  float64(width),
		height: float64(height),
		debug:  debug,
	}
}

// Composite alpha-blends every rig part onto dst in configured order, back
// to front. dst is modified in place.
func (c *Compositor) Composite(dst *image.RGBA, in FrameInput) {
	dc := gg.NewContextForRGBA(dst)
	for i := range c.rig.Parts {
		p := &c.rig.Parts[i]
		pl := c.placePart(p, in)

		dc.Push()
		dc.RotateAbout(pl.Angle, pl.Pivot.X, pl.Pivot.Y)
		dc.ScaleAbout(pl.Scale, pl.Scale, pl.Pivot.X, pl.Pivot.Y)
		dc.DrawImage(p.Image, int(math.Round(pl.Pos.X)), int(math.Round(pl.Pos.Y)))
		dc.Pop()
	}
	if c.debug {
		c.drawOverlay(dc, in)
	}
}

// placePart computes one part's Placement. Rotation comes from the driver
// landmark pair measured in pixel space, so the puppet's joints follow the
// performer regardless of aspect ratio. A missing or occluded driver leaves
// the part at rest: the authored rotation offset still applies, only the
// pose-derived component drops out.
func (c *Compositor) placePart(p *scene.RigPart, in FrameInput) Placement {
	pos := scene.Vec2{
		X: c.anchor.X + in.PathOffset.X + p.RestOffset.X,
		Y: c.anchor.Y + in.PathOffset.Y + p.RestOffset.Y,
	}
	pl := Placement{
		Pos:   pos,
		Pivot: scene.Vec2{X: pos.X + p.JointPivot.X, Y: pos.Y + p.JointPivot.Y},
		Angle: p.RotationOffset,
		Scale: 1,
	}

	poseUsable := in.HasFrame && len(in.Frame.Landmarks) == pose.LandmarkCount

	if poseUsable && p.Driven() {
		from := in.Frame.Landmarks[p.DriverFrom]
		to := in.Frame.Landmarks[p.DriverTo]
		if from.Visibility >= c.rig.MinVisibility && to.Visibility >= c.rig.MinVisibility {
			dx := (to.X - from.X) * c.width
			dy := (to.Y - from.Y) * c.height
			pl.Angle = math.Atan2(dy, dx) + p.RotationOffset
		}
	}

	switch p.ScaleMode {
	case scene.ScaleManual:
		pl.Scale = lerp(p.ScaleStart, p.ScaleEnd, in.TimeFrac)
	case scene.ScaleAuto:
		if poseUsable {
			if span, ok := pose.TorsoSpan(in.Frame, c.rig.MinVisibility); ok && c.rig.ReferenceSpan > 0 {
				pl.Scale = clampScale(span / c.rig.ReferenceSpan)
			}
		}
	}
	return pl
}

func clampScale(s float64) float64 {
	if s < autoScaleMin {
		return autoScaleMin
	}
	if s > autoScaleMax {
		return autoScaleMax
	}
	return s
}

// drawOverlay marks visible landmarks and part pivots on the composited
// frame. Rig tuning only, never on by default.
func (c *Compositor) drawOverlay(dc *gg.Context, in FrameInput) {
	if in.HasFrame && len(in.Frame.Landmarks) == pose.LandmarkCount {
		dc.SetRGBA(0, 0.9, 0.2, 0.8)
		for _, lm := range in.Frame.Landmarks {
			if lm.Visibility < c.rig.MinVisibility {
				continue
			}
			dc.DrawCircle(lm.X*c.width, lm.Y*c.height, 3)
			dc.Fill()
		}
	}
	dc.SetRGBA(0.9, 0.1, 0.1, 0.8)
	for i := range c.rig.Parts {
		pl := c.placePart(&c.rig.Parts[i], in)
		dc.DrawCircle(pl.Pivot.X, pl.Pivot.Y, 4)
		dc.Stroke()
	}
}
