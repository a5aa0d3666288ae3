// Package scene loads the themed scene and character rig configuration the
// renderer composites against. Configs are authored as YAML files, one scene
// or character per file, and validated eagerly at load time.
package scene

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/shadowplay/internal/errs"
)

// Vec2 is a 2-D screen-space vector in pixels.
type Vec2 struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// PathType names the on-screen travel of the character during one segment.
type PathType string

const (
	PathStatic      PathType = "static"
	PathEnterLeft   PathType = "enter_left"
	PathEnterRight  PathType = "enter_right"
	PathEnterCenter PathType = "enter_center"
	PathExitLeft    PathType = "exit_left"
	PathExitRight   PathType = "exit_right"
	PathCustom      PathType = "custom"
)

func (p PathType) Valid() bool {
	switch p {
	case PathStatic, PathEnterLeft, PathEnterRight, PathEnterCenter,
		PathExitLeft, PathExitRight, PathCustom:
		return true
	}
	return false
}

// defaultOffscreenMargin is how far outside the frame enter/exit paths
// start or end when the scene does not set its own margin.
const defaultOffscreenMargin = 400.0

// SegmentConfig is the timing and travel of one capture segment. Explicit
// offsets override the path type's defaults; custom requires both.
type SegmentConfig struct {
	Duration    float64  `yaml:"duration"`
	PathType    PathType `yaml:"path_type"`
	OffsetStart *Vec2    `yaml:"offset_start,omitempty"`
	OffsetEnd   *Vec2    `yaml:"offset_end,omitempty"`
}

// Path returns the resolved start and end offsets. Only valid after the
// owning scene passed Validate, which fills defaults.
func (sc SegmentConfig) Path() (start, end Vec2) {
	return *sc.OffsetStart, *sc.OffsetEnd
}

// Scene binds a base video to its ordered segment schedule and the character
// that performs in it. Segment index is position in the list.
type Scene struct {
	ID              string          `yaml:"id"`
	BaseVideo       string          `yaml:"base_video"`
	Character       string          `yaml:"character"`
	Anchor          Vec2            `yaml:"anchor"`
	OffscreenMargin float64         `yaml:"offscreen_margin,omitempty"`
	Segments        []SegmentConfig `yaml:"segments"`
}

func (s *Scene) SegmentCount() int { return len(s.Segments) }

// TotalDuration is the scheduled length of the capture flow in seconds.
func (s *Scene) TotalDuration() float64 {
	var sum float64
	for _, seg := range s.Segments {
		sum += seg.Duration
	}
	return sum
}

// Validate checks the scene and resolves every segment's path offsets from
// its path type. The switch over path types is exhaustive; a new type must
// define its offsets here before it can load.
func (s *Scene) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: scene id is empty", errs.ErrValidation)
	}
	if s.BaseVideo == "" {
		return fmt.Errorf("%w: scene %s has no base video", errs.ErrValidation, s.ID)
	}
	if s.Character == "" {
		return fmt.Errorf("%w: scene %s names no character", errs.ErrValidation, s.ID)
	}
	if len(s.Segments) == 0 {
		return fmt.Errorf("%w: scene %s has no segments", errs.ErrValidation, s.ID)
	}
	margin := s.OffscreenMargin
	if margin <= 0 {
		margin = defaultOffscreenMargin
	}
	for i := range s.Segments {
		seg := &s.Segments[i]
		if seg.Duration <= 0 {
			return fmt.Errorf("%w: scene %s segment %d duration %.2f", errs.ErrValidation, s.ID, i, seg.Duration)
		}
		if !seg.PathType.Valid() {
			return fmt.Errorf("%w: scene %s segment %d path type %q", errs.ErrValidation, s.ID, i, seg.PathType)
		}

		var start, end Vec2
		switch seg.PathType {
		case PathStatic:
			start, end = Vec2{}, Vec2{}
		case PathEnterLeft:
			start, end = Vec2{X: -margin}, Vec2{}
		case PathEnterRight:
			start, end = Vec2{X: margin}, Vec2{}
		case PathEnterCenter:
			// Rises into view from below the frame.
			start, end = Vec2{Y: margin}, Vec2{}
		case PathExitLeft:
			start, end = Vec2{}, Vec2{X: -margin}
		case PathExitRight:
			start, end = Vec2{}, Vec2{X: margin}
		case PathCustom:
			if seg.OffsetStart == nil || seg.OffsetEnd == nil {
				return fmt.Errorf("%w: scene %s segment %d custom path needs offset_start and offset_end",
					errs.ErrValidation, s.ID, i)
			}
		}
		if seg.OffsetStart == nil {
			seg.OffsetStart = &start
		}
		if seg.OffsetEnd == nil {
			seg.OffsetEnd = &end
		}
	}
	return nil
}

// LoadScene reads and validates a scene file.
func LoadScene(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	var s Scene
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parse scene %s: %v", errs.ErrValidation, path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scene %s: %w", path, err)
	}
	return &s, nil
}
