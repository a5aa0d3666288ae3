package scene

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/pose"
)

// ScaleMode selects how a part's draw scale is computed.
type ScaleMode string

const (
	// ScaleAuto derives scale from the performer's torso span each frame.
	ScaleAuto ScaleMode = "auto"
	// ScaleManual interpolates between scale_start and scale_end over the
	// segment, with the same time fraction as the path offset.
	ScaleManual ScaleMode = "manual"
)

func (m ScaleMode) Valid() bool {
	return m == ScaleAuto || m == ScaleManual
}

// Part is one piece of puppet artwork with its rigging parameters, as
// authored in the character file. Driver landmarks are named; CompileRig
// resolves them to model indices once.
type Part struct {
	Name           string    `yaml:"name"`
	Artwork        string    `yaml:"artwork"`
	RestOffset     Vec2      `yaml:"rest_pose_offset"`
	JointPivot     Vec2      `yaml:"joint_pivot"`
	RotationOffset float64   `yaml:"rotation_offset"`
	ScaleMode      ScaleMode `yaml:"scale_mode"`
	ScaleStart     float64   `yaml:"scale_start"`
	ScaleEnd       float64   `yaml:"scale_end"`
	DriverFrom     string    `yaml:"driver_from,omitempty"`
	DriverTo       string    `yaml:"driver_to,omitempty"`
}

// Character is a puppet definition: ordered parts, drawn back to front.
// RotationOffset is authored in degrees; ReferenceSpan is the normalized
// torso span that maps to scale 1.0 in auto mode.
type Character struct {
	ID            string  `yaml:"id"`
	ReferenceSpan float64 `yaml:"reference_span,omitempty"`
	MinVisibility float64 `yaml:"min_visibility,omitempty"`
	Parts         []Part  `yaml:"parts"`
}

const (
	defaultReferenceSpan = 0.35
	defaultMinVisibility = 0.5
)

func (c *Character) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: character id is empty", errs.ErrValidation)
	}
	if len(c.Parts) == 0 {
		return fmt.Errorf("%w: character %s has no parts", errs.ErrValidation, c.ID)
	}
	if c.ReferenceSpan == 0 {
		c.ReferenceSpan = defaultReferenceSpan
	}
	if c.MinVisibility == 0 {
		c.MinVisibility = defaultMinVisibility
	}
	seen := make(map[string]bool, len(c.Parts))
	for i, p := range c.Parts {
		if p.Name == "" {
			return fmt.Errorf("%w: character %s part %d has no name", errs.ErrValidation, c.ID, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: character %s duplicates part %q", errs.ErrValidation, c.ID, p.Name)
		}
		seen[p.Name] = true
		if p.Artwork == "" {
			return fmt.Errorf("%w: character %s part %q has no artwork", errs.ErrValidation, c.ID, p.Name)
		}
		if !p.ScaleMode.Valid() {
			return fmt.Errorf("%w: character %s part %q scale mode %q", errs.ErrValidation, c.ID, p.Name, p.ScaleMode)
		}
		if p.ScaleMode == ScaleManual && (p.ScaleStart <= 0 || p.ScaleEnd <= 0) {
			return fmt.Errorf("%w: character %s part %q manual scale must be positive", errs.ErrValidation, c.ID, p.Name)
		}
		if (p.DriverFrom == "") != (p.DriverTo == "") {
			return fmt.Errorf("%w: character %s part %q needs both driver landmarks or neither",
				errs.ErrValidation, c.ID, p.Name)
		}
	}
	return nil
}

// LoadCharacter reads and validates a character file.
func LoadCharacter(path string) (*Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character %s: %w", path, err)
	}
	var c Character
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: parse character %s: %v", errs.ErrValidation, path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("character %s: %w", path, err)
	}
	return &c, nil
}

// RigPart is a compiled Part: artwork decoded, driver names resolved to
// landmark indices, rotation offset in radians. Undriven parts carry -1
// drivers and always draw at rest.
type RigPart struct {
	Name           string
	Image          image.Image
	RestOffset     Vec2
	JointPivot     Vec2
	RotationOffset float64
	ScaleMode      ScaleMode
	ScaleStart     float64
	ScaleEnd       float64
	DriverFrom     int
	DriverTo       int
}

// Driven reports whether pose landmarks rotate this part.
func (p *RigPart) Driven() bool { return p.DriverFrom >= 0 && p.DriverTo >= 0 }

// Rig is the render-ready form of a character: the static per-part table the
// compositor walks every frame, no name lookups left.
type Rig struct {
	ID            string
	ReferenceSpan float64
	MinVisibility float64
	Parts         []RigPart
}

// CompileRig resolves a validated character into a Rig. Artwork paths are
// resolved against artworkDir.
func CompileRig(c *Character, artworkDir string) (*Rig, error) {
	rig := &Rig{
		ID:            c.ID,
		ReferenceSpan: c.ReferenceSpan,
		MinVisibility: c.MinVisibility,
		Parts:         make([]RigPart, 0, len(c.Parts)),
	}
	for _, p := range c.Parts {
		img, err := loadArtwork(filepath.Join(artworkDir, p.Artwork))
		if err != nil {
			return nil, fmt.Errorf("character %s part %q: %w", c.ID, p.Name, err)
		}
		rp := RigPart{
			Name:           p.Name,
			Image:          img,
			RestOffset:     p.RestOffset,
			JointPivot:     p.JointPivot,
			RotationOffset: p.RotationOffset * math.Pi / 180,
			ScaleMode:      p.ScaleMode,
			ScaleStart:     p.ScaleStart,
			ScaleEnd:       p.ScaleEnd,
			DriverFrom:     -1,
			DriverTo:       -1,
		}
		if p.DriverFrom != "" {
			from, ok := pose.IndexOf(p.DriverFrom)
			if !ok {
				return nil, fmt.Errorf("%w: character %s part %q driver_from %q",
					errs.ErrValidation, c.ID, p.Name, p.DriverFrom)
			}
			to, ok := pose.IndexOf(p.DriverTo)
			if !ok {
				return nil, fmt.Errorf("%w: character %s part %q driver_to %q",
					errs.ErrValidation, c.ID, p.Name, p.DriverTo)
			}
			rp.DriverFrom, rp.DriverTo = from, to
		}
		rig.Parts = append(rig.Parts, rp)
	}
	return rig, nil
}

// maxArtworkDim caps artwork resolution. Parts map 1:1 to screen pixels at
// scale 1.0, so anything larger than this came from a raw scan, not a rig.
const maxArtworkDim = 2048

func loadArtwork(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artwork: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode artwork %s: %v", errs.ErrValidation, path, err)
	}
	return capArtwork(img), nil
}

// capArtwork downscales oversized artwork to maxArtworkDim on the longer
// side, preserving aspect ratio.
func capArtwork(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxArtworkDim && h <= maxArtworkDim {
		return img
	}
	scale := float64(maxArtworkDim) / float64(w)
	if h > w {
		scale = float64(maxArtworkDim) / float64(h)
	}
	dst := image.NewRGBA(image.Rect(0, 0,
		int(math.Round(float64(w)*scale)), int(math.Round(float64(h)*scale))))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
