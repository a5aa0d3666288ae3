package render

import (
	"fmt"
	"sort"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/pose"
	"github.com/ivlev/shadowplay/internal/session"
)

// Timeline maps a global render timestamp onto the captured segment and pose
// frame active at that instant. Segment windows are half-open
// [cumulative_start, cumulative_start + duration), so a boundary instant
// belongs to the later segment. The mapper is read-only after construction;
// identical inputs always resolve to the identical frame.
type Timeline struct {
	windows []window
	total   float64
}

type window struct {
	start    float64
	duration float64
	frames   []pose.Frame
}

// Sample is the mapper's answer for one instant: which segment the instant
// falls in, how far into it, and the pose frame active there. HasFrame is
// false for a segment captured without frames.
type Sample struct {
	SegmentIndex int
	LocalTime    float64
	Frame        pose.Frame
	HasFrame     bool
}

// NewTimeline builds the window table from ordered captured segments. Frames
// are copied and sorted by timestamp, so capture jitter cannot perturb
// resolution and the caller's slices stay untouched.
func NewTimeline(segments []session.Segment) (*Timeline, error) {
	tl := &Timeline{windows: make([]window, 0, len(segments))}
	var cum float64
	for _, seg := range segments {
		if seg.Duration <= 0 {
			return nil, fmt.Errorf("%w: segment %d duration %.3f", errs.ErrValidation, seg.Index, seg.Duration)
		}
		frames := make([]pose.Frame, len(seg.Frames))
		copy(frames, seg.Frames)
		sort.SliceStable(frames, func(i, j int) bool { return frames[i].Timestamp < frames[j].Timestamp })
		tl.windows = append(tl.windows, window{start: cum, duration: seg.Duration, frames: frames})
		cum += seg.Duration
	}
	tl.total = cum
	return tl, nil
}

// Total is the summed duration of all windows in seconds.
func (tl *Timeline) Total() float64 { return tl.total }

// Resolve finds the window containing global time t (seconds). ok is false
// before the first window and at or after the end of the last.
func (tl *Timeline) Resolve(t float64) (Sample, bool) {
	if len(tl.windows) == 0 || t < 0 || t >= tl.total {
		return Sample{}, false
	}
	// Rightmost window starting at or before t. Windows tile [0, total)
	// with no gaps, so containment follows.
	i := sort.Search(len(tl.windows), func(j int) bool { return tl.windows[j].start > t }) - 1
	w := tl.windows[i]
	s := Sample{SegmentIndex: i, LocalTime: t - w.start}
	if frame, ok := frameAt(w.frames, s.LocalTime*1000); ok {
		s.Frame = frame
		s.HasFrame = true
	}
	return s, true
}

// frameAt picks the frame active at localMs: the last frame whose timestamp
// is at or before the offset, clamped to the first frame for offsets that
// precede it.
func frameAt(frames []pose.Frame, localMs float64) (pose.Frame, bool) {
	if len(frames) == 0 {
		return pose.Frame{}, false
	}
	i := sort.Search(len(frames), func(j int) bool { return frames[j].Timestamp > localMs }) - 1
	if i < 0 {
		i = 0
	}
	return frames[i], true
}
