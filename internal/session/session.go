// Package session holds the capture-session record, its status machine and
// the persistent store every other component mutates sessions through.
package session

import (
	"sort"
	"time"

	"github.com/ivlev/shadowplay/internal/pose"
)

// Session is one participant's capture run. The store owns the record;
// the renderer only ever receives a snapshot and reports back through
// SetStatus.
type Session struct {
	ID         string          `json:"id"`
	SceneID    string          `json:"scene_id"`
	Status     Status          `json:"status"`
	Segments   map[int]Segment `json:"segments"`
	OutputPath string          `json:"output_path,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Segment is one timed recording interval of the session's capture flow.
// Duration is the captured length in seconds; Frames keep capture order.
type Segment struct {
	Index    int          `json:"index"`
	Duration float64      `json:"duration"`
	Frames   []pose.Frame `json:"frames"`
}

func (s *Session) SegmentCount() int {
	return len(s.Segments)
}

// OrderedSegments returns the stored segments sorted by index.
func (s *Session) OrderedSegments() []Segment {
	out := make([]Segment, 0, len(s.Segments))
	for _, seg := range s.Segments {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// MissingIndices lists the segment indices from [0, configured) that the
// session has not captured yet.
func (s *Session) MissingIndices(configured int) []int {
	var missing []int
	for i := 0; i < configured; i++ {
		if _, ok := s.Segments[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// File naming is deterministic per session id so the cleanup path can pair
// a metadata record with its artifacts without an index.

// MetaName returns the session metadata file name.
func MetaName(id string) string { return id + ".json" }

// OutputName returns the rendered video file name.
func OutputName(id string) string { return "final_" + id + ".mp4" }

// QRName returns the download QR sidecar file name.
func QRName(id string) string { return "qr_" + id + ".png" }
