// Package pose defines the captured body-landmark model consumed by the
// renderer. Frames arrive from an external capture producer; this package
// only validates and measures them.
package pose

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ivlev/shadowplay/internal/errs"
)

// LandmarkCount is the joint count of the body-pose model. Frames with any
// other count are rejected, never padded.
const LandmarkCount = 33

// BlazePose landmark indices, in model order.
const (
	Nose = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
)

var landmarkIndex = map[string]int{
	"nose":             Nose,
	"left_eye_inner":   LeftEyeInner,
	"left_eye":         LeftEye,
	"left_eye_outer":   LeftEyeOuter,
	"right_eye_inner":  RightEyeInner,
	"right_eye":        RightEye,
	"right_eye_outer":  RightEyeOuter,
	"left_ear":         LeftEar,
	"right_ear":        RightEar,
	"mouth_left":       MouthLeft,
	"mouth_right":      MouthRight,
	"left_shoulder":    LeftShoulder,
	"right_shoulder":   RightShoulder,
	"left_elbow":       LeftElbow,
	"right_elbow":      RightElbow,
	"left_wrist":       LeftWrist,
	"right_wrist":      RightWrist,
	"left_pinky":       LeftPinky,
	"right_pinky":      RightPinky,
	"left_index":       LeftIndex,
	"right_index":      RightIndex,
	"left_thumb":       LeftThumb,
	"right_thumb":      RightThumb,
	"left_hip":         LeftHip,
	"right_hip":        RightHip,
	"left_knee":        LeftKnee,
	"right_knee":       RightKnee,
	"left_ankle":       LeftAnkle,
	"right_ankle":      RightAnkle,
	"left_heel":        LeftHeel,
	"right_heel":       RightHeel,
	"left_foot_index":  LeftFootIndex,
	"right_foot_index": RightFootIndex,
}

// IndexOf resolves a configuration landmark name to its model index.
func IndexOf(name string) (int, bool) {
	i, ok := landmarkIndex[name]
	return i, ok
}

// Landmark is one joint sample in normalized image space. On the wire and on
// disk it is the compact 4-element array the capture producer emits.
type Landmark struct {
	X          float64
	Y          float64
	Z          float64
	Visibility float64
}

func (l Landmark) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{l.X, l.Y, l.Z, l.Visibility})
}

func (l *Landmark) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("landmark: %w", err)
	}
	if len(arr) != 4 {
		return fmt.Errorf("landmark: want 4 components, got %d", len(arr))
	}
	l.X, l.Y, l.Z, l.Visibility = arr[0], arr[1], arr[2], arr[3]
	return nil
}

// Frame is one pose sample. Timestamp is milliseconds from the start of the
// segment the frame belongs to; the producer is expected to emit
// non-decreasing timestamps but the engine tolerates jitter.
type Frame struct {
	Timestamp float64    `json:"timestamp"`
	Landmarks []Landmark `json:"landmarks"`
}

func (f Frame) Validate() error {
	if len(f.Landmarks) != LandmarkCount {
		return fmt.Errorf("%w: frame at %.1fms carries %d landmarks, want %d",
			errs.ErrValidation, f.Timestamp, len(f.Landmarks), LandmarkCount)
	}
	return nil
}

// TorsoSpan measures the distance from the shoulder midpoint to the hip
// midpoint in normalized image space. It is the body-size proxy behind
// automatic character scaling. ok is false when any of the four torso
// landmarks falls below minVisibility.
func TorsoSpan(f Frame, minVisibility float64) (span float64, ok bool) {
	if len(f.Landmarks) != LandmarkCount {
		return 0, false
	}
	for _, i := range [...]int{LeftShoulder, RightShoulder, LeftHip, RightHip} {
		if f.Landmarks[i].Visibility < minVisibility {
			return 0, false
		}
	}
	sx := (f.Landmarks[LeftShoulder].X + f.Landmarks[RightShoulder].X) / 2
	sy := (f.Landmarks[LeftShoulder].Y + f.Landmarks[RightShoulder].Y) / 2
	hx := (f.Landmarks[LeftHip].X + f.Landmarks[RightHip].X) / 2
	hy := (f.Landmarks[LeftHip].Y + f.Landmarks[RightHip].Y) / 2
	return math.Hypot(hx-sx, hy-sy), true
}
