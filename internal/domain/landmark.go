package domain

import (
	"errors"
	"fmt"
)

// Hand keypoint indices as produced by MediaPipe-style hand detectors.
const (
	Wrist           = 0
	IndexFingerDIP  = 7
	IndexFingerTip  = 8
	MiddleFingerDIP = 11
	MiddleFingerTip = 12
	PinkyMCP        = 17
	PinkyTip        = 20

	HandLandmarkCount = 21
)

var (
	ErrTooFewLandmarks = errors.New("too few landmarks")
	ErrOutOfRange      = errors.New("landmark out of range")
)

// Point is a normalized keypoint; X and Y are in [0,1], Y grows downwards.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// RawHand is one detector result before any interpretation.
type RawHand struct {
	Landmarks []Point `json:"landmarks"`
	Score     float64 `json:"score,omitempty"`
}

type PointerMode string

const (
	ModeNone  PointerMode = "none"
	ModeDraw  PointerMode = "draw"
	ModeErase PointerMode = "erase"
)

// Hand is the broadcast shape of one tracked hand.
type Hand struct {
	Index    Point       `json:"index"`
	Middle   Point       `json:"middle"`
	Pinky    Point       `json:"pinky"`
	IndexUp  bool        `json:"index_up"`
	MiddleUp bool        `json:"middle_up"`
	PinkyUp  bool        `json:"pinky_up"`
	Mode     PointerMode `json:"mode"`
}

// NewHand extracts fingertips and extension flags from a raw detection.
// A finger is up when its tip is higher on screen (smaller y) than its reference joint.
func NewHand(raw RawHand) (Hand, error) {
	if len(raw.Landmarks) < HandLandmarkCount {
		return Hand{}, fmt.Errorf("%w: got %d", ErrTooFewLandmarks, len(raw.Landmarks))
	}
	lm := raw.Landmarks
	for _, i := range []int{IndexFingerDIP, IndexFingerTip, MiddleFingerDIP, MiddleFingerTip, PinkyMCP, PinkyTip} {
		if !inUnit(lm[i].X) || !inUnit(lm[i].Y) {
			return Hand{}, fmt.Errorf("%w: landmark %d (%.3f, %.3f)", ErrOutOfRange, i, lm[i].X, lm[i].Y)
		}
	}

	h := Hand{
		Index:    Point{X: lm[IndexFingerTip].X, Y: lm[IndexFingerTip].Y},
		Middle:   Point{X: lm[MiddleFingerTip].X, Y: lm[MiddleFingerTip].Y},
		Pinky:    Point{X: lm[PinkyTip].X, Y: lm[PinkyTip].Y},
		IndexUp:  lm[IndexFingerTip].Y < lm[IndexFingerDIP].Y,
		MiddleUp: lm[MiddleFingerTip].Y < lm[MiddleFingerDIP].Y,
		PinkyUp:  lm[PinkyTip].Y < lm[PinkyMCP].Y,
	}
	h.Mode = pointerMode(h.IndexUp, h.MiddleUp)
	return h, nil
}

func pointerMode(indexUp, middleUp bool) PointerMode {
	switch {
	case indexUp && middleUp:
		return ModeErase
	case indexUp:
		return ModeDraw
	default:
		return ModeNone
	}
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }
