// Package capture owns per-participant video sources. A participant holds at
// most one Resource; the Manager serializes opening and releasing it.
package capture

import (
	"context"
	"errors"
	"image"

	"github.com/dkeye/airboard/internal/core"
)

var (
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrReleased          = errors.New("capture resource released")
	ErrFrameRead         = errors.New("frame read failed")
)

// Device is one exclusively owned video source handle.
// ReadFrame blocks until a frame is available or ctx is done.
type Device interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener opens the device of a participant.
type Opener interface {
	Open(ctx context.Context, sid core.SessionID) (Device, error)
}

type OpenerFunc func(ctx context.Context, sid core.SessionID) (Device, error)

func (f OpenerFunc) Open(ctx context.Context, sid core.SessionID) (Device, error) { return f(ctx, sid) }
