// Package device provides capture.Device implementations: a synthetic test
// pattern and an MJPEG-over-HTTP camera.
package device

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/dkeye/airboard/internal/app/capture"
	"github.com/dkeye/airboard/internal/core"
)

// Synthetic renders a moving bar at a fixed rate. It stands in for a camera
// in development and tests.
type Synthetic struct {
	width, height int
	period        time.Duration

	mu     sync.Mutex
	frame  int
	next   time.Time
	closed bool
}

func NewSynthetic(width, height int, fps float64) *Synthetic {
	if fps <= 0 {
		fps = 15
	}
	return &Synthetic{
		width:  width,
		height: height,
		period: time.Duration(float64(time.Second) / fps),
	}
}

func (s *Synthetic) ReadFrame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, capture.ErrReleased
	}
	now := time.Now()
	wait := s.next.Sub(now)
	if s.next.IsZero() || wait < 0 {
		wait = 0
		s.next = now
	}
	s.next = s.next.Add(s.period)
	n := s.frame
	s.frame++
	s.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return s.render(n), nil
}

func (s *Synthetic) render(n int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 24, G: 24, B: 32, A: 255}}, image.Point{}, draw.Src)
	if s.width == 0 {
		return img
	}
	barW := max(s.width/16, 1)
	x := (n * 4) % s.width
	bar := image.Rect(x, 0, min(x+barW, s.width), s.height)
	draw.Draw(img, bar, &image.Uniform{C: color.RGBA{R: 200, G: 200, B: 200, A: 255}}, image.Point{}, draw.Src)
	return img
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// SyntheticOpener opens a fresh Synthetic device per participant.
func SyntheticOpener(width, height int, fps float64) capture.Opener {
	return capture.OpenerFunc(func(context.Context, core.SessionID) (capture.Device, error) {
		return NewSynthetic(width, height, fps), nil
	})
}
