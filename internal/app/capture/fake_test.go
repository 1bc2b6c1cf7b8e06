package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeDevice blocks in ReadFrame until a frame is pushed or ctx ends.
type fakeDevice struct {
	frames   chan image.Image
	failWith error

	closes         atomic.Int32
	readAfterClose atomic.Bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{frames: make(chan image.Image, 4)}
}

func (d *fakeDevice) ReadFrame(ctx context.Context) (image.Image, error) {
	if d.closes.Load() > 0 {
		d.readAfterClose.Store(true)
	}
	if d.failWith != nil {
		return nil, d.failWith
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case img := <-d.frames:
		return img, nil
	}
}

func (d *fakeDevice) Close() error {
	d.closes.Add(1)
	return nil
}

// fakeOpener counts opens; gate, when set, holds Open until closed.
type fakeOpener struct {
	mu      sync.Mutex
	opens   int
	devices []*fakeDevice
	gate    chan struct{}
	err     error
}

func (o *fakeOpener) Open(ctx context.Context, _ core.SessionID) (Device, error) {
	if o.gate != nil {
		select {
		case <-o.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	d := newFakeDevice()
	o.devices = append(o.devices, d)
	return d, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func (o *fakeOpener) device(i int) *fakeDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.devices[i]
}

var errBoom = errors.New("boom")

func newTestManager(o Opener) *Manager {
	return newTimedManager(o, 0)
}

func newTimedManager(o Opener, openTimeout time.Duration) *Manager {
	return NewManager(o, openTimeout, metrics.New(prometheus.NewRegistry()))
}
