package capture

import (
	"sync"
	"sync/atomic"
)

type ViewerState int32

const (
	ViewerStateOk ViewerState = iota
	ViewerStateDelete
)

// Viewer receives encoded JPEG frames of one resource. Frames that do not
// fit in its buffer are dropped.
type Viewer struct {
	ch    chan []byte
	state atomic.Int32 // Zero by default (ViewerStateOk)

	mu     sync.RWMutex
	closed bool
}

func newViewer(buf int) *Viewer {
	if buf < 1 {
		buf = 1
	}
	return &Viewer{ch: make(chan []byte, buf)}
}

// C is closed once the viewer is removed or the resource released.
func (v *Viewer) C() <-chan []byte { return v.ch }

func (v *Viewer) GetState() ViewerState {
	return ViewerState(v.state.Load())
}

func (v *Viewer) MarkDelete() {
	v.state.Store(int32(ViewerStateDelete))
}

func (v *Viewer) trySend(frame []byte) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return false
	}
	select {
	case v.ch <- frame:
		return true
	default:
		return false
	}
}

func (v *Viewer) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	v.MarkDelete()
	close(v.ch)
}
