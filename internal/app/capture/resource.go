package capture

import (
	"context"
	"fmt"
	"image"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/airboard/internal/core"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateOpen State = iota
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Resource wraps the device of one participant. Reads are serialized, and
// Close waits for an in-flight read before the handle is closed, so the
// handle is never touched after release.
type Resource struct {
	Owner core.SessionID

	dev   Device
	ioMu  sync.Mutex
	state atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	startOnce sync.Once

	mu      sync.RWMutex
	viewers map[uint64]*Viewer
	nextID  uint64
}

func newResource(owner core.SessionID, dev Device) *Resource {
	ctx, cancel := context.WithCancel(context.Background())
	return &Resource{
		Owner:   owner,
		dev:     dev,
		ctx:     ctx,
		cancel:  cancel,
		viewers: make(map[uint64]*Viewer),
	}
}

func (r *Resource) State() State { return State(r.state.Load()) }

// Done is closed when the resource is released.
func (r *Resource) Done() <-chan struct{} { return r.ctx.Done() }

// StartOnce runs fn only for the first caller, used to start the single ingest loop.
func (r *Resource) StartOnce(fn func()) bool {
	started := false
	r.startOnce.Do(func() {
		started = true
		fn()
	})
	return started
}

// Read pulls one frame. Release cancels a read in flight.
func (r *Resource) Read(ctx context.Context) (image.Image, error) {
	if r.State() != StateOpen {
		return nil, ErrReleased
	}
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	if r.State() != StateOpen {
		return nil, ErrReleased
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	img, err := r.dev.ReadFrame(readCtx)
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, ErrReleased
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.state.CompareAndSwap(int32(StateOpen), int32(StateFailed))
		return nil, fmt.Errorf("%w: %w", ErrFrameRead, err)
	}
	return img, nil
}

// Close releases the device handle exactly once and ends every viewer.
func (r *Resource) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.state.CompareAndSwap(int32(StateOpen), int32(StateClosed))
		r.cancel()

		r.ioMu.Lock()
		err = r.dev.Close()
		r.ioMu.Unlock()

		r.mu.Lock()
		for id, v := range r.viewers {
			v.close()
			delete(r.viewers, id)
		}
		r.mu.Unlock()

		log.Info().Str("module", "capture").Str("sid", string(r.Owner)).Str("state", r.State().String()).Msg("resource closed")
	})
	return err
}

// Subscribe attaches a raw frame viewer. The returned func detaches it.
func (r *Resource) Subscribe(buf int) (*Viewer, func()) {
	v := newViewer(buf)
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		v.close()
		return v, func() {}
	}
	id := r.nextID
	r.nextID++
	r.viewers[id] = v
	r.mu.Unlock()

	return v, func() {
		v.MarkDelete()
		r.mu.Lock()
		delete(r.viewers, id)
		r.mu.Unlock()
		v.close()
	}
}

func (r *Resource) HasViewers() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers) > 0
}

// PublishJPEG forwards one encoded frame to every live viewer without blocking.
func (r *Resource) PublishJPEG(frame []byte) (sent, dropped int) {
	r.mu.RLock()
	snapshot := maps.Clone(r.viewers)
	r.mu.RUnlock()

	for _, v := range snapshot {
		if v.GetState() == ViewerStateDelete {
			continue
		}
		if v.trySend(frame) {
			sent++
		} else {
			dropped++
		}
	}
	return sent, dropped
}
