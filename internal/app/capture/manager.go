package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type pendingOpen struct {
	released bool
}

// Manager maps participants to their single capture resource.
type Manager struct {
	opener      Opener
	openTimeout time.Duration
	metrics     *metrics.Metrics

	mu        sync.Mutex
	resources map[core.SessionID]*Resource
	pending   map[core.SessionID]*pendingOpen
	group     singleflight.Group
}

func NewManager(opener Opener, openTimeout time.Duration, m *metrics.Metrics) *Manager {
	return &Manager{
		opener:      opener,
		openTimeout: openTimeout,
		metrics:     m,
		resources:   make(map[core.SessionID]*Resource),
		pending:     make(map[core.SessionID]*pendingOpen),
	}
}

// Acquire returns the open resource of sid, opening the device if needed.
// Concurrent calls for one sid share a single open and get the same *Resource.
func (m *Manager) Acquire(ctx context.Context, sid core.SessionID) (*Resource, error) {
	if res, ok := m.Get(sid); ok {
		return res, nil
	}
	v, err, _ := m.group.Do(string(sid), func() (any, error) {
		m.mu.Lock()
		res, ok := m.resources[sid]
		if ok && res.State() == StateOpen {
			m.mu.Unlock()
			return res, nil
		}
		var stale *Resource
		if ok {
			// A failed resource is replaced; its loop's ReleaseIfCurrent
			// then finds it stale and leaves the streaming marks alone.
			stale = res
			delete(m.resources, sid)
			m.metrics.CaptureResources.Set(float64(len(m.resources)))
		}
		p := &pendingOpen{}
		m.pending[sid] = p
		m.mu.Unlock()
		if stale != nil {
			log.Info().Str("module", "capture").Str("sid", string(sid)).Str("state", stale.State().String()).Msg("replacing stale resource")
			_ = stale.Close()
		}

		openCtx := ctx
		if m.openTimeout > 0 {
			var cancel context.CancelFunc
			openCtx, cancel = context.WithTimeout(ctx, m.openTimeout)
			defer cancel()
		}
		dev, err := m.opener.Open(openCtx, sid)

		m.mu.Lock()
		delete(m.pending, sid)
		if err != nil {
			m.mu.Unlock()
			log.Error().Err(err).Str("module", "capture").Str("sid", string(sid)).Msg("open device")
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		if p.released {
			m.mu.Unlock()
			_ = dev.Close()
			log.Info().Str("module", "capture").Str("sid", string(sid)).Msg("released while opening, device closed")
			return nil, ErrReleased
		}
		res = newResource(sid, dev)
		m.resources[sid] = res
		m.metrics.CaptureResources.Set(float64(len(m.resources)))
		m.mu.Unlock()

		log.Info().Str("module", "capture").Str("sid", string(sid)).Msg("resource opened")
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resource), nil
}

// Release closes and forgets the resource of sid. It is a no-op when there is none.
func (m *Manager) Release(sid core.SessionID) bool {
	m.mu.Lock()
	if p, ok := m.pending[sid]; ok {
		p.released = true
	}
	res, ok := m.resources[sid]
	if ok {
		delete(m.resources, sid)
		m.metrics.CaptureResources.Set(float64(len(m.resources)))
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := res.Close(); err != nil {
		log.Warn().Err(err).Str("module", "capture").Str("sid", string(sid)).Msg("device close")
	}
	return true
}

// ReleaseIfCurrent releases res only while it is still the resource of its owner.
func (m *Manager) ReleaseIfCurrent(res *Resource) bool {
	m.mu.Lock()
	cur, ok := m.resources[res.Owner]
	if !ok || cur != res {
		m.mu.Unlock()
		_ = res.Close()
		return false
	}
	delete(m.resources, res.Owner)
	m.metrics.CaptureResources.Set(float64(len(m.resources)))
	m.mu.Unlock()
	if err := res.Close(); err != nil {
		log.Warn().Err(err).Str("module", "capture").Str("sid", string(res.Owner)).Msg("device close")
	}
	return true
}

// Get returns the resource of sid while it is still open.
func (m *Manager) Get(sid core.SessionID) (*Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.resources[sid]
	if !ok || res.State() != StateOpen {
		return nil, false
	}
	return res, true
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}

// ReleaseAll is used on shutdown.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	sids := make([]core.SessionID, 0, len(m.resources))
	for sid := range m.resources {
		sids = append(sids, sid)
	}
	m.mu.Unlock()
	for _, sid := range sids {
		m.Release(sid)
	}
}
