package orch

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/airboard/internal/app"
	"github.com/dkeye/airboard/internal/app/capture"
	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
	"github.com/dkeye/airboard/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {}

func (c *recConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// tickDevice produces a small frame every few milliseconds.
type tickDevice struct {
	closed atomic.Bool
}

func (d *tickDevice) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(2 * time.Millisecond):
		return image.NewRGBA(image.Rect(0, 0, 16, 12)), nil
	}
}

func (d *tickDevice) Close() error {
	d.closed.Store(true)
	return nil
}

type countingOpener struct {
	mu      sync.Mutex
	devices []*tickDevice
	err     error
}

func (o *countingOpener) Open(context.Context, core.SessionID) (capture.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	d := &tickDevice{}
	o.devices = append(o.devices, d)
	return d, nil
}

func (o *countingOpener) opened() []*tickDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*tickDevice(nil), o.devices...)
}

// oneHand always sees an index finger pointing up.
type oneHand struct{}

func (oneHand) Detect(context.Context, image.Image) ([]domain.RawHand, error) {
	lm := make([]domain.Point, domain.HandLandmarkCount)
	for i := range lm {
		lm[i] = domain.Point{X: 0.5, Y: 0.5}
	}
	lm[domain.IndexFingerTip] = domain.Point{X: 0.4, Y: 0.2}
	return []domain.RawHand{{Landmarks: lm}}, nil
}

func newOrch(opener capture.Opener) (*Orchestrator, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return New(Deps{
		Opener:       opener,
		Detector:     oneHand{},
		Policy:       app.DropPolicy{},
		Metrics:      m,
		Throttle:     20 * time.Millisecond,
		InboundLimit: 100,
		InboundEvery: time.Second,
		OpenTimeout:  time.Second,
	}), m
}

func join(t *testing.T, o *Orchestrator, sid core.SessionID, rooms ...domain.RoomName) *recConn {
	t.Helper()
	conn := &recConn{}
	o.Connect(sid, core.NewMemberSession(&domain.Participant{ID: domain.ParticipantID(sid)}, conn), func() {})
	for _, r := range rooms {
		_, err := o.Join(sid, r)
		require.NoError(t, err)
	}
	return conn
}

func TestLeaveRepliesAndAnnounces(t *testing.T) {
	o, m := newOrch(&countingOpener{})
	p1 := join(t, o, "p1", "R")
	p2 := join(t, o, "p2", "R")

	count, err := o.Leave("p1", "R")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	last := p1.ofType(t, domain.EventJoinResponse)
	assert.EqualValues(t, 1, last[len(last)-1]["count"], "leaver gets the remaining count")
	last = p2.ofType(t, domain.EventJoinResponse)
	assert.EqualValues(t, 1, last[len(last)-1]["count"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rooms))

	// Leaving again is tolerated.
	_, err = o.Leave("p1", "R")
	assert.NoError(t, err)
}

func TestDrawAndClearRelay(t *testing.T) {
	o, _ := newOrch(&countingOpener{})
	p1 := join(t, o, "p1", "R")
	p2 := join(t, o, "p2", "R")
	join(t, o, "p3")

	require.NoError(t, o.Draw("p1", "R", map[string]any{"type": "draw", "x": 0.1, "y": 0.2, "color": "#f00"}))
	assert.Empty(t, p1.ofType(t, domain.EventDraw))
	got := p2.ofType(t, domain.EventDraw)
	require.Len(t, got, 1)
	assert.Equal(t, "R", got[0]["room"])
	assert.Equal(t, "#f00", got[0]["color"])

	require.NoError(t, o.Clear("p1", "R", map[string]any{"type": "clear"}))
	assert.Len(t, p1.ofType(t, domain.EventClear), 1)
	assert.Len(t, p2.ofType(t, domain.EventClear), 1)

	assert.ErrorIs(t, o.Draw("p3", "R", map[string]any{}), app.ErrNotMember)
}

func TestToggleCameraPublishes(t *testing.T) {
	o, _ := newOrch(&countingOpener{})
	p1 := join(t, o, "p1", "R")
	p2 := join(t, o, "p2", "R")

	on, err := o.ToggleCamera("p1", "R")
	require.NoError(t, err)
	assert.False(t, on)
	for _, c := range []*recConn{p1, p2} {
		got := c.ofType(t, domain.EventCameraStatus)
		require.Len(t, got, 1)
		assert.Equal(t, false, got[0]["status"])
		assert.Equal(t, "p1", got[0]["participant"])
	}

	_, err = o.ToggleCamera("ghost", "")
	assert.ErrorIs(t, err, app.ErrUnknownSession)
}

func TestStreamingFlow(t *testing.T) {
	op := &countingOpener{}
	o, m := newOrch(op)
	p1 := join(t, o, "p1", "A", "B")
	p2 := join(t, o, "p2", "A")

	_, err := o.StartStream(context.Background(), "p1", "A")
	require.NoError(t, err)
	res, err := o.StartStream(context.Background(), "p1", "B")
	require.NoError(t, err)
	require.Len(t, op.opened(), 1, "one resource per participant")

	require.Eventually(t, func() bool {
		return len(p2.ofType(t, domain.EventHandPosition)) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, p1.ofType(t, domain.EventHandPosition), "sender never gets its own positions")
	hp := p2.ofType(t, domain.EventHandPosition)[0]
	assert.Equal(t, "A", hp["room"])
	assert.Equal(t, "p1", hp["participant"])

	// Leaving one streaming room keeps the resource.
	_, err = o.Leave("p1", "B")
	require.NoError(t, err)
	assert.Equal(t, 1, o.Captures.Count())

	// Leaving the last one releases it.
	_, err = o.Leave("p1", "A")
	require.NoError(t, err)
	assert.Zero(t, o.Captures.Count())
	select {
	case <-res.Done():
	case <-time.After(time.Second):
		t.Fatal("resource not released")
	}
	assert.True(t, op.opened()[0].closed.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CaptureResources))
}

func TestStartStreamRequiresMembership(t *testing.T) {
	op := &countingOpener{}
	o, _ := newOrch(op)
	join(t, o, "p1")

	_, err := o.StartStream(context.Background(), "p1", "A")
	assert.ErrorIs(t, err, app.ErrNotMember)
	assert.Empty(t, op.opened())
}

// gatedOpener blocks every Open until gate is closed.
type gatedOpener struct {
	countingOpener
	gate chan struct{}
}

func (o *gatedOpener) Open(ctx context.Context, sid core.SessionID) (capture.Device, error) {
	select {
	case <-o.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return o.countingOpener.Open(ctx, sid)
}

func TestStartStreamLeaveDuringOpen(t *testing.T) {
	op := &gatedOpener{gate: make(chan struct{})}
	o, _ := newOrch(op)
	t.Cleanup(o.Shutdown)
	join(t, o, "p1", "A", "B")

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = o.StartStream(context.Background(), "p1", "A")
	}()
	go func() {
		defer wg.Done()
		_, errB = o.StartStream(context.Background(), "p1", "B")
	}()
	require.Eventually(t, func() bool {
		return len(o.Registry.StreamingRooms("p1")) == 2
	}, time.Second, time.Millisecond)

	_, err := o.Leave("p1", "B")
	require.NoError(t, err)
	close(op.gate)
	wg.Wait()

	assert.NoError(t, errA)
	assert.ErrorIs(t, errB, app.ErrNotMember)
	assert.Equal(t, []domain.RoomName{"A"}, o.Registry.StreamingRooms("p1"))
	assert.Equal(t, 1, o.Captures.Count(), "room A keeps the resource")
	require.Len(t, op.opened(), 1)
	assert.False(t, op.opened()[0].closed.Load())
}

func TestStartStreamDeviceUnavailable(t *testing.T) {
	o, _ := newOrch(&countingOpener{err: errors.New("no camera")})
	join(t, o, "p1", "A")

	_, err := o.StartStream(context.Background(), "p1", "A")
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	assert.True(t, IsDeviceError(err))
	assert.True(t, o.Registry.IsMember("p1", "A"), "membership is untouched")
	assert.False(t, o.Registry.IsStreaming("p1"))
}

func TestDisconnectReapsEverything(t *testing.T) {
	op := &countingOpener{}
	o, m := newOrch(op)
	join(t, o, "p1", "A", "B")
	p2 := join(t, o, "p2", "A")
	_, err := o.StartStream(context.Background(), "p1", "A")
	require.NoError(t, err)

	o.OnDisconnect("p1")
	o.OnDisconnect("p1")

	assert.Zero(t, o.Captures.Count())
	assert.True(t, op.opened()[0].closed.Load())
	assert.False(t, o.Registry.HasRoom("B"))
	room, ok := o.Registry.Room("A")
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())
	got := p2.ofType(t, domain.EventJoinResponse)
	assert.EqualValues(t, 1, got[len(got)-1]["count"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions))
}

func TestStopStream(t *testing.T) {
	op := &countingOpener{}
	o, _ := newOrch(op)
	join(t, o, "p1", "A", "B")
	_, err := o.StartStream(context.Background(), "p1", "A")
	require.NoError(t, err)
	_, err = o.StartStream(context.Background(), "p1", "B")
	require.NoError(t, err)

	o.StopStream("p1", "A")
	assert.Equal(t, 1, o.Captures.Count())
	o.StopStream("p1", "B")
	assert.Zero(t, o.Captures.Count())
	assert.True(t, o.Registry.IsMember("p1", "A"))
}

func TestShutdownReleasesAll(t *testing.T) {
	op := &countingOpener{}
	o, _ := newOrch(op)
	join(t, o, "p1", "A")
	join(t, o, "p2", "A")
	for _, sid := range []core.SessionID{"p1", "p2"} {
		_, err := o.StartStream(context.Background(), sid, "A")
		require.NoError(t, err)
	}
	o.Shutdown()
	assert.Zero(t, o.Captures.Count())
	for _, d := range op.opened() {
		assert.True(t, d.closed.Load())
	}
}
