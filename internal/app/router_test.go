package app

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/airboard/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	data, err := Encode("draw_broadcast", map[string]any{"x": 1, "room": "R"})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "draw_broadcast", m["type"])
	assert.EqualValues(t, 1, m["x"])
	assert.Equal(t, "R", m["room"])

	data, err = Encode("pong", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))

	data, err = Encode("pong", struct{}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))

	_, err = Encode("bad", []int{1})
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestExclusionTable(t *testing.T) {
	assert.False(t, ExcludesSender(domain.EventJoinResponse))
	assert.False(t, ExcludesSender(domain.EventCameraStatus))
	assert.True(t, ExcludesSender(domain.EventHandPosition))
	assert.True(t, ExcludesSender(domain.EventDraw))
	assert.False(t, ExcludesSender(domain.EventClear))
}

func TestPublishDrawAndClear(t *testing.T) {
	reg := NewRegistry()
	rt := NewRouter(reg, nil, newMetrics())
	p1 := connect(reg, "p1")
	p2 := connect(reg, "p2")
	outsider := connect(reg, "p3")
	_, _ = reg.Join("p1", "R")
	_, _ = reg.Join("p2", "R")
	_, _ = reg.Join("p3", "other")

	res := rt.Publish("R", domain.EventDraw, "p1", map[string]any{"room": "R", "x": 0.5})
	assert.Equal(t, 1, res.SendTo)
	assert.Empty(t, p1.ofType(t, domain.EventDraw))
	require.Len(t, p2.ofType(t, domain.EventDraw), 1)

	res = rt.Publish("R", domain.EventClear, "p1", map[string]any{"room": "R"})
	assert.Equal(t, 2, res.SendTo)
	assert.Len(t, p1.ofType(t, domain.EventClear), 1)
	assert.Len(t, p2.ofType(t, domain.EventClear), 1)

	assert.Empty(t, outsider.ofType(t, domain.EventDraw))
	assert.Empty(t, outsider.ofType(t, domain.EventClear))

	res = rt.Publish("missing", domain.EventClear, "p1", nil)
	assert.Zero(t, res.SendTo)
}

func TestPublishCountsDrops(t *testing.T) {
	reg := NewRegistry()
	m := newMetrics()
	rt := NewRouter(reg, DropPolicy{}, m)
	connect(reg, "p1")
	slow := connect(reg, "p2")
	_, _ = reg.Join("p1", "R")
	_, _ = reg.Join("p2", "R")
	slow.full = true

	res := rt.Publish("R", domain.EventClear, "p1", nil)
	assert.Equal(t, 1, res.SendTo)
	assert.Len(t, res.Dropped, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues(domain.EventClear)))
	assert.False(t, slow.isClosed(), "drop policy keeps the connection")
}

func TestKickPolicyClosesSlowMember(t *testing.T) {
	reg := NewRegistry()
	rt := NewRouter(reg, KickPolicy{}, newMetrics())
	connect(reg, "p1")
	slow := connect(reg, "p2")
	_, _ = reg.Join("p1", "R")
	_, _ = reg.Join("p2", "R")
	slow.full = true

	rt.Publish("R", domain.EventClear, "p1", nil)
	assert.True(t, slow.isClosed())
}

func TestSendDirect(t *testing.T) {
	reg := NewRegistry()
	rt := NewRouter(reg, nil, newMetrics())
	p1 := connect(reg, "p1")

	require.NoError(t, rt.Send("p1", domain.EventPong, nil))
	assert.Len(t, p1.ofType(t, domain.EventPong), 1)
	assert.ErrorIs(t, rt.Send("ghost", domain.EventPong, nil), ErrUnknownSession)
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.IsType(t, DropPolicy{}, p)
	p, err = PolicyByName("kick")
	require.NoError(t, err)
	assert.IsType(t, KickPolicy{}, p)
	_, err = PolicyByName("block")
	assert.Error(t, err)
}
