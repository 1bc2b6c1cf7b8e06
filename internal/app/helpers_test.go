package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
	"github.com/dkeye/airboard/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var errFull = errors.New("full")

// fakeConn records frames; it never blocks.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return errFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// events decodes every recorded frame.
func (c *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range c.events(t) {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

func connect(reg *Registry, sid core.SessionID) *fakeConn {
	conn := &fakeConn{}
	reg.Connect(sid, core.NewMemberSession(&domain.Participant{ID: domain.ParticipantID(sid)}, conn), nil)
	return conn
}

func newMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}
