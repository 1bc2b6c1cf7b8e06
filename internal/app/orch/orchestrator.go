package orch

import (
	"context"
	"time"

	"github.com/dkeye/airboard/internal/app"
	"github.com/dkeye/airboard/internal/app/capture"
	"github.com/dkeye/airboard/internal/app/ingest"
	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the only place where membership, capture resources and
// event routing meet. All cleanup paths end in OnDisconnect or Leave.
type Orchestrator struct {
	Registry *app.Registry
	Router   *app.Router
	Captures *capture.Manager
	Pipeline *ingest.Pipeline
	Throttle *app.Throttle
	Limiter  *app.RateLimiter
	Metrics  *metrics.Metrics
}

type Deps struct {
	Opener       capture.Opener
	Detector     ingest.Detector
	Policy       app.Policy
	Metrics      *metrics.Metrics
	Throttle     time.Duration
	InboundLimit int
	InboundEvery time.Duration
	OpenTimeout  time.Duration
	Mirror       bool
	JPEGQuality  int
}

func New(d Deps) *Orchestrator {
	reg := app.NewRegistry()
	throttle := app.NewThrottle(d.Throttle)
	o := &Orchestrator{
		Registry: reg,
		Router:   app.NewRouter(reg, d.Policy, d.Metrics),
		Captures: capture.NewManager(d.Opener, d.OpenTimeout, d.Metrics),
		Throttle: throttle,
		Limiter:  app.NewRateLimiter(d.InboundLimit, d.InboundEvery),
		Metrics:  d.Metrics,
	}
	o.Pipeline = &ingest.Pipeline{
		Directory:   reg,
		Router:      o.Router,
		Throttle:    throttle,
		Detector:    d.Detector,
		Metrics:     d.Metrics,
		Mirror:      d.Mirror,
		JPEGQuality: d.JPEGQuality,
		OnStop:      o.onStreamFailed,
	}
	log.Info().Str("module", "orch").Dur("throttle", throttle.Interval()).Dur("open_timeout", d.OpenTimeout).Msg("orchestrator ready")
	return o
}

// Connect registers a new session. cancel stops its transport pumps.
func (o *Orchestrator) Connect(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	o.Registry.Connect(sid, sess, cancel)
	o.refreshGauges()
}

// OnDisconnect is the single teardown path for a session: it leaves every
// room (remaining members get the new count), releases the capture resource
// regardless of other state and forgets per-session limiter state.
// Calling it again for the same sid does nothing.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	left, cancel, ok := o.Registry.Disconnect(sid)
	if !ok {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Msg("disconnect: already gone")
		return
	}
	o.Captures.Release(sid)
	o.Throttle.Forget(sid)
	o.Limiter.Forget(sid)
	if cancel != nil {
		cancel()
	}
	o.refreshGauges()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int("rooms", len(left)).Msg("session reaped")
}

// Shutdown releases every capture resource.
func (o *Orchestrator) Shutdown() {
	o.Captures.ReleaseAll()
	o.refreshGauges()
}

func (o *Orchestrator) refreshGauges() {
	o.Metrics.Rooms.Set(float64(len(o.Registry.Rooms())))
	o.Metrics.Sessions.Set(float64(o.Registry.SessionCount()))
}
