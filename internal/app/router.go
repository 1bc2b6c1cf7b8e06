package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
	"github.com/dkeye/airboard/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrNotObject = errors.New("payload is not a JSON object")

// excludeSender is the fixed delivery table per event.
var excludeSender = map[string]bool{
	domain.EventJoinResponse: false,
	domain.EventCameraStatus: false,
	domain.EventHandPosition: true,
	domain.EventDraw:         true,
	domain.EventClear:        false,
}

// ExcludesSender reports whether event is withheld from its own sender.
func ExcludesSender(event string) bool { return excludeSender[event] }

// Router delivers named events to the current subscribers of a room.
// Delivery is best-effort: a full or closed connection loses the event.
type Router struct {
	reg     *Registry
	policy  Policy
	metrics *metrics.Metrics
}

// NewRouter also installs the membership announcer on reg.
func NewRouter(reg *Registry, policy Policy, m *metrics.Metrics) *Router {
	if policy == nil {
		policy = DropPolicy{}
	}
	rt := &Router{reg: reg, policy: policy, metrics: m}
	reg.OnMembership(rt.announceMembership)
	return rt
}

// Publish encodes payload once and fans it out to room.
func (rt *Router) Publish(room domain.RoomName, event string, from core.SessionID, payload any) core.PublishResult {
	data, err := Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("event", event).Msg("encode")
		return core.PublishResult{}
	}
	res, ok := rt.reg.Fanout(room, from, data, ExcludesSender(event))
	if !ok {
		log.Debug().Str("module", "app.router").Str("room", string(room)).Str("event", event).Msg("publish to missing room")
		return res
	}
	rt.account(room, event, res)
	return res
}

// Send writes one event to a single session.
func (rt *Router) Send(sid core.SessionID, event string, payload any) error {
	sess, ok := rt.reg.GetSession(sid)
	if !ok {
		return ErrUnknownSession
	}
	data, err := Encode(event, payload)
	if err != nil {
		return err
	}
	if err := sess.Signal().TrySend(data); err != nil {
		rt.metrics.EventsDropped.WithLabelValues(event).Inc()
		log.Warn().Err(err).Str("module", "app.router").Str("sid", string(sid)).Str("event", event).Msg("delivery failed")
		return err
	}
	rt.metrics.EventsPublished.WithLabelValues(event).Inc()
	return nil
}

// announceMembership runs under the registry lock (see MembershipHook).
func (rt *Router) announceMembership(room core.RoomService, count int) {
	data, err := Encode(domain.EventJoinResponse, domain.JoinResponse{Room: room.Name(), Count: count})
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode membership")
		return
	}
	res := room.Broadcast("", data, false)
	rt.account(room.Name(), domain.EventJoinResponse, res)
}

func (rt *Router) account(room domain.RoomName, event string, res core.PublishResult) {
	rt.metrics.EventsPublished.WithLabelValues(event).Add(float64(res.SendTo))
	if len(res.Dropped) == 0 {
		return
	}
	rt.metrics.EventsDropped.WithLabelValues(event).Add(float64(len(res.Dropped)))
	for _, slow := range res.Dropped {
		log.Warn().
			Str("module", "app.router").
			Str("room", string(room)).
			Str("event", event).
			Str("sid", string(slow.Meta().ID)).
			Msg("delivery failed")
		switch rt.policy.OnBackPressure(room, slow) {
		case KickMember:
			slow.Signal().Close()
		case DropFrame, NoAction:
		}
	}
}

// Encode produces {"type": event, ...payload fields}.
func Encode(event string, payload any) (core.Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(event) + 12)
	buf.WriteString(`{"type":`)
	buf.WriteString(strconv.Quote(event))
	switch {
	case payload == nil, bytes.Equal(body, []byte("null")), bytes.Equal(body, []byte("{}")):
		buf.WriteByte('}')
	case len(body) >= 2 && body[0] == '{':
		buf.WriteByte(',')
		buf.Write(body[1:])
	default:
		return nil, fmt.Errorf("%s: %w", event, ErrNotObject)
	}
	return buf.Bytes(), nil
}
