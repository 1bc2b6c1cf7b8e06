package orch

import (
	"errors"
	"maps"

	"github.com/dkeye/airboard/internal/app"
	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join adds sid to room. The registry announces the new count to the room.
func (o *Orchestrator) Join(sid core.SessionID, room domain.RoomName) (int, error) {
	count, err := o.Registry.Join(sid, room)
	if err != nil {
		return 0, err
	}
	o.refreshGauges()
	return count, nil
}

// Leave removes sid from room and replies with the remaining count.
// Leaving a room one is not in is tolerated. The capture resource goes away
// once no streaming room is left.
func (o *Orchestrator) Leave(sid core.SessionID, room domain.RoomName) (int, error) {
	count, err := o.Registry.Leave(sid, room)
	if errors.Is(err, app.ErrUnknownSession) {
		return 0, err
	}
	if err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("leave ignored")
	}
	if !o.Registry.IsStreaming(sid) {
		if o.Captures.Release(sid) {
			o.Throttle.Forget(sid)
		}
	}
	_ = o.Router.Send(sid, domain.EventJoinResponse, domain.JoinResponse{Room: room, Count: count})
	o.refreshGauges()
	return count, nil
}

// ToggleCamera flips the flag and tells the room. The ingest loop picks the
// new value up on its next iteration.
func (o *Orchestrator) ToggleCamera(sid core.SessionID, room domain.RoomName) (bool, error) {
	if _, ok := o.Registry.GetSession(sid); !ok {
		return false, app.ErrUnknownSession
	}
	if !o.Limiter.Allow(sid) {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Msg("toggle rate limited")
		return o.Registry.CameraEnabled(sid), nil
	}
	status, err := o.Registry.ToggleCamera(sid)
	if err != nil {
		return false, err
	}
	payload := domain.CameraStatus{Status: status, Participant: sid.Participant()}
	if room != "" && o.Registry.IsMember(sid, room) {
		o.Router.Publish(room, domain.EventCameraStatus, sid, payload)
	} else {
		_ = o.Router.Send(sid, domain.EventCameraStatus, payload)
	}
	return status, nil
}

// Draw relays stroke fields to the rest of the room.
func (o *Orchestrator) Draw(sid core.SessionID, room domain.RoomName, stroke map[string]any) error {
	return o.relay(sid, room, domain.EventDraw, stroke)
}

// Clear relays a clear action to the whole room, sender included.
func (o *Orchestrator) Clear(sid core.SessionID, room domain.RoomName, fields map[string]any) error {
	return o.relay(sid, room, domain.EventClear, fields)
}

func (o *Orchestrator) relay(sid core.SessionID, room domain.RoomName, event string, fields map[string]any) error {
	if !o.Registry.IsMember(sid, room) {
		return app.ErrNotMember
	}
	if !o.Limiter.Allow(sid) {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("event", event).Msg("inbound rate limited")
		return nil
	}
	out := make(map[string]any, len(fields)+1)
	maps.Copy(out, fields)
	delete(out, "type")
	out["room"] = room
	o.Router.Publish(room, event, sid, out)
	return nil
}
