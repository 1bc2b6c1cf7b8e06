package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/airboard/internal/app"
	"github.com/dkeye/airboard/internal/app/orch"
	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomPayload struct {
	Room string `json:"room" validate:"required,max=64"`
}

type optionalRoomPayload struct {
	Room string `json:"room,omitempty" validate:"max=64"`
}

// decodeRoom parses and validates the room field of data. Malformed requests
// are logged and dropped; the sender gets no reply.
func (ctl *SignalWSController) decodeRoom(sid core.SessionID, data []byte) (domain.RoomName, bool) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad room payload")
		return "", false
	}
	if err := ctl.validate.Check(p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("invalid room payload")
		return "", false
	}
	name, err := domain.ParseRoomName(p.Room)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("invalid room")
		return "", false
	}
	return name, true
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, data []byte) {
	room, ok := ctl.decodeRoom(sid, data)
	if !ok {
		return
	}
	count, err := ctl.Orch.Join(sid, room)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Int("count", count).Msg("join")
}

func (ctl *SignalWSController) handleLeave(sid core.SessionID, data []byte) {
	room, ok := ctl.decodeRoom(sid, data)
	if !ok {
		return
	}
	count, err := ctl.Orch.Leave(sid, room)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("leave failed")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Int("count", count).Msg("leave")
}

func (ctl *SignalWSController) handleToggleCamera(sid core.SessionID, data []byte) {
	var p optionalRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad toggle payload")
		return
	}
	if err := ctl.validate.Check(p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("invalid toggle payload")
		return
	}
	room, _ := domain.ParseRoomName(p.Room)
	status, err := ctl.Orch.ToggleCamera(sid, room)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("toggle failed")
		return
	}
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Bool("camera", status).Msg("camera toggled")
}

func (ctl *SignalWSController) handleDraw(sid core.SessionID, data []byte) {
	ctl.relay(sid, data, ctl.Orch.Draw)
}

func (ctl *SignalWSController) handleClear(sid core.SessionID, data []byte) {
	ctl.relay(sid, data, ctl.Orch.Clear)
}

func (ctl *SignalWSController) relay(sid core.SessionID, data []byte, fn func(core.SessionID, domain.RoomName, map[string]any) error) {
	room, ok := ctl.decodeRoom(sid, data)
	if !ok {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad relay payload")
		return
	}
	if err := fn(sid, room, fields); err != nil {
		// Not being a member of room makes the relay a no-op.
		if errors.Is(err, app.ErrNotMember) {
			log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("relay from non-member dropped")
			return
		}
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("relay failed")
	}
}

func (ctl *SignalWSController) handleStreamStart(ctx context.Context, sid core.SessionID, data []byte) {
	room, ok := ctl.decodeRoom(sid, data)
	if !ok {
		return
	}
	_, err := ctl.Orch.StartStream(ctx, sid, room)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrNotMember):
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("stream start by non-member")
	case orch.IsDeviceError(err):
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("stream start: device unavailable")
	default:
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("stream start failed")
	}
	ctl.reply(sid, domain.EventStreamStatus, domain.StreamStatus{Room: room, Streaming: err == nil})
}

func (ctl *SignalWSController) handleStreamStop(sid core.SessionID, data []byte) {
	room, ok := ctl.decodeRoom(sid, data)
	if !ok {
		return
	}
	ctl.Orch.StopStream(sid, room)
	ctl.reply(sid, domain.EventStreamStatus, domain.StreamStatus{Room: room, Streaming: false})
}
