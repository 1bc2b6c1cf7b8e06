package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/airboard/internal/app"
	"github.com/dkeye/airboard/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.opts.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(ctl.opts.WriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		}
	}
}

// readPump owns the session: when it returns, the participant is reaped.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	stop := context.AfterFunc(ctx, c.Close)
	defer func() {
		stop()
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, sid, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(sid)).Interface("panic", r).Msg("handler panic")
		}
	}()
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(sid, data)
	case "leave":
		ctl.handleLeave(sid, data)
	case "toggle_camera":
		ctl.handleToggleCamera(sid, data)
	case "draw":
		ctl.handleDraw(sid, data)
	case "clear":
		ctl.handleClear(sid, data)
	case "stream_start":
		ctl.handleStreamStart(ctx, sid, data)
	case "stream_stop":
		ctl.handleStreamStop(sid, data)
	case "ping":
		ctl.handlePing(sid)
	case "whoami":
		ctl.handleWhoAmI(sid)
	case "hand_position":
		// Positions come only from the server-side capture loop.
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("client hand_position ignored")
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) reply(sid core.SessionID, event string, payload any) {
	if err := ctl.Orch.Router.Send(sid, event, payload); err != nil && !errors.Is(err, app.ErrUnknownSession) {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("event", event).Msg("reply lost")
	}
}
