package signal

import (
	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
)

func (ctl *SignalWSController) handleWhoAmI(sid core.SessionID) {
	reg := ctl.Orch.Registry
	var client string
	if sess, ok := reg.GetSession(sid); ok {
		client = sess.Meta().ClientToken
	}
	ctl.reply(sid, domain.EventWhoAmI, domain.WhoAmI{
		Participant: sid.Participant(),
		Client:      client,
		Rooms:       reg.RoomsOf(sid),
		Streaming:   reg.StreamingRooms(sid),
		Camera:      reg.CameraEnabled(sid),
	})
}
