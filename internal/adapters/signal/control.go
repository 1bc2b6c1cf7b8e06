package signal

import (
	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
)

func (ctl *SignalWSController) handlePing(sid core.SessionID) {
	ctl.reply(sid, domain.EventPong, nil)
}
