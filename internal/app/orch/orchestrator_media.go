package orch

import (
	"context"
	"errors"

	"github.com/dkeye/airboard/internal/app"
	"github.com/dkeye/airboard/internal/app/capture"
	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
	"github.com/rs/zerolog/log"
)

// StartStream makes sid stream its capture into room, opening the device on
// first use. A device that cannot be opened aborts the start and leaves room
// membership as it was.
func (o *Orchestrator) StartStream(ctx context.Context, sid core.SessionID, room domain.RoomName) (*capture.Resource, error) {
	if err := o.Registry.MarkStreaming(sid, room); err != nil {
		return nil, err
	}
	res, err := o.Captures.Acquire(ctx, sid)
	if err != nil {
		o.Registry.UnmarkStreaming(sid, room)
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("stream start aborted")
		return nil, err
	}
	// A leave or disconnect may have raced the open. Other rooms still
	// streaming keep the shared resource.
	if !o.Registry.IsStreamingIn(sid, room) {
		if !o.Registry.IsStreaming(sid) {
			o.Captures.Release(sid)
		}
		return nil, app.ErrNotMember
	}
	if res.StartOnce(func() {
		go o.Pipeline.Run(context.Background(), sid, res)
	}) {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("stream started")
	}
	return res, nil
}

// StopStream stops streaming into room; the resource is released when it
// was the last streaming room.
func (o *Orchestrator) StopStream(sid core.SessionID, room domain.RoomName) {
	if o.Registry.UnmarkStreaming(sid, room) > 0 {
		return
	}
	if o.Captures.Release(sid) {
		o.Throttle.Forget(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("stream stopped")
	}
}

// onStreamFailed runs when the ingest loop of sid hit a read failure.
func (o *Orchestrator) onStreamFailed(sid core.SessionID, res *capture.Resource) {
	if !o.Captures.ReleaseIfCurrent(res) {
		return
	}
	o.Registry.ClearStreaming(sid)
	o.Throttle.Forget(sid)
}

// IsDeviceError tells transport adapters whether err came from the device.
func IsDeviceError(err error) bool {
	return errors.Is(err, capture.ErrDeviceUnavailable) || errors.Is(err, capture.ErrReleased)
}
