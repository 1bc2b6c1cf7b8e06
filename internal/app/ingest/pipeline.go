// Package ingest runs the per-resource loop that turns frames into throttled
// hand position events.
package ingest

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/dkeye/airboard/internal/app"
	"github.com/dkeye/airboard/internal/app/capture"
	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
	"github.com/dkeye/airboard/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultJPEGQuality = 75

// Detector maps one frame to zero or more raw hand detections.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]domain.RawHand, error)
}

// Directory is the part of the session directory the loop reads.
type Directory interface {
	CameraEnabled(sid core.SessionID) bool
	StreamingRooms(sid core.SessionID) []domain.RoomName
}

type Publisher interface {
	Publish(room domain.RoomName, event string, from core.SessionID, payload any) core.PublishResult
}

type Pipeline struct {
	Directory Directory
	Router    Publisher
	Throttle  *app.Throttle
	Detector  Detector
	Metrics   *metrics.Metrics

	// Mirror flips frames horizontally before detection (selfie view).
	Mirror      bool
	JPEGQuality int
	// OnStop is called when the loop ends because the device failed.
	OnStop func(sid core.SessionID, res *capture.Resource)
	Now    func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run loops until res is released, ctx is done or a read fails.
// Release is observed at the top of every iteration and cancels a read in flight.
func (p *Pipeline) Run(ctx context.Context, sid core.SessionID, res *capture.Resource) {
	logger := log.With().
		Str("module", "ingest").
		Str("sid", string(sid)).
		Logger()
	logger.Info().Msg("ingest loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("ingest ctx done")
			return
		case <-res.Done():
			logger.Info().Msg("resource released, stopping")
			return
		default:
		}

		frame, err := res.Read(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrReleased) || ctx.Err() != nil {
				logger.Info().Msg("resource released during read, stopping")
				return
			}
			p.Metrics.FrameReadFails.Inc()
			logger.Error().Err(err).Msg("frame read failed, stopping")
			if p.OnStop != nil {
				p.OnStop(sid, res)
			}
			return
		}
		p.step(ctx, sid, res, frame, &logger)
	}
}

func (p *Pipeline) step(ctx context.Context, sid core.SessionID, res *capture.Resource, frame image.Image, logger *zerolog.Logger) {
	if p.Mirror {
		frame = capture.Mirror(frame)
	}
	cameraOn := p.Directory.CameraEnabled(sid)
	watched := res.HasViewers()
	if !cameraOn && !watched {
		return
	}

	hands := p.detect(ctx, frame, logger)

	if watched {
		p.publishFrame(sid, res, frame, hands, logger)
	}
	if !cameraOn {
		return
	}
	if !p.Throttle.Allow(sid, p.now(), len(hands)) {
		if len(hands) > 0 {
			p.Metrics.HandThrottled.Inc()
		}
		return
	}
	p.Metrics.HandEmissions.Inc()
	for _, room := range p.Directory.StreamingRooms(sid) {
		p.Router.Publish(room, domain.EventHandPosition, sid, domain.HandPosition{
			Room:        room,
			Landmarks:   hands,
			Participant: sid.Participant(),
		})
	}
}

// detect never fails as a whole: a failed call yields no hands and a bad
// hand is skipped on its own.
func (p *Pipeline) detect(ctx context.Context, frame image.Image, logger *zerolog.Logger) []domain.Hand {
	raw, err := p.Detector.Detect(ctx, frame)
	if err != nil {
		p.Metrics.DetectionFails.Inc()
		logger.Warn().Err(err).Msg("detector call failed")
		return nil
	}
	hands := make([]domain.Hand, 0, len(raw))
	for i, r := range raw {
		h, err := domain.NewHand(r)
		if err != nil {
			p.Metrics.DetectionFails.Inc()
			logger.Warn().Err(err).Int("hand", i).Msg("hand extraction failed, skipped")
			continue
		}
		hands = append(hands, h)
	}
	return hands
}

func (p *Pipeline) publishFrame(sid core.SessionID, res *capture.Resource, frame image.Image, hands []domain.Hand, logger *zerolog.Logger) {
	quality := p.JPEGQuality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	data, err := capture.EncodeJPEG(capture.Annotate(frame, hands, string(sid)[:min(8, len(sid))]), quality)
	if err != nil {
		logger.Error().Err(err).Msg("encode frame")
		return
	}
	if _, dropped := res.PublishJPEG(data); dropped > 0 {
		logger.Debug().Int("dropped", dropped).Msg("viewer frames dropped")
	}
}
