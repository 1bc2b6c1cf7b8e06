// Package detector adapts external hand landmark models to ingest.Detector.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/airboard/internal/app/capture"
	"github.com/dkeye/airboard/internal/app/ingest"
	"github.com/dkeye/airboard/internal/config"
	"github.com/dkeye/airboard/internal/domain"
)

// None never finds a hand. The video feed still works with it.
type None struct{}

func (None) Detect(context.Context, image.Image) ([]domain.RawHand, error) { return nil, nil }

const maxResponseBytes = 1 << 20

var ErrDetection = errors.New("detection failed")

// HTTP posts each frame as image/jpeg and reads back
// {"hands":[{"landmarks":[{"x":..,"y":..,"z":..}, ...], "score":..}]}.
type HTTP struct {
	URL     string
	Client  *http.Client
	Quality int
}

type response struct {
	Hands []domain.RawHand `json:"hands"`
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{
		URL:     url,
		Client:  &http.Client{Timeout: timeout},
		Quality: 80,
	}
}

func (d *HTTP) Detect(ctx context.Context, frame image.Image) ([]domain.RawHand, error) {
	body, err := capture.EncodeJPEG(frame, d.Quality)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: call: %w", ErrDetection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: status %d", ErrDetection, resp.StatusCode)
	}
	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrDetection, err)
	}
	return out.Hands, nil
}

// New picks the detector named in cfg.
func New(cfg config.DetectorConfig) (ingest.Detector, error) {
	switch cfg.Driver {
	case "", "none":
		return None{}, nil
	case "http":
		return NewHTTP(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown detector driver %q", cfg.Driver)
	}
}
