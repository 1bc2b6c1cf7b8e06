package device

import (
	"fmt"
	"net/http"

	"github.com/dkeye/airboard/internal/app/capture"
	"github.com/dkeye/airboard/internal/config"
)

// NewOpener picks the capture driver named in cfg.
func NewOpener(cfg config.CaptureConfig) (capture.Opener, error) {
	switch cfg.Driver {
	case "", "synthetic":
		return SyntheticOpener(cfg.Width, cfg.Height, cfg.FPS), nil
	case "mjpeg":
		return MJPEGOpener(&http.Client{}, cfg.URL), nil
	default:
		return nil, fmt.Errorf("unknown capture driver %q", cfg.Driver)
	}
}
