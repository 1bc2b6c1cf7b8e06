package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/dkeye/airboard/internal/app/capture"
	"github.com/dkeye/airboard/internal/core"
	"github.com/rs/zerolog/log"
)

var ErrNotMultipart = errors.New("camera did not answer with a multipart stream")

// MJPEG reads a multipart/x-mixed-replace JPEG stream, the format most IP
// cameras and webcam bridges serve.
type MJPEG struct {
	url  string
	body io.ReadCloser
	mr   *multipart.Reader

	mu     sync.Mutex
	closed bool
}

// OpenMJPEG connects to url. ctx bounds only the connection handshake; the
// stream stays open until Close.
func OpenMJPEG(ctx context.Context, client *http.Client, url string) (*MJPEG, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("mjpeg request: %w", err)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.Do(req)
		done <- result{resp, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.resp != nil {
				_ = r.resp.Body.Close()
			}
		}()
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("mjpeg connect %s: %w", url, res.err)
	}
	resp := res.resp
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("mjpeg connect %s: status %d", url, resp.StatusCode)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		_ = resp.Body.Close()
		return nil, ErrNotMultipart
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	log.Info().Str("module", "adapters.device").Str("url", url).Msg("mjpeg stream opened")
	return &MJPEG{
		url:  url,
		body: resp.Body,
		mr:   multipart.NewReader(resp.Body, boundary),
	}, nil
}

// ReadFrame returns the next JPEG part. Cancelling ctx closes the stream,
// since a blocked body read cannot be interrupted otherwise.
func (m *MJPEG) ReadFrame(ctx context.Context) (image.Image, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, capture.ErrReleased
	}
	m.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = m.Close() })
	defer stop()

	part, err := m.mr.NextPart()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("mjpeg next part: %w", err)
	}
	// The rest of the part is discarded by the next NextPart call. Closing it
	// here would wait for the following boundary.
	img, err := jpeg.Decode(part)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("mjpeg decode: %w", err)
	}
	return img, nil
}

func (m *MJPEG) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.body.Close()
}

// MJPEGOpener connects every participant to the same camera url.
func MJPEGOpener(client *http.Client, url string) capture.Opener {
	return capture.OpenerFunc(func(ctx context.Context, _ core.SessionID) (capture.Device, error) {
		return OpenMJPEG(ctx, client, url)
	})
}
