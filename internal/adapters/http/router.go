package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dkeye/airboard/internal/adapters/signal"
	"github.com/dkeye/airboard/internal/app"
	"github.com/dkeye/airboard/internal/app/orch"
	"github.com/dkeye/airboard/internal/config"
	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	clientTokenKey = "client_token"
	viewerBuffer   = 2
)

// ClientTokenMiddleware keeps a browser token in the session cookie. Several
// tabs share it; each websocket still gets its own participant id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("AirboardSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": o.Registry.SessionCount(),
			"captures": o.Captures.Count(),
		})
	})

	if cfg.Metrics.Enabled && gatherer != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Registry.Rooms()})
	})

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	r.GET("/video_feed/:room/:participant", videoFeed(o))

	return r
}

// videoFeed serves the annotated capture of one participant as MJPEG. The
// participant starts streaming into the room if it was not already.
func videoFeed(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, err := domain.ParseRoomName(c.Param("room"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
			return
		}
		sid := core.SessionID(c.Param("participant"))
		res, err := o.StartStream(c.Request.Context(), sid, room)
		switch {
		case err == nil:
		case errors.Is(err, app.ErrUnknownSession), errors.Is(err, app.ErrNotMember):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_member"})
			return
		case orch.IsDeviceError(err):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "device_unavailable"})
			return
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_failed"})
			return
		}

		viewer, unsubscribe := res.Subscribe(viewerBuffer)
		defer unsubscribe()
		log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Str("room", string(room)).Msg("video feed opened")

		c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		c.Header("Cache-Control", "no-cache, no-store")
		c.Status(http.StatusOK)
		done := c.Request.Context().Done()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-done:
				return false
			case frame, ok := <-viewer.C():
				if !ok {
					return false
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
					return false
				}
				if _, err := w.Write(frame); err != nil {
					return false
				}
				_, err := io.WriteString(w, "\r\n")
				return err == nil
			}
		})
		log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Msg("video feed closed")
	}
}
