package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Enty2905/AegisTalk-sub000/internal/adapters/stream"
	"github.com/Enty2905/AegisTalk-sub000/internal/app/orch"
	"github.com/Enty2905/AegisTalk-sub000/internal/calls"
	"github.com/Enty2905/AegisTalk-sub000/internal/config"
	"github.com/Enty2905/AegisTalk-sub000/internal/relay"
)

const RequestIDHeader = "X-Request-ID"

// StatsSource exposes relay counters to the facade.
type StatsSource interface {
	Stats() relay.Stats
}

type Deps struct {
	Calls *calls.Registry
	Orch  *orch.Orchestrator
	Relay StatsSource
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().Str("module", "adapters.http").
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// SetupRouter wires the signaling facade and the WebSocket stream bridge.
// ctx bounds the lifetime of bridged stream connections.
func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(AccessLogMiddleware())

	f := &facade{calls: deps.Calls}
	api := r.Group("/api")

	api.POST("/calls", f.invite)
	api.GET("/calls/:id", f.callInfo)
	api.POST("/calls/:id/accept", f.accept)
	api.POST("/calls/:id/reject", f.reject)
	api.POST("/calls/:id/end", f.end)
	api.POST("/calls/:id/endpoint", f.registerEndpoint)
	api.GET("/users/:id/calls/pending", f.pending)
	api.GET("/users/:id/calls/active", f.active)

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": deps.Orch.Rooms.List()})
	})
	api.GET("/rooms/:name/members", func(c *gin.Context) {
		room, ok := deps.Orch.Rooms.Get(roomParam(c))
		if !ok {
			c.JSON(http.StatusNotFound, nil)
			return
		}
		c.JSON(http.StatusOK, room.MembersSnapshot())
	})

	api.GET("/relay/stats", func(c *gin.Context) {
		if deps.Relay == nil {
			c.JSON(http.StatusServiceUnavailable, nil)
			return
		}
		c.JSON(http.StatusOK, deps.Relay.Stats())
	})

	api.GET("/healthz", func(c *gin.Context) {
		conns, ids := deps.Orch.Registry.Count()
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": conns,
			"identities":  ids,
		})
	})

	bridge := &wsBridge{
		ctx:       ctx,
		orch:      deps.Orch,
		readLimit: cfg.ReadLimit,
		opts: stream.Options{
			SendBuffer:   cfg.SendBuffer,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	api.GET("/ws/stream", bridge.handle)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
