package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Enty2905/AegisTalk-sub000/internal/adapters/stream"
	"github.com/Enty2905/AegisTalk-sub000/internal/app/orch"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsBridge carries the stream protocol over WebSocket, one message per text
// frame, into the same dispatcher as the TCP listener.
type wsBridge struct {
	ctx       context.Context
	orch      *orch.Orchestrator
	readLimit int
	opts      stream.Options
}

func (b *wsBridge) handle(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Str("remote", c.ClientIP()).Msg("ws stream connection")
	stream.Serve(b.ctx, b.orch, stream.NewWSConn(ws, b.readLimit), b.opts)
}
