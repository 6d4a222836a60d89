// Package chat is the websocket adapter for the room coordinator. It owns
// connection upgrade, the per-connection read/write pumps, and translation of
// wire envelopes into dispatcher events.
package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chatrooms/internal/app"
	"chatrooms/internal/config"
	"chatrooms/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type ChatWSController struct {
	Dispatcher *app.Dispatcher
	Cfg        *config.Config
}

func NewChatWSController(d *app.Dispatcher, cfg *config.Config) *ChatWSController {
	return &ChatWSController{Dispatcher: d, Cfg: cfg}
}

// WsChatConn is the outbound endpoint the registry holds for a session.
type WsChatConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsChatConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsChatConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleChat upgrades the request and starts the connection's pumps. The
// connection id is minted here and never reused.
func (ctl *ChatWSController) HandleChat(ctx context.Context, c *gin.Context) {
	upgrader := websocket.Upgrader{
		CheckOrigin: originChecker(ctl.Cfg.AllowedOrigins),
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	cid := core.ConnID(uuid.NewString())
	log.Info().Str("module", "chat").Str("cid", string(cid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	conn := &WsChatConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	// Bind before the reader starts so no event from this connection can
	// reach the dispatcher ahead of its session.
	ctl.Dispatcher.Enqueue(app.ConnectEvent{CID: cid, Conn: conn, Cancel: cancel})

	go ctl.writePump(ctx, cid, conn)
	go ctl.readPump(ctx, cid, conn)
}
