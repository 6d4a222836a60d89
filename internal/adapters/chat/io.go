package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chatrooms/internal/app"
	"chatrooms/internal/core"
)

func (ctl *ChatWSController) writePump(ctx context.Context, cid core.ConnID, c *WsChatConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		// Closing the socket here also unblocks the read pump when the
		// session context is canceled.
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "chat").Str("cid", string(cid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "chat").Str("cid", string(cid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "chat").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "chat").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *ChatWSController) readPump(ctx context.Context, cid core.ConnID, c *WsChatConn) {
	defer func() {
		log.Info().Str("module", "chat").Str("cid", string(cid)).Msg("readPump closing")
		c.Close()
		// Transport loss is a lifecycle event, not an error; cleanup runs
		// through the dispatcher like everything else.
		ctl.Dispatcher.Enqueue(app.DisconnectEvent{CID: cid})
	}()

	limiter := newMessageLimiter(ctl.Cfg.MessageRate, ctl.Cfg.RateWindow)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "chat").Str("cid", string(cid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Error().Err(err).Str("module", "chat").Str("cid", string(cid)).Msg("readPump read error")
				}
				return
			}
			if !limiter.Allow() {
				log.Warn().Str("module", "chat").Str("cid", string(cid)).Msg("message rate exceeded, dropping frame")
				continue
			}
			ctl.handleFrame(cid, c, data)
		}
	}
}

func (ctl *ChatWSController) sendJSON(c *WsChatConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
