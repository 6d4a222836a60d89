package chat

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"chatrooms/internal/app"
	"chatrooms/internal/core"
	"chatrooms/internal/domain"
)

func (ctl *ChatWSController) handleFrame(cid core.ConnID, c *WsChatConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("bad json")
		ctl.sendJSON(c, map[string]any{
			"type":  "error",
			"error": "bad_payload",
		})
		return
	}

	switch env.Type {
	case "join_room":
		ctl.handleJoinRoom(cid, c, data)
	case "send_message":
		ctl.handleSendMessage(cid, c, data)
	case "leave_room":
		ctl.handleLeaveRoom(cid, c, data)
	default:
		log.Warn().Str("module", "chat").Str("type", env.Type).Msg("unknown envelope")
	}
}

func (ctl *ChatWSController) handleJoinRoom(cid core.ConnID, c *WsChatConn, data []byte) {
	var p struct {
		Type     string `json:"type"`
		Room     string `json:"room"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("bad join payload")
		ctl.sendJSON(c, map[string]any{
			"type":  "error",
			"error": "bad_payload",
		})
		return
	}
	if err := domain.ValidateRoomID(p.Room); err != nil {
		ctl.sendJSON(c, map[string]any{
			"type":  "error",
			"error": "invalid_room",
		})
		return
	}
	if err := domain.ValidateUsername(p.Username); err != nil {
		ctl.sendJSON(c, map[string]any{
			"type":  "error",
			"error": "invalid_username",
		})
		return
	}

	log.Info().Str("module", "chat").Str("cid", string(cid)).Str("room", p.Room).Str("username", p.Username).Msg("join_room")
	ctl.Dispatcher.Enqueue(app.JoinEvent{
		CID:      cid,
		Room:     domain.RoomID(p.Room),
		Username: p.Username,
	})
}

func (ctl *ChatWSController) handleSendMessage(cid core.ConnID, c *WsChatConn, data []byte) {
	var p struct {
		Type    string          `json:"type"`
		Room    string          `json:"room"`
		Author  string          `json:"author"`
		Message string          `json:"message"`
		Time    json.RawMessage `json:"time"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("bad message payload")
		ctl.sendJSON(c, map[string]any{
			"type":  "error",
			"error": "bad_payload",
		})
		return
	}
	if err := domain.ValidateRoomID(p.Room); err != nil {
		ctl.sendJSON(c, map[string]any{
			"type":  "error",
			"error": "invalid_room",
		})
		return
	}

	ctl.Dispatcher.Enqueue(app.MessageEvent{
		CID:    cid,
		Room:   domain.RoomID(p.Room),
		Author: p.Author,
		Body:   p.Message,
		Time:   p.Time,
	})
}

func (ctl *ChatWSController) handleLeaveRoom(cid core.ConnID, c *WsChatConn, data []byte) {
	var p struct {
		Type     string `json:"type"`
		Room     string `json:"room"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("bad leave payload")
		ctl.sendJSON(c, map[string]any{
			"type":  "error",
			"error": "bad_payload",
		})
		return
	}
	if err := domain.ValidateRoomID(p.Room); err != nil {
		ctl.sendJSON(c, map[string]any{
			"type":  "error",
			"error": "invalid_room",
		})
		return
	}

	log.Info().Str("module", "chat").Str("cid", string(cid)).Str("room", p.Room).Str("username", p.Username).Msg("leave_room")
	ctl.Dispatcher.Enqueue(app.LeaveEvent{
		CID:  cid,
		Room: domain.RoomID(p.Room),
	})
}
