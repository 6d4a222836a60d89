// Package app owns the in-memory room state and the event loop that mutates
// it. All connect/join/message/leave/disconnect events funnel through one
// Dispatcher goroutine, which keeps the registry's check-then-insert join
// atomic and preserves per-connection event order.
package app

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"chatrooms/internal/core"
	"chatrooms/internal/domain"
)

type Dispatcher struct {
	Registry *Registry
	Policy   Policy

	queue chan Event
}

func NewDispatcher(reg *Registry, policy Policy, queueSize int) *Dispatcher {
	return &Dispatcher{
		Registry: reg,
		Policy:   policy,
		queue:    make(chan Event, queueSize),
	}
}

// Enqueue hands an event to the dispatch loop. When the queue is full it
// blocks the calling reader instead of reordering or dropping events.
func (d *Dispatcher) Enqueue(e Event) {
	d.queue <- e
}

// Run drains the queue until ctx is canceled. It is the single writer of the
// registry; nothing here blocks on a peer connection.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.dispatcher").Msg("dispatcher stopping")
			d.Registry.CancelAll()
			return
		case e := <-d.queue:
			d.handle(e)
		}
	}
}

func (d *Dispatcher) handle(e Event) {
	switch ev := e.(type) {
	case ConnectEvent:
		d.Registry.BindSession(ev.CID, ev.Conn, ev.Cancel)
	case JoinEvent:
		d.handleJoin(ev)
	case MessageEvent:
		d.relay(ev)
	case LeaveEvent:
		if d.Registry.Leave(ev.Room, ev.CID) {
			d.broadcastPresence(ev.Room)
		}
	case DisconnectEvent:
		for _, roomID := range d.Registry.RemoveEverywhere(ev.CID) {
			d.broadcastPresence(roomID)
		}
		d.Registry.Unbind(ev.CID)
	}
}

func (d *Dispatcher) handleJoin(ev JoinEvent) {
	if err := d.Registry.Join(ev.Room, ev.CID, ev.Username); err != nil {
		// Rejection goes to the requester only; room state did not change,
		// so nobody else hears about it.
		resp := struct {
			Type  string        `json:"type"`
			Room  domain.RoomID `json:"room"`
			Error string        `json:"error"`
		}{"join_error", ev.Room, err.Error()}
		frame, merr := json.Marshal(resp)
		if merr != nil {
			log.Error().Err(merr).Str("module", "app.dispatcher").Msg("marshal join_error")
			return
		}
		if conn, ok := d.Registry.Conn(ev.CID); ok {
			d.deliver(ev.Room, MemberSnap{CID: ev.CID, Conn: conn}, frame)
		}
		return
	}
	d.broadcastPresence(ev.Room)
}

// relay forwards a chat message to every current member of the room except
// the sender. Membership of the sender is not checked.
func (d *Dispatcher) relay(ev MessageEvent) {
	members := d.Registry.Members(ev.Room)
	if len(members) == 0 {
		return
	}
	resp := struct {
		Type    string          `json:"type"`
		Room    domain.RoomID   `json:"room"`
		Author  string          `json:"author"`
		Message string          `json:"message"`
		Time    json.RawMessage `json:"time,omitempty"`
	}{"receive_message", ev.Room, ev.Author, ev.Body, ev.Time}
	frame, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Msg("marshal receive_message")
		return
	}
	sent := 0
	for _, m := range members {
		if m.CID == ev.CID {
			continue
		}
		d.deliver(ev.Room, m, frame)
		sent++
	}
	log.Debug().Str("module", "app.dispatcher").Str("room", string(ev.Room)).Str("author", ev.Author).Int("sent_to", sent).Msg("relayed message")
}

// broadcastPresence pushes the full current participant list to every member
// of the room, including whoever triggered the change.
func (d *Dispatcher) broadcastPresence(roomID domain.RoomID) {
	members := d.Registry.Members(roomID)
	if len(members) == 0 {
		return
	}
	resp := struct {
		Type         string        `json:"type"`
		Room         domain.RoomID `json:"room"`
		Participants []string      `json:"participants"`
	}{"room_participants", roomID, d.Registry.Participants(roomID)}
	frame, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Msg("marshal room_participants")
		return
	}
	for _, m := range members {
		d.deliver(roomID, m, frame)
	}
}

func (d *Dispatcher) deliver(roomID domain.RoomID, m MemberSnap, frame core.Frame) {
	if err := m.Conn.TrySend(frame); err == nil {
		return
	}
	if d.Policy == nil {
		return
	}
	switch d.Policy.OnBackPressure(roomID, m.CID) {
	case KickMember:
		log.Warn().Str("module", "app.dispatcher").Str("cid", string(m.CID)).Str("room", string(roomID)).Msg("kicking slow member")
		d.Registry.Cancel(m.CID)
	case DropFrame, NoAction:
	}
}
