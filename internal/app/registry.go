package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"chatrooms/internal/core"
	"chatrooms/internal/domain"
)

// ErrNameTaken is the only failure a client ever sees. Everything else in the
// registry is best-effort and silent.
var ErrNameTaken = errors.New("username already taken in this room")

type sessionEntry struct {
	Conn   core.ChatConnection
	Cancel context.CancelFunc
	Rooms  map[domain.RoomID]struct{}
}

type room struct {
	members map[core.ConnID]string
}

// Registry owns all room membership state: which connection is in which room
// under which name. It is constructed explicitly and handed to the Dispatcher,
// which is the only writer; the mutex exists so read-only HTTP surfaces can
// snapshot it concurrently.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.ConnID]*sessionEntry
	rooms    map[domain.RoomID]*room
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.ConnID]*sessionEntry),
		rooms:    make(map[domain.RoomID]*room),
	}
}

func (r *Registry) BindSession(cid core.ConnID, conn core.ChatConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[cid] = &sessionEntry{
		Conn:   conn,
		Cancel: cancel,
		Rooms:  make(map[domain.RoomID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("bound session")
}

func (r *Registry) Unbind(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("unbind session")
}

// Conn returns the outbound endpoint of a live session.
func (r *Registry) Conn(cid core.ConnID) (core.ChatConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[cid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Join inserts (cid, username) into roomID, creating the room on first join.
// The uniqueness check and the insert happen under one lock acquisition so
// two concurrent joins with the same name cannot both pass.
func (r *Registry) Join(roomID domain.RoomID, cid core.ConnID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[cid]
	if !ok {
		// Sessions are bound before their reader starts; a miss here means
		// the connection is already gone.
		log.Warn().Str("module", "app.registry").Str("cid", string(cid)).Msg("join from unknown session")
		return nil
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[core.ConnID]string)}
		r.rooms[roomID] = rm
	}

	for _, name := range rm.members {
		if name == username {
			return ErrNameTaken
		}
	}

	rm.members[cid] = username
	entry.Rooms[roomID] = struct{}{}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("room", string(roomID)).Str("username", username).Msg("joined room")
	return nil
}

// Leave removes the membership if present and reports whether anything
// changed. A room whose member count drops to zero is deleted.
func (r *Registry) Leave(roomID domain.RoomID, cid core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, cid)
}

func (r *Registry) leaveLocked(roomID domain.RoomID, cid core.ConnID) bool {
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := rm.members[cid]; !ok {
		return false
	}
	delete(rm.members, cid)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
	if entry, ok := r.sessions[cid]; ok {
		delete(entry.Rooms, roomID)
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("room", string(roomID)).Msg("left room")
	return true
}

// RemoveEverywhere drops the connection from every room it belongs to and
// returns the affected rooms for presence rebroadcast.
func (r *Registry) RemoveEverywhere(cid core.ConnID) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[cid]
	if !ok {
		return nil
	}
	affected := make([]domain.RoomID, 0, len(entry.Rooms))
	for roomID := range entry.Rooms {
		affected = append(affected, roomID)
	}
	for _, roomID := range affected {
		r.leaveLocked(roomID, cid)
	}
	return affected
}

// Participants lists the current usernames in a room; order is unspecified.
func (r *Registry) Participants(roomID domain.RoomID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rm.members))
	for _, name := range rm.members {
		out = append(out, name)
	}
	return out
}

// MemberSnap pairs a member's connection id with its outbound endpoint.
type MemberSnap struct {
	CID  core.ConnID
	Conn core.ChatConnection
}

// Members snapshots the fan-out targets of a room.
func (r *Registry) Members(roomID domain.RoomID) []MemberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]MemberSnap, 0, len(rm.members))
	for cid := range rm.members {
		if e, ok := r.sessions[cid]; ok {
			out = append(out, MemberSnap{CID: cid, Conn: e.Conn})
		}
	}
	return out
}

// Cancel tears down a session's transport context, if it is still known.
func (r *Registry) Cancel(cid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("canceled session")
	return true
}

// CancelAll tears down every live session. Used on shutdown; http.Server
// does not close hijacked websocket connections itself.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.Cancel != nil {
			cancels = append(cancels, e.Cancel)
		}
	}
	r.mu.RUnlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// RoomInfo is a read-only view for the rooms listing API.
type RoomInfo struct {
	Room        domain.RoomID `json:"room"`
	MemberCount int           `json:"member_count"`
}

func (r *Registry) List() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for roomID, rm := range r.rooms {
		out = append(out, RoomInfo{Room: roomID, MemberCount: len(rm.members)})
	}
	return out
}
