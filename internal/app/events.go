package app

import (
	"context"
	"encoding/json"

	"chatrooms/internal/core"
	"chatrooms/internal/domain"
)

// Event is one unit of work for the Dispatcher. Each connection has exactly
// one reader goroutine enqueuing its events, so queue order matches read
// order per connection; no ordering holds across connections.
type Event interface {
	event()
}

type ConnectEvent struct {
	CID    core.ConnID
	Conn   core.ChatConnection
	Cancel context.CancelFunc
}

type JoinEvent struct {
	CID      core.ConnID
	Room     domain.RoomID
	Username string
}

type MessageEvent struct {
	CID    core.ConnID
	Room   domain.RoomID
	Author string
	Body   string
	// Time is echoed to recipients exactly as the sender wrote it.
	Time json.RawMessage
}

type LeaveEvent struct {
	CID  core.ConnID
	Room domain.RoomID
}

type DisconnectEvent struct {
	CID core.ConnID
}

func (ConnectEvent) event()    {}
func (JoinEvent) event()       {}
func (MessageEvent) event()    {}
func (LeaveEvent) event()      {}
func (DisconnectEvent) event() {}
