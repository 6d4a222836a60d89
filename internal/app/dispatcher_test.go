package app

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"chatrooms/internal/core"
)

type wireEnvelope struct {
	Type         string          `json:"type"`
	Room         string          `json:"room"`
	Participants []string        `json:"participants"`
	Error        string          `json:"error"`
	Author       string          `json:"author"`
	Message      string          `json:"message"`
	Time         json.RawMessage `json:"time"`
}

func (f *fakeConn) envelopes(t *testing.T) []wireEnvelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wireEnvelope, 0, len(f.frames))
	for _, fr := range f.frames {
		var env wireEnvelope
		require.NoError(t, json.Unmarshal(fr, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) lastEnvelope(t *testing.T) wireEnvelope {
	t.Helper()
	envs := f.envelopes(t)
	require.NotEmpty(t, envs)
	return envs[len(envs)-1]
}

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(NewRegistry(), SimplePolicy{}, 16)
}

// connect binds a session with a fake transport and reports cancellations
// through the returned flag.
func connect(d *Dispatcher, cid core.ConnID) (*fakeConn, *bool) {
	conn := &fakeConn{}
	canceled := false
	d.handle(ConnectEvent{CID: cid, Conn: conn, Cancel: func() { canceled = true }})
	return conn, &canceled
}

func TestJoinBroadcastsFullParticipantList(t *testing.T) {
	d := newTestDispatcher()
	a, _ := connect(d, "a")
	b, _ := connect(d, "b")

	d.handle(JoinEvent{CID: "a", Room: "lobby", Username: "alice"})
	require.Equal(t, "room_participants", a.lastEnvelope(t).Type)
	require.Equal(t, []string{"alice"}, a.lastEnvelope(t).Participants)

	d.handle(JoinEvent{CID: "b", Room: "lobby", Username: "bob"})
	require.ElementsMatch(t, []string{"alice", "bob"}, a.lastEnvelope(t).Participants)
	require.ElementsMatch(t, []string{"alice", "bob"}, b.lastEnvelope(t).Participants)
	require.Equal(t, 2, a.count())
	require.Equal(t, 1, b.count())
}

func TestJoinConflictNotifiesRequesterOnly(t *testing.T) {
	d := newTestDispatcher()
	a, _ := connect(d, "a")
	b, _ := connect(d, "b")

	d.handle(JoinEvent{CID: "a", Room: "lobby", Username: "alice"})
	d.handle(JoinEvent{CID: "b", Room: "lobby", Username: "alice"})

	env := b.lastEnvelope(t)
	require.Equal(t, "join_error", env.Type)
	require.Equal(t, "lobby", env.Room)
	require.Equal(t, ErrNameTaken.Error(), env.Error)
	require.Equal(t, 1, b.count())

	// no broadcast reached the existing member
	require.Equal(t, 1, a.count())
	require.Equal(t, []string{"alice"}, d.Registry.Participants("lobby"))
}

func TestRelayExcludesSender(t *testing.T) {
	d := newTestDispatcher()
	a, _ := connect(d, "a")
	b, _ := connect(d, "b")
	d.handle(JoinEvent{CID: "a", Room: "lobby", Username: "alice"})
	d.handle(JoinEvent{CID: "b", Room: "lobby", Username: "bob"})
	aBefore := a.count()

	d.handle(MessageEvent{CID: "a", Room: "lobby", Author: "alice", Body: "hi", Time: json.RawMessage(`"10:00"`)})

	env := b.lastEnvelope(t)
	require.Equal(t, "receive_message", env.Type)
	require.Equal(t, "alice", env.Author)
	require.Equal(t, "hi", env.Message)
	require.JSONEq(t, `"10:00"`, string(env.Time))
	require.Equal(t, aBefore, a.count())
}

func TestRelaySkipsMembershipValidation(t *testing.T) {
	d := newTestDispatcher()
	a, _ := connect(d, "a")
	connect(d, "outsider")
	d.handle(JoinEvent{CID: "a", Room: "lobby", Username: "alice"})

	d.handle(MessageEvent{CID: "outsider", Room: "lobby", Author: "eve", Body: "psst"})
	require.Equal(t, "receive_message", a.lastEnvelope(t).Type)
	require.Equal(t, "eve", a.lastEnvelope(t).Author)
}

func TestRelayToUnknownRoomIsNoOp(t *testing.T) {
	d := newTestDispatcher()
	a, _ := connect(d, "a")

	d.handle(MessageEvent{CID: "a", Room: "nowhere", Author: "alice", Body: "hi"})
	require.Equal(t, 0, a.count())
	require.Empty(t, d.Registry.List())
}

func TestLeaveRebroadcastsToRemaining(t *testing.T) {
	d := newTestDispatcher()
	a, _ := connect(d, "a")
	b, _ := connect(d, "b")
	d.handle(JoinEvent{CID: "a", Room: "lobby", Username: "alice"})
	d.handle(JoinEvent{CID: "b", Room: "lobby", Username: "bob"})
	bBefore := b.count()

	d.handle(LeaveEvent{CID: "b", Room: "lobby"})

	require.Equal(t, []string{"alice"}, a.lastEnvelope(t).Participants)
	// the leaver itself hears nothing
	require.Equal(t, bBefore, b.count())
}

func TestLeaveWithoutMembershipIsSilent(t *testing.T) {
	d := newTestDispatcher()
	a, _ := connect(d, "a")
	b, _ := connect(d, "b")
	d.handle(JoinEvent{CID: "a", Room: "lobby", Username: "alice"})
	aBefore := a.count()

	d.handle(LeaveEvent{CID: "b", Room: "lobby"})
	d.handle(LeaveEvent{CID: "b", Room: "nowhere"})

	require.Equal(t, aBefore, a.count())
	require.Equal(t, 0, b.count())
	require.Equal(t, []string{"alice"}, d.Registry.Participants("lobby"))
}

func TestDisconnectCleansEveryRoom(t *testing.T) {
	d := newTestDispatcher()
	connect(d, "c")
	r1Peer, _ := connect(d, "p1")
	r2Peer, _ := connect(d, "p2")
	d.handle(JoinEvent{CID: "c", Room: "r1", Username: "carol"})
	d.handle(JoinEvent{CID: "c", Room: "r2", Username: "carol"})
	d.handle(JoinEvent{CID: "p1", Room: "r1", Username: "pete"})
	d.handle(JoinEvent{CID: "p2", Room: "r2", Username: "paula"})

	d.handle(DisconnectEvent{CID: "c"})

	require.Equal(t, []string{"pete"}, r1Peer.lastEnvelope(t).Participants)
	require.Equal(t, []string{"paula"}, r2Peer.lastEnvelope(t).Participants)
	_, ok := d.Registry.Conn("c")
	require.False(t, ok)
}

func TestSlowMemberIsKicked(t *testing.T) {
	d := newTestDispatcher()
	connect(d, "a")
	b, bCanceled := connect(d, "b")
	d.handle(JoinEvent{CID: "a", Room: "lobby", Username: "alice"})
	d.handle(JoinEvent{CID: "b", Room: "lobby", Username: "bob"})

	b.mu.Lock()
	b.full = true
	b.mu.Unlock()

	d.handle(MessageEvent{CID: "a", Room: "lobby", Author: "alice", Body: "hi"})
	require.True(t, *bCanceled)
}

// TestLobbyScenario walks the full alice/bob exchange end to end at the
// dispatcher level.
func TestLobbyScenario(t *testing.T) {
	d := newTestDispatcher()
	a, _ := connect(d, "a")
	b, _ := connect(d, "b")

	d.handle(JoinEvent{CID: "a", Room: "lobby", Username: "alice"})
	d.handle(JoinEvent{CID: "b", Room: "lobby", Username: "bob"})
	require.ElementsMatch(t, []string{"alice", "bob"}, a.lastEnvelope(t).Participants)
	require.ElementsMatch(t, []string{"alice", "bob"}, b.lastEnvelope(t).Participants)

	aBefore := a.count()
	d.handle(MessageEvent{CID: "a", Room: "lobby", Author: "alice", Body: "hi"})
	require.Equal(t, "receive_message", b.lastEnvelope(t).Type)
	require.Equal(t, "hi", b.lastEnvelope(t).Message)
	require.Equal(t, aBefore, a.count())

	d.handle(DisconnectEvent{CID: "b"})
	require.Equal(t, "room_participants", a.lastEnvelope(t).Type)
	require.Equal(t, []string{"alice"}, a.lastEnvelope(t).Participants)
	require.Equal(t, []string{"alice"}, d.Registry.Participants("lobby"))
}
