package orch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Enty2905/AegisTalk-sub000/internal/app"
	"github.com/Enty2905/AegisTalk-sub000/internal/core"
	"github.com/Enty2905/AegisTalk-sub000/internal/protocol"
)

type captureConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (c *captureConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *captureConn) Close() {}

func (c *captureConn) messages(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.frames))
	for _, f := range c.frames {
		m, err := protocol.Decode(f)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func (c *captureConn) last(t *testing.T) protocol.Message {
	t.Helper()
	msgs := c.messages(t)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func (c *captureConn) ofKind(t *testing.T, k protocol.Kind) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, m := range c.messages(t) {
		if m.Type == k {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	o       *Orchestrator
	conns   map[core.SessionID]*captureConn
	cancels map[core.SessionID]*bool
}

func newHarness(policy app.Policy, limiter *app.RoomRateLimiter) *harness {
	o := New(app.NewRegistry(), app.NewRoomManager(), policy, limiter)
	o.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	return &harness{
		o:       o,
		conns:   make(map[core.SessionID]*captureConn),
		cancels: make(map[core.SessionID]*bool),
	}
}

func (h *harness) connect(sid core.SessionID) *captureConn {
	c := &captureConn{}
	canceled := new(bool)
	h.conns[sid] = c
	h.cancels[sid] = canceled
	h.o.Connect(sid, c, func() { *canceled = true })
	return c
}

func (h *harness) send(sid core.SessionID, kind protocol.Kind, data map[string]string) {
	h.o.Handle(sid, protocol.New(kind, data))
}

func TestLogin(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")

	h.send("a", protocol.KindLogin, map[string]string{"userId": "5"})
	msg := a.last(t)
	assert.Equal(t, protocol.KindLoginOK, msg.Type)
	assert.Equal(t, "5", msg.Get("userId"))

	h.send("a", protocol.KindLogin, map[string]string{"userId": "abc"})
	msg = a.last(t)
	assert.Equal(t, protocol.KindLoginFail, msg.Type)
	assert.NotEmpty(t, msg.Get("reason"))

	h.send("a", protocol.KindLogin, map[string]string{"userId": "-3"})
	assert.Equal(t, protocol.KindLoginFail, a.last(t).Type)

	user, ok := h.o.Registry.UserOf("a")
	require.True(t, ok)
	assert.EqualValues(t, 5, user, "failed logins keep the previous identity")
}

func TestChatReachesRoomExceptSender(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")
	b := h.connect("b")
	c := h.connect("c")

	h.send("a", protocol.KindLogin, map[string]string{"userId": "5"})
	h.send("a", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})
	h.send("b", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})
	h.send("c", protocol.KindJoinRoom, map[string]string{"roomId": "r2"})

	joined := b.last(t)
	assert.Equal(t, protocol.KindSystem, joined.Type)
	assert.Equal(t, EventJoined, joined.Get("event"))
	assert.Equal(t, "2", joined.Get("members"))

	h.send("a", protocol.KindChat, map[string]string{"roomId": "r1", "from": "spoofed", "text": "hi"})

	chats := b.ofKind(t, protocol.KindChat)
	require.Len(t, chats, 1)
	assert.Equal(t, "r1", chats[0].Get("roomId"))
	assert.Equal(t, "5", chats[0].Get("from"))
	assert.Equal(t, "hi", chats[0].Get("text"))
	assert.Equal(t, "1700000000000", chats[0].Get("ts"))

	assert.Empty(t, a.ofKind(t, protocol.KindChat), "sender gets no echo")
	assert.Empty(t, c.ofKind(t, protocol.KindChat), "other rooms are untouched")
}

func TestChatOutsideRoomIsRefused(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")
	b := h.connect("b")
	h.send("b", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})

	h.send("a", protocol.KindChat, map[string]string{"roomId": "r1", "text": "hi"})
	assert.Equal(t, protocol.KindError, a.last(t).Type)
	assert.Empty(t, b.ofKind(t, protocol.KindChat))
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")
	h.connect("b")

	h.send("a", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})
	h.send("b", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})
	h.send("a", protocol.KindJoinRoom, map[string]string{"roomId": "r2"})

	r1, ok := h.o.Rooms.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 1, r1.MemberCount())
	room, _, ok := h.o.Registry.RoomOf("a")
	require.True(t, ok)
	assert.EqualValues(t, "r2", room)

	h.send("a", protocol.KindLeaveRoom, nil)
	assert.Equal(t, EventLeft, a.last(t).Get("event"))
	_, ok = h.o.Rooms.Get("r2")
	assert.False(t, ok, "empty room is removed")

	h.send("a", protocol.KindJoinRoom, map[string]string{"roomId": ""})
	assert.Equal(t, protocol.KindError, a.last(t).Type)
}

func TestLoginAfterJoinRefreshesRoomMeta(t *testing.T) {
	h := newHarness(nil, nil)
	h.connect("a")
	h.send("a", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})
	h.send("a", protocol.KindLogin, map[string]string{"userId": "9"})

	room, ok := h.o.Rooms.Get("r1")
	require.True(t, ok)
	members := room.MembersSnapshot()
	require.Len(t, members, 1)
	assert.EqualValues(t, 9, members[0].User)
}

func TestCallSignalForwarded(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")
	b := h.connect("b")
	h.send("a", protocol.KindLogin, map[string]string{"userId": "5"})
	h.send("b", protocol.KindLogin, map[string]string{"userId": "7"})

	h.send("a", protocol.KindCallOffer, map[string]string{"toUserId": "7", "sdp": "x"})

	events := b.ofKind(t, protocol.KindCallEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "CALL_OFFER", events[0].Get("event"))
	assert.Equal(t, "5", events[0].Get("fromUserId"))
	assert.Equal(t, "x", events[0].Get("sdp"))
	assert.Equal(t, "7", events[0].Get("toUserId"))
	assert.Empty(t, a.ofKind(t, protocol.KindCallEvent))

	h.send("b", protocol.KindCallEnd, map[string]string{"toUserId": "5"})
	events = a.ofKind(t, protocol.KindCallEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "CALL_END", events[0].Get("event"))
}

func TestCallSignalEdgeCases(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")

	h.send("a", protocol.KindCallOffer, map[string]string{"toUserId": "7"})
	assert.Equal(t, "login_required", a.last(t).Get("reason"))

	h.send("a", protocol.KindLogin, map[string]string{"userId": "5"})
	before := len(a.messages(t))
	h.send("a", protocol.KindCallOffer, map[string]string{"toUserId": "7"})
	assert.Len(t, a.messages(t), before, "offline target is dropped silently")

	h.send("a", protocol.KindCallOffer, map[string]string{"toUserId": "nobody"})
	assert.Equal(t, "bad_target", a.last(t).Get("reason"))
}

func TestTypingGoesToRecipientOnly(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")
	b := h.connect("b")
	c := h.connect("c")
	h.send("a", protocol.KindLogin, map[string]string{"userId": "5"})
	h.send("b", protocol.KindLogin, map[string]string{"userId": "7"})
	for _, sid := range []core.SessionID{"a", "b", "c"} {
		h.send(sid, protocol.KindJoinRoom, map[string]string{"roomId": "r1"})
	}

	h.send("a", protocol.KindTyping, map[string]string{"roomId": "r1", "toUserId": "7"})

	typing := func(conn *captureConn) int {
		n := 0
		for _, m := range conn.ofKind(t, protocol.KindSystem) {
			if m.Get("event") == EventTyping {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, typing(b))
	assert.Equal(t, 0, typing(a))
	assert.Equal(t, 0, typing(c))

	last := b.last(t)
	assert.Equal(t, "5", last.Get("fromUserId"))
	assert.Equal(t, "r1", last.Get("roomId"))
}

func TestDisconnectCleansUp(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")
	b := h.connect("b")
	h.send("a", protocol.KindLogin, map[string]string{"userId": "5"})
	h.send("b", protocol.KindLogin, map[string]string{"userId": "7"})
	h.send("a", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})
	h.send("b", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})

	h.o.OnDisconnect("b")
	h.o.OnDisconnect("b")

	_, _, ok := h.o.Registry.SessionOf(7)
	assert.False(t, ok)
	room, ok := h.o.Rooms.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())

	before := len(b.messages(t))
	h.send("a", protocol.KindCallOffer, map[string]string{"toUserId": "7"})
	h.send("a", protocol.KindChat, map[string]string{"roomId": "r1", "text": "anyone?"})
	assert.Len(t, b.messages(t), before)
	assert.NotEqual(t, protocol.KindError, a.last(t).Type)
}

func TestStaleConnectionKeepsNewBinding(t *testing.T) {
	h := newHarness(nil, nil)
	h.connect("old")
	fresh := h.connect("new")
	caller := h.connect("caller")
	h.send("old", protocol.KindLogin, map[string]string{"userId": "7"})
	h.send("new", protocol.KindLogin, map[string]string{"userId": "7"})
	h.send("caller", protocol.KindLogin, map[string]string{"userId": "5"})

	h.o.OnDisconnect("old")
	h.send("caller", protocol.KindCallOffer, map[string]string{"toUserId": "7"})

	require.Len(t, fresh.ofKind(t, protocol.KindCallEvent), 1)
	assert.Empty(t, caller.ofKind(t, protocol.KindError))
}

func TestOnLineRejectsGarbage(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")

	h.o.OnLine("a", []byte("not json"))
	assert.Equal(t, "bad_message", a.last(t).Get("reason"))

	h.o.OnLine("a", []byte(`{"type":"SHOUT","data":{}}`))
	assert.Equal(t, protocol.KindError, a.last(t).Type)

	h.o.OnLine("a", []byte(`{"type":"LOGIN_OK","data":{}}`))
	assert.Equal(t, "unexpected_type", a.last(t).Get("reason"))

	h.o.OnLine("a", []byte(`{"type":"LOGIN","data":{"userId":"3"}}`+"\n"))
	assert.Equal(t, protocol.KindLoginOK, a.last(t).Type)
}

func TestChatRateLimited(t *testing.T) {
	h := newHarness(nil, app.NewRoomRateLimiter(2, time.Minute))
	a := h.connect("a")
	b := h.connect("b")
	h.send("a", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})
	h.send("b", protocol.KindJoinRoom, map[string]string{"roomId": "r1"})

	for i := 0; i < 3; i++ {
		h.send("a", protocol.KindChat, map[string]string{"text": "spam"})
	}
	assert.Len(t, b.ofKind(t, protocol.KindChat), 2)
	assert.Equal(t, "rate_limited", a.last(t).Get("reason"))
}

func TestSlowConsumerPolicy(t *testing.T) {
	for _, tc := range []struct {
		name   string
		policy app.Policy
		kicked bool
	}{
		{"drop", app.SimplePolicy{Action: app.DropFrame}, false},
		{"kick", app.SimplePolicy{Action: app.KickMember}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(tc.policy, nil)
			h.connect("a")
			slow := h.connect("slow")
			fast := h.connect("fast")
			for _, sid := range []core.SessionID{"a", "slow", "fast"} {
				h.send(sid, protocol.KindJoinRoom, map[string]string{"roomId": "r1"})
			}
			slow.mu.Lock()
			slow.full = true
			slow.mu.Unlock()

			h.send("a", protocol.KindChat, map[string]string{"text": "hi"})

			assert.Len(t, fast.ofKind(t, protocol.KindChat), 1)
			assert.Equal(t, tc.kicked, *h.cancels["slow"])
		})
	}
}

func TestConnectBindsAnonymousSession(t *testing.T) {
	h := newHarness(nil, nil)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.o.Connect("x", &captureConn{}, cancel)

	sess, ok := h.o.Registry.GetSession("x")
	require.True(t, ok)
	assert.False(t, sess.Meta().LoggedIn())
}

func TestHandleEveryKind(t *testing.T) {
	h := newHarness(nil, nil)
	a := h.connect("a")

	for _, k := range []protocol.Kind{
		protocol.KindLoginOK, protocol.KindLoginFail,
		protocol.KindCallEvent, protocol.KindSystem, protocol.KindError,
		protocol.Kind(0), protocol.Kind(99),
	} {
		h.send("a", k, nil)
		msg := a.last(t)
		assert.Equal(t, protocol.KindError, msg.Type, k.String())
		assert.Equal(t, "unexpected_type", msg.Get("reason"), k.String())
	}

	h.o.OnOversize("a")
	assert.Equal(t, "line_too_long", a.last(t).Get("reason"))
}
