// Package orch dispatches stream messages. It is transport agnostic: the TCP
// and WebSocket adapters feed it decoded lines and it answers through the
// connection's core.SignalConnection.
package orch

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Enty2905/AegisTalk-sub000/internal/app"
	"github.com/Enty2905/AegisTalk-sub000/internal/core"
	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
	"github.com/Enty2905/AegisTalk-sub000/internal/protocol"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Limiter  *app.RoomRateLimiter
	Now      func() time.Time
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy, limiter *app.RoomRateLimiter) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Policy:   policy,
		Limiter:  limiter,
		Now:      time.Now,
	}
}

// Connect registers a freshly accepted connection. cancel stops its pumps.
func (o *Orchestrator) Connect(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	sess := core.NewMemberSession(domain.NewMember(nil), conn)
	o.Registry.BindSignal(sid, sess, cancel)
}

// OnDisconnect removes every trace of sid: room membership, identity
// binding and rate-limit history. Safe to call more than once.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.cleanupMembership(sid)
	o.Limiter.Forget(sid)
	o.Registry.Unbind(sid)
}

// OnLine decodes one wire line and dispatches it. Malformed lines are
// answered with ERROR and otherwise ignored.
func (o *Orchestrator) OnLine(sid core.SessionID, line []byte) {
	msg, err := protocol.Decode(line)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("bad message")
		o.replyError(sid, "bad_message")
		return
	}
	o.Handle(sid, msg)
}

// Handle dispatches a decoded message. Kinds only the server emits are
// answered with ERROR and otherwise ignored.
func (o *Orchestrator) Handle(sid core.SessionID, msg protocol.Message) {
	switch msg.Type {
	case protocol.KindLogin:
		o.handleLogin(sid, msg)
	case protocol.KindChat:
		o.handleChat(sid, msg)
	case protocol.KindJoinRoom:
		o.handleJoin(sid, msg)
	case protocol.KindLeaveRoom:
		o.handleLeave(sid)
	case protocol.KindCallOffer, protocol.KindCallAnswer, protocol.KindCallICE, protocol.KindCallEnd:
		o.handleCallSignal(sid, msg)
	case protocol.KindTyping:
		o.handleTyping(sid, msg)
	case protocol.KindLoginOK, protocol.KindLoginFail, protocol.KindCallEvent, protocol.KindSystem, protocol.KindError:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Stringer("type", msg.Type).Msg("server-only message from client")
		o.replyError(sid, "unexpected_type")
	default:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Stringer("type", msg.Type).Msg("unknown message kind")
		o.replyError(sid, "unexpected_type")
	}
}

// OnOversize answers a line that exceeded the read limit. The transport
// has already skipped it.
func (o *Orchestrator) OnOversize(sid core.SessionID) {
	log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("line too long, dropped")
	o.replyError(sid, "line_too_long")
}

func (o *Orchestrator) handleLogin(sid core.SessionID, msg protocol.Message) {
	user, err := domain.ParseUserID(msg.Get(protocol.KeyUserID))
	if err != nil {
		o.sendTo(sid, protocol.New(protocol.KindLoginFail, map[string]string{
			protocol.KeyReason: err.Error(),
		}))
		return
	}
	sess, prev, ok := o.Registry.BindIdentity(sid, user)
	if !ok {
		return
	}
	if prev != "" && prev != sid {
		log.Info().Str("module", "orch").Stringer("user", user).Str("sid", string(sid)).Str("stale_sid", string(prev)).Msg("identity moved to new connection")
	}
	// Refresh the room's copy so member listings carry the identity.
	if room, _, inRoom := o.Registry.RoomOf(sid); inRoom {
		o.Rooms.Join(room, sid, sess)
	}
	o.sendTo(sid, protocol.New(protocol.KindLoginOK, map[string]string{
		protocol.KeyUserID: user.String(),
	}))
}

func (o *Orchestrator) timestamp() string {
	return strconv.FormatInt(o.Now().UnixMilli(), 10)
}

// sendTo encodes msg and queues it on sid's connection.
func (o *Orchestrator) sendTo(sid core.SessionID, msg protocol.Message) bool {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return false
	}
	return o.send(sid, sess, msg)
}

func (o *Orchestrator) send(sid core.SessionID, sess core.MemberSession, msg protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return false
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Stringer("type", msg.Type).Msg("send dropped")
		return false
	}
	return true
}

func (o *Orchestrator) replyError(sid core.SessionID, reason string) {
	o.sendTo(sid, protocol.New(protocol.KindError, map[string]string{protocol.KeyReason: reason}))
}

func (o *Orchestrator) replySystem(sid core.SessionID, event string, data map[string]string) {
	if data == nil {
		data = make(map[string]string, 1)
	}
	data[protocol.KeyEvent] = event
	o.sendTo(sid, protocol.New(protocol.KindSystem, data))
}
