package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/Enty2905/AegisTalk-sub000/internal/core"
	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
	"github.com/Enty2905/AegisTalk-sub000/internal/protocol"
)

// resolveTarget finds the connection bound to msg's toUserId. The sender
// must be logged in so the recipient learns who is calling.
func (o *Orchestrator) resolveTarget(sid core.SessionID, msg protocol.Message) (domain.UserID, core.SessionID, core.MemberSession, bool) {
	from, ok := o.Registry.UserOf(sid)
	if !ok {
		o.replyError(sid, "login_required")
		return 0, "", nil, false
	}
	to, err := domain.ParseUserID(msg.Get(protocol.KeyToUserID))
	if err != nil {
		o.replyError(sid, "bad_target")
		return 0, "", nil, false
	}
	targetSID, target, ok := o.Registry.SessionOf(to)
	if !ok {
		log.Debug().Str("module", "orch").Stringer("to", to).Stringer("type", msg.Type).Msg("target offline, dropped")
		return 0, "", nil, false
	}
	return from, targetSID, target, true
}

// handleCallSignal forwards CALL_* verbatim to the target identity as a
// CALL_EVENT. Offline targets are not queued.
func (o *Orchestrator) handleCallSignal(sid core.SessionID, msg protocol.Message) {
	from, targetSID, target, ok := o.resolveTarget(sid, msg)
	if !ok {
		return
	}
	out := msg.Clone()
	out.Type = protocol.KindCallEvent
	out.Data[protocol.KeyEvent] = msg.Type.String()
	out.Data[protocol.KeyFromUserID] = from.String()
	if o.send(targetSID, target, out) {
		log.Debug().Str("module", "orch").Stringer("from", from).Str("to_sid", string(targetSID)).Stringer("event", msg.Type).Msg("call signal forwarded")
	}
}

// handleTyping notifies the named recipient only, never the whole room.
func (o *Orchestrator) handleTyping(sid core.SessionID, msg protocol.Message) {
	from, targetSID, target, ok := o.resolveTarget(sid, msg)
	if !ok {
		return
	}
	o.send(targetSID, target, protocol.New(protocol.KindSystem, map[string]string{
		protocol.KeyEvent:      EventTyping,
		protocol.KeyRoomID:     msg.Get(protocol.KeyRoomID),
		protocol.KeyFromUserID: from.String(),
	}))
}
