package orch

import (
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Enty2905/AegisTalk-sub000/internal/app"
	"github.com/Enty2905/AegisTalk-sub000/internal/core"
	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
	"github.com/Enty2905/AegisTalk-sub000/internal/protocol"
)

// System event names sent back to clients.
const (
	EventJoined = "JOINED"
	EventLeft   = "LEFT"
	EventTyping = "TYPING"
)

// Join moves sid into roomName, leaving its current room first. Only the
// connection's own reader calls this, so the two steps never interleave with
// another membership change of the same connection.
func (o *Orchestrator) Join(sid core.SessionID, roomName domain.RoomName) bool {
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return false
	}
	if current, _, inRoom := o.Registry.RoomOf(sid); inRoom {
		if current == roomName {
			return true
		}
		o.cleanupMembership(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(current)).Msg("left room")
	}
	o.Rooms.Join(roomName, sid, session)
	o.Registry.UpdateRoom(sid, roomName)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomName)).Msg("added to room")
	return true
}

// KickBySID stops sid's pumps. Membership cleanup then runs on the
// connection's own goroutine through OnDisconnect.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Registry.Cancel(sid)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	roomName, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.Rooms.Leave(roomName, sid)
	o.Registry.RemoveRoom(sid)
}

func (o *Orchestrator) handleJoin(sid core.SessionID, msg protocol.Message) {
	name, err := domain.NewRoomName(msg.Get(protocol.KeyRoomID))
	if err != nil {
		o.replyError(sid, "bad_room")
		return
	}
	if !o.Join(sid, name) {
		return
	}
	count := 0
	if room, ok := o.Rooms.Get(name); ok {
		count = room.MemberCount()
	}
	o.replySystem(sid, EventJoined, map[string]string{
		protocol.KeyRoomID: string(name),
		"members":          strconv.Itoa(count),
	})
}

func (o *Orchestrator) handleLeave(sid core.SessionID) {
	roomName, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.cleanupMembership(sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomName)).Msg("leave")
	o.replySystem(sid, EventLeft, map[string]string{protocol.KeyRoomID: string(roomName)})
}

// handleChat broadcasts to the sender's room. A logged-in sender's identity
// replaces whatever "from" the client supplied.
func (o *Orchestrator) handleChat(sid core.SessionID, msg protocol.Message) {
	current, _, inRoom := o.Registry.RoomOf(sid)
	target := domain.RoomName(msg.Get(protocol.KeyRoomID))
	if target == "" {
		target = current
	}
	if !inRoom || target != current {
		o.replyError(sid, "not_in_room")
		return
	}
	if !o.Limiter.Allow(sid) {
		o.replyError(sid, "rate_limited")
		return
	}

	from := msg.Get(protocol.KeyFrom)
	if user, ok := o.Registry.UserOf(sid); ok {
		from = user.String()
	}
	out := protocol.New(protocol.KindChat, map[string]string{
		protocol.KeyRoomID:    string(current),
		protocol.KeyFrom:      from,
		protocol.KeyText:      msg.Get(protocol.KeyText),
		protocol.KeyTimestamp: o.timestamp(),
	})
	frame, err := protocol.Encode(out)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode chat")
		return
	}
	room, ok := o.Rooms.Get(current)
	if !ok {
		return
	}
	res := room.Broadcast(sid, core.Frame(frame))
	o.applyPolicy(room, res)
}

func (o *Orchestrator) applyPolicy(room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow)).Msg("kicking slow consumer")
			o.KickBySID(slow)
		case app.DropFrame, app.NoAction:
			log.Debug().Str("module", "orch").Str("sid", string(slow)).Msg("frame dropped for slow consumer")
		}
	}
}
