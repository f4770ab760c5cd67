package app

import (
	"context"
	"sync"

	"github.com/Enty2905/AegisTalk-sub000/internal/core"
	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

// sessionEntry is the connection context of one stream connection.
type sessionEntry struct {
	User     domain.UserID
	RoomName domain.RoomName
	Session  core.MemberSession
	Cancel   context.CancelFunc
}

// Registry tracks live stream connections and the identity bound to each.
// An identity maps to at most one connection; a later LOGIN wins.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[core.SessionID]*sessionEntry
	identities map[domain.UserID]core.SessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[core.SessionID]*sessionEntry),
		identities: make(map[domain.UserID]core.SessionID),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// BindIdentity attaches user to sid and returns the connection that held the
// identity before, if any. The previous connection is left open.
func (r *Registry) BindIdentity(sid core.SessionID, user domain.UserID) (core.MemberSession, core.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil, "", false
	}
	if e.User.Valid() && e.User != user && r.identities[e.User] == sid {
		delete(r.identities, e.User)
	}
	prev := r.identities[user]
	e.User = user
	e.Session = e.Session.WithMeta(domain.NewMember(&domain.User{ID: user}))
	r.identities[user] = sid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Stringer("user", user).Str("replaced", string(prev)).Msg("bound identity")
	return e.Session, prev, true
}

// SessionOf returns the connection currently bound to user.
func (r *Registry) SessionOf(user domain.UserID) (core.SessionID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.identities[user]
	if !ok {
		return "", nil, false
	}
	e, ok := r.sessions[sid]
	if !ok {
		return "", nil, false
	}
	return sid, e.Session, true
}

func (r *Registry) UserOf(sid core.SessionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || !e.User.Valid() {
		return 0, false
	}
	return e.User, true
}

// Unbind forgets sid. The identity binding is removed only if it still
// points at sid, so a stale connection cannot evict its replacement.
func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok && e.User.Valid() && r.identities[e.User] == sid {
		delete(r.identities, e.User)
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomName, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomName == "" {
		return "", nil, false
	}
	return entry.RoomName, entry.Session, true
}

func (r *Registry) UpdateRoom(sid core.SessionID, newRoom domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.RoomName = newRoom
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(newRoom)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.RoomName = ""
	}
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
}

// Count returns the number of live connections and bound identities.
func (r *Registry) Count() (connections, identities int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.identities)
}

// Cancel stops the connection's pumps; the adapter cleans up on exit.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
