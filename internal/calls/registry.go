// Package calls owns the lifecycle of two-party call sessions.
//
//	PENDING --accept--> ACTIVE --end--> ENDED
//	PENDING --reject--> (removed)
//	PENDING --end-----> ENDED
//
// Nothing leaves ENDED and an id is never handed out twice. The registry is
// the only writer of the relay's endpoint table: it opens a session's entries
// on invite and clears them on reject or end.
package calls

import (
	"cmp"
	"errors"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
)

var (
	ErrInvalidArguments = errors.New("calls: invalid arguments")
	ErrIDsExhausted     = errors.New("calls: session ids exhausted")
)

// EndpointSink receives endpoint table updates; the datagram relay implements it.
type EndpointSink interface {
	OpenSession(id domain.CallID, participants ...domain.UserID)
	RegisterEndpoint(id domain.CallID, user domain.UserID, addr *net.UDPAddr) bool
	CloseSession(id domain.CallID)
}

type nopSink struct{}

func (nopSink) OpenSession(domain.CallID, ...domain.UserID) {}
func (nopSink) RegisterEndpoint(domain.CallID, domain.UserID, *net.UDPAddr) bool {
	return true
}
func (nopSink) CloseSession(domain.CallID) {}

type Option func(*Registry)

// WithClock overrides the time source used for createdAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithFirstID sets the first id handed out.
func WithFirstID(id domain.CallID) Option {
	return func(r *Registry) { r.nextID = id }
}

type Registry struct {
	mu       sync.Mutex
	sessions map[domain.CallID]*domain.CallSession
	nextID   domain.CallID

	sink   EndpointSink
	now    func() time.Time
	logger zerolog.Logger
}

// NewRegistry builds a registry; a nil sink discards endpoint updates.
func NewRegistry(sink EndpointSink, opts ...Option) *Registry {
	if sink == nil {
		sink = nopSink{}
	}
	r := &Registry{
		sessions: make(map[domain.CallID]*domain.CallSession),
		nextID:   1,
		sink:     sink,
		now:      time.Now,
		logger:   log.With().Str("module", "calls").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invite allocates a new PENDING session.
func (r *Registry) Invite(caller, callee domain.UserID) (domain.CallID, error) {
	if !caller.Valid() || !callee.Valid() || caller == callee {
		return 0, ErrInvalidArguments
	}

	r.mu.Lock()
	id := r.nextID
	if id <= 0 {
		r.mu.Unlock()
		return 0, ErrIDsExhausted
	}
	r.nextID++
	r.sessions[id] = &domain.CallSession{
		ID:        id,
		Caller:    caller,
		Callee:    callee,
		Status:    domain.CallPending,
		CreatedAt: r.now(),
	}
	// Opening under the lock keeps a concurrent reject/end from running
	// CloseSession before the entries exist.
	r.sink.OpenSession(id, caller, callee)
	r.mu.Unlock()

	r.logger.Info().
		Int32("session", int32(id)).
		Int32("caller", int32(caller)).
		Int32("callee", int32(callee)).
		Msg("call invited")
	return id, nil
}

// Accept moves a PENDING session to ACTIVE. Only the callee may accept.
func (r *Registry) Accept(id domain.CallID, user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Callee != user || s.Status != domain.CallPending {
		return false
	}
	s.Status = domain.CallActive
	r.logger.Info().Int32("session", int32(id)).Int32("user", int32(user)).Msg("call accepted")
	return true
}

// Reject removes a PENDING session entirely. Only the callee may reject.
func (r *Registry) Reject(id domain.CallID, user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Callee != user || s.Status != domain.CallPending {
		return false
	}
	delete(r.sessions, id)
	r.sink.CloseSession(id)
	r.logger.Info().Int32("session", int32(id)).Int32("user", int32(user)).Msg("call rejected")
	return true
}

// End marks a session ENDED from any state. Either participant may end it;
// ending an already ENDED session succeeds without side effects.
func (r *Registry) End(id domain.CallID, user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.Participant(user) {
		return false
	}
	if s.Status == domain.CallEnded {
		return true
	}
	prev := s.Status
	s.Status = domain.CallEnded
	r.sink.CloseSession(id)
	r.logger.Info().
		Int32("session", int32(id)).
		Int32("user", int32(user)).
		Stringer("from", prev).
		Msg("call ended")
	return true
}

// RegisterEndpoint records where a participant says it receives media.
// The claim may be replaced at any time; nothing authenticates it.
func (r *Registry) RegisterEndpoint(id domain.CallID, user domain.UserID, address string, port int) bool {
	if port <= 0 || port > 65535 || address == "" {
		return false
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		r.logger.Warn().Err(err).Str("address", address).Msg("unresolvable endpoint")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.Participant(user) || s.Status == domain.CallEnded {
		return false
	}
	if addr.IP.IsLoopback() {
		r.logger.Warn().
			Int32("session", int32(id)).
			Int32("user", int32(user)).
			Str("addr", addr.String()).
			Msg("loopback endpoint registered; two clients on one host?")
	}
	return r.sink.RegisterEndpoint(id, user, addr)
}

// CallInfo returns a copy of the session.
func (r *Registry) CallInfo(id domain.CallID) (domain.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.CallSession{}, false
	}
	return *s, true
}

// PendingCalls lists PENDING sessions where user is the callee, oldest first.
func (r *Registry) PendingCalls(user domain.UserID) []domain.CallSession {
	return r.collect(func(s *domain.CallSession) bool {
		return s.Callee == user && s.Status == domain.CallPending
	})
}

// ActiveCalls lists PENDING or ACTIVE sessions involving user, oldest first.
func (r *Registry) ActiveCalls(user domain.UserID) []domain.CallSession {
	return r.collect(func(s *domain.CallSession) bool {
		return s.Participant(user) && s.Status != domain.CallEnded
	})
}

func (r *Registry) collect(match func(*domain.CallSession) bool) []domain.CallSession {
	r.mu.Lock()
	out := make([]domain.CallSession, 0)
	for _, s := range r.sessions {
		if match(s) {
			out = append(out, *s)
		}
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.CallSession) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
