package relay

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
)

// Endpoint is one participant's addresses within one session. The registered
// address is whatever the client claimed and may be replaced; the observed
// address is learned from the first datagram and never changes afterwards.
type Endpoint struct {
	registered atomic.Pointer[net.UDPAddr]
	observed   atomic.Pointer[net.UDPAddr]
}

func (e *Endpoint) Registered() *net.UDPAddr { return e.registered.Load() }

func (e *Endpoint) Observed() *net.UDPAddr { return e.observed.Load() }

func (e *Endpoint) HasObserved() bool { return e.observed.Load() != nil }

// Resolve returns the address media should be sent to: observed if known,
// registered otherwise, nil when neither is set.
func (e *Endpoint) Resolve() *net.UDPAddr {
	if a := e.observed.Load(); a != nil {
		return a
	}
	return e.registered.Load()
}

func (e *Endpoint) setRegistered(addr *net.UDPAddr) {
	e.registered.Store(addr)
}

// observe stores addr only if nothing was observed yet.
func (e *Endpoint) observe(addr *net.UDPAddr) bool {
	return e.observed.CompareAndSwap(nil, addr)
}

type sessionEndpoints struct {
	members map[domain.UserID]*Endpoint
}

// Target is a resolved destination for one relayed datagram.
type Target struct {
	User domain.UserID
	Addr *net.UDPAddr
}

// EndpointTable maps (session, participant) to an Endpoint. The participant
// set of a session is fixed when it is opened.
type EndpointTable struct {
	mu       sync.RWMutex
	sessions map[domain.CallID]*sessionEndpoints
}

func NewEndpointTable() *EndpointTable {
	return &EndpointTable{sessions: make(map[domain.CallID]*sessionEndpoints)}
}

// Open creates the entry set for a session. Re-opening keeps existing entries.
func (t *EndpointTable) Open(id domain.CallID, participants ...domain.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		s = &sessionEndpoints{members: make(map[domain.UserID]*Endpoint, len(participants))}
		t.sessions[id] = s
	}
	for _, p := range participants {
		if _, ok := s.members[p]; !ok {
			s.members[p] = &Endpoint{}
		}
	}
}

// Close drops the session and every endpoint in it.
func (t *EndpointTable) Close(id domain.CallID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

func (t *EndpointTable) Has(id domain.CallID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[id]
	return ok
}

func (t *EndpointTable) Lookup(id domain.CallID, user domain.UserID) (*Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	e, ok := s.members[user]
	return e, ok
}

// Register stores or replaces the registered address of a participant.
func (t *EndpointTable) Register(id domain.CallID, user domain.UserID, addr *net.UDPAddr) bool {
	e, ok := t.Lookup(id, user)
	if !ok {
		return false
	}
	e.setRegistered(addr)
	return true
}

// Observe records the source of a received datagram. learned is true only
// for the packet that set the observed address; known is false when the
// session or participant does not exist.
func (t *EndpointTable) Observe(id domain.CallID, user domain.UserID, addr *net.UDPAddr) (learned, known bool) {
	e, ok := t.Lookup(id, user)
	if !ok {
		return false, false
	}
	if e.HasObserved() {
		return false, true
	}
	return e.observe(addr), true
}

// Targets returns every other participant of the session with a resolvable
// address. The result is a snapshot; the table may change right after.
func (t *EndpointTable) Targets(id domain.CallID, sender domain.UserID) []Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil
	}
	out := make([]Target, 0, len(s.members))
	for user, e := range s.members {
		if user == sender {
			continue
		}
		if addr := e.Resolve(); addr != nil {
			out = append(out, Target{User: user, Addr: addr})
		}
	}
	return out
}

func (t *EndpointTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
