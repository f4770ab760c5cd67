package core

import "github.com/Enty2905/AegisTalk-sub000/internal/domain"

// SessionID identifies one accepted stream connection.
type SessionID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	// WithMeta returns a copy bound to other meta and the same transport.
	WithMeta(*domain.Member) MemberSession
}
