package core

import (
	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SID  SessionID     `json:"sid"`
	User domain.UserID `json:"userId"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

// RoomManager creates rooms lazily on first join and forgets them once the
// last member leaves.
type RoomManager interface {
	Get(name domain.RoomName) (RoomService, bool)
	Join(name domain.RoomName, sid SessionID, ms MemberSession) RoomService
	Leave(name domain.RoomName, sid SessionID)
	List() []RoomInfo
}
