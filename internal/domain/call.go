package domain

import "time"

// CallID is the session id shared by the signaling facade and the datagram
// header; it is never reused within a process lifetime.
type CallID int32

type CallStatus int

const (
	CallPending CallStatus = iota
	CallActive
	CallEnded
)

func (s CallStatus) String() string {
	switch s {
	case CallPending:
		return "PENDING"
	case CallActive:
		return "ACTIVE"
	case CallEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

func (s CallStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CallSession is a read-only copy of a call handed out by the registry.
type CallSession struct {
	ID        CallID     `json:"sessionId"`
	Caller    UserID     `json:"callerId"`
	Callee    UserID     `json:"calleeId"`
	Status    CallStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Participant reports whether id is the caller or the callee.
func (c CallSession) Participant(id UserID) bool {
	return id == c.Caller || id == c.Callee
}
