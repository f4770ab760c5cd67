package core

import "github.com/Enty2905/AegisTalk-sub000/internal/domain"

// memberSession implements MemberSession by pairing meta + transport.
// It is immutable; identity changes produce a new value.
type memberSession struct {
	meta *domain.Member
	conn SignalConnection
}

func NewMemberSession(meta *domain.Member, conn SignalConnection) MemberSession {
	return &memberSession{meta: meta, conn: conn}
}

func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.conn }

func (m *memberSession) WithMeta(meta *domain.Member) MemberSession {
	return &memberSession{meta: meta, conn: m.conn}
}
