package domain

// Member represents a stream connection's participation meta.
// No transport or lifecycle logic here.
type Member struct {
	User *User
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User) *Member {
	return &Member{User: user}
}

// LoggedIn reports whether a LOGIN has bound an identity to the member.
func (m *Member) LoggedIn() bool {
	return m != nil && m.User != nil && m.User.ID.Valid()
}
