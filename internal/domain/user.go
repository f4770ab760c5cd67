// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDInvalid = errors.New("user id invalid")
)

// UserID identifies a participant on both transports. The datagram header
// carries it as a signed 32-bit integer, so zero means "missing".
type UserID int32

func (id UserID) Valid() bool { return id > 0 }

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseUserID turns the string form used in stream messages into a UserID.
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrUserIDEmpty
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n <= 0 {
		return 0, ErrUserIDInvalid
	}
	return UserID(n), nil
}

type User struct {
	ID UserID `json:"id"`
}
