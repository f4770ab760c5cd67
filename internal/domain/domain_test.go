package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID(" 5 ")
	require.NoError(t, err)
	assert.Equal(t, UserID(5), id)

	_, err = ParseUserID("")
	assert.ErrorIs(t, err, ErrUserIDEmpty)

	for _, bad := range []string{"0", "-3", "abc", "99999999999"} {
		_, err = ParseUserID(bad)
		assert.ErrorIs(t, err, ErrUserIDInvalid, bad)
	}
}

func TestNewRoomName(t *testing.T) {
	_, err := NewRoomName("")
	assert.ErrorIs(t, err, ErrRoomNameEmpty)

	long := make([]byte, MaxRoomNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = NewRoomName(string(long))
	assert.ErrorIs(t, err, ErrRoomNameTooLong)

	name, err := NewRoomName("r1")
	require.NoError(t, err)
	assert.Equal(t, RoomName("r1"), name)
}

func TestCallSessionJSON(t *testing.T) {
	cs := CallSession{ID: 7, Caller: 1, Callee: 2, Status: CallActive}
	b, err := json.Marshal(cs)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"ACTIVE"`)
	assert.Contains(t, string(b), `"sessionId":7`)
	assert.True(t, cs.Participant(2))
	assert.False(t, cs.Participant(3))
}
