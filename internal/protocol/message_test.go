package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChat(t *testing.T) {
	m, err := Decode([]byte(`{"type":"CHAT","data":{"roomId":"r1","from":"5","text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindChat, m.Type)
	assert.Equal(t, "r1", m.Get(KeyRoomID))
	assert.Equal(t, "hi", m.Get(KeyText))
	assert.Equal(t, "", m.Get("missing"))
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"DANCE","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"data":{"a":"b"}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"CHAT","data":{"n":1}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeMissingData(t *testing.T) {
	m, err := Decode([]byte(`{"type":"LEAVE_ROOM"}`))
	require.NoError(t, err)
	assert.NotNil(t, m.Data)
}

func TestEncodeIsOneLine(t *testing.T) {
	b, err := Encode(New(KindLoginOK, map[string]string{KeyUserID: "5"}))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"LOGIN_OK","data":{"userId":"5"}}`+"\n", string(b))

	b, err = Encode(Message{Type: KindLeaveRoom})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"LEAVE_ROOM","data":{}}`+"\n", string(b))

	_, err = Encode(Message{Type: Kind(99)})
	assert.Error(t, err)
}

func TestKindClassification(t *testing.T) {
	for _, k := range []Kind{KindCallOffer, KindCallAnswer, KindCallICE, KindCallEnd} {
		assert.True(t, k.IsCallSignal(), k.String())
		assert.True(t, k.ClientSent(), k.String())
	}
	assert.False(t, KindChat.IsCallSignal())
	assert.True(t, KindTyping.ClientSent())
	assert.False(t, KindLoginOK.ClientSent())
	assert.False(t, KindCallEvent.ClientSent())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}

func TestCloneIsIndependent(t *testing.T) {
	orig := New(KindCallOffer, map[string]string{KeyToUserID: "2", "sdp": "v=0"})
	c := orig.Clone()
	c.Data[KeyFromUserID] = "1"
	_, ok := orig.Data[KeyFromUserID]
	assert.False(t, ok)
	assert.Equal(t, "v=0", c.Get("sdp"))
}
