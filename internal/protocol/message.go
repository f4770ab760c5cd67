// Package protocol defines the line-delimited stream wire format.
//
// Every line is one JSON object {"type": "<KIND>", "data": {"k": "v"}}.
// Kind is a closed set; a line naming any other type fails to decode.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownKind = errors.New("protocol: unknown message kind")
	ErrMalformed   = errors.New("protocol: malformed message")
)

type Kind int

const (
	KindLogin Kind = iota + 1
	KindChat
	KindJoinRoom
	KindLeaveRoom
	KindCallOffer
	KindCallAnswer
	KindCallICE
	KindCallEnd
	KindTyping
	KindLoginOK
	KindLoginFail

	// Server-emitted only.
	KindCallEvent
	KindSystem
	KindError
)

var kindNames = map[Kind]string{
	KindLogin:      "LOGIN",
	KindChat:       "CHAT",
	KindJoinRoom:   "JOIN_ROOM",
	KindLeaveRoom:  "LEAVE_ROOM",
	KindCallOffer:  "CALL_OFFER",
	KindCallAnswer: "CALL_ANSWER",
	KindCallICE:    "CALL_ICE",
	KindCallEnd:    "CALL_END",
	KindTyping:     "TYPING",
	KindLoginOK:    "LOGIN_OK",
	KindLoginFail:  "LOGIN_FAIL",
	KindCallEvent:  "CALL_EVENT",
	KindSystem:     "SYSTEM",
	KindError:      "ERROR",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a wire name onto its Kind.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindByName[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// IsCallSignal reports whether k is forwarded verbatim to a target identity.
func (k Kind) IsCallSignal() bool {
	switch k {
	case KindCallOffer, KindCallAnswer, KindCallICE, KindCallEnd:
		return true
	}
	return false
}

// ClientSent reports whether a client may legitimately send k.
func (k Kind) ClientSent() bool {
	return k >= KindLogin && k <= KindTyping
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Data keys shared by clients and server.
const (
	KeyUserID     = "userId"
	KeyRoomID     = "roomId"
	KeyFrom       = "from"
	KeyText       = "text"
	KeyToUserID   = "toUserId"
	KeyFromUserID = "fromUserId"
	KeyEvent      = "event"
	KeyReason     = "reason"
	KeyTimestamp  = "ts"
)

type Message struct {
	Type Kind              `json:"type"`
	Data map[string]string `json:"data"`
}

func New(kind Kind, data map[string]string) Message {
	if data == nil {
		data = make(map[string]string)
	}
	return Message{Type: kind, Data: data}
}

// Get returns the value stored under key, or "" when absent.
func (m Message) Get(key string) string {
	if m.Data == nil {
		return ""
	}
	return m.Data[key]
}

// Clone copies the data map so a forwarded message can be amended safely.
func (m Message) Clone() Message {
	data := make(map[string]string, len(m.Data)+2)
	for k, v := range m.Data {
		data[k] = v
	}
	return Message{Type: m.Type, Data: data}
}

// Encode renders m as a single line including the trailing newline.
func Encode(m Message) ([]byte, error) {
	if m.Data == nil {
		m.Data = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode parses one line; surrounding whitespace is ignored.
func Decode(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		if errors.Is(err, ErrUnknownKind) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == 0 {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if m.Data == nil {
		m.Data = map[string]string{}
	}
	return m, nil
}
