package relay

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
)

const (
	// HeaderSize is the fixed media datagram header length.
	HeaderSize = 16

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507
)

// AudioMarker prefixes audio payloads; anything else is treated as video.
var AudioMarker = []byte("AUDIO:")

var ErrShortPacket = errors.New("relay: packet shorter than header")

type PacketKind int

const (
	KindVideo PacketKind = iota
	KindAudio
)

func (k PacketKind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "video"
}

// Header is the big-endian prefix of every media datagram.
type Header struct {
	Session   domain.CallID
	Sender    domain.UserID
	Sequence  int32
	Timestamp int32
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortPacket
	}
	return Header{
		Session:   domain.CallID(int32(binary.BigEndian.Uint32(b[0:4]))),
		Sender:    domain.UserID(int32(binary.BigEndian.Uint32(b[4:8]))),
		Sequence:  int32(binary.BigEndian.Uint32(b[8:12])),
		Timestamp: int32(binary.BigEndian.Uint32(b[12:16])),
	}, nil
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.Session))
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.Sender))
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.Sequence))
	return binary.BigEndian.AppendUint32(dst, uint32(h.Timestamp))
}

// NewPacket builds a datagram from a header and payload.
func NewPacket(h Header, payload []byte) []byte {
	b := make([]byte, 0, HeaderSize+len(payload))
	return append(h.AppendTo(b), payload...)
}

// Classify looks at the payload (the bytes after the header).
func Classify(payload []byte) PacketKind {
	if bytes.HasPrefix(payload, AudioMarker) {
		return KindAudio
	}
	return KindVideo
}
