package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// ErrLineTooLong is returned for a line over the read limit. It is not fatal:
// the line has been skipped and the next ReadLine continues after it.
var ErrLineTooLong = errors.New("stream: line exceeds read limit")

// LineConn carries one message per read and per write, whatever the framing
// underneath: newline-delimited over TCP, one text frame over WebSocket.
type LineConn interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte, deadline time.Time) error
	Close() error
	RemoteAddr() net.Addr
}

type tcpConn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewTCPConn frames c by newlines. A line longer than readLimit is skipped
// up to its newline and reported as ErrLineTooLong; the stream stays usable.
func NewTCPConn(c net.Conn, readLimit int) LineConn {
	return &tcpConn{conn: c, r: bufio.NewReaderSize(c, readLimit+1)}
}

func (t *tcpConn) ReadLine() ([]byte, error) {
	for {
		raw, err := t.r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if err := t.skipLine(); err != nil {
				return nil, err
			}
			return nil, ErrLineTooLong
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, net.ErrClosed
			}
			return nil, err
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		// ReadSlice's result is only valid until the next read.
		return append([]byte(nil), line...), nil
	}
}

func (t *tcpConn) skipLine() error {
	for {
		_, err := t.r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func (t *tcpConn) WriteLine(line []byte, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := t.conn.Write(line)
	return err
}

func (t *tcpConn) Close() error         { return t.conn.Close() }
func (t *tcpConn) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

type wsConn struct {
	conn *websocket.Conn
}

// NewWSConn adapts an upgraded WebSocket. Binary frames are ignored. A frame
// over readLimit makes gorilla close the socket, so that error ends the
// connection.
func NewWSConn(c *websocket.Conn, readLimit int) LineConn {
	c.SetReadLimit(int64(readLimit))
	return &wsConn{conn: c}
}

func (w *wsConn) ReadLine() ([]byte, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		if data = bytes.TrimSpace(data); len(data) > 0 {
			return data, nil
		}
	}
}

func (w *wsConn) WriteLine(line []byte, deadline time.Time) error {
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(line, "\n"))
}

func (w *wsConn) Close() error         { return w.conn.Close() }
func (w *wsConn) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }
