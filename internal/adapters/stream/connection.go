package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Enty2905/AegisTalk-sub000/internal/core"
)

// Dispatcher receives the lifecycle and lines of every stream connection.
type Dispatcher interface {
	Connect(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc)
	OnLine(sid core.SessionID, line []byte)
	OnOversize(sid core.SessionID)
	OnDisconnect(sid core.SessionID)
}

type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Connection is the core.SignalConnection of one stream client. Writes are
// queued on a bounded channel drained by a single writer goroutine.
type Connection struct {
	line LineConn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *Connection) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.line.Close()
}

// Serve runs one connection until the peer goes away, a read fails or ctx
// is canceled. The dispatcher always sees OnDisconnect before Serve returns.
func Serve(ctx context.Context, d Dispatcher, line LineConn, opts Options) {
	opts = opts.withDefaults()
	sid := core.SessionID(uuid.NewString())
	conn := &Connection{
		line: line,
		send: make(chan core.Frame, opts.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	d.Connect(sid, conn, cancel)
	log.Info().Str("module", "stream").Str("sid", string(sid)).Stringer("remote", line.RemoteAddr()).Msg("connection opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(ctx, sid, conn, opts.WriteTimeout)
	}()

	defer func() {
		cancel()
		d.OnDisconnect(sid)
		conn.Close()
		<-done
		log.Info().Str("module", "stream").Str("sid", string(sid)).Msg("connection closed")
	}()
	readPump(ctx, d, sid, line)
}

func readPump(ctx context.Context, d Dispatcher, sid core.SessionID, line LineConn) {
	for {
		data, err := line.ReadLine()
		if errors.Is(err, ErrLineTooLong) {
			d.OnOversize(sid)
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Str("module", "stream").Str("sid", string(sid)).Msg("readPump read end")
			}
			return
		}
		d.OnLine(sid, data)
	}
}

// writePump owns the socket's write side. Cancellation closes the socket so
// that a reader blocked in ReadLine returns.
func writePump(ctx context.Context, sid core.SessionID, c *Connection, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			_ = c.line.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.line.WriteLine(data, time.Now().Add(timeout)); err != nil {
				log.Warn().Err(err).Str("module", "stream").Str("sid", string(sid)).Msg("writePump write error")
				_ = c.line.Close()
				return
			}
		}
	}
}
