// Package relay forwards media datagrams between the participants of a call.
//
// A single read loop owns the socket. Every datagram carries the call id and
// sender id in its header; the relay learns the sender's real address from
// the first datagram it sends and re-emits the packet unmodified to every
// other participant of the call.
package relay

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
)

// DefaultDropLogInterval bounds how often dropped-packet logs are emitted.
const DefaultDropLogInterval = 5 * time.Second

type Config struct {
	// Conn is an optional pre-opened socket. When nil ListenAddr is bound.
	Conn       net.PacketConn
	ListenAddr string

	DropLogInterval time.Duration
}

// Stats is a point-in-time copy of the relay counters.
type Stats struct {
	Received       uint64 `json:"received"`
	Forwarded      uint64 `json:"forwarded"`
	Audio          uint64 `json:"audio"`
	Video          uint64 `json:"video"`
	Learned        uint64 `json:"learned"`
	DroppedShort   uint64 `json:"dropped_short"`
	DroppedSession uint64 `json:"dropped_unknown_session"`
	DroppedSender  uint64 `json:"dropped_unknown_sender"`
	SendErrors     uint64 `json:"send_errors"`
	Sessions       int    `json:"sessions"`
}

type counters struct {
	received, forwarded, audio, video, learned atomic.Uint64
	short, unknownSession, unknownSender       atomic.Uint64
	sendErrors                                 atomic.Uint64
}

type Relay struct {
	conn    net.PacketConn
	table   *EndpointTable
	logger  zerolog.Logger
	dropLog *rate.Limiter
	stats   counters

	closeCh chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

func New(cfg Config) (*Relay, error) {
	conn := cfg.Conn
	if conn == nil {
		addr := cfg.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		c, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		conn = c
	}
	interval := cfg.DropLogInterval
	if interval <= 0 {
		interval = DefaultDropLogInterval
	}
	return &Relay{
		conn:    conn,
		table:   NewEndpointTable(),
		logger:  log.With().Str("module", "relay").Logger(),
		dropLog: rate.NewLimiter(rate.Every(interval), 1),
		closeCh: make(chan struct{}),
	}, nil
}

func (r *Relay) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Table exposes the endpoint table for inspection.
func (r *Relay) Table() *EndpointTable { return r.table }

// Start launches the read loop.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.logger.Info().Str("addr", r.conn.LocalAddr().String()).Msg("relay listening")
	r.wg.Add(1)
	go r.readLoop()
	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	r.mu.Unlock()

	close(r.closeCh)
	_ = r.conn.SetReadDeadline(time.Now())
	err := r.conn.Close()
	r.wg.Wait()
	r.logger.Info().Msg("relay stopped")
	return err
}

// OpenSession prepares endpoint entries for the participants of a call.
func (r *Relay) OpenSession(id domain.CallID, participants ...domain.UserID) {
	r.table.Open(id, participants...)
}

// RegisterEndpoint records the client-claimed address of a participant.
func (r *Relay) RegisterEndpoint(id domain.CallID, user domain.UserID, addr *net.UDPAddr) bool {
	ok := r.table.Register(id, user, addr)
	if ok {
		r.logger.Info().
			Int32("session", int32(id)).
			Int32("user", int32(user)).
			Str("addr", addr.String()).
			Msg("endpoint registered")
	}
	return ok
}

// CloseSession forgets every endpoint of a call.
func (r *Relay) CloseSession(id domain.CallID) {
	r.table.Close(id)
	r.logger.Debug().Int32("session", int32(id)).Msg("session endpoints cleared")
}

func (r *Relay) Stats() Stats {
	return Stats{
		Received:       r.stats.received.Load(),
		Forwarded:      r.stats.forwarded.Load(),
		Audio:          r.stats.audio.Load(),
		Video:          r.stats.video.Load(),
		Learned:        r.stats.learned.Load(),
		DroppedShort:   r.stats.short.Load(),
		DroppedSession: r.stats.unknownSession.Load(),
		DroppedSender:  r.stats.unknownSender.Load(),
		SendErrors:     r.stats.sendErrors.Load(),
		Sessions:       r.table.Len(),
	}
}

func (r *Relay) readLoop() {
	defer r.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-r.closeCh:
			return
		default:
		}

		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.closeCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				r.logger.Warn().Err(err).Msg("socket closed without Stop, read loop exiting")
				return
			}
			r.logger.Warn().Err(err).Msg("read error")
			continue
		}
		r.handle(buf[:n], from)
	}
}

// handle processes one datagram. Nothing in here is fatal: every failure
// drops the packet (or one target) and the loop moves on.
func (r *Relay) handle(pkt []byte, from net.Addr) {
	r.stats.received.Add(1)

	h, err := ParseHeader(pkt)
	if err != nil {
		r.stats.short.Add(1)
		return
	}

	src, ok := udpAddrOf(from)
	if !ok {
		return
	}

	learned, known := r.table.Observe(h.Session, h.Sender, src)
	if !known {
		if !r.table.Has(h.Session) {
			r.stats.unknownSession.Add(1)
			r.logDrop(h, src, "unknown session")
		} else {
			r.stats.unknownSender.Add(1)
			r.logDrop(h, src, "sender not in session")
		}
		return
	}
	if learned {
		r.stats.learned.Add(1)
		r.logger.Info().
			Int32("session", int32(h.Session)).
			Int32("user", int32(h.Sender)).
			Str("addr", src.String()).
			Msg("learned observed address")
	}

	if Classify(pkt[HeaderSize:]) == KindAudio {
		r.stats.audio.Add(1)
	} else {
		r.stats.video.Add(1)
	}

	for _, t := range r.table.Targets(h.Session, h.Sender) {
		if _, err := r.conn.WriteTo(pkt, t.Addr); err != nil {
			r.stats.sendErrors.Add(1)
			r.logger.Debug().
				Err(err).
				Int32("session", int32(h.Session)).
				Int32("target", int32(t.User)).
				Msg("relay write failed")
			continue
		}
		r.stats.forwarded.Add(1)
	}
}

func (r *Relay) logDrop(h Header, src *net.UDPAddr, reason string) {
	if !r.dropLog.Allow() {
		return
	}
	r.logger.Debug().
		Int32("session", int32(h.Session)).
		Int32("sender", int32(h.Sender)).
		Str("from", src.String()).
		Uint64("dropped_unknown_session", r.stats.unknownSession.Load()).
		Msg(reason)
}

func udpAddrOf(a net.Addr) (*net.UDPAddr, bool) {
	if u, ok := a.(*net.UDPAddr); ok {
		return u, true
	}
	if a == nil {
		return nil, false
	}
	u, err := net.ResolveUDPAddr("udp", a.String())
	if err != nil {
		return nil, false
	}
	return u, true
}
