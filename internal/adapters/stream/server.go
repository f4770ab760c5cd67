// Package stream is the reliable-stream transport: a TCP listener speaking
// newline-delimited JSON, plus the per-connection pumps shared with the
// WebSocket bridge.
package stream

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrServerClosed = errors.New("stream: server closed")

type Config struct {
	Addr string
	// Listener, when set, is used instead of listening on Addr.
	Listener  net.Listener
	ReadLimit int
	Options
}

type Server struct {
	cfg  Config
	disp Dispatcher

	mu     sync.Mutex
	ln     net.Listener
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config, d Dispatcher) *Server {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 << 10
	}
	return &Server{cfg: cfg, disp: d}
}

// Listen binds the listener without accepting. Serve calls it if needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.ln != nil {
		return nil
	}
	if s.cfg.Listener != nil {
		s.ln = s.cfg.Listener
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr is nil until Listen succeeds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts until ctx is done or Close is called, then waits for every
// connection to finish and returns ErrServerClosed. A non-retryable accept
// error closes the listener only; Serve then returns that error once ctx is
// done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	ln := s.ln
	s.mu.Unlock()
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	log.Info().Str("module", "stream").Str("addr", ln.Addr().String()).Msg("stream server listening")

	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.wg.Wait()
				return ErrServerClosed
			}
			if retryableAcceptError(err) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if limit := time.Second; tempDelay > limit {
					tempDelay = limit
				}
				log.Warn().Err(err).Str("module", "stream").Dur("retry_in", tempDelay).Msg("accept error")
				time.Sleep(tempDelay)
				continue
			}
			// Stop accepting but keep serving established connections.
			log.Error().Err(err).Str("module", "stream").Msg("stream listener failed, no longer accepting")
			_ = ln.Close()
			<-ctx.Done()
			s.wg.Wait()
			return err
		}
		tempDelay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			Serve(ctx, s.disp, NewTCPConn(c, s.cfg.ReadLimit), s.cfg.Options)
		}()
	}
}

// retryableAcceptError reports accept failures that are retried with backoff
// instead of ending the listener.
func retryableAcceptError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting and tears down every live connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln, cancel := s.ln, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}
