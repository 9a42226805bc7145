// Package server accepts transport sessions, runs one peer actor per
// session and keeps the address-keyed registry of live actors.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/bankwire/internal/observability"
	"github.com/danmuck/bankwire/internal/peer"
	"github.com/danmuck/bankwire/internal/protocol/message"
	"github.com/danmuck/bankwire/internal/session"
	"github.com/danmuck/bankwire/internal/transport"
	"github.com/rs/zerolog"
)

const (
	DefaultSweepInterval = 60 * time.Second
	ShutdownNotice       = "server shutting down"

	shutdownGrace = 5 * time.Second
)

// Server owns the registry and the actors it spawns.
type Server struct {
	ledger        session.Ledger
	peerCfg       peer.Config
	sweepInterval time.Duration
	registry      *Registry
	logger        zerolog.Logger

	wg sync.WaitGroup
}

type Option func(*Server)

func WithPeerConfig(cfg peer.Config) Option {
	return func(s *Server) { s.peerCfg = cfg }
}

func WithSweepInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func New(l session.Ledger, opts ...Option) *Server {
	s := &Server{
		ledger:        l,
		peerCfg:       peer.DefaultConfig(),
		sweepInterval: DefaultSweepInterval,
		registry:      NewRegistry(),
		logger:        observability.Component("bankd", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Registry() *Registry { return s.registry }

// Serve runs the accept loop on ln until ctx ends, then stops every actor
// and waits for them to drain.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	defer ln.Close()

	actorCtx, cancelActors := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelActors()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go s.sweepLoop(ctx)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server.Serve accepting")
	var serveErr error
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, transport.ErrClosed) {
				serveErr = err
			}
			break
		}
		s.accept(actorCtx, conn)
	}

	s.shutdown(cancelActors)
	return serveErr
}

func (s *Server) accept(ctx context.Context, conn transport.Conn) {
	machine := session.NewMachine(s.ledger, s.logger)
	h := peer.HandlerFunc(func(ctx context.Context, out peer.Sender, packet []byte) error {
		return machine.HandlePacket(ctx, out, packet)
	})
	p := peer.New(conn, h, s.peerCfg, s.logger)
	if prev := s.registry.Insert(p, machine); prev != nil {
		s.logger.Info().
			Str("remote", conn.RemoteAddr().String()).
			Str("previous_session", prev.ID().String()).
			Msg("replaced session for address")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = p.Run(ctx)
	}()
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.registry.Sweep(); n > 0 {
				s.logger.Debug().Int("removed", n).Int("remaining", s.registry.Len()).Msg("registry sweep")
			}
		}
	}
}

func (s *Server) shutdown(cancelActors context.CancelFunc) {
	notice, err := message.EncodeResponse(message.Fatal{Reason: ShutdownNotice})
	if err != nil {
		s.logger.Warn().Err(err).Msg("encode shutdown notice")
	}
	s.registry.StopAll(notice)

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	timer := time.NewTimer(shutdownGrace)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		s.logger.Warn().Msg("actors still running after grace period")
		cancelActors()
		<-drained
	}
	s.registry.Sweep()
	s.logger.Info().Msg("server stopped")
}
