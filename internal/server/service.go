package server

import (
	"context"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/bankwire/internal/admin"
	"github.com/danmuck/bankwire/internal/peer"
	"github.com/danmuck/bankwire/internal/session"
	"github.com/danmuck/bankwire/internal/transport"
	quictransport "github.com/danmuck/bankwire/internal/transport/quic"
	"github.com/rs/zerolog/log"
)

// ServiceConfig configures the daemon: session listener, admin surface and
// actor policy.
type ServiceConfig struct {
	ListenAddr       string
	AdminListenAddr  string
	AdminToken       string
	AdminCORSOrigins []string
	TLSCertFile      string
	TLSKeyFile       string
	SweepInterval    time.Duration
	Peer             peer.Config
	Transport        quictransport.Config
	Version          string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      ":7878",
		AdminListenAddr: "127.0.0.1:7879",
		SweepInterval:   DefaultSweepInterval,
		Peer:            peer.DefaultConfig(),
		Transport:       quictransport.DefaultConfig(),
		Version:         "dev",
	}
}

type Service struct {
	cfg    ServiceConfig
	server *Server
}

func NewService(cfg ServiceConfig, l session.Ledger) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	return &Service{
		cfg: cfg,
		server: New(l,
			WithPeerConfig(cfg.Peer),
			WithSweepInterval(cfg.SweepInterval),
		),
	}
}

func (s *Service) Server() *Server { return s.server }

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve opens the QUIC listener and the admin surface and runs both until
// ctx ends.
func (s *Service) Serve(ctx context.Context) error {
	tlsConf, err := transport.ServerTLSConfig(s.cfg.TLSCertFile, s.cfg.TLSKeyFile, tlsHosts(s.cfg.ListenAddr)...)
	if err != nil {
		return err
	}
	if strings.TrimSpace(s.cfg.TLSCertFile) == "" {
		log.Warn().Msg("no tls_cert_file configured, using an ephemeral self-signed certificate")
	}
	ln, err := quictransport.Listen(s.cfg.ListenAddr, tlsConf, s.cfg.Transport)
	if err != nil {
		return err
	}
	log.Warn().Str("addr", ln.Addr().String()).Msg("server.Service.Serve listening")
	return s.serveOn(ctx, ln)
}

func (s *Service) serveOn(ctx context.Context, ln transport.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		srv := admin.New(admin.Config{
			Token:       s.cfg.AdminToken,
			CORSOrigins: s.cfg.AdminCORSOrigins,
			Version:     s.cfg.Version,
		}, s.server.Registry())
		go func() {
			adminErr <- srv.Serve(ctx, addr)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(ctx, ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			log.Error().Err(err).Msg("admin surface failed")
			cancel()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

func tlsHosts(listenAddr string) []string {
	host, _, err := net.SplitHostPort(listenAddr)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		return nil
	}
	return []string{host, "localhost", "127.0.0.1"}
}
