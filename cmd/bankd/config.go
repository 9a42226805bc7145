package main

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/bankwire/internal/ledger"
	"github.com/danmuck/bankwire/internal/server"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
)

var (
	ErrListenAddrRequired = errors.New("bankd: listen_addr is required")
	ErrUnknownStore       = errors.New("bankd: unknown store")
	ErrDSNRequired        = errors.New("bankd: db_dsn is required for the postgres store")
	ErrBalanceCap         = errors.New("bankd: balance_cap out of range")
)

type daemonConfig struct {
	Service        server.ServiceConfig
	Store          string
	DBDSN          string
	MigrateOnStart bool
	BalanceCap     uint32
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Service:    server.DefaultServiceConfig(),
		Store:      storeMemory,
		BalanceCap: ledger.BalanceCap,
	}
}

type fileConfig struct {
	ListenAddr          string   `toml:"listen_addr"`
	AdminListenAddr     string   `toml:"admin_listen_addr"`
	AdminToken          string   `toml:"admin_token"`
	AdminCORSOrigins    []string `toml:"admin_cors_origins"`
	Store               string   `toml:"store"`
	DBDSN               string   `toml:"db_dsn"`
	MigrateOnStart      bool     `toml:"migrate_on_start"`
	BalanceCap          int64    `toml:"balance_cap"`
	ErrorThreshold      int      `toml:"error_threshold"`
	SweepInterval       string   `toml:"sweep_interval"`
	IdleTimeout         string   `toml:"idle_timeout"`
	MaxMessageBytes     int      `toml:"max_message_bytes"`
	TLSCertFile         string   `toml:"tls_cert_file"`
	TLSKeyFile          string   `toml:"tls_key_file"`
	QUICMaxIdleTimeout  string   `toml:"quic_max_idle_timeout"`
	QUICKeepAlivePeriod string   `toml:"quic_keepalive_period"`
}

// envOverlay holds the BANKWIRE_* variables. Fields start from the file
// values, so unset variables leave them untouched.
type envOverlay struct {
	ListenAddr          string        `env:"BANKWIRE_LISTEN_ADDR" env-description:"QUIC listen address"`
	AdminListenAddr     string        `env:"BANKWIRE_ADMIN_LISTEN_ADDR" env-description:"admin HTTP listen address, empty disables"`
	AdminToken          string        `env:"BANKWIRE_ADMIN_TOKEN" env-description:"bearer token for /metrics and /sessions"`
	Store               string        `env:"BANKWIRE_STORE" env-description:"memory or postgres"`
	DBDSN               string        `env:"BANKWIRE_DB_DSN" env-description:"postgres connection string"`
	MigrateOnStart      bool          `env:"BANKWIRE_MIGRATE_ON_START"`
	BalanceCap          int64         `env:"BANKWIRE_BALANCE_CAP"`
	ErrorThreshold      int           `env:"BANKWIRE_ERROR_THRESHOLD"`
	SweepInterval       time.Duration `env:"BANKWIRE_SWEEP_INTERVAL"`
	IdleTimeout         time.Duration `env:"BANKWIRE_IDLE_TIMEOUT"`
	MaxMessageBytes     int           `env:"BANKWIRE_MAX_MESSAGE_BYTES"`
	TLSCertFile         string        `env:"BANKWIRE_TLS_CERT_FILE"`
	TLSKeyFile          string        `env:"BANKWIRE_TLS_KEY_FILE"`
	QUICMaxIdleTimeout  time.Duration `env:"BANKWIRE_QUIC_MAX_IDLE_TIMEOUT"`
	QUICKeepAlivePeriod time.Duration `env:"BANKWIRE_QUIC_KEEPALIVE_PERIOD"`
}

// loadConfig starts from defaults, overlays the keys present in the TOML
// file at path (if any), then the environment, and validates the result.
func loadConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return daemonConfig{}, err
		}
	}
	if err := overlayEnv(&cfg); err != nil {
		return daemonConfig{}, err
	}
	if err := cfg.validate(); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *daemonConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load bankd config: %w", err)
	}

	svc := &cfg.Service
	if meta.IsDefined("listen_addr") {
		svc.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_listen_addr") {
		svc.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		svc.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("admin_cors_origins") {
		svc.AdminCORSOrigins = raw.AdminCORSOrigins
	}
	if meta.IsDefined("store") {
		cfg.Store = strings.ToLower(strings.TrimSpace(raw.Store))
	}
	if meta.IsDefined("db_dsn") {
		cfg.DBDSN = strings.TrimSpace(raw.DBDSN)
	}
	if meta.IsDefined("migrate_on_start") {
		cfg.MigrateOnStart = raw.MigrateOnStart
	}
	if meta.IsDefined("balance_cap") {
		c, err := balanceCap(raw.BalanceCap)
		if err != nil {
			return err
		}
		cfg.BalanceCap = c
	}
	if meta.IsDefined("error_threshold") {
		svc.Peer.ErrorThreshold = raw.ErrorThreshold
	}
	if meta.IsDefined("max_message_bytes") {
		svc.Transport.MaxMessageBytes = raw.MaxMessageBytes
	}
	if meta.IsDefined("tls_cert_file") {
		svc.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		svc.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"sweep_interval", raw.SweepInterval, &svc.SweepInterval},
		{"idle_timeout", raw.IdleTimeout, &svc.Peer.IdleTimeout},
		{"quic_max_idle_timeout", raw.QUICMaxIdleTimeout, &svc.Transport.MaxIdleTimeout},
		{"quic_keepalive_period", raw.QUICKeepAlivePeriod, &svc.Transport.KeepAlivePeriod},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func overlayEnv(cfg *daemonConfig) error {
	svc := &cfg.Service
	env := envOverlay{
		ListenAddr:          svc.ListenAddr,
		AdminListenAddr:     svc.AdminListenAddr,
		AdminToken:          svc.AdminToken,
		Store:               cfg.Store,
		DBDSN:               cfg.DBDSN,
		MigrateOnStart:      cfg.MigrateOnStart,
		BalanceCap:          int64(cfg.BalanceCap),
		ErrorThreshold:      svc.Peer.ErrorThreshold,
		SweepInterval:       svc.SweepInterval,
		IdleTimeout:         svc.Peer.IdleTimeout,
		MaxMessageBytes:     svc.Transport.MaxMessageBytes,
		TLSCertFile:         svc.TLSCertFile,
		TLSKeyFile:          svc.TLSKeyFile,
		QUICMaxIdleTimeout:  svc.Transport.MaxIdleTimeout,
		QUICKeepAlivePeriod: svc.Transport.KeepAlivePeriod,
	}
	if err := cleanenv.ReadEnv(&env); err != nil {
		return fmt.Errorf("read bankd environment: %w", err)
	}
	c, err := balanceCap(env.BalanceCap)
	if err != nil {
		return err
	}

	svc.ListenAddr = strings.TrimSpace(env.ListenAddr)
	svc.AdminListenAddr = strings.TrimSpace(env.AdminListenAddr)
	svc.AdminToken = strings.TrimSpace(env.AdminToken)
	cfg.Store = strings.ToLower(strings.TrimSpace(env.Store))
	cfg.DBDSN = strings.TrimSpace(env.DBDSN)
	cfg.MigrateOnStart = env.MigrateOnStart
	cfg.BalanceCap = c
	svc.Peer.ErrorThreshold = env.ErrorThreshold
	svc.SweepInterval = env.SweepInterval
	svc.Peer.IdleTimeout = env.IdleTimeout
	svc.Transport.MaxMessageBytes = env.MaxMessageBytes
	svc.TLSCertFile = strings.TrimSpace(env.TLSCertFile)
	svc.TLSKeyFile = strings.TrimSpace(env.TLSKeyFile)
	svc.Transport.MaxIdleTimeout = env.QUICMaxIdleTimeout
	svc.Transport.KeepAlivePeriod = env.QUICKeepAlivePeriod
	return nil
}

func balanceCap(v int64) (uint32, error) {
	if v <= 0 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d", ErrBalanceCap, v)
	}
	return uint32(v), nil
}

func (c daemonConfig) validate() error {
	if c.Service.ListenAddr == "" {
		return ErrListenAddrRequired
	}
	switch c.Store {
	case storeMemory:
	case storePostgres:
		if c.DBDSN == "" {
			return ErrDSNRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.Store)
	}
	if c.Service.Peer.ErrorThreshold < 0 {
		return fmt.Errorf("bankd: error_threshold must not be negative: %d", c.Service.Peer.ErrorThreshold)
	}
	if c.Service.Peer.IdleTimeout < 0 {
		return fmt.Errorf("bankd: idle_timeout must not be negative: %v", c.Service.Peer.IdleTimeout)
	}
	if c.Service.Transport.MaxMessageBytes <= 0 {
		return fmt.Errorf("bankd: max_message_bytes must be positive: %d", c.Service.Transport.MaxMessageBytes)
	}
	return nil
}
