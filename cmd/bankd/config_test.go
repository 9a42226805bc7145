package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/bankwire/internal/ledger"
	"github.com/danmuck/bankwire/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bankd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Store != storeMemory {
		t.Fatalf("unexpected store: %q", cfg.Store)
	}
	if cfg.BalanceCap != ledger.BalanceCap {
		t.Fatalf("unexpected cap: %d", cfg.BalanceCap)
	}
	if cfg.Service.ListenAddr != ":7878" {
		t.Fatalf("unexpected listen addr: %q", cfg.Service.ListenAddr)
	}
	if cfg.Service.Peer.ErrorThreshold != 5 {
		t.Fatalf("unexpected error threshold: %d", cfg.Service.Peer.ErrorThreshold)
	}
	if cfg.Service.SweepInterval != 60*time.Second {
		t.Fatalf("unexpected sweep interval: %v", cfg.Service.SweepInterval)
	}
}

func TestLoadConfigExampleFile(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Service.ListenAddr != "0.0.0.0:7878" {
		t.Fatalf("unexpected listen addr: %q", cfg.Service.ListenAddr)
	}
	if cfg.Service.Peer.IdleTimeout != 15*time.Minute {
		t.Fatalf("unexpected idle timeout: %v", cfg.Service.Peer.IdleTimeout)
	}
	if cfg.Service.Transport.MaxMessageBytes != 65536 {
		t.Fatalf("unexpected max message bytes: %d", cfg.Service.Transport.MaxMessageBytes)
	}
	if !cfg.MigrateOnStart {
		t.Fatalf("expected migrate_on_start")
	}
}

func TestLoadConfigOverlaysOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
listen_addr = "127.0.0.1:9000"
balance_cap = 500
idle_timeout = "0s"
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Service.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("unexpected listen addr: %q", cfg.Service.ListenAddr)
	}
	if cfg.BalanceCap != 500 {
		t.Fatalf("unexpected cap: %d", cfg.BalanceCap)
	}
	if cfg.Service.Peer.IdleTimeout != 0 {
		t.Fatalf("idle timeout should be disabled, got %v", cfg.Service.Peer.IdleTimeout)
	}
	if cfg.Service.AdminListenAddr != "127.0.0.1:7879" {
		t.Fatalf("admin listen addr should keep its default, got %q", cfg.Service.AdminListenAddr)
	}
	if cfg.Service.Transport.KeepAlivePeriod != 10*time.Second {
		t.Fatalf("keepalive should keep its default, got %v", cfg.Service.Transport.KeepAlivePeriod)
	}
}

func TestLoadConfigEnvironmentWins(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
store = "memory"
admin_token = "from-file"
`)
	t.Setenv("BANKWIRE_STORE", "postgres")
	t.Setenv("BANKWIRE_DB_DSN", "postgres://u:p@db/bank")
	t.Setenv("BANKWIRE_SWEEP_INTERVAL", "5s")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Store != storePostgres {
		t.Fatalf("unexpected store: %q", cfg.Store)
	}
	if cfg.DBDSN != "postgres://u:p@db/bank" {
		t.Fatalf("unexpected dsn: %q", cfg.DBDSN)
	}
	if cfg.Service.SweepInterval != 5*time.Second {
		t.Fatalf("unexpected sweep interval: %v", cfg.Service.SweepInterval)
	}
	if cfg.Service.AdminToken != "from-file" {
		t.Fatalf("unexpected admin token: %q", cfg.Service.AdminToken)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		body string
		want error
	}{
		{"empty listen", `listen_addr = ""`, ErrListenAddrRequired},
		{"unknown store", `store = "redis"`, ErrUnknownStore},
		{"postgres without dsn", `store = "postgres"`, ErrDSNRequired},
		{"cap too large", `balance_cap = 4294967295`, ErrBalanceCap},
		{"cap zero", `balance_cap = 0`, ErrBalanceCap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	testlog.Start(t)
	_, err := loadConfig(writeConfig(t, `sweep_interval = "soon"`))
	if err == nil {
		t.Fatalf("expected parse error")
	}
}
