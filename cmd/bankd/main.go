package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/bankwire/internal/ledger"
	"github.com/danmuck/bankwire/internal/logging"
	"github.com/danmuck/bankwire/internal/observability"
	"github.com/danmuck/bankwire/internal/server"
	"github.com/danmuck/bankwire/internal/storage/memory"
	"github.com/danmuck/bankwire/internal/storage/postgres"
	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	logging.ConfigureRuntime()

	path := flag.String("config", os.Getenv("BANKWIRE_CONFIG"), "path to bankd TOML config")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "bankd: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	cfg.Service.Version = version

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	l := ledger.New(store,
		ledger.WithBalanceCap(cfg.BalanceCap),
		ledger.WithLogger(observability.Component("bankd", "ledger")),
	)
	defer func() {
		if err := l.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	log.Info().
		Str("store", cfg.Store).
		Uint32("balance_cap", cfg.BalanceCap).
		Str("version", version).
		Msg("bankd starting")
	return server.NewService(cfg.Service, l).Run()
}

func openStore(cfg daemonConfig) (ledger.Store, error) {
	switch cfg.Store {
	case storePostgres:
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.DBDSN); err != nil {
				return nil, err
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgres.New(ctx, cfg.DBDSN)
	default:
		return memory.New(), nil
	}
}
