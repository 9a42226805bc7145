package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/bankwire/internal/logging"
	"github.com/danmuck/bankwire/internal/storage/postgres"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.ConfigureRuntime()

	var dsn string
	flag.StringVar(&dsn, "db-dsn", os.Getenv("BANKWIRE_DB_DSN"), "postgres connection string")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrator [-db-dsn DSN] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if strings.TrimSpace(dsn) == "" {
		fmt.Fprintln(os.Stderr, "migrator: -db-dsn or BANKWIRE_DB_DSN is required")
		os.Exit(2)
	}
	action := "up"
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}

	if err := run(action, dsn); err != nil {
		fmt.Fprintf(os.Stderr, "migrator: %v\n", err)
		os.Exit(1)
	}
}

func run(action, dsn string) error {
	switch action {
	case "up":
		return postgres.Migrate(dsn)
	case "down":
		if err := postgres.MigrateDown(dsn); err != nil {
			return err
		}
		log.Info().Msg("migrations reverted")
		return nil
	case "version":
		v, dirty, err := postgres.Version(dsn)
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%t\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}
