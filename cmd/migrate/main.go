package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/noah-isme/backend-bakery/internal/config"
	"github.com/noah-isme/backend-bakery/internal/db"
	"github.com/noah-isme/backend-bakery/internal/obs"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|version|to")
	target := flag.String("version", "", "target version for -cmd=to")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel).With().Str("component", "migrate").Str("cmd", *cmd).Logger()
	m := db.Migrator{URL: cfg.DatabaseURL, Logger: &logger}

	switch *cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "to":
		v, parseErr := strconv.ParseUint(*target, 10, 32)
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "invalid -version %q: %v\n", *target, parseErr)
			os.Exit(1)
		}
		err = m.To(uint(v))
	case "version":
		v, dirty, verErr := m.Version()
		if verErr != nil {
			err = verErr
			break
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
}
