// Package db owns the Postgres connection pool and the embedded schema migrations.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PoolConfig configures the pgx pool.
type PoolConfig struct {
	URL             string
	ApplicationName string
	Tracer          pgx.QueryTracer
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.Tracer != nil {
		poolConfig.ConnConfig.Tracer = cfg.Tracer
	}
	if cfg.ApplicationName != "" {
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrator applies the embedded migrations to the database at URL.
type Migrator struct {
	URL    string
	Logger *zerolog.Logger
}

func (m Migrator) open() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	target, err := MigrateURL(m.URL)
	if err != nil {
		return nil, err
	}
	mg, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return mg, nil
}

// Up applies all pending migrations. Running it against an up-to-date schema is a no-op.
func (m Migrator) Up() error {
	return m.run("up", func(mg *migrate.Migrate) error { return mg.Up() })
}

// Down rolls back a single migration step.
func (m Migrator) Down() error {
	return m.run("down", func(mg *migrate.Migrate) error { return mg.Steps(-1) })
}

// To migrates up or down to version.
func (m Migrator) To(version uint) error {
	return m.run("to", func(mg *migrate.Migrate) error { return mg.Migrate(version) })
}

// Version reports the applied schema version and whether the last run left it dirty.
func (m Migrator) Version() (uint, bool, error) {
	mg, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(mg)
	v, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (m Migrator) run(op string, fn func(*migrate.Migrate) error) error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer closeMigrate(mg)
	if err := fn(mg); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger().Info().Str("op", op).Msg("schema already up to date")
			return nil
		}
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	version, dirty, _ := mg.Version()
	m.logger().Info().Str("op", op).Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

func (m Migrator) logger() *zerolog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func closeMigrate(mg *migrate.Migrate) {
	_, _ = mg.Close()
}

// MigrateURL rewrites a postgres connection URL to the pgx5 scheme understood by migrate.
func MigrateURL(databaseURL string) (string, error) {
	u := strings.TrimSpace(databaseURL)
	for _, prefix := range []string{"postgresql://", "postgres://", "pgx5://"} {
		if strings.HasPrefix(u, prefix) {
			return "pgx5://" + strings.TrimPrefix(u, prefix), nil
		}
	}
	return "", fmt.Errorf("unsupported database url scheme: %q", redactScheme(u))
}

func redactScheme(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[:i]
	}
	return ""
}
