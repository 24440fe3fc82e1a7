package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

const sqliteScheme = "sqlite://"

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()
		return Open(ctx, cfg.DatabaseURL)
	})
}

// Open connects to the store named by databaseURL and applies the schema.
// sqlite://path selects the embedded SQLite store; anything else is handed to pgx.
func Open(ctx context.Context, databaseURL string) (repository.Repository, error) {
	if path, ok := strings.CutPrefix(databaseURL, sqliteScheme); ok {
		if path == "" {
			return nil, call.NewConfigurationError("open database", fmt.Errorf("sqlite database path is empty"))
		}
		r, err := NewSQLiteRepository(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return r, nil
	}

	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewPostgresRepository(p), nil
}
