package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/market-courier/internal/config"
	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/bissquit/market-courier/internal/notifications/memory"
	notificationspostgres "github.com/bissquit/market-courier/internal/notifications/postgres"
	"github.com/bissquit/market-courier/internal/pkg/postgres"
	"github.com/bissquit/market-courier/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

// storage groups the repositories behind one backend.
type storage struct {
	db       *pgxpool.Pool
	queue    notifications.QueueRepository
	entities notifications.EntityRepository
	audit    notifications.AuditRepository
}

// openStorage connects to Postgres, or falls back to the in-memory store
// when no database URL is configured.
func openStorage(ctx context.Context, cfg config.DatabaseConfig) (*storage, error) {
	if cfg.URL == "" {
		slog.Warn("database url is not set: using in-memory store, queue contents are lost on restart")
		store := memory.NewStore()
		return &storage{queue: store, entities: store, audit: store}, nil
	}

	if cfg.Migrate {
		if err := postgres.Migrate(cfg.URL, migrations.FS); err != nil {
			return nil, err
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:               cfg.URL,
		MaxConns:          cfg.MaxConns,
		MinConns:          cfg.MinConns,
		ConnMaxLifetime:   cfg.ConnMaxLifetime,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
		ConnectAttempts:   cfg.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	repo := notificationspostgres.NewRepository(db)
	return &storage{db: db, queue: repo, entities: repo, audit: repo}, nil
}

// Ping reports whether the backend is reachable.
func (s *storage) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

// Close releases the database pool.
func (s *storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
