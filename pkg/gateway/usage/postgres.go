package usage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists the usage ledger in Postgres. Daily totals are
// a projection kept by an atomic upsert; individual spends land in an
// append-only events table for auditability.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects via the pgx stdlib driver and verifies the
// connection. The DSN contains secrets and must not be logged.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies embedded migrations up to the latest version.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity (health endpoint).
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) AddSeconds(ctx context.Context, userID, day string, seconds int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	const insertEvent = `
INSERT INTO usage_events (id, user_id, day, seconds, recorded_at)
VALUES ($1, $2, $3, $4, now())
`
	if _, err := tx.ExecContext(ctx, insertEvent, uuid.NewString(), userID, day, seconds); err != nil {
		return 0, err
	}

	const upsertTotal = `
INSERT INTO usage_daily (user_id, day, seconds_used, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id, day)
DO UPDATE SET seconds_used = usage_daily.seconds_used + EXCLUDED.seconds_used, updated_at = now()
RETURNING seconds_used
`
	var total int
	if err := tx.QueryRowContext(ctx, upsertTotal, userID, day, seconds).Scan(&total); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *PostgresStore) SecondsUsed(ctx context.Context, userID, day string) (int, error) {
	const q = `
SELECT seconds_used FROM usage_daily WHERE user_id = $1 AND day = $2
`
	var total int
	if err := s.db.QueryRowContext(ctx, q, userID, day).Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}

func (s *PostgresStore) SubscriptionID(ctx context.Context, userID string) (string, error) {
	const q = `
SELECT subscription_id FROM user_subscriptions WHERE user_id = $1
`
	var subID string
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&subID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return subID, nil
}
