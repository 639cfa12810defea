package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"

	"github.com/xtrntr/parimutuel/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Config holds pool parameters
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate applies the embedded schema files in name order
func (db *DB) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, models.ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// SaveEvent upserts the latest snapshot of an event
func (db *DB) SaveEvent(ctx context.Context, ev models.Event) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO events (id, name, label_a, label_b, odds_a, odds_b, open_time, close_time, settlement_time, status, winner, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, winner = EXCLUDED.winner, updated_at = NOW()
	`, int64(ev.ID), ev.Name, ev.LabelA, ev.LabelB, ev.Odds.A, ev.Odds.B,
		ev.OpenTime, ev.CloseTime, ev.SettlementTime, string(ev.Status), string(ev.Winner), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvent retrieves a stored event snapshot
func (db *DB) GetEvent(ctx context.Context, id models.EventID) (*models.Event, error) {
	ev := &models.Event{}
	var (
		eventID        int64
		status, winner string
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, label_a, label_b, odds_a, odds_b, open_time, close_time, settlement_time, status, winner, created_at
		FROM events WHERE id = $1
	`, int64(id)).Scan(&eventID, &ev.Name, &ev.LabelA, &ev.LabelB, &ev.Odds.A, &ev.Odds.B,
		&ev.OpenTime, &ev.CloseTime, &ev.SettlementTime, &status, &winner, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	ev.ID = models.EventID(eventID)
	ev.Status = models.EventStatus(status)
	ev.Winner = models.Side(winner)
	return ev, nil
}

// RecordActivity appends an activity record to the journal. Replays of the
// same record are ignored.
func (db *DB) RecordActivity(ctx context.Context, a models.Activity) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("failed to parse activity id: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO activity (id, kind, event_id, side, actor, amount, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, id, string(a.Kind), int64(a.EventID), string(a.Side), string(a.Actor), a.Amount, a.At)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// GetEventActivity returns up to limit journal records of an event, oldest first
func (db *DB) GetEventActivity(ctx context.Context, id models.EventID, limit int) ([]models.Activity, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, kind, event_id, side, actor, amount, at
		FROM activity
		WHERE event_id = $1
		ORDER BY seq ASC
		LIMIT $2
	`, int64(id), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get event activity: %w", err)
	}
	defer rows.Close()

	out := []models.Activity{}
	for rows.Next() {
		var (
			a                 models.Activity
			aid               uuid.UUID
			eventID           int64
			kind, side, actor string
		)
		if err := rows.Scan(&aid, &kind, &eventID, &side, &actor, &a.Amount, &a.At); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.ID = aid.String()
		a.Kind = models.ActivityKind(kind)
		a.EventID = models.EventID(eventID)
		a.Side = models.Side(side)
		a.Actor = models.Identity(actor)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity: %w", err)
	}
	return out, nil
}
