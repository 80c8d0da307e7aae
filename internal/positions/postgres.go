// Package positions adapts the external position store to the engine's
// read-only view. The engine never writes positions.
package positions

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/yieldrun/internal/market"
)

// Config holds database connection configuration.
type Config struct {
	DSN             string        `yaml:"dsn" env:"PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"PG_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PG_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"PG_CONN_MAX_LIFETIME"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"PG_QUERY_TIMEOUT"`
}

// DefaultConfig returns reasonable pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// Store reads positions from Postgres.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New opens a pooled connection and verifies it.
func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("position store: DSN is required")
	}
	def := DefaultConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open position store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping position store: %w", err)
	}

	return &Store{db: db, timeout: cfg.QueryTimeout}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultConfig().QueryTimeout
	}
	return &Store{db: db, timeout: timeout}
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type positionRow struct {
	UserID     string    `db:"user_id"`
	ChainID    int64     `db:"chain_id"`
	Protocol   string    `db:"protocol"`
	Asset      string    `db:"asset"`
	Amount     float64   `db:"amount"`
	ValueUSD   float64   `db:"value_usd"`
	CurrentAPY float64   `db:"current_apy"`
	UpdatedAt  time.Time `db:"updated_at"`
}

const positionsQuery = `
SELECT user_id, chain_id, protocol, asset, amount, value_usd, current_apy, updated_at
FROM positions
WHERE user_id = $1
ORDER BY value_usd DESC`

// Positions implements engine.PositionStore.
func (s *Store) Positions(ctx context.Context, user string) ([]market.Position, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []positionRow
	if err := s.db.SelectContext(queryCtx, &rows, positionsQuery, user); err != nil {
		return nil, fmt.Errorf("select positions for %s: %w", user, err)
	}

	out := make([]market.Position, 0, len(rows))
	for _, row := range rows {
		out = append(out, market.Position{
			User:       row.UserID,
			ChainID:    row.ChainID,
			Protocol:   row.Protocol,
			Asset:      row.Asset,
			Amount:     row.Amount,
			ValueUSD:   row.ValueUSD,
			CurrentAPY: row.CurrentAPY,
			UpdatedAt:  row.UpdatedAt,
		})
	}
	return out, nil
}

// StaticStore serves positions from memory; used by the CLI's demo mode and
// by tests.
type StaticStore map[string][]market.Position

// Positions implements engine.PositionStore.
func (s StaticStore) Positions(_ context.Context, user string) ([]market.Position, error) {
	return s[user], nil
}
