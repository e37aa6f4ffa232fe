package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded migrations in lexicographic order, recording
// each applied file in schema_migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("store: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		sql, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("store: apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m *model.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_messages (id, channel, event, seqnum, symbol, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6::JSON, $7)`,
		m.ID, m.Channel, m.Event, m.Sequence, m.Symbol,
		string(m.Payload), m.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("append message %s: %w", m.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, channel string, limit int) ([]model.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, channel, event, seqnum, symbol, payload::TEXT, received_at
		 FROM (
		     SELECT * FROM raw_messages
		     WHERE $1 = '' OR channel = $1
		     ORDER BY received_at DESC
		     LIMIT $2
		 ) recent
		 ORDER BY received_at`, channel, normLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.RawMessage
	for rows.Next() {
		var m model.RawMessage
		var payload string
		if err := rows.Scan(&m.ID, &m.Channel, &m.Event, &m.Sequence, &m.Symbol,
			&payload, &m.ReceivedAt); err != nil {
			return nil, err
		}
		m.Payload = json.RawMessage(payload)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) SaveValuation(ctx context.Context, v *model.Valuation) error {
	legs, err := json.Marshal(v.Legs)
	if err != nil {
		return fmt.Errorf("encode legs: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO valuations (id, wallet, quote, quote_balance, legs, total, complete, computed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::JSONB, $6::NUMERIC, $7, $8)`,
		v.ID, v.Wallet, v.Quote, v.QuoteBalance.String(),
		string(legs), v.Total.String(), v.Complete, v.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("save valuation %s: %w", v.ID, err)
	}
	return nil
}

func (s *PostgresStore) LatestValuation(ctx context.Context, wallet string) (*model.Valuation, error) {
	var v model.Valuation
	var quoteBalance, total, legs string

	err := s.pool.QueryRow(ctx,
		`SELECT id::TEXT, wallet, quote, quote_balance::TEXT, legs::TEXT,
		        total::TEXT, complete, computed_at
		 FROM valuations WHERE wallet = $1
		 ORDER BY computed_at DESC LIMIT 1`, wallet).
		Scan(&v.ID, &v.Wallet, &v.Quote, &quoteBalance, &legs,
			&total, &v.Complete, &v.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: valuation of wallet %s", ErrNotFound, wallet)
	}
	if err != nil {
		return nil, fmt.Errorf("latest valuation %s: %w", wallet, err)
	}

	v.QuoteBalance, _ = decimal.NewFromString(quoteBalance)
	v.Total, _ = decimal.NewFromString(total)
	if err := json.Unmarshal([]byte(legs), &v.Legs); err != nil {
		return nil, fmt.Errorf("decode legs of %s: %w", v.ID, err)
	}
	return &v, nil
}
