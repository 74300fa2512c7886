package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/vietddude/relay/internal/core/domain"
)

// Config holds PostgreSQL sink configuration.
type Config struct {
	URL         string `yaml:"url"`
	MaxConns    int    `yaml:"max_conns"`
	MinConns    int    `yaml:"min_conns"`
	Table       string `yaml:"table"`
	ConflictKey string `yaml:"conflict_key"`
}

// Sink writes chunks into a PostgreSQL table as upserts keyed on the
// conflict column, so retried writes converge instead of duplicating.
type Sink struct {
	db  *sqlx.DB
	cfg Config
}

// NewSink opens the connection pool and verifies connectivity.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Table == "" {
		cfg.Table = "records"
	}
	if cfg.ConflictKey == "" {
		cfg.ConflictKey = "id"
	}

	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set pool configuration
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Sink{db: db, cfg: cfg}, nil
}

// Close closes the connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Health checks if the database is reachable.
func (s *Sink) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema runs pending migrations. It is safe to call on every
// startup.
func (s *Sink) EnsureSchema(ctx context.Context, target string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Write upserts every record of the chunk in one transaction and
// returns the number of rows written. Records without the conflict
// key are rejected as a validation failure, since the upsert has
// nothing to key on.
func (s *Sink) Write(ctx context.Context, chunk *domain.Chunk) (int, error) {
	if chunk.Len() == 0 {
		return 0, nil
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, chunk_seq, payload, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (%s) DO UPDATE
		SET chunk_seq = EXCLUDED.chunk_seq,
		    payload = EXCLUDED.payload,
		    updated_at = NOW()`,
		pq.QuoteIdentifier(s.cfg.Table),
		pq.QuoteIdentifier(s.cfg.ConflictKey))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prepared, err := tx.PreparexContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer prepared.Close()

	written := 0
	for _, rec := range chunk.Records {
		id, err := recordID(rec, s.cfg.ConflictKey)
		if err != nil {
			return 0, err
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return 0, domain.Validation(fmt.Errorf("failed to encode record %s: %w", id, err))
		}
		if _, err := prepared.ExecContext(ctx, id, chunk.Sequence, payload); err != nil {
			return 0, fmt.Errorf("failed to upsert record %s: %w", id, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunk %d: %w", chunk.Sequence, err)
	}
	return written, nil
}

func recordID(rec domain.Record, key string) (string, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return "", domain.Validation(errors.New("record has no " + key + " field"))
	}
	return fmt.Sprint(v), nil
}
