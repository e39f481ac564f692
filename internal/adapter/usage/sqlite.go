package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"codex-stream/internal/domain"
)

// SQLiteStore implements domain.UsageStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the usage ledger at dbPath and runs the
// schema migration. The parent directory is created when missing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create usage dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// WAL lets the CLI read totals while a stream is being recorded.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_id               TEXT NOT NULL,
			provider                TEXT NOT NULL DEFAULT '',
			model                   TEXT NOT NULL DEFAULT '',
			response_id             TEXT NOT NULL DEFAULT '',
			input_tokens            INTEGER NOT NULL DEFAULT 0,
			cached_input_tokens     INTEGER NOT NULL DEFAULT 0,
			output_tokens           INTEGER NOT NULL DEFAULT 0,
			reasoning_output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens            INTEGER NOT NULL DEFAULT 0,
			primary_used_percent    REAL,
			secondary_used_percent  REAL,
			error_code              TEXT NOT NULL DEFAULT '',
			error                   TEXT NOT NULL DEFAULT '',
			created_at              TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage(provider);
	`)
	return err
}

// Record implements domain.UsageStore.
func (s *SQLiteStore) Record(ctx context.Context, rec domain.UsageRecord) error {
	if rec.StreamID == "" {
		return domain.NewDomainError("SQLiteStore.Record", domain.ErrInvalidInput, "stream id is empty")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage (stream_id, provider, model, response_id,
			input_tokens, cached_input_tokens, output_tokens, reasoning_output_tokens, total_tokens,
			primary_used_percent, secondary_used_percent, error_code, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StreamID, rec.Provider, rec.Model, rec.ResponseID,
		rec.Usage.InputTokens, rec.Usage.CachedInputTokens, rec.Usage.OutputTokens,
		rec.Usage.ReasoningOutputTokens, rec.Usage.TotalTokens,
		nullFloat(rec.PrimaryUsedPercent), nullFloat(rec.SecondaryUsedPercent),
		string(rec.ErrorCode), rec.Error,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// List implements domain.UsageStore. It returns the newest records first.
// A non-positive limit returns every record.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]domain.UsageRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT stream_id, provider, model, response_id,
			input_tokens, cached_input_tokens, output_tokens, reasoning_output_tokens, total_tokens,
			primary_used_percent, secondary_used_percent, error_code, error, created_at
		 FROM usage ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Totals implements domain.UsageStore. An empty provider aggregates all rows.
func (s *SQLiteStore) Totals(ctx context.Context, provider string) (domain.UsageTotals, error) {
	var t domain.UsageTotals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN error_code != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(cached_input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(reasoning_output_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		 FROM usage WHERE ? = '' OR provider = ?`, provider, provider,
	).Scan(&t.Streams, &t.Failed, &t.InputTokens, &t.CachedInputTokens,
		&t.OutputTokens, &t.ReasoningOutputTokens, &t.TotalTokens)
	if err != nil {
		return domain.UsageTotals{}, fmt.Errorf("usage totals: %w", err)
	}
	return t, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecord(rows *sql.Rows) (domain.UsageRecord, error) {
	var rec domain.UsageRecord
	var primary, secondary sql.NullFloat64
	var code, createdStr string
	if err := rows.Scan(&rec.StreamID, &rec.Provider, &rec.Model, &rec.ResponseID,
		&rec.Usage.InputTokens, &rec.Usage.CachedInputTokens, &rec.Usage.OutputTokens,
		&rec.Usage.ReasoningOutputTokens, &rec.Usage.TotalTokens,
		&primary, &secondary, &code, &rec.Error, &createdStr); err != nil {
		return domain.UsageRecord{}, fmt.Errorf("scan usage: %w", err)
	}
	rec.ErrorCode = domain.ErrorCode(code)
	if primary.Valid {
		rec.PrimaryUsedPercent = &primary.Float64
	}
	if secondary.Valid {
		rec.SecondaryUsedPercent = &secondary.Float64
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

var _ domain.UsageStore = (*SQLiteStore)(nil)
