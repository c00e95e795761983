// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/mulerift/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit caps ListAnalyses when no positive limit is given.
const DefaultListLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := NewWithDB(db, cfg.Driver)
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// NewWithDB wraps an already open database without running migrations.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{
		db:     db,
		driver: driver,
	}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAnalysis inserts a new analysis record.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, rec *domain.AnalysisRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: analysis id is required", ErrInvalidInput)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	summary, result, err := encodeOutcome(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analyses (
			id, ledger_path, ledger_digest, status, summary, result,
			error_kind, error, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.LedgerPath, nullString(rec.LedgerDigest), rec.Status,
		summary, result,
		nullString(string(rec.ErrorKind)), nullString(rec.Error),
		rec.CreatedAt, nullTime(rec.CompletedAt),
	)
	return err
}

// UpdateAnalysis records the outcome of an analysis.
func (r *SQLRepository) UpdateAnalysis(ctx context.Context, rec *domain.AnalysisRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: analysis id is required", ErrInvalidInput)
	}

	summary, result, err := encodeOutcome(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE analyses
		SET ledger_digest = ?, status = ?, summary = ?, result = ?,
			error_kind = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		nullString(rec.LedgerDigest), rec.Status, summary, result,
		nullString(string(rec.ErrorKind)), nullString(rec.Error),
		nullTime(rec.CompletedAt), rec.ID,
	)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const selectAnalysis = `
	SELECT id, ledger_path, ledger_digest, status, summary, result,
		   error_kind, error, created_at, completed_at
	FROM analyses
`

// GetAnalysis retrieves an analysis record by ID.
func (r *SQLRepository) GetAnalysis(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: analysis id is required", ErrInvalidInput)
	}

	row := r.db.QueryRowContext(ctx, r.rebind(selectAnalysis+" WHERE id = ?"), id)
	rec, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListAnalyses returns the most recent analysis records, newest first.
func (r *SQLRepository) ListAnalyses(ctx context.Context, limit int) ([]*domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(selectAnalysis+" ORDER BY created_at DESC, id LIMIT ?"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(s scanner) (*domain.AnalysisRecord, error) {
	var (
		rec                                domain.AnalysisRecord
		digest, summary, result, kind, msg sql.NullString
		completedAt                        sql.NullTime
	)

	if err := s.Scan(
		&rec.ID, &rec.LedgerPath, &digest, &rec.Status, &summary, &result,
		&kind, &msg, &rec.CreatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	rec.LedgerDigest = digest.String
	rec.ErrorKind = domain.ErrorKind(kind.String)
	rec.Error = msg.String
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	if summary.Valid && summary.String != "" {
		var s domain.Summary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return nil, fmt.Errorf("failed to parse summary of analysis %s: %w", rec.ID, err)
		}
		rec.Summary = &s
	}
	if result.Valid && result.String != "" {
		rec.Result = json.RawMessage(result.String)
	}
	return &rec, nil
}

func encodeOutcome(rec *domain.AnalysisRecord) (summary, result sql.NullString, err error) {
	if rec.Summary != nil {
		b, err := json.Marshal(rec.Summary)
		if err != nil {
			return summary, result, fmt.Errorf("failed to encode summary: %w", err)
		}
		summary = sql.NullString{String: string(b), Valid: true}
	}
	if len(rec.Result) > 0 {
		result = sql.NullString{String: string(rec.Result), Valid: true}
	}
	return summary, result, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
