// Package postgres implements the record store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examarchive/paperingest/internal/database"
	"github.com/examarchive/paperingest/internal/paper"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store persists paper records in the papers table.
type Store struct {
	pool pool
}

// New connects a Store using the provided config and pings the database so
// bad credentials fail at startup.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool, primarily for tests.
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

const naturalKeyPredicate = `
	lower(exam_board) = lower($1)
	AND lower(level) = lower($2)
	AND subject_code = $3
	AND year = $4
	AND lower(session) = lower($5)
	AND paper_number = $6
	AND paper_type = $7`

// FindByNaturalKey looks up a record by the natural key tuple.
func (s *Store) FindByNaturalKey(ctx context.Context, id paper.Identity) (*database.PaperRecord, error) {
	query := `
		SELECT id, exam_board, level, subject, subject_code, year, session,
		       paper_number, paper_type, storage_url, vector, vector_model,
		       created_at, last_updated
		FROM papers
		WHERE` + naturalKeyPredicate

	var (
		rec         database.PaperRecord
		vectorModel *string
	)
	err := s.pool.QueryRow(ctx, query,
		id.ExamBoard, id.Level, id.SubjectCode, id.Year, id.Session,
		id.PaperNumber, string(id.PaperType),
	).Scan(
		&rec.ID, &rec.ExamBoard, &rec.Level, &rec.Subject, &rec.SubjectCode,
		&rec.Year, &rec.Session, &rec.PaperNumber, &rec.PaperType,
		&rec.StorageURL, &rec.Vector, &vectorModel,
		&rec.CreatedAt, &rec.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find paper by natural key: %w", err)
	}
	if vectorModel != nil {
		rec.VectorModel = *vectorModel
	}
	return &rec, nil
}

// Insert creates a new row and returns its generated id.
func (s *Store) Insert(ctx context.Context, record database.PaperRecord) (string, error) {
	query := `
		INSERT INTO papers (
			exam_board, level, subject, subject_code, year, session,
			paper_number, paper_type, storage_url, vector, vector_model
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`

	var id string
	err := s.pool.QueryRow(ctx, query,
		record.ExamBoard, record.Level, record.Subject, record.SubjectCode,
		record.Year, record.Session, record.PaperNumber, record.PaperType,
		record.StorageURL, record.Vector, nullable(record.VectorModel),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert paper: %w", err)
	}
	return id, nil
}

// UpdateVector backfills the embedding on an existing row.
func (s *Store) UpdateVector(ctx context.Context, recordID string, vector []float32, model string) error {
	query := `
		UPDATE papers
		SET vector = $1, vector_model = $2, last_updated = now()
		WHERE id = $3`
	tag, err := s.pool.Exec(ctx, query, vector, model, recordID)
	if err != nil {
		return fmt.Errorf("update paper vector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update paper vector: no row with id %s", recordID)
	}
	return nil
}

// ListMissingVectors returns records without a vector, oldest first.
func (s *Store) ListMissingVectors(ctx context.Context, limit int) ([]database.PaperRecord, error) {
	query := `
		SELECT id, exam_board, level, subject, subject_code, year, session,
		       paper_number, paper_type, storage_url, vector, vector_model,
		       created_at, last_updated
		FROM papers
		WHERE vector IS NULL
		ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list papers missing vectors: %w", err)
	}
	defer rows.Close()

	var records []database.PaperRecord
	for rows.Next() {
		var (
			rec         database.PaperRecord
			vectorModel *string
		)
		if err := rows.Scan(
			&rec.ID, &rec.ExamBoard, &rec.Level, &rec.Subject, &rec.SubjectCode,
			&rec.Year, &rec.Session, &rec.PaperNumber, &rec.PaperType,
			&rec.StorageURL, &rec.Vector, &vectorModel,
			&rec.CreatedAt, &rec.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan paper row: %w", err)
		}
		if vectorModel != nil {
			rec.VectorModel = *vectorModel
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paper rows: %w", err)
	}
	return records, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
