package history

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRecorder keeps history in PostgreSQL.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder connects to dsn and creates the history table if
// needed.
func NewPostgresRecorder(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	slog.Info("connected to PostgreSQL history", "component", "history")
	return &PostgresRecorder{pool: pool}, nil
}

// Record inserts one attempt.
func (p *PostgresRecorder) Record(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	query := `
		INSERT INTO _meta_publish_history (
			topic, dataset, batch_id, request_id, job_id, status, stage, error,
			row_count, byte_size, checksum, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := p.pool.Exec(ctx, query,
		rec.Topic,
		rec.Dataset,
		rec.BatchID,
		rec.RequestID,
		rec.JobID,
		rec.Status,
		rec.Stage,
		rec.Error,
		rec.Rows,
		rec.Bytes,
		rec.Checksum,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	return nil
}

const selectColumns = `
	topic, dataset, batch_id, request_id, job_id, status, stage, error,
	row_count, byte_size, checksum, started_at, finished_at
`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(
		&r.Topic, &r.Dataset, &r.BatchID, &r.RequestID, &r.JobID,
		&r.Status, &r.Stage, &r.Error,
		&r.Rows, &r.Bytes, &r.Checksum, &r.StartedAt, &r.FinishedAt,
	)
	return r, err
}

// LastSuccess returns the newest succeeded attempt for dataset/batchID.
func (p *PostgresRecorder) LastSuccess(ctx context.Context, dataset, batchID string) (*Record, error) {
	query := `SELECT ` + selectColumns + `
		FROM _meta_publish_history
		WHERE dataset = $1 AND batch_id = $2 AND status = $3
		ORDER BY finished_at DESC
		LIMIT 1
	`
	r, err := scanRecord(p.pool.QueryRow(ctx, query, dataset, batchID, StatusSucceeded))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("query last success: %w", err)
	}
	return &r, nil
}

// Recent returns up to limit attempts, newest first.
func (p *PostgresRecorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + selectColumns + `
		FROM _meta_publish_history
		ORDER BY finished_at DESC
		LIMIT $1
	`
	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (p *PostgresRecorder) Close() error {
	p.pool.Close()
	return nil
}
