package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/conversionflow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores job rows in a conversions table. Terminal-status
// idempotence rides on a conditional single-row UPDATE, so concurrent or
// duplicate terminal writes never need a transaction.
type PostgresRepository struct {
	pool *pgxpool.Pool
	*broadcaster
}

const conversionsSchema = `
CREATE TABLE IF NOT EXISTS conversions (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	operation_kind TEXT NOT NULL,
	input_paths    TEXT[] NOT NULL,
	output_path    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	error_message  TEXT NOT NULL DEFAULT '',
	parameters     JSONB NOT NULL DEFAULT '{}',
	cost           INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS conversions_owner_idx ON conversions (owner_id, created_at DESC);
`

// NewPostgresRepository connects to dsn and ensures the conversions table
// exists.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if _, err := pool.Exec(ctx, conversionsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure conversions table: %w", err)
	}
	return &PostgresRepository{pool: pool, broadcaster: newBroadcaster()}, nil
}

func (r *PostgresRepository) Create(ctx context.Context, job *models.ConversionJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO conversions (id, owner_id, operation_kind, input_paths, status, error_message, parameters, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.OwnerID, string(job.OperationKind), job.InputPaths,
		string(job.Status), job.ErrorMessage, params, job.Cost, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conversion row %s: %w", job.ID, err)
	}

	r.publish(EventCreated, *job)
	return nil
}

// UpdateStatus transitions a row. The WHERE clause refuses to touch rows
// already in a terminal status; in that case the call reports success and
// the row is left exactly as the first terminal write produced it.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.Status, outputPath, errorMessage string) error {
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE conversions
		SET status = $2,
		    output_path = CASE WHEN $3 = '' THEN output_path ELSE $3 END,
		    error_message = CASE WHEN $4 = '' THEN error_message ELSE $4 END,
		    completed_at = COALESCE(completed_at, $5)
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, string(status), outputPath, errorMessage, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update conversion row %s: %w", id, err)
	}

	job, getErr := r.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	if tag.RowsAffected() == 0 {
		// Row exists but was already terminal.
		return nil
	}

	r.publish(EventUpdated, job)
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (models.ConversionJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, operation_kind, input_paths, output_path, status, error_message, parameters, cost, created_at, completed_at
		FROM conversions WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ConversionJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return models.ConversionJob{}, fmt.Errorf("failed to read conversion row %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.ConversionJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, operation_kind, input_paths, output_path, status, error_message, parameters, cost, created_at, completed_at
		FROM conversions WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions for owner %s: %w", ownerID, err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *PostgresRepository) ListStale(ctx context.Context, olderThan time.Time) ([]models.ConversionJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, operation_kind, input_paths, output_path, status, error_message, parameters, cost, created_at, completed_at
		FROM conversions WHERE status = 'processing' AND created_at < $1 ORDER BY created_at`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale conversions: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	r.broadcaster.close()
	return nil
}

func scanJob(row pgx.Row) (models.ConversionJob, error) {
	var (
		job    models.ConversionJob
		kind   string
		status string
		params []byte
	)
	err := row.Scan(&job.ID, &job.OwnerID, &kind, &job.InputPaths, &job.OutputPath,
		&status, &job.ErrorMessage, &params, &job.Cost, &job.CreatedAt, &job.CompletedAt)
	if err != nil {
		return models.ConversionJob{}, err
	}
	job.OperationKind = models.OperationKind(kind)
	job.Status = models.Status(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return models.ConversionJob{}, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]models.ConversionJob, error) {
	var jobs []models.ConversionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
