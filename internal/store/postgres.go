package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"studyflow/internal/models"
)

// Store wraps pgxpool for Postgres persistence of job records.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations creates the jobs schema if needed.
func (s *Store) RunMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			channel      TEXT NOT NULL UNIQUE,
			process_type TEXT NOT NULL,
			tenant       TEXT NOT NULL DEFAULT 'default',
			payload      JSONB NOT NULL DEFAULT '{}',
			status       TEXT NOT NULL,
			progress     INT NOT NULL DEFAULT 0,
			last_error   TEXT,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
	`)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	ProcessType string
	Tenant      string
	Payload     map[string]any
}

// CreateJob inserts a job row, assigning the job id and its channel. The
// channel is generated exactly once here and is never reused by another job.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if p.Tenant == "" {
		p.Tenant = "default"
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	channel := "job:progress:" + uuid.New().String()
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, channel, process_type, tenant, payload, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, id, channel, p.ProcessType, p.Tenant, payloadJSON, models.StatusQueued, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		ID:          id,
		Channel:     channel,
		ProcessType: p.ProcessType,
		Tenant:      p.Tenant,
		Payload:     p.Payload,
		Status:      models.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel, process_type, tenant, payload, status, progress, last_error, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var payloadJSON []byte
	var lastErr pgtype.Text

	if err := row.Scan(&job.ID, &job.Channel, &job.ProcessType, &job.Tenant, &payloadJSON, &job.Status, &job.Progress, &lastErr, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, fmt.Errorf("job not found: %w", err)
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if lastErr.Valid {
		job.LastError = &lastErr.String
	}
	return job, nil
}

// UpdateProgress records the latest advisory progress for a running job.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, progress = $3, updated_at = NOW() WHERE id = $1
	`, id, models.StatusGenerating, progress)
	return err
}

// MarkComplete transitions a job to its successful terminal state.
func (s *Store) MarkComplete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, progress = 100, last_error = NULL, updated_at = NOW() WHERE id = $1
	`, id, models.StatusComplete)
	return err
}

// MarkError transitions a job to its failed terminal state. Failed jobs are
// not retried; re-enqueueing is the caller's decision.
func (s *Store) MarkError(ctx context.Context, id, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1
	`, id, models.StatusError, message)
	return err
}

// MarkCancelled sets status cancelled and clears any last error.
func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, last_error = NULL, updated_at = NOW() WHERE id = $1
	`, id, models.StatusCancelled)
	return err
}
