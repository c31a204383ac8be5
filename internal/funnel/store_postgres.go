package funnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"haven/pkg/platform/sentinel"
)

// Schema for the submissions table.
const Schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id         UUID PRIMARY KEY,
	org        TEXT NOT NULL,
	project    TEXT NOT NULL,
	user_agent TEXT NOT NULL DEFAULT '',
	browser    TEXT NOT NULL DEFAULT '',
	mobile     BOOLEAN NOT NULL DEFAULT FALSE,
	channel    TEXT NOT NULL DEFAULT 'web',
	progress   JSONB NOT NULL DEFAULT '{}',
	report_id  UUID,
	created_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore persists submission telemetry with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure submissions schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, sub *Submission) error {
	if sub.Progress == nil {
		sub.Progress = make(map[string]time.Time)
	}
	progressJSON, err := json.Marshal(sub.Progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	now := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO submissions (id, org, project, user_agent, browser, mobile, channel, progress, report_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sub.ID, sub.Org, sub.Project, sub.UserAgent, sub.Browser, sub.Mobile, sub.Channel, progressJSON, sub.ReportID, now)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	sub.CreatedAt = now
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	var (
		sub          Submission
		progressJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, org, project, user_agent, browser, mobile, channel, progress, report_id, created_at
		FROM submissions WHERE id = $1
	`, id).Scan(&sub.ID, &sub.Org, &sub.Project, &sub.UserAgent, &sub.Browser,
		&sub.Mobile, &sub.Channel, &progressJSON, &sub.ReportID, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("submission %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	if err := json.Unmarshal(progressJSON, &sub.Progress); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) Progress(ctx context.Context, id uuid.UUID, step string, at time.Time) error {
	stepJSON, err := json.Marshal(map[string]time.Time{step: at})
	if err != nil {
		return fmt.Errorf("encode progress step: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE submissions SET progress = progress || $2::jsonb WHERE id = $1
	`, id, stepJSON)
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("submission %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Link(ctx context.Context, id, reportID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE submissions SET report_id = $2 WHERE id = $1`, id, reportID)
	if err != nil {
		return fmt.Errorf("link submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("submission %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}
