package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"haven/internal/normalize"
	"haven/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// Schema for the reports table. The partial unique index on
// (org, project, lower(alias)) is the correctness guarantee behind alias
// claims; the service-level check is only an optimization.
const Schema = `
CREATE TABLE IF NOT EXISTS reports (
	id            UUID PRIMARY KEY,
	org           TEXT NOT NULL,
	project       TEXT NOT NULL,
	alias         TEXT NOT NULL DEFAULT '',
	version       TEXT NOT NULL DEFAULT '',
	submitted_raw JSONB NOT NULL DEFAULT '{}',
	submitted     JSONB NOT NULL DEFAULT '{}',
	files         JSONB NOT NULL DEFAULT '[]',
	user_agent    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS reports_alias_unique
	ON reports (org, project, lower(alias)) WHERE alias <> '';
`

// PostgresStore persists reports with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the reports table and unique index if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure reports schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, r *Report) error {
	rawJSON, docJSON, filesJSON, err := marshalReport(r)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reports (id, org, project, alias, version, submitted_raw, submitted, files, user_agent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, r.ID, r.Org, r.Project, r.Alias, r.Version, rawJSON, docJSON, filesJSON, r.UserAgent, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("alias %q: %w", r.Alias, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert report: %w", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, org, project, alias, version, submitted_raw, submitted, files, user_agent, created_at, updated_at
		FROM reports WHERE id = $1
	`, id)
	return scanReport(row, id.String())
}

func (s *PostgresStore) FindByAlias(ctx context.Context, org, project, alias string) (*Report, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, org, project, alias, version, submitted_raw, submitted, files, user_agent, created_at, updated_at
		FROM reports WHERE org = $1 AND project = $2 AND lower(alias) = lower($3)
	`, org, project, alias)
	return scanReport(row, alias)
}

func (s *PostgresStore) SetAlias(ctx context.Context, id uuid.UUID, alias string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reports SET alias = $2, updated_at = $3 WHERE id = $1
	`, id, alias, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("alias %q: %w", alias, sentinel.ErrConflict)
		}
		return fmt.Errorf("set alias: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

// UpdatePage reads, merges, and writes back under a transaction so two pages
// of the same single-writer session can never clobber each other even if a
// retry overlaps.
func (s *PostgresStore) UpdatePage(ctx context.Context, id uuid.UUID, raw normalize.Raw, doc normalize.Document) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	var rawJSON, docJSON []byte
	row := tx.QueryRow(ctx, `SELECT submitted_raw, submitted FROM reports WHERE id = $1 FOR UPDATE`, id)
	if err := row.Scan(&rawJSON, &docJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("report %s: %w", id, sentinel.ErrNotFound)
		}
		return fmt.Errorf("load report for update: %w", err)
	}

	var storedRaw normalize.Raw
	if err := json.Unmarshal(rawJSON, &storedRaw); err != nil {
		return fmt.Errorf("decode submitted_raw: %w", err)
	}
	var storedDoc normalize.Document
	if err := json.Unmarshal(docJSON, &storedDoc); err != nil {
		return fmt.Errorf("decode submitted: %w", err)
	}

	for k, v := range raw.Clone() {
		storedRaw[k] = v
	}
	merged := storedDoc.Merge(doc)

	newRaw, err := json.Marshal(storedRaw)
	if err != nil {
		return fmt.Errorf("encode submitted_raw: %w", err)
	}
	newDoc, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode submitted: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE reports SET submitted_raw = $2, submitted = $3, updated_at = $4 WHERE id = $1
	`, id, newRaw, newDoc, time.Now()); err != nil {
		return fmt.Errorf("update report page: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AttachFiles(ctx context.Context, id uuid.UUID, files []FileRef) error {
	if len(files) == 0 {
		return nil
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reports SET files = files || $2::jsonb, updated_at = $3 WHERE id = $1
	`, id, filesJSON, time.Now())
	if err != nil {
		return fmt.Errorf("attach files: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func marshalReport(r *Report) (rawJSON, docJSON, filesJSON []byte, err error) {
	raw := r.SubmittedRaw
	if raw == nil {
		raw = normalize.Raw{}
	}
	if rawJSON, err = json.Marshal(raw); err != nil {
		return nil, nil, nil, fmt.Errorf("encode submitted_raw: %w", err)
	}
	doc := r.Submitted
	if doc == nil {
		doc = normalize.Document{}
	}
	if docJSON, err = json.Marshal(doc); err != nil {
		return nil, nil, nil, fmt.Errorf("encode submitted: %w", err)
	}
	files := r.Files
	if files == nil {
		files = []FileRef{}
	}
	if filesJSON, err = json.Marshal(files); err != nil {
		return nil, nil, nil, fmt.Errorf("encode files: %w", err)
	}
	return rawJSON, docJSON, filesJSON, nil
}

func scanReport(row pgx.Row, ref string) (*Report, error) {
	var (
		r         Report
		rawJSON   []byte
		docJSON   []byte
		filesJSON []byte
	)
	err := row.Scan(&r.ID, &r.Org, &r.Project, &r.Alias, &r.Version,
		&rawJSON, &docJSON, &filesJSON, &r.UserAgent, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("report %s: %w", ref, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}
	if err := json.Unmarshal(rawJSON, &r.SubmittedRaw); err != nil {
		return nil, fmt.Errorf("decode submitted_raw: %w", err)
	}
	if err := json.Unmarshal(docJSON, &r.Submitted); err != nil {
		return nil, fmt.Errorf("decode submitted: %w", err)
	}
	if err := json.Unmarshal(filesJSON, &r.Files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	return &r, nil
}
