package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docwatch/internal/core/job"
	"docwatch/internal/core/result"
	"docwatch/internal/errs"
)

// Store is the Postgres persistence backend, selected when PG_DSN is set.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS jobs (
    id               text PRIMARY KEY,
    target_ref       text NOT NULL,
    status           text NOT NULL,
    created_by       text NOT NULL,
    created_at       timestamptz NOT NULL,
    started_at       timestamptz,
    completed_at     timestamptz,
    error_message    text NOT NULL DEFAULT '',
    cancel_requested boolean NOT NULL DEFAULT false,
    artifact_status  text NOT NULL DEFAULT 'none',
    artifact_path    text NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS job_configs (
    job_id             text PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
    date_range_start   timestamptz,
    date_range_end     timestamptz,
    max_scan_pages     integer,
    include_categories text[] NOT NULL DEFAULT '{}',
    source_urls        text[] NOT NULL
);
CREATE TABLE IF NOT EXISTS scrape_results (
    id            text PRIMARY KEY,
    job_id        text NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    document_name text NOT NULL,
    page_number   integer NOT NULL,
    keyword_id    text NOT NULL,
    keyword       text NOT NULL,
    snippet       text NOT NULL,
    entities      text[] NOT NULL DEFAULT '{}',
    created_at    timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS scrape_results_job_idx ON scrape_results (job_id);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const jobCols = `id, target_ref, status, created_by, created_at, started_at,
completed_at, error_message, cancel_requested, artifact_status, artifact_path`

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	var status, artifactStatus string
	err := row.Scan(&j.ID, &j.TargetRef, &status, &j.CreatedBy, &j.CreatedAt,
		&j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &j.CancelRequested,
		&artifactStatus, &j.ArtifactPath)
	if err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	j.ArtifactStatus = job.ArtifactStatus(artifactStatus)
	return &j, nil
}

func (s *Store) CreateJob(ctx context.Context, j *job.Job, cfg *job.Config) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO jobs (`+jobCols+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		j.ID, j.TargetRef, string(j.Status), j.CreatedBy, j.CreatedAt, j.StartedAt,
		j.CompletedAt, j.ErrorMessage, j.CancelRequested, string(j.ArtifactStatus), j.ArtifactPath)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO job_configs
(job_id, date_range_start, date_range_end, max_scan_pages, include_categories, source_urls)
VALUES ($1,$2,$3,$4,$5,$6)`,
		cfg.JobID, cfg.DateRangeStart, cfg.DateRangeEnd, cfg.MaxScanPages,
		cfg.IncludeCategories, cfg.SourceURLs)
	if err != nil {
		return fmt.Errorf("insert job config: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("job", id)
	}
	return j, err
}

func (s *Store) GetConfig(ctx context.Context, id string) (*job.Config, error) {
	var cfg job.Config
	err := s.pool.QueryRow(ctx, `SELECT job_id, date_range_start, date_range_end,
max_scan_pages, include_categories, source_urls FROM job_configs WHERE job_id = $1`, id).
		Scan(&cfg.JobID, &cfg.DateRangeStart, &cfg.DateRangeEnd, &cfg.MaxScanPages,
			&cfg.IncludeCategories, &cfg.SourceURLs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("job config", id)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Target != "" {
		args = append(args, f.Target)
		where += fmt.Sprintf(" AND target_ref = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	q := `SELECT ` + jobCols + ` FROM jobs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := make([]*job.Job, 0, f.Limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *Store) ListPending(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobCols+` FROM jobs
WHERE status = $1 ORDER BY created_at ASC`, string(job.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// TransitionJob applies mutate under a row lock so concurrent terminal
// transitions cannot both apply.
func (s *Store) TransitionJob(ctx context.Context, id string, allowedFrom []job.Status, mutate func(*job.Job)) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("job", id)
	}
	if err != nil {
		return nil, err
	}
	if len(allowedFrom) > 0 {
		allowed := false
		for _, from := range allowedFrom {
			if j.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, &errs.InvalidStateError{Current: string(j.Status), Attempted: "transition"}
		}
	}
	mutate(j)
	_, err = tx.Exec(ctx, `UPDATE jobs SET status=$2, started_at=$3, completed_at=$4,
error_message=$5, cancel_requested=$6, artifact_status=$7, artifact_path=$8 WHERE id=$1`,
		j.ID, string(j.Status), j.StartedAt, j.CompletedAt, j.ErrorMessage,
		j.CancelRequested, string(j.ArtifactStatus), j.ArtifactPath)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// result.Store

func (s *Store) CreateResult(ctx context.Context, r *result.Result) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO scrape_results
(id, job_id, document_name, page_number, keyword_id, keyword, snippet, entities, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.JobID, r.Document, r.Page, r.KeywordID, r.Keyword, r.Snippet, r.Entities, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) ListResults(ctx context.Context, jobID string, f result.Filter) ([]*result.Result, int, error) {
	where := ` WHERE job_id = $1`
	args := []interface{}{jobID}
	if f.KeywordID != "" {
		args = append(args, f.KeywordID)
		where += fmt.Sprintf(" AND keyword_id = $%d", len(args))
	}
	if f.Document != "" {
		args = append(args, f.Document)
		where += fmt.Sprintf(" AND document_name = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scrape_results`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT id, job_id, document_name, page_number, keyword_id, keyword,
snippet, entities, created_at FROM scrape_results` + where + ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		q += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*result.Result
	for rows.Next() {
		var r result.Result
		if err := rows.Scan(&r.ID, &r.JobID, &r.Document, &r.Page, &r.KeywordID,
			&r.Keyword, &r.Snippet, &r.Entities, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &r)
	}
	return out, total, rows.Err()
}

func (s *Store) DeleteResults(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scrape_results WHERE job_id = $1`, jobID)
	return err
}
