package job

import (
	"context"
	"time"
)

// Status is the lifecycle state of a job. The string values are the wire
// contract and must not change.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ArtifactStatus is the state machine of the downloadable ZIP bundle.
type ArtifactStatus string

const (
	ArtifactNone       ArtifactStatus = "none"
	ArtifactGenerating ArtifactStatus = "generating"
	ArtifactReady      ArtifactStatus = "ready"
	ArtifactFailed     ArtifactStatus = "failed"
)

// Job is one user-initiated scrape execution.
// started_at is set iff the job has left pending; completed_at iff terminal.
type Job struct {
	ID              string         `json:"job_id"`
	TargetRef       string         `json:"target_ref"`
	Status          Status         `json:"status"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CancelRequested bool           `json:"cancel_requested"`
	ArtifactStatus  ArtifactStatus `json:"artifact_status"`
	ArtifactPath    string         `json:"artifact_path,omitempty"`
}

// Config holds the scrape parameters, one-to-one with a job. Immutable once
// the job leaves pending.
type Config struct {
	JobID             string     `json:"job_id"`
	DateRangeStart    *time.Time `json:"date_range_start,omitempty"`
	DateRangeEnd      *time.Time `json:"date_range_end,omitempty"`
	MaxScanPages      *int       `json:"max_scan_pages,omitempty"`
	IncludeCategories []string   `json:"include_categories,omitempty"`
	SourceURLs        []string   `json:"source_urls"`
}

// Progress counts what the pipeline has worked through so far. Per-document
// failure detail stays in the logs; only the counts are user-visible.
type Progress struct {
	SourcesTotal    int `json:"sources_total"`
	SourcesFailed   int `json:"sources_failed"`
	DocumentsTotal  int `json:"documents_total"`
	DocumentsDone   int `json:"documents_done"`
	DocumentsFailed int `json:"documents_failed"`
	Matches         int `json:"matches"`
}

// Filter selects jobs for listing.
type Filter struct {
	Status string
	Target string
	Limit  int
	Offset int
}

// Caller identifies who is performing a lifecycle operation.
type Caller struct {
	UserID string
	Admin  bool
}

// Keyword is a read-only foreign lookup owned by the taxonomy outside this
// engine.
type Keyword struct {
	ID   string `json:"id"`
	Term string `json:"term"`
}

// KeywordSource resolves the active keyword set for a scrape target.
type KeywordSource interface {
	KeywordsForTarget(ctx context.Context, targetRef string) ([]Keyword, error)
}

// Store is the persistence collaborator for jobs and their configs. The
// job status column is the single point of truth and is only written through
// the lifecycle service.
type Store interface {
	CreateJob(ctx context.Context, j *Job, cfg *Config) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetConfig(ctx context.Context, id string) (*Config, error)
	ListJobs(ctx context.Context, f Filter) ([]*Job, int, error)
	ListPending(ctx context.Context) ([]*Job, error)

	// TransitionJob applies mutate to the job row atomically. When
	// allowedFrom is non-empty and the current status is not among it, the
	// store returns an InvalidStateError and leaves the row untouched.
	TransitionJob(ctx context.Context, id string, allowedFrom []Status, mutate func(*Job)) (*Job, error)

	Ping(ctx context.Context) error
}
