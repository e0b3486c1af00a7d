package result

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"docwatch/internal/logger"
)

// Result is one keyword hit on one page of one document. Append-only during
// execution, never mutated after insert.
type Result struct {
	ID        string    `json:"result_id"`
	JobID     string    `json:"job_id"`
	Document  string    `json:"document_name"`
	Page      int       `json:"page_number"`
	KeywordID string    `json:"keyword_id"`
	Keyword   string    `json:"keyword"`
	Snippet   string    `json:"snippet"`
	Entities  []string  `json:"entities"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects results within a job. Limit <= 0 means unbounded and is
// only used internally; the HTTP surface always clamps.
type Filter struct {
	KeywordID string
	Document  string
	Limit     int
	Offset    int
}

// Summary aggregates a job's matches on demand.
type Summary struct {
	TotalMatches    int            `json:"total_matches"`
	UniqueDocuments int            `json:"unique_documents"`
	UniqueKeywords  int            `json:"unique_keywords"`
	PerKeyword      map[string]int `json:"per_keyword"`
}

// Store is the persistence collaborator for scrape results.
type Store interface {
	CreateResult(ctx context.Context, r *Result) error
	ListResults(ctx context.Context, jobID string, f Filter) ([]*Result, int, error)
	DeleteResults(ctx context.Context, jobID string) error
}

const defaultPageSize = 100

// Service is the read-side aggregator over persisted results. Reads are
// eventually consistent with in-flight writes from a still-running job.
type Service struct {
	store   Store
	maxPage int
	log     *logger.Logger
}

func NewService(store Store, maxPageSize int) *Service {
	if maxPageSize <= 0 {
		maxPageSize = 1000
	}
	return &Service{store: store, maxPage: maxPageSize, log: logger.New("ResultService")}
}

func (s *Service) List(ctx context.Context, jobID string, f Filter) ([]*Result, int, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > s.maxPage {
		f.Limit = s.maxPage
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListResults(ctx, jobID, f)
}

func (s *Service) Summary(ctx context.Context, jobID string) (*Summary, error) {
	all, _, err := s.store.ListResults(ctx, jobID, Filter{})
	if err != nil {
		return nil, err
	}
	docs := make(map[string]struct{})
	perKeyword := make(map[string]int)
	for _, r := range all {
		docs[r.Document] = struct{}{}
		perKeyword[r.KeywordID]++
	}
	return &Summary{
		TotalMatches:    len(all),
		UniqueDocuments: len(docs),
		UniqueKeywords:  len(perKeyword),
		PerKeyword:      perKeyword,
	}, nil
}

// JobStats exposes the summary for embedding in the job detail response.
func (s *Service) JobStats(ctx context.Context, jobID string) (interface{}, error) {
	return s.Summary(ctx, jobID)
}

var csvHeader = []string{"document", "page", "keyword", "snippet", "entities", "created_at"}

// WriteCSV streams the job's current results in fixed column order. Valid
// for a still-running job; the export reflects whatever is persisted at call
// time. The entities column is the empty string when nothing was extracted.
func (s *Service) WriteCSV(ctx context.Context, w io.Writer, jobID string) error {
	all, _, err := s.store.ListResults(ctx, jobID, Filter{})
	if err != nil {
		return err
	}
	sort.SliceStable(all, func(i, k int) bool {
		if all[i].Document != all[k].Document {
			return all[i].Document < all[k].Document
		}
		return all[i].Page < all[k].Page
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range all {
		row := []string{
			r.Document,
			strconv.Itoa(r.Page),
			r.Keyword,
			r.Snippet,
			strings.Join(r.Entities, ";"),
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
