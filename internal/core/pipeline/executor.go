package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docwatch/internal/core/job"
	"docwatch/internal/core/result"
	"docwatch/internal/core/storage"
	"docwatch/internal/errs"
	"docwatch/internal/logger"
)

// Executor runs the fetch -> scan -> extract -> persist sequence for one job.
// Per-document failures are absorbed; only infrastructure failures or a
// failure ratio at or above the threshold abort the job.
type Executor struct {
	fetcher   SourceFetcher
	scanner   DocumentScanner
	extractor EntityExtractor
	results   result.Store
	files     *storage.Manager
	keywords  job.KeywordSource

	snippetMax       int
	failureThreshold float64
	log              *logger.Logger
}

func NewExecutor(
	fetcher SourceFetcher,
	scanner DocumentScanner,
	extractor EntityExtractor,
	results result.Store,
	files *storage.Manager,
	keywords job.KeywordSource,
	snippetMax int,
	failureThreshold float64,
) *Executor {
	if snippetMax <= 0 {
		snippetMax = 300
	}
	if failureThreshold <= 0 || failureThreshold > 1 {
		failureThreshold = 1.0
	}
	return &Executor{
		fetcher:          fetcher,
		scanner:          scanner,
		extractor:        extractor,
		results:          results,
		files:            files,
		keywords:         keywords,
		snippetMax:       snippetMax,
		failureThreshold: failureThreshold,
		log:              logger.New("Pipeline"),
	}
}

// Run executes the job once. It checks ctx between documents and between
// matches within a document; on cancellation or timeout it returns ctx's
// error and leaves already-persisted results in place.
func (e *Executor) Run(ctx context.Context, j *job.Job, cfg *job.Config, report func(job.Progress)) error {
	kws, err := e.keywords.KeywordsForTarget(ctx, j.TargetRef)
	if err != nil {
		return errs.Fatalf("keyword set unavailable for target %s", j.TargetRef)
	}
	if len(kws) == 0 {
		return errs.Fatalf("target %s has no active keywords", j.TargetRef)
	}

	progress := job.Progress{SourcesTotal: len(cfg.SourceURLs)}
	report(progress)

	var candidates []DocumentRef
	for _, src := range cfg.SourceURLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		refs, err := e.fetcher.ListDocuments(ctx, src)
		if err != nil {
			progress.SourcesFailed++
			report(progress)
			e.log.LogWarnf("job %s: %v", j.ID, &errs.TransientFetchError{Source: src, Err: err})
			continue
		}
		for _, ref := range refs {
			if e.accept(ref, cfg) {
				candidates = append(candidates, ref)
			}
		}
	}
	if progress.SourcesFailed == progress.SourcesTotal {
		return errs.Fatalf("all %d sources were unreachable", progress.SourcesTotal)
	}

	progress.DocumentsTotal = len(candidates)
	report(progress)

	budget := 0
	if cfg.MaxScanPages != nil {
		budget = *cfg.MaxScanPages
	}

	for _, ref := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.processDocument(ctx, j.ID, ref, budget, kws, &progress); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errs.IsFatal(err) {
				return err
			}
			progress.DocumentsFailed++
			e.log.LogWarnf("job %s: document %s skipped: %v", j.ID, ref.Name, err)
		} else {
			progress.DocumentsDone++
		}
		report(progress)
	}

	if progress.DocumentsTotal > 0 {
		ratio := float64(progress.DocumentsFailed) / float64(progress.DocumentsTotal)
		if ratio >= e.failureThreshold {
			if progress.DocumentsFailed == progress.DocumentsTotal {
				return errs.Fatalf("all %d documents failed to process", progress.DocumentsTotal)
			}
			return errs.Fatalf("%d of %d documents failed to process",
				progress.DocumentsFailed, progress.DocumentsTotal)
		}
	}
	return nil
}

// accept applies the configured date range and category filters.
func (e *Executor) accept(ref DocumentRef, cfg *job.Config) bool {
	if !ref.Date.IsZero() {
		if cfg.DateRangeStart != nil && ref.Date.Before(*cfg.DateRangeStart) {
			return false
		}
		if cfg.DateRangeEnd != nil && ref.Date.After(*cfg.DateRangeEnd) {
			return false
		}
	}
	if len(cfg.IncludeCategories) > 0 {
		found := false
		for _, c := range cfg.IncludeCategories {
			if c == ref.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *Executor) processDocument(ctx context.Context, jobID string, ref DocumentRef, budget int, kws []job.Keyword, progress *job.Progress) error {
	data, err := e.fetcher.FetchDocument(ctx, ref)
	if err != nil {
		return &errs.TransientFetchError{Source: ref.URL, Err: err}
	}
	if _, err := e.files.Write(jobID, storage.BucketRaw, ref.Name, data); err != nil {
		// Raw copies are a convenience; losing one does not fail the doc.
		e.log.LogWarnf("job %s: store raw %s: %v", jobID, ref.Name, err)
	}

	scan, err := e.scanner.Scan(ctx, data, budget, kws)
	if err != nil {
		return fmt.Errorf("scan %s: %w", ref.Name, err)
	}
	if len(scan.Annotated) > 0 {
		if _, err := e.files.Write(jobID, storage.BucketAnnotated, ref.Name, scan.Annotated); err != nil {
			e.log.LogWarnf("job %s: store annotated %s: %v", jobID, ref.Name, err)
		}
	}

	for _, m := range scan.Matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		snippet := m.Snippet
		if len(snippet) > e.snippetMax {
			snippet = snippet[:e.snippetMax]
		}
		entities, err := e.extractor.Extract(ctx, snippet)
		if err != nil {
			// Extraction failures are per-page noise, not job failures.
			e.log.LogDebugf("job %s: extract entities on %s p%d: %v", jobID, ref.Name, m.Page, err)
			entities = nil
		}
		row := &result.Result{
			ID:        uuid.New().String(),
			JobID:     jobID,
			Document:  ref.Name,
			Page:      m.Page,
			KeywordID: m.KeywordID,
			Keyword:   m.Keyword,
			Snippet:   snippet,
			Entities:  entities,
			CreatedAt: time.Now().UTC(),
		}
		// Persist immediately so partial results survive a later failure.
		if err := e.results.CreateResult(ctx, row); err != nil {
			e.log.LogErrorf("job %s: persist result: %v", jobID, err)
			return errs.Fatalf("result store unavailable")
		}
		progress.Matches++
	}
	return nil
}
