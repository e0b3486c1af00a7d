package pipeline

import (
	"context"
	"time"

	"docwatch/internal/core/job"
)

// DocumentRef is one candidate document discovered from a source URL.
type DocumentRef struct {
	Name     string
	URL      string
	Category string
	// Date is the document's publication date; zero when the source does
	// not expose one, in which case date filtering passes it through.
	Date time.Time
}

// SourceFetcher discovers and retrieves documents. HTML parsing and HTTP
// retry behavior live behind this interface.
type SourceFetcher interface {
	ListDocuments(ctx context.Context, sourceURL string) ([]DocumentRef, error)
	FetchDocument(ctx context.Context, ref DocumentRef) ([]byte, error)
}

// PageMatch is one keyword hit on one page. Pages are 1-indexed.
type PageMatch struct {
	Page      int
	KeywordID string
	Keyword   string
	Snippet   string
}

// ScanResult carries the matches found in one document plus an optional
// annotated rendition with the hits highlighted.
type ScanResult struct {
	Matches   []PageMatch
	Annotated []byte
}

// DocumentScanner scans document bytes against a keyword set. pageBudget
// caps how many pages are scanned; 0 means all pages.
type DocumentScanner interface {
	Scan(ctx context.Context, data []byte, pageBudget int, keywords []job.Keyword) (*ScanResult, error)
}

// EntityExtractor tags named entities in a snippet.
type EntityExtractor interface {
	Extract(ctx context.Context, snippet string) ([]string, error)
}
