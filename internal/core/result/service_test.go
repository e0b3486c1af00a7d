package result_test

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"testing"
	"time"

	"docwatch/internal/core/result"
	memstore "docwatch/internal/store/memory"
)

func seed(t *testing.T, store *memstore.Store, jobID string, rows []*result.Result) {
	t.Helper()
	for _, r := range rows {
		if err := store.CreateResult(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
}

func row(jobID, doc string, page int, kwID, kw string, entities []string) *result.Result {
	return &result.Result{
		ID:        fmt.Sprintf("%s-%s-%d", doc, kwID, page),
		JobID:     jobID,
		Document:  doc,
		Page:      page,
		KeywordID: kwID,
		Keyword:   kw,
		Snippet:   "... " + kw + " ...",
		Entities:  entities,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestListClampsPageSize(t *testing.T) {
	store := memstore.New()
	var rows []*result.Result
	for i := 0; i < 150; i++ {
		rows = append(rows, row("j1", fmt.Sprintf("doc-%03d.pdf", i), 1, "kw-1", "zoning", nil))
	}
	seed(t, store, "j1", rows)
	svc := result.NewService(store, 120)

	got, total, err := svc.List(context.Background(), "j1", result.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 100 || total != 150 {
		t.Fatalf("default page: len=%d total=%d, want 100/150", len(got), total)
	}

	got, _, _ = svc.List(context.Background(), "j1", result.Filter{Limit: 5000})
	if len(got) != 120 {
		t.Fatalf("oversized limit returned %d rows, want clamped to 120", len(got))
	}

	got, _, _ = svc.List(context.Background(), "j1", result.Filter{Limit: 100, Offset: 100})
	if len(got) != 50 {
		t.Fatalf("second page len=%d, want 50", len(got))
	}
}

func TestListFilters(t *testing.T) {
	store := memstore.New()
	seed(t, store, "j1", []*result.Result{
		row("j1", "a.pdf", 1, "kw-1", "zoning", nil),
		row("j1", "a.pdf", 2, "kw-2", "variance", nil),
		row("j1", "b.pdf", 1, "kw-1", "zoning", nil),
	})
	svc := result.NewService(store, 1000)

	_, total, _ := svc.List(context.Background(), "j1", result.Filter{KeywordID: "kw-1"})
	if total != 2 {
		t.Fatalf("keyword filter total = %d, want 2", total)
	}
	_, total, _ = svc.List(context.Background(), "j1", result.Filter{Document: "a.pdf"})
	if total != 2 {
		t.Fatalf("document filter total = %d, want 2", total)
	}
	_, total, _ = svc.List(context.Background(), "other-job", result.Filter{})
	if total != 0 {
		t.Fatalf("foreign job leaked %d rows", total)
	}
}

func TestSummaryAgreesWithList(t *testing.T) {
	store := memstore.New()
	seed(t, store, "j1", []*result.Result{
		row("j1", "a.pdf", 1, "kw-1", "zoning", nil),
		row("j1", "a.pdf", 4, "kw-1", "zoning", nil),
		row("j1", "b.pdf", 2, "kw-2", "variance", nil),
	})
	svc := result.NewService(store, 1000)

	sum, err := svc.Summary(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	_, total, _ := svc.List(context.Background(), "j1", result.Filter{})
	if sum.TotalMatches != total {
		t.Fatalf("summary total %d != list total %d", sum.TotalMatches, total)
	}
	if sum.UniqueDocuments != 2 || sum.UniqueKeywords != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.PerKeyword["kw-1"] != 2 || sum.PerKeyword["kw-2"] != 1 {
		t.Fatalf("per_keyword = %v", sum.PerKeyword)
	}
}

func TestSummaryEmptyJob(t *testing.T) {
	svc := result.NewService(memstore.New(), 1000)
	sum, err := svc.Summary(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalMatches != 0 || sum.UniqueDocuments != 0 || len(sum.PerKeyword) != 0 {
		t.Fatalf("empty job summary = %+v", sum)
	}
}

func TestWriteCSV(t *testing.T) {
	store := memstore.New()
	seed(t, store, "j1", []*result.Result{
		row("j1", "b.pdf", 2, "kw-1", "zoning", nil),
		row("j1", "a.pdf", 5, "kw-2", "variance", []string{"Main St", "Acme LLC"}),
		row("j1", "a.pdf", 1, "kw-1", "zoning", nil),
	})
	svc := result.NewService(store, 1000)

	var buf strings.Builder
	if err := svc.WriteCSV(context.Background(), &buf, "j1"); err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("csv has %d records, want header + 3 rows", len(records))
	}
	header := strings.Join(records[0], ",")
	if header != "document,page,keyword,snippet,entities,created_at" {
		t.Fatalf("header = %q", header)
	}
	// Ordered by document then page.
	if records[1][0] != "a.pdf" || records[1][1] != "1" {
		t.Fatalf("first row = %v", records[1])
	}
	if records[2][0] != "a.pdf" || records[2][1] != "5" {
		t.Fatalf("second row = %v", records[2])
	}
	if records[3][0] != "b.pdf" {
		t.Fatalf("third row = %v", records[3])
	}
	// Entities joined with ';', empty string when none.
	if records[2][4] != "Main St;Acme LLC" {
		t.Fatalf("entities cell = %q", records[2][4])
	}
	if records[1][4] != "" {
		t.Fatalf("empty entities cell = %q", records[1][4])
	}
}

func TestWriteCSVEmptyJob(t *testing.T) {
	svc := result.NewService(memstore.New(), 1000)
	var buf strings.Builder
	if err := svc.WriteCSV(context.Background(), &buf, "j1"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("empty export should be header only, got %d lines", len(lines))
	}
}
