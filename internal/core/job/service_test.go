package job_test

import (
	"context"
	"testing"
	"time"

	"docwatch/internal/core/job"
	"docwatch/internal/errs"
	memstore "docwatch/internal/store/memory"
)

type staticKeywords struct {
	byTarget map[string][]job.Keyword
}

func (s *staticKeywords) KeywordsForTarget(ctx context.Context, targetRef string) ([]job.Keyword, error) {
	return s.byTarget[targetRef], nil
}

func newTestService() (*job.Service, *memstore.Store) {
	store := memstore.New()
	kws := &staticKeywords{byTarget: map[string][]job.Keyword{
		"org-1": {{ID: "kw-1", Term: "zoning"}},
	}}
	return job.NewService(store, kws, nil), store
}

func validRequest() job.CreateRequest {
	return job.CreateRequest{
		TargetRef:  "org-1",
		SourceURLs: []string{"https://example.com/minutes"},
	}
}

func TestCreatePending(t *testing.T) {
	svc, _ := newTestService()
	j, err := svc.Create(context.Background(), job.Caller{UserID: "u1"}, validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Fatalf("status = %s, want pending", j.Status)
	}
	if j.CancelRequested {
		t.Fatal("cancel_requested should start false")
	}
	if j.StartedAt != nil || j.CompletedAt != nil {
		t.Fatal("timestamps must be unset on a pending job")
	}
	if j.ArtifactStatus != job.ArtifactNone {
		t.Fatalf("artifact status = %s, want none", j.ArtifactStatus)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		req  job.CreateRequest
	}{
		{"no sources", job.CreateRequest{TargetRef: "org-1"}},
		{"bad source url", job.CreateRequest{TargetRef: "org-1", SourceURLs: []string{"not a url"}}},
		{"no keywords for target", job.CreateRequest{TargetRef: "org-unknown", SourceURLs: []string{"https://example.com"}}},
		{"zero page cap", func() job.CreateRequest {
			r := validRequest()
			zero := 0
			r.MaxScanPages = &zero
			return r
		}()},
		{"inverted date range", func() job.CreateRequest {
			r := validRequest()
			start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
			end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			r.DateRangeStart, r.DateRangeEnd = &start, &end
			return r
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, job.Caller{UserID: "u1"}, tc.req); !errs.IsValidation(err) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestCancelPendingIsSynchronous(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	j, _ := svc.Create(ctx, job.Caller{UserID: "u1"}, validRequest())

	if err := svc.RequestCancel(ctx, j.ID, job.Caller{UserID: "u1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _, err := svc.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if !got.CancelRequested {
		t.Fatal("cancel_requested should be set")
	}
	if got.StartedAt != nil {
		t.Fatal("started_at must stay unset for a never-started job")
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at must be set on a terminal job")
	}
}

func TestCancelAuthorization(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	j, _ := svc.Create(ctx, job.Caller{UserID: "owner"}, validRequest())

	if err := svc.RequestCancel(ctx, j.ID, job.Caller{UserID: "intruder"}); !errs.IsAuthorization(err) {
		t.Fatalf("err = %v, want AuthorizationError", err)
	}
	if err := svc.RequestCancel(ctx, j.ID, job.Caller{UserID: "ops", Admin: true}); err != nil {
		t.Fatalf("admin cancel should succeed, got %v", err)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.RequestCancel(context.Background(), "nope", job.Caller{UserID: "u1"}); !errs.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestCancelTerminalJobRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	j, _ := svc.Create(ctx, job.Caller{UserID: "u1"}, validRequest())
	if err := svc.MarkRunning(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkTerminal(ctx, j.ID, job.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}

	err := svc.RequestCancel(ctx, j.ID, job.Caller{UserID: "u1"})
	if !errs.IsInvalidState(err) {
		t.Fatalf("err = %v, want InvalidStateError", err)
	}
	got, _, _ := svc.Get(ctx, j.ID)
	if got.Status != job.StatusCompleted {
		t.Fatalf("status changed to %s after rejected cancel", got.Status)
	}
}

func TestCancelRunningSetsFlagOnly(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	j, _ := svc.Create(ctx, job.Caller{UserID: "u1"}, validRequest())
	if err := svc.MarkRunning(ctx, j.ID); err != nil {
		t.Fatal(err)
	}

	if err := svc.RequestCancel(ctx, j.ID, job.Caller{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	got, _, _ := svc.Get(ctx, j.ID)
	if got.Status != job.StatusRunning {
		t.Fatalf("status = %s, running job must stay running until the pipeline yields", got.Status)
	}
	if !svc.CancelRequested(ctx, j.ID) {
		t.Fatal("cancel flag not visible to the runner")
	}
}

func TestLifecycleTimestamps(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	j, _ := svc.Create(ctx, job.Caller{UserID: "u1"}, validRequest())

	if err := svc.MarkRunning(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	got, _, _ := svc.Get(ctx, j.ID)
	if got.StartedAt == nil {
		t.Fatal("started_at must be set once the job leaves pending")
	}
	if got.CompletedAt != nil {
		t.Fatal("completed_at must stay unset while running")
	}

	if err := svc.MarkTerminal(ctx, j.ID, job.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _, _ = svc.Get(ctx, j.ID)
	if got.CompletedAt == nil {
		t.Fatal("completed_at must be set on a terminal job")
	}
	if got.ErrorMessage != "boom" {
		t.Fatalf("error_message = %q", got.ErrorMessage)
	}
}

func TestOutOfOrderTransitionsRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	j, _ := svc.Create(ctx, job.Caller{UserID: "u1"}, validRequest())

	// Terminal before running.
	if err := svc.MarkTerminal(ctx, j.ID, job.StatusCompleted, ""); !errs.IsInvalidState(err) {
		t.Fatalf("err = %v, want InvalidStateError", err)
	}
	if err := svc.MarkRunning(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	// Running twice.
	if err := svc.MarkRunning(ctx, j.ID); !errs.IsInvalidState(err) {
		t.Fatalf("err = %v, want InvalidStateError", err)
	}
	if err := svc.MarkTerminal(ctx, j.ID, job.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	// No two terminal transitions may both apply.
	if err := svc.MarkTerminal(ctx, j.ID, job.StatusFailed, "late"); !errs.IsInvalidState(err) {
		t.Fatalf("err = %v, want InvalidStateError", err)
	}
	got, _, _ := svc.Get(ctx, j.ID)
	if got.Status != job.StatusCompleted || got.ErrorMessage != "" {
		t.Fatalf("second terminal transition mutated the job: %s %q", got.Status, got.ErrorMessage)
	}
	// A non-terminal status is not a valid terminal target.
	if err := svc.MarkTerminal(ctx, j.ID, job.StatusRunning, ""); !errs.IsInvalidState(err) {
		t.Fatalf("err = %v, want InvalidStateError", err)
	}
}

func TestListFilters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		j, err := svc.Create(ctx, job.Caller{UserID: "u1"}, validRequest())
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, j.ID)
	}
	_ = svc.MarkRunning(ctx, ids[0])
	_ = svc.MarkTerminal(ctx, ids[0], job.StatusCompleted, "")

	jobs, total, err := svc.List(ctx, job.Filter{Status: "pending"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(jobs) != 2 {
		t.Fatalf("pending list: total=%d len=%d, want 2/2", total, len(jobs))
	}
	jobs, total, _ = svc.List(ctx, job.Filter{Status: "completed"})
	if total != 1 || jobs[0].ID != ids[0] {
		t.Fatalf("completed list wrong: total=%d", total)
	}
	_, total, _ = svc.List(ctx, job.Filter{Target: "org-1"})
	if total != 3 {
		t.Fatalf("target filter total=%d, want 3", total)
	}
}

func TestProgressRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	j, _ := svc.Create(ctx, job.Caller{UserID: "u1"}, validRequest())

	p := job.Progress{SourcesTotal: 2, DocumentsTotal: 4, DocumentsDone: 1, Matches: 7}
	svc.SetProgress(ctx, j.ID, p)
	if got := svc.GetProgress(j.ID); got != p {
		t.Fatalf("progress = %+v, want %+v", got, p)
	}
	if got := svc.GetProgress("unknown"); got != (job.Progress{}) {
		t.Fatalf("unknown job progress should be zero, got %+v", got)
	}
}
