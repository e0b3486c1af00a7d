package artifact_test

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
	"time"

	"docwatch/internal/core/artifact"
	"docwatch/internal/core/job"
	"docwatch/internal/core/result"
	"docwatch/internal/core/storage"
	"docwatch/internal/errs"
	memstore "docwatch/internal/store/memory"
)

type staticKeywords struct{}

func (staticKeywords) KeywordsForTarget(ctx context.Context, targetRef string) ([]job.Keyword, error) {
	return []job.Keyword{{ID: "kw-1", Term: "zoning"}}, nil
}

type rig struct {
	jobs    *job.Service
	results *result.Service
	files   *storage.Manager
	store   *memstore.Store
	svc     *artifact.Service
}

func newRig(t *testing.T) *rig {
	t.Helper()
	store := memstore.New()
	jobs := job.NewService(store, staticKeywords{}, nil)
	results := result.NewService(store, 1000)
	files := storage.NewManager(t.TempDir(), storage.Retention{})
	return &rig{
		jobs:    jobs,
		results: results,
		files:   files,
		store:   store,
		svc:     artifact.New(jobs, results, files, nil, 3),
	}
}

func (r *rig) finishedJob(t *testing.T) *job.Job {
	t.Helper()
	ctx := context.Background()
	j, err := r.jobs.Create(ctx, job.Caller{UserID: "u1"}, job.CreateRequest{
		TargetRef:  "org-1",
		SourceURLs: []string{"https://example.com/minutes"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.jobs.MarkRunning(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.jobs.MarkTerminal(ctx, j.ID, job.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	return j
}

func (r *rig) waitArtifact(t *testing.T, jobID string, want job.ArtifactStatus) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, _, err := r.jobs.Get(context.Background(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if j.ArtifactStatus == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _, _ := r.jobs.Get(context.Background(), jobID)
	t.Fatalf("artifact stuck at %s, want %s", j.ArtifactStatus, want)
	return nil
}

func TestEnqueueBuildsBundle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	j := r.finishedJob(t)

	if _, err := r.files.Write(j.ID, storage.BucketRaw, "jan.pdf", []byte("raw bytes")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.files.Write(j.ID, storage.BucketAnnotated, "jan.pdf", []byte("annotated bytes")); err != nil {
		t.Fatal(err)
	}
	if err := r.store.CreateResult(ctx, &result.Result{
		ID: "r1", JobID: j.ID, Document: "jan.pdf", Page: 1,
		KeywordID: "kw-1", Keyword: "zoning", Snippet: "... zoning ...",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.svc.Enqueue(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	got := r.waitArtifact(t, j.ID, job.ArtifactReady)
	if got.ArtifactPath == "" {
		t.Fatal("ready artifact must carry its path")
	}

	data, err := r.files.Read(j.ID, storage.BucketArtifacts, "artifact.zip")
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"raw/jan.pdf":       false,
		"annotated/jan.pdf": false,
		"results.csv":       false,
		"metadata.json":     false,
	}
	for _, f := range zr.File {
		if _, ok := want[f.Name]; ok {
			want[f.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("bundle missing %s", name)
		}
	}
}

func TestEnqueueEmptyJobStillSucceeds(t *testing.T) {
	r := newRig(t)
	j := r.finishedJob(t)
	if err := r.svc.Enqueue(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}
	// No files, no results: the bundle still carries the csv header and
	// metadata.
	r.waitArtifact(t, j.ID, job.ArtifactReady)
}

func TestEnqueueRejectsNonTerminalJob(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	j, err := r.jobs.Create(ctx, job.Caller{UserID: "u1"}, job.CreateRequest{
		TargetRef:  "org-1",
		SourceURLs: []string{"https://example.com/minutes"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.svc.Enqueue(ctx, j.ID); !errs.IsInvalidState(err) {
		t.Fatalf("pending job: err = %v, want InvalidStateError", err)
	}
	if err := r.jobs.MarkRunning(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.svc.Enqueue(ctx, j.ID); !errs.IsInvalidState(err) {
		t.Fatalf("running job: err = %v, want InvalidStateError", err)
	}
}

func TestEnqueueRejectsCancelledJob(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	j, _ := r.jobs.Create(ctx, job.Caller{UserID: "u1"}, job.CreateRequest{
		TargetRef:  "org-1",
		SourceURLs: []string{"https://example.com/minutes"},
	})
	if err := r.jobs.RequestCancel(ctx, j.ID, job.Caller{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.svc.Enqueue(ctx, j.ID); !errs.IsInvalidState(err) {
		t.Fatalf("cancelled job: err = %v, want InvalidStateError", err)
	}
}

func TestEnqueueRejectsWhileGenerating(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	j := r.finishedJob(t)
	if err := r.jobs.SetArtifactState(ctx, j.ID, job.ArtifactGenerating, ""); err != nil {
		t.Fatal(err)
	}
	if err := r.svc.Enqueue(ctx, j.ID); !errs.IsInvalidState(err) {
		t.Fatalf("err = %v, want InvalidStateError", err)
	}
}

func TestEnqueueUnknownJob(t *testing.T) {
	r := newRig(t)
	if err := r.svc.Enqueue(context.Background(), "nope"); !errs.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}
