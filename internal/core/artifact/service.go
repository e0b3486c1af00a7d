package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"docwatch/internal/core/job"
	"docwatch/internal/core/result"
	"docwatch/internal/core/storage"
	"docwatch/internal/errs"
	"docwatch/internal/logger"
	tasks "docwatch/internal/platform/tasks"
)

const zipName = "artifact.zip"

type Payload struct {
	JobID string `json:"job_id"`
}

// Service builds downloadable ZIP bundles. Generation is asynchronous and
// follows its own pending/running/ready pattern persisted on the job row.
type Service struct {
	jobs       *job.Service
	results    *result.Service
	files      *storage.Manager
	tasks      *tasks.Client
	maxRetries int
	log        *logger.Logger
}

// New wires the builder. When no task client is configured, generation runs
// on a plain goroutine instead of the queue.
func New(jobs *job.Service, results *result.Service, files *storage.Manager, taskClient *tasks.Client, maxRetries int) *Service {
	return &Service{
		jobs:       jobs,
		results:    results,
		files:      files,
		tasks:      taskClient,
		maxRetries: maxRetries,
		log:        logger.New("ArtifactService"),
	}
}

// Enqueue starts generation for a job in a terminal, non-cancelled state.
func (s *Service) Enqueue(ctx context.Context, jobID string) error {
	j, _, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.Status.Terminal() || j.Status == job.StatusCancelled {
		return &errs.InvalidStateError{Current: string(j.Status), Attempted: "artifact generation"}
	}
	if j.ArtifactStatus == job.ArtifactGenerating {
		return &errs.InvalidStateError{Current: string(job.ArtifactGenerating), Attempted: "artifact generation"}
	}
	if err := s.jobs.SetArtifactState(ctx, jobID, job.ArtifactGenerating, ""); err != nil {
		return err
	}

	if s.tasks == nil {
		go func() {
			if err := s.build(context.Background(), jobID); err != nil {
				s.log.LogErrorf("build artifact for job %s: %v", jobID, err)
			}
		}()
		return nil
	}

	payload, _ := json.Marshal(Payload{JobID: jobID})
	task := asynq.NewTask(tasks.TaskTypeArtifact, payload)
	if err := s.tasks.Enqueue(task, "default", s.maxRetries); err != nil {
		_ = s.jobs.SetArtifactState(ctx, jobID, job.ArtifactFailed, "")
		return err
	}
	s.log.LogInfof("enqueued artifact build for job %s", jobID)
	return nil
}

// HandleTask is the asynq handler for artifact builds.
func (s *Service) HandleTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	return s.build(ctx, p.JobID)
}

func (s *Service) build(ctx context.Context, jobID string) error {
	if err := s.buildZip(ctx, jobID); err != nil {
		_ = s.jobs.SetArtifactState(ctx, jobID, job.ArtifactFailed, "")
		return err
	}
	return nil
}

func (s *Service) buildZip(ctx context.Context, jobID string) error {
	j, cfg, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	summary, err := s.results.Summary(ctx, jobID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, bucket := range []storage.Bucket{storage.BucketRaw, storage.BucketAnnotated} {
		names, err := s.files.ListFiles(jobID, bucket)
		if err != nil {
			return err
		}
		for _, name := range names {
			data, err := s.files.Read(jobID, bucket, name)
			if err != nil {
				return err
			}
			w, err := zw.Create(string(bucket) + "/" + name)
			if err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
		}
	}

	cw, err := zw.Create("results.csv")
	if err != nil {
		return err
	}
	if err := s.results.WriteCSV(ctx, cw, jobID); err != nil {
		return err
	}

	meta := map[string]interface{}{
		"job":          j,
		"config":       cfg,
		"summary":      summary,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}
	mw, err := zw.Create("metadata.json")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}

	path, err := s.files.Write(jobID, storage.BucketArtifacts, zipName, buf.Bytes())
	if err != nil {
		return err
	}
	if err := s.jobs.SetArtifactState(ctx, jobID, job.ArtifactReady, path); err != nil {
		return err
	}
	s.log.LogInfof("artifact ready for job %s (%d bytes)", jobID, buf.Len())
	return nil
}
