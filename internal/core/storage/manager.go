package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docwatch/internal/logger"
)

// Bucket is one of the three per-job storage areas.
type Bucket string

const (
	BucketRaw       Bucket = "raw"
	BucketAnnotated Bucket = "annotated"
	BucketArtifacts Bucket = "artifacts"
)

var allBuckets = []Bucket{BucketRaw, BucketAnnotated, BucketArtifacts}

// Retention holds per-bucket maximum file age for scheduled sweeps.
type Retention struct {
	Raw       time.Duration
	Annotated time.Duration
	Artifacts time.Duration
}

func (r Retention) age(b Bucket) time.Duration {
	switch b {
	case BucketRaw:
		return r.Raw
	case BucketAnnotated:
		return r.Annotated
	default:
		return r.Artifacts
	}
}

type BucketStats struct {
	SizeBytes int64 `json:"size_bytes"`
	FileCount int   `json:"file_count"`
	JobCount  int   `json:"job_count"`
}

type CleanupCounts struct {
	Raw       int `json:"raw_deleted"`
	Annotated int `json:"annotated_deleted"`
	Artifacts int `json:"artifacts_deleted"`
}

// Manager owns the on-disk layout: <base>/jobs/<job-id>/<bucket>/<file>.
type Manager struct {
	baseDir   string
	retention Retention
	log       *logger.Logger
}

func NewManager(baseDir string, retention Retention) *Manager {
	return &Manager{baseDir: baseDir, retention: retention, log: logger.New("StorageManager")}
}

func (m *Manager) jobsRoot() string { return filepath.Join(m.baseDir, "jobs") }

// JobPath returns the directory of one bucket for one job.
func (m *Manager) JobPath(jobID string, b Bucket) string {
	return filepath.Join(m.jobsRoot(), jobID, string(b))
}

// Write stores bytes under the job's bucket, creating directories as needed.
// The filename is flattened to its base to keep writes inside the bucket.
func (m *Manager) Write(jobID string, b Bucket, filename string, data []byte) (string, error) {
	dir := m.JobPath(jobID, b)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create bucket dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (m *Manager) Read(jobID string, b Bucket, filename string) ([]byte, error) {
	return os.ReadFile(filepath.Join(m.JobPath(jobID, b), filepath.Base(filename)))
}

// ListFiles returns the filenames in a job bucket. A missing bucket is empty,
// not an error.
func (m *Manager) ListFiles(jobID string, b Bucket) ([]string, error) {
	entries, err := os.ReadDir(m.JobPath(jobID, b))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Stats walks the job tree and reports per-bucket usage.
func (m *Manager) Stats() (map[Bucket]BucketStats, error) {
	stats := make(map[Bucket]BucketStats, len(allBuckets))
	for _, b := range allBuckets {
		stats[b] = BucketStats{}
	}
	jobs, err := os.ReadDir(m.jobsRoot())
	if os.IsNotExist(err) {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	for _, jobDir := range jobs {
		if !jobDir.IsDir() {
			continue
		}
		for _, b := range allBuckets {
			entries, err := os.ReadDir(m.JobPath(jobDir.Name(), b))
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			s := stats[b]
			seen := false
			for _, e := range entries {
				info, err := e.Info()
				if err != nil || e.IsDir() {
					continue
				}
				s.FileCount++
				s.SizeBytes += info.Size()
				seen = true
			}
			if seen {
				s.JobCount++
			}
			stats[b] = s
		}
	}
	return stats, nil
}

// Cleanup deletes a job's stored files. Re-running on an already-clean job
// reports zero deletions and never errors.
func (m *Manager) Cleanup(jobID string, includeArtifacts bool) (CleanupCounts, error) {
	var counts CleanupCounts
	buckets := []Bucket{BucketRaw, BucketAnnotated}
	if includeArtifacts {
		buckets = append(buckets, BucketArtifacts)
	}
	for _, b := range buckets {
		n, err := m.removeAll(m.JobPath(jobID, b))
		if err != nil {
			return counts, err
		}
		switch b {
		case BucketRaw:
			counts.Raw = n
		case BucketAnnotated:
			counts.Annotated = n
		case BucketArtifacts:
			counts.Artifacts = n
		}
	}
	// Drop the job dir once everything under it is gone.
	if includeArtifacts {
		_ = os.Remove(filepath.Join(m.jobsRoot(), jobID))
	}
	return counts, nil
}

func (m *Manager) removeAll(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return deleted, err
	}
	return deleted, nil
}

// CleanupOlderThan removes files in one bucket across all jobs whose mtime
// exceeds age. Used by the retention sweep.
func (m *Manager) CleanupOlderThan(b Bucket, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)
	jobs, err := os.ReadDir(m.jobsRoot())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, jobDir := range jobs {
		if !jobDir.IsDir() {
			continue
		}
		dir := m.JobPath(jobDir.Name(), b)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
					return deleted, err
				}
				deleted++
			}
		}
	}
	return deleted, nil
}

// SweepExpired runs the retention pass over every bucket.
func (m *Manager) SweepExpired() map[Bucket]int {
	out := make(map[Bucket]int, len(allBuckets))
	for _, b := range allBuckets {
		age := m.retention.age(b)
		if age <= 0 {
			continue
		}
		n, err := m.CleanupOlderThan(b, age)
		if err != nil {
			m.log.LogErrorf("retention sweep of %s: %v", b, err)
		}
		out[b] = n
	}
	return out
}
