package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	DataDir  string

	RedisAddr     string
	RedisPassword string

	// PostgresDSN selects the durable store; empty means in-memory.
	PostgresDSN string

	// CollabBaseURL is where the fetcher/scanner/extractor/keyword
	// collaborator services live.
	CollabBaseURL string

	WorkerCount         int
	JobTimeout          time.Duration
	TimeoutGrace        time.Duration
	CancelPollInterval  time.Duration
	PendingPollInterval time.Duration

	SnippetMaxLen     int
	MaxResultPageSize int

	// FailureThreshold is the fraction of failed documents at which a job
	// flips from completed to failed. 1.0 means every document must fail.
	FailureThreshold float64

	RetentionRaw       time.Duration
	RetentionAnnotated time.Duration
	RetentionArtifacts time.Duration
	SweepInterval      time.Duration

	TaskMaxRetries int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// fileOverlay is the optional YAML config file. Only the tunables live here;
// connection endpoints stay in the environment.
type fileOverlay struct {
	WorkerCount        *int     `yaml:"worker_count"`
	JobTimeout         *string  `yaml:"job_timeout"`
	FailureThreshold   *float64 `yaml:"failure_threshold"`
	SnippetMaxLen      *int     `yaml:"snippet_max_len"`
	MaxResultPageSize  *int     `yaml:"max_result_page_size"`
	RetentionRaw       *string  `yaml:"retention_raw"`
	RetentionAnnotated *string  `yaml:"retention_annotated"`
	RetentionArtifacts *string  `yaml:"retention_artifacts"`
	SweepInterval      *string  `yaml:"sweep_interval"`
}

func Load() Config {
	cfg := Config{
		AppEnv:   getenv("APP_ENV", "development"),
		HTTPAddr: getenv("HTTP_ADDR", ":8082"),
		DataDir:  getenv("DATA_DIR", "./data"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		PostgresDSN:   os.Getenv("PG_DSN"),
		CollabBaseURL: getenv("COLLAB_BASE_URL", "http://127.0.0.1:9090"),

		WorkerCount:         getenvInt("WORKER_COUNT", 3),
		JobTimeout:          getenvDuration("JOB_TIMEOUT", 30*time.Minute),
		TimeoutGrace:        getenvDuration("TIMEOUT_GRACE", 5*time.Second),
		CancelPollInterval:  getenvDuration("CANCEL_POLL_INTERVAL", 2*time.Second),
		PendingPollInterval: getenvDuration("PENDING_POLL_INTERVAL", 10*time.Second),

		SnippetMaxLen:     getenvInt("SNIPPET_MAX_LEN", 300),
		MaxResultPageSize: getenvInt("MAX_RESULT_PAGE_SIZE", 1000),
		FailureThreshold:  1.0,

		RetentionRaw:       getenvDuration("RETENTION_RAW", 30*24*time.Hour),
		RetentionAnnotated: getenvDuration("RETENTION_ANNOTATED", 90*24*time.Hour),
		RetentionArtifacts: getenvDuration("RETENTION_ARTIFACTS", 30*24*time.Hour),
		SweepInterval:      getenvDuration("SWEEP_INTERVAL", time.Hour),

		TaskMaxRetries: getenvInt("TASK_MAX_RETRIES", 3),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			panic(fmt.Errorf("config file %s: %w", path, err))
		}
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	return cfg
}

func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f fileOverlay
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}
	if f.WorkerCount != nil {
		c.WorkerCount = *f.WorkerCount
	}
	if f.FailureThreshold != nil {
		c.FailureThreshold = *f.FailureThreshold
	}
	if f.SnippetMaxLen != nil {
		c.SnippetMaxLen = *f.SnippetMaxLen
	}
	if f.MaxResultPageSize != nil {
		c.MaxResultPageSize = *f.MaxResultPageSize
	}
	for _, d := range []struct {
		src *string
		dst *time.Duration
	}{
		{f.JobTimeout, &c.JobTimeout},
		{f.RetentionRaw, &c.RetentionRaw},
		{f.RetentionAnnotated, &c.RetentionAnnotated},
		{f.RetentionArtifacts, &c.RetentionArtifacts},
		{f.SweepInterval, &c.SweepInterval},
	} {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("bad duration %q: %w", *d.src, err)
		}
		*d.dst = parsed
	}
	return nil
}
