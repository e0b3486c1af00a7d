package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"docwatch/internal/config"
	"docwatch/internal/core/artifact"
	"docwatch/internal/core/job"
	"docwatch/internal/core/pipeline"
	"docwatch/internal/core/result"
	"docwatch/internal/core/runner"
	"docwatch/internal/core/storage"
	"docwatch/internal/logger"
	"docwatch/internal/platform/collab"
	rds "docwatch/internal/platform/redis"
	tasks "docwatch/internal/platform/tasks"
	"docwatch/internal/server"
	memstore "docwatch/internal/store/memory"
	pgstore "docwatch/internal/store/postgres"
	"docwatch/internal/worker"
)

// dataStore is what both persistence backends provide.
type dataStore interface {
	job.Store
	result.Store
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log.Printf("[docwatch] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")

	// Persistence store: Postgres when configured, in-memory otherwise.
	var store dataStore
	if cfg.PostgresDSN != "" {
		pg, err := pgstore.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			log.Fatal(err)
		}
		defer pg.Close()
		store = pg
		logr.LogInfo("using postgres store")
	} else {
		store = memstore.New()
		logr.LogWarn("PG_DSN not set, using in-memory store (state is lost on restart)")
	}

	// Redis is optional; without it status caching and the artifact queue
	// degrade to in-process behavior.
	var redisSvc *rds.Service
	var taskClient *tasks.Client
	var asynqServer *asynq.Server
	if cfg.RedisAddr != "" {
		var err error
		redisSvc, err = rds.New(rds.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Fatal(err)
		}
		defer redisSvc.Close()
		taskClient = tasks.New(redisSvc)
		asynqServer = asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
			Concurrency: 2,
			Queues:      map[string]int{"default": 1},
		})
	}

	// Collaborator services behind one HTTP adapter.
	collabClient := collab.New(cfg.CollabBaseURL)

	// Core services.
	files := storage.NewManager(cfg.DataDir, storage.Retention{
		Raw:       cfg.RetentionRaw,
		Annotated: cfg.RetentionAnnotated,
		Artifacts: cfg.RetentionArtifacts,
	})
	jobSvc := job.NewService(store, collabClient, redisSvc)
	resultSvc := result.NewService(store, cfg.MaxResultPageSize)
	executor := pipeline.NewExecutor(collabClient, collabClient, collabClient, store, files,
		collabClient, cfg.SnippetMaxLen, cfg.FailureThreshold)
	artifactSvc := artifact.New(jobSvc, resultSvc, files, taskClient, cfg.TaskMaxRetries)

	// Scheduler: bounded pool plus hard per-job deadline.
	limiter := runner.NewLimiter(cfg.WorkerCount)
	jobRunner := runner.New(jobSvc, executor, limiter, runner.Options{
		Timeout:    cfg.JobTimeout,
		Grace:      cfg.TimeoutGrace,
		CancelPoll: cfg.CancelPollInterval,
		PollEvery:  cfg.PendingPollInterval,
	})
	jobSvc.SetNotifier(jobRunner.Notify)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	jobRunner.Start(rootCtx)

	// Artifact worker.
	if asynqServer != nil {
		mux := worker.NewMux()
		mux.HandleFunc(tasks.TaskTypeArtifact, artifactSvc.HandleTask)
		go func() {
			if err := asynqServer.Start(mux.Mux()); err != nil {
				log.Printf("[worker] stopped: %v\n", err)
			}
		}()
	}

	// Retention sweeps.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				deleted := files.SweepExpired()
				logr.LogDebugf("retention sweep removed %v", deleted)
			}
		}
	}()

	// HTTP server.
	app := fiber.New(fiber.Config{
		AppName: "Docwatch Engine",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	// Serve generated artifacts from DATA_DIR under /files.
	app.Static("/files", cfg.DataDir)

	deps := server.Dependencies{
		Jobs:      jobSvc,
		Results:   resultSvc,
		Artifacts: artifactSvc,
		Storage:   files,
		Redis:     redisSvc,
		Store:     store,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	go func() {
		time.Sleep(2 * time.Second)
		healthHandler.SetReady()
	}()

	// Graceful shutdown.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		rootCancel()
		jobRunner.Stop()
		if asynqServer != nil {
			asynqServer.Shutdown()
		}
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
