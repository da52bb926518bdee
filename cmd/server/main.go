// Package main is the entry point for the MindFlow server. It wires the
// library, the handle registry, the highlight signal and the ingestion
// pipeline together and serves them over HTTP and websockets.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/blob"
	"github.com/dharsanguruparan/mindflow/internal/config"
	"github.com/dharsanguruparan/mindflow/internal/database"
	"github.com/dharsanguruparan/mindflow/internal/events"
	"github.com/dharsanguruparan/mindflow/internal/highlight"
	"github.com/dharsanguruparan/mindflow/internal/library"
	"github.com/dharsanguruparan/mindflow/internal/logger"
	"github.com/dharsanguruparan/mindflow/internal/processing"
	"github.com/dharsanguruparan/mindflow/internal/queue"
	"github.com/dharsanguruparan/mindflow/internal/repository"
	"github.com/dharsanguruparan/mindflow/internal/s3storage"
	"github.com/dharsanguruparan/mindflow/internal/server"
	"github.com/dharsanguruparan/mindflow/internal/signing"
	"github.com/dharsanguruparan/mindflow/internal/storage"
	"github.com/dharsanguruparan/mindflow/internal/worker"
)

func main() {
	// Step 1: load configuration from environment variables (Go prefers
	// returning values + errors rather than throwing exceptions).
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Production: cfg.Production, FilePath: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	// Step 2: create a context that cancels when SIGINT/SIGTERM arrive.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	bus := events.NewBus(log)
	defer bus.Close()

	backend, err := newBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	handles := blob.NewRegistry(backend, blob.WithLogger(log), blob.WithTimeout(cfg.BlobTimeout))
	defer handles.Close()

	lib := library.New(handles,
		library.WithLogger(log),
		library.WithPublisher(bus),
		library.WithDuplicatePolicy(library.ParseDuplicatePolicy(cfg.DuplicatePolicy)),
	)
	// Close revokes every handle and announces the empty library before the
	// bus and the registry go away.
	defer lib.Close()

	hl := highlight.New(bus, log)

	var bg sync.WaitGroup
	defer bg.Wait()
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	if cfg.DatabaseURL != "" {
		if err := startCatalog(ctx, bgCtx, cfg, lib, bus, log, &bg); err != nil {
			return err
		}
	}

	if cfg.SeedSamples && lib.AddSampleDocuments() {
		log.Info("sample documents added", zap.Int("documents", lib.Len()))
	}

	client := processing.NewClient(cfg.ProcessingURL,
		processing.WithTimeout(cfg.ProcessingTimeout),
		processing.WithDefinitionTTL(cfg.DefinitionTTL),
		processing.WithLogger(log),
	)
	jobs := processing.NewJobStore(cfg.JobTTL)
	runner := processing.NewRunner(processing.NewIngestor(client, lib, log), jobs, log)

	dispatch, err := newDispatcher(bgCtx, cfg, runner, log, &bg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Deps{
		Library:     lib,
		Handles:     handles,
		Signal:      hl,
		Bus:         bus,
		Jobs:        jobs,
		Dispatcher:  dispatch,
		Definitions: client,
		Concepts:    client,
		Signer:      signing.NewSigner(cfg.SigningSecret),
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	log.Info("mindflow starting",
		zap.String("address", cfg.Address),
		zap.String("blob_backend", cfg.BlobBackend),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("catalog", cfg.DatabaseURL != ""),
		zap.String("upload_dir", srv.UploadDir()))

	// Block until the HTTP server exits.
	err = srv.Serve(ctx)
	cancelBg()
	bg.Wait()
	return err
}

// startCatalog restores the library from Postgres and mirrors every later
// change back. The mirror goroutine owns the pool and closes it when the
// subscription ends.
func startCatalog(ctx, bgCtx context.Context, cfg *config.Config, lib *library.Store, bus *events.Bus, log *zap.Logger, bg *sync.WaitGroup) error {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("ensure schema: %w", err)
	}
	catalog := repository.NewCatalog(pool, log)
	// Restore runs before the subscription so restored documents are not
	// written straight back.
	restored, err := catalog.Restore(ctx, lib)
	if err != nil {
		pool.Close()
		return fmt.Errorf("restore catalog: %w", err)
	}
	log.Info("catalog restored", zap.Int("documents", restored))
	envs, err := bus.Subscribe(bgCtx, events.TopicDocuments)
	if err != nil {
		pool.Close()
		return fmt.Errorf("subscribe catalog: %w", err)
	}
	bg.Add(1)
	go func() {
		defer bg.Done()
		defer pool.Close()
		// Writes in flight at shutdown still get to finish.
		catalog.Mirror(context.WithoutCancel(bgCtx), envs)
	}()
	return nil
}

// newBackend picks where original uploads live.
func newBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (blob.Backend, error) {
	if cfg.BlobBackend != "s3" {
		return storage.NewMemoryBackend(cfg.BlobMemoryLimit), nil
	}
	store, err := s3storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init s3 storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	log.Info("original files stored in s3", zap.String("endpoint", cfg.S3Endpoint), zap.String("bucket", cfg.S3Bucket))
	return store, nil
}

// newDispatcher returns the in-process pool, or an asynq queue with its
// worker running in this process when Redis is configured. The library is
// process-local, so the worker cannot live anywhere else.
func newDispatcher(ctx context.Context, cfg *config.Config, runner *processing.Runner, log *zap.Logger, bg *sync.WaitGroup) (server.Dispatcher, error) {
	if cfg.RedisAddr == "" {
		pool := processing.NewPool(runner, cfg.ProcessingPool, log)
		pool.Start(ctx)
		bg.Add(1)
		go func() {
			defer bg.Done()
			pool.Wait()
		}()
		return pool, nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Logger:      log.Named("asynq").Sugar(),
	})
	if err := srv.Start(worker.NewProcessor(runner, log).Handler()); err != nil {
		return nil, fmt.Errorf("start queue worker: %w", err)
	}
	dispatch := queue.NewDispatcher(asynq.NewClient(redisOpt))
	bg.Add(1)
	go func() {
		defer bg.Done()
		<-ctx.Done()
		srv.Shutdown()
		if err := dispatch.Close(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("close queue client", zap.Error(err))
		}
	}()
	return dispatch, nil
}
