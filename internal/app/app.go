package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"coverscan/features/barcode"
	"coverscan/features/job"
	"coverscan/features/match"
	"coverscan/features/stats"
	"coverscan/features/workers"
	"coverscan/internal/adapter/clip"
	wstore "coverscan/internal/adapter/weaviate"
	"coverscan/internal/books"
	"coverscan/internal/collections"
	"coverscan/internal/config"
	"coverscan/internal/covers"
	"coverscan/internal/feature"
	"coverscan/internal/index"
	"coverscan/internal/metadata"
	"coverscan/internal/middleware"
	"coverscan/internal/worker"
)

const (
	BookWorkerID  = "book_worker"
	MergeWorkerID = "merge_collection_worker"

	shutdownTimeout = 30 * time.Second
)

// TaskPublisher is satisfied by *nsq.Producer.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Options overrides the components that reach outside the process. Nil
// fields fall back to the configured implementation.
type Options struct {
	Extractor feature.Extractor
	Metadata  worker.MetadataFetcher
	Covers    worker.CoverDownloader
}

type App struct {
	Handler     http.Handler
	Registry    *worker.Registry
	Jobs        *job.Service
	Index       index.Index
	Nudger      *worker.Nudger
	Invalidator *match.CacheInvalidator

	cfg       *config.Config
	reaper    *worker.Reaper
	scheduler *worker.Scheduler
	closers   []io.Closer
	logger    *slog.Logger
}

func New(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	wClient *weaviate.Client,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts *Options,
) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	// Feature extraction
	extractor := opts.Extractor
	if extractor == nil {
		extractor = NewExtractor(cfg)
	}

	// Reference index
	idx, err := BuildIndex(ctx, cfg, db, wClient, extractor.Dimension(), logger)
	if err != nil {
		return nil, err
	}
	a.Index = idx

	// Storage
	bookRepo := books.NewPostgresRepo(db)
	coverStore, err := covers.NewStore(cfg.CoversDir)
	if err != nil {
		return nil, fmt.Errorf("cover store: %w", err)
	}

	// Intake queue
	var jobRepo job.Repository
	switch cfg.QueueBackend {
	case config.QueueBackendBolt:
		boltRepo, err := job.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, boltRepo)
		jobRepo = boltRepo
	default:
		jobRepo = job.NewPostgresRepo(db)
	}
	jobService := job.NewService(jobRepo, taskPub, logger, cfg.JobMaxAttempts)
	jobHandler := job.NewHandler(jobService)
	a.Jobs = jobService

	// Feature: Match
	matchService := match.NewService(extractor, idx, bookRepo, match.Config{
		TopK:        cfg.MatchTopK,
		MaxDistance: cfg.MatchMaxDistance,
		CacheTTL:    cfg.BookCacheTTL,
	}, logger)
	scanLogger, scanFile, err := match.NewFileScanLogger(cfg.ScanLogPath)
	if err != nil {
		logger.Warn("failed to create scan logger, falling back to stdout", "error", err)
		scanLogger = match.NewScanLogger(os.Stdout)
	} else {
		a.closers = append(a.closers, scanFile)
	}
	matchHandler := match.NewHandler(matchService, coverStore, scanLogger, cfg.MaxUploadSizeMB<<20)
	a.Invalidator = match.NewCacheInvalidator(matchService)

	// Feature: Barcode
	barcodeHandler := barcode.NewHandler(barcode.NewService(bookRepo, idx, jobService))

	// Workers
	meta := opts.Metadata
	if meta == nil {
		meta = metadata.NewChain(
			metadata.NewBreaker(metadata.NewGoogleBooks(cfg.GoogleBooksURL, cfg.FetchTimeout), 5, time.Minute),
			metadata.NewBreaker(metadata.NewOpenLibrary(cfg.OpenLibraryURL, cfg.FetchTimeout), 5, time.Minute),
		)
	}
	coverFetcher := opts.Covers
	if coverFetcher == nil {
		coverFetcher = metadata.NewCoverFetcher(metadata.DefaultCoverSources(), cfg.FetchTimeout)
	}

	loopCfg := func(id string, kind job.Kind) worker.LoopConfig {
		return worker.LoopConfig{
			ID:                id,
			Kind:              kind,
			MaxAttempts:       cfg.JobMaxAttempts,
			HeartbeatInterval: cfg.HeartbeatInterval,
			PollMin:           cfg.WorkerPollMin,
			PollMax:           cfg.WorkerPollMax,
		}
	}
	bookProcessor := worker.NewBookProcessor(meta, coverFetcher, coverStore, bookRepo, extractor, idx, taskPub, logger)
	mergeProcessor := worker.NewMergeProcessor(collections.NewPostgresMerger(db), logger)

	registry := worker.NewRegistry(logger)
	if err := registry.Register(BookWorkerID, worker.NewLoop(loopCfg(BookWorkerID, job.KindFetch), jobRepo, bookProcessor, taskPub, logger)); err != nil {
		return nil, err
	}
	if err := registry.Register(MergeWorkerID, worker.NewLoop(loopCfg(MergeWorkerID, job.KindMerge), jobRepo, mergeProcessor, taskPub, logger)); err != nil {
		return nil, err
	}
	a.Registry = registry
	a.Nudger = worker.NewNudger(registry)
	a.reaper = worker.NewReaper(jobRepo, cfg.HeartbeatTimeout, func() {
		registry.Wake(job.KindFetch)
		registry.Wake(job.KindMerge)
	}, logger)
	a.scheduler = worker.NewScheduler(jobService, cfg.MergeInterval, logger)
	workersHandler := workers.NewHandler(registry)

	// Feature: Stats
	statsHandler := stats.NewHandler(bookRepo, idx, jobService)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}
	limit := middleware.RateLimit(cfg.RateLimitPerMinute)

	// Routes
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(enableCORS(h)))
	}
	handleLimited := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(limit(enableCORS(h))))
	}

	handleLimited("POST /match", matchHandler.Match)
	handle("GET /cover/{filename}", matchHandler.Cover)
	handleLimited("POST /barcode", barcodeHandler.Scan)

	for _, prefix := range []string{"", "/admin/api"} {
		handle("GET "+prefix+"/workers/status", workersHandler.Status)
		handle("POST "+prefix+"/workers/{id}/start", workersHandler.Start)
		handle("POST "+prefix+"/workers/{id}/stop", workersHandler.Stop)
	}

	handle("GET /jobs", jobHandler.List)
	handle("GET /jobs/{id}", jobHandler.Get)
	handle("POST /jobs/{id}/retry", jobHandler.Retry)

	handle("GET /stats", statsHandler.GetStats)
	handle("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {})

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

func NewExtractor(cfg *config.Config) feature.Extractor {
	maxPixels := cfg.MaxImageMegapixels * 1_000_000
	if cfg.Extractor == config.ExtractorCLIP {
		return clip.NewClient(cfg.CLIPURL, cfg.CLIPDimension, maxPixels)
	}
	return feature.NewDescriptor(feature.WithMaxPixels(maxPixels))
}

// BuildIndex returns the configured reference index. The flat backend is
// warmed from its Postgres snapshot before it is returned.
func BuildIndex(ctx context.Context, cfg *config.Config, db *sql.DB, wClient *weaviate.Client, dim int, logger *slog.Logger) (index.Index, error) {
	if cfg.IndexBackend == config.IndexBackendWeaviate {
		if wClient == nil {
			return nil, fmt.Errorf("%w: weaviate index backend needs a weaviate client", config.ErrInvalidConfig)
		}
		return wstore.NewIndex(wClient, dim), nil
	}

	durable := index.NewDurable(index.NewFlat(dim), index.NewPostgresSnapshot(db))
	n, err := durable.Warm(ctx)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "reference index warmed", "vectors", n, "dimension", dim)
	return durable, nil
}

// Run serves HTTP and drives the background loops until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, cancelBG := context.WithCancel(ctx)
	defer cancelBG()
	go a.reaper.Run(bgCtx)
	go a.scheduler.Run(bgCtx)

	if a.cfg.WorkersAutostart {
		a.Registry.StartAll()
	}

	consumers := a.connectConsumers()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "port", a.cfg.ServerPort)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", "error", err)
	}
	for _, c := range consumers {
		c.Stop()
		<-c.StopChan
	}
	cancelBG()
	a.Registry.StopAll(shutdownCtx)
	a.Close()
	return serveErr
}

// connectConsumers subscribes to the intake topics. NSQ is an accelerator
// here: workers still poll, so a failed subscription is logged and skipped.
func (a *App) connectConsumers() []*nsq.Consumer {
	if a.cfg.NSQLookupd == "" {
		return nil
	}
	subs := []struct {
		topic   string
		channel string
		handler nsq.Handler
	}{
		{config.TopicIntakeEnqueued, "workers", a.Nudger},
		{config.TopicIntakeIndexed, "match-cache", a.Invalidator},
	}

	var out []*nsq.Consumer
	for _, s := range subs {
		consumer, err := nsq.NewConsumer(s.topic, s.channel, nsq.NewConfig())
		if err != nil {
			a.logger.Error("failed to create NSQ consumer", "topic", s.topic, "error", err)
			continue
		}
		consumer.AddHandler(s.handler)
		if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
			a.logger.Error("failed to connect to NSQLookupd", "topic", s.topic, "error", err)
			consumer.Stop()
			continue
		}
		a.logger.Info("NSQ consumer connected", "topic", s.topic, "channel", s.channel)
		out = append(out, consumer)
	}
	return out
}

// Close releases resources opened by New.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
