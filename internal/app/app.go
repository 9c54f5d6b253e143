package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/features/job"
	"github.com/DAJ8112/Yanck/features/stats"
	"github.com/DAJ8112/Yanck/internal/adapter/badger"
	"github.com/DAJ8112/Yanck/internal/adapter/gemini"
	"github.com/DAJ8112/Yanck/internal/adapter/openai"
	wadapter "github.com/DAJ8112/Yanck/internal/adapter/weaviate"
	"github.com/DAJ8112/Yanck/internal/blob"
	"github.com/DAJ8112/Yanck/internal/config"
	"github.com/DAJ8112/Yanck/internal/embedding"
	"github.com/DAJ8112/Yanck/internal/extract"
	"github.com/DAJ8112/Yanck/internal/ingest"
	"github.com/DAJ8112/Yanck/internal/middleware"
	"github.com/DAJ8112/Yanck/internal/retrieval"
	"github.com/DAJ8112/Yanck/internal/settings"
	"github.com/DAJ8112/Yanck/internal/text"
	"github.com/DAJ8112/Yanck/internal/vector"
	"github.com/DAJ8112/Yanck/internal/worker"
)

// Options overrides collaborators, mainly for tests.
type Options struct {
	Provider embedding.Provider
}

type App struct {
	Handler    http.Handler
	Documents  *document.Service
	Controller *ingest.Controller
	Consumer   *worker.IngestConsumer
	Sweeper    *ingest.Sweeper
	Indexes    *vector.Registry

	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

func New(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	taskPub document.EventPublisher,
	wClient *weaviate.Client,
	logger *slog.Logger,
	opts *Options,
) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo, cfg.RetrievalMaxK)
	if err := settingsService.Seed(ctx, cfg.GeminiAPIKey); err != nil {
		logger.Warn("failed to seed gemini api key", "error", err)
	}
	settingsHandler := settings.NewHandler(settingsService)

	// Embeddings
	var provider embedding.Provider
	if opts != nil && opts.Provider != nil {
		provider = opts.Provider
	} else {
		p, err := a.newProvider(settingsService)
		if err != nil {
			return nil, err
		}
		provider = p
	}
	embedder, err := embedding.NewClient(provider, embedding.Options{
		BatchSize:      cfg.EmbeddingBatchSize,
		Dimensions:     cfg.EmbeddingDimensions,
		MaxAttempts:    cfg.EmbeddingMaxAttempts,
		BaseDelay:      cfg.EmbeddingBackoff(),
		RequestTimeout: cfg.EmbeddingTimeout(),
		RateLimit:      cfg.EmbeddingRateLimit,
		Concurrency:    cfg.EmbeddingConcurrency,
		Logger:         logger,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	a.closers = append(a.closers, func() error { embedder.Close(); return nil })

	// Persistence
	documentRepo := document.NewPostgresRepo(db)
	jobRepo := job.NewPostgresRepo(db)
	blobs, err := blob.NewFileStore(cfg.UploadDir)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("blob store: %w", err)
	}

	// Vector index
	registry, err := a.newRegistry(documentRepo, wClient)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Indexes = registry

	// Feature: Document
	documentService := document.NewService(documentRepo, blobs, taskPub, registry)
	documentHandler := document.NewHandler(documentService, cfg.MaxUploadSizeMB)
	a.Documents = documentService

	// Feature: Job
	jobService := job.NewService(jobRepo, documentService)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(documentRepo, jobRepo, registry)

	// Ingestion
	controller, err := ingest.NewController(documentRepo, blobs, extract.New(), embedder, registry, jobService, ingestOptions(cfg, logger))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("ingestion controller: %w", err)
	}
	a.Controller = controller
	a.Consumer = worker.NewIngestConsumer(controller, touchInterval, logger)
	a.Sweeper = ingest.NewSweeper(documentRepo, documentService, registry, ingest.SweeperOptions{
		Interval:     cfg.SweepInterval(),
		PendingAfter: cfg.PendingRepublishAfter(),
		Logger:       logger,
	})

	// Feature: Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	a.closers = append(a.closers, queryLogger.Close)
	retrievalService := retrieval.NewService(embedder, registry, documentRepo, settingsService, queryLogger, retrieval.Options{
		DefaultK: cfg.RetrievalDefaultK,
		MaxK:     cfg.RetrievalMaxK,
	})
	retrievalHandler := retrieval.NewHandler(retrievalService, registry)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /tenants/{tenant}/documents", middleware.CorrelationID(enableCORS(documentHandler.Upload)))
	mux.Handle("GET /tenants/{tenant}/documents", middleware.CorrelationID(enableCORS(documentHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Get)))
	mux.Handle("DELETE /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Delete)))
	mux.Handle("POST /documents/{id}/resubmit", middleware.CorrelationID(enableCORS(documentHandler.Resubmit)))

	mux.Handle("POST /tenants/{tenant}/retrieve", middleware.CorrelationID(enableCORS(retrievalHandler.Retrieve)))
	mux.Handle("POST /tenants/{tenant}/index/rebuild", middleware.CorrelationID(enableCORS(retrievalHandler.RebuildIndex)))
	mux.Handle("GET /tenants/{tenant}/stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))
	mux.Handle("GET /tenants/{tenant}/settings", middleware.CorrelationID(enableCORS(settingsHandler.GetTenantSettings)))
	mux.Handle("PUT /tenants/{tenant}/settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateTenantSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

// touchInterval keeps in-flight messages well inside nsqd's visibility timeout.
const touchInterval = 20 * time.Second

func ingestOptions(cfg *config.Config, logger *slog.Logger) ingest.Options {
	return ingest.Options{
		Chunker:     text.NewChunker(cfg.ChunkMaxChars, cfg.ChunkOverlapChars, cfg.ChunkLookbackChars),
		JobTimeout:  cfg.JobTimeout(),
		Lease:       cfg.Lease(),
		MaxAttempts: cfg.IngestionMaxAttempts,
		Logger:      logger,
	}
}

func (a *App) newProvider(set *settings.Service) (embedding.Provider, error) {
	switch a.cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		p, err := openai.NewEmbedder(a.cfg.EmbeddingBaseURL, a.cfg.EmbeddingAPIKey, a.cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		return p, nil
	case config.ProviderHash:
		return embedding.NewHashProvider(a.cfg.EmbeddingDimensions), nil
	default:
		p := gemini.NewDynamicEmbedder(set, a.cfg.EmbeddingModel)
		a.closers = append(a.closers, p.Close)
		return p, nil
	}
}

func (a *App) newRegistry(source vector.Source, wClient *weaviate.Client) (*vector.Registry, error) {
	regOpts := vector.RegistryOptions{
		MaxResident: a.cfg.IndexMaxResidentTenants,
		Logger:      a.logger,
	}

	var factory vector.Factory
	switch a.cfg.VectorBackend {
	case config.BackendWeaviate:
		if wClient == nil {
			return nil, fmt.Errorf("%w: weaviate backend selected without a client", config.ErrInvalid)
		}
		factory = wadapter.Factory(wClient)
	default:
		dims := a.cfg.EmbeddingDimensions
		factory = func(string) (vector.Index, error) { return vector.NewMemoryIndex(dims), nil }

		snapshots, err := badger.Open(a.cfg.IndexSnapshotDir)
		if err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
		a.closers = append(a.closers, snapshots.Close)
		regOpts.Snapshots = snapshots
	}

	return vector.NewRegistry(factory, source, regOpts), nil
}

// Run serves HTTP and consumes ingestion jobs, per the ENABLE_API and
// ENABLE_WORKER toggles, until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	if a.cfg.EnableWorker {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer consumer.Stop()
		go a.Sweeper.Run(ctx)
	}

	var srv *http.Server
	if a.cfg.EnableAPI {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
			Handler:           a.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("server starting", "port", a.cfg.ServerPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if srv != nil {
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
	}
	return runErr
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = max(a.cfg.IngestionConcurrency, 1)
	nsqCfg.MsgTimeout = time.Minute
	nsqCfg.DefaultRequeueDelay = 15 * time.Second
	nsqCfg.MaxAttempts = 10

	consumer, err := nsq.NewConsumer(config.TopicIngestDocument, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddConcurrentHandlers(a.Consumer, max(a.cfg.IngestionConcurrency, 1))

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("nsq connect error: %w", err)
	}
	a.logger.Info("ingestion consumer connected", "concurrency", a.cfg.IngestionConcurrency)
	return consumer, nil
}

// Close snapshots resident tenant indexes and releases resources.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Indexes != nil {
		if err := a.Indexes.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
