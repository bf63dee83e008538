// Semantixd is the conversational memory service.
//
// This binary starts the semantixd HTTP server with full service
// initialization: primary store, vector store, event bus, embedding service,
// classifiers, and the memory pipeline.
//
// Configuration is loaded from environment variables. See internal/config
// for details.
//
// Usage:
//
//	# Start server with defaults
//	semantixd
//
//	# Configure via environment
//	SEMANTIX_SERVER_PORT=9090 SEMANTIX_EMBEDDING_PROVIDER=google semantixd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semantixd/internal/compression"
	"github.com/fyrsmithlabs/semantixd/internal/config"
	"github.com/fyrsmithlabs/semantixd/internal/embeddings"
	"github.com/fyrsmithlabs/semantixd/internal/events"
	httpserver "github.com/fyrsmithlabs/semantixd/internal/http"
	"github.com/fyrsmithlabs/semantixd/internal/icm"
	"github.com/fyrsmithlabs/semantixd/internal/identity"
	"github.com/fyrsmithlabs/semantixd/internal/ingest"
	"github.com/fyrsmithlabs/semantixd/internal/logging"
	"github.com/fyrsmithlabs/semantixd/internal/pipeline"
	"github.com/fyrsmithlabs/semantixd/internal/retrieval"
	"github.com/fyrsmithlabs/semantixd/internal/services"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/vectorstore"
	"github.com/fyrsmithlabs/semantixd/internal/worldview"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  semantixd           Start the semantixd daemon\n")
			fmt.Fprintf(os.Stderr, "  semantixd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("semantixd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the semantixd server and blocks until context cancellation.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting semantixd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("events_backend", cfg.Events.Backend),
		zap.String("icm_mode", cfg.ICM.Mode))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	registry, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	srv, err := httpserver.NewServer(
		registry.Pipeline(),
		registry.Embeddings(),
		registry.Store(),
		logger,
		&httpserver.Config{
			Host:                 cfg.Server.Host,
			Port:                 cfg.Server.Port,
			MaxLimit:             cfg.Retrieval.MaxLimit,
			DefaultMinSimilarity: &cfg.Retrieval.DefaultMinSimilarity,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	primary  store.Store
	vectors  vectorstore.Store
	bus      events.Bus
	embedSvc *embeddings.Service
	logger   *logging.Logger
}

// Close releases infrastructure resources. The bus goes first so in-flight
// ingestion drains before its stores disappear.
func (d *dependencies) Close() {
	if d.bus != nil {
		_ = d.bus.Close()
	}
	if d.embedSvc != nil {
		_ = d.embedSvc.Close()
	}
	if d.vectors != nil {
		_ = d.vectors.Close()
	}
	if d.primary != nil {
		_ = d.primary.Close()
	}
}

// initDependencies connects the primary store, vector store, event bus, and
// embedding service.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	primary, err := store.NewPostgresStore(ctx, store.PostgresConfig{
		DSN:             cfg.Database.DSN.Value(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("connecting primary store: %w", err)
	}

	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:      cfg.Vector.Path,
		Compress:  cfg.Vector.Compress,
		Dimension: cfg.Vector.Dimension,
	}, logger.Underlying())
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	// A deployment must not mix collection naming versions.
	if err := vectorstore.ValidateNaming(ctx, vectors); err != nil {
		_ = vectors.Close()
		_ = primary.Close()
		return nil, fmt.Errorf("collection naming validation: %w", err)
	}

	var bus events.Bus
	switch cfg.Events.Backend {
	case "nats":
		bus, err = events.NewNATSBus(cfg.Events.NATSURL, logger.Underlying())
		if err != nil {
			_ = vectors.Close()
			_ = primary.Close()
			return nil, fmt.Errorf("connecting nats: %w", err)
		}
	default:
		bus = events.NewInProcBus(logger.Underlying())
	}

	provider, err := embeddings.NewProvider(cfg.Embedding)
	if err != nil {
		_ = bus.Close()
		_ = vectors.Close()
		_ = primary.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	var cache *embeddings.Cache
	if cfg.Embedding.CacheEnabled {
		cache = embeddings.NewCache(cfg.Embedding.CacheMaxSize, cfg.Embedding.CacheTTL)
	}
	embedSvc, err := embeddings.NewService(embeddings.ServiceOptions{
		Provider:         provider,
		Cache:            cache,
		Bus:              bus,
		Logger:           logger.Underlying(),
		BatchConcurrency: cfg.Embedding.BatchConcurrency,
	})
	if err != nil {
		_ = provider.Close()
		_ = bus.Close()
		_ = vectors.Close()
		_ = primary.Close()
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}

	logger.Info(ctx, "dependencies initialized",
		zap.String("embedding_model", embedSvc.Model()),
		zap.Int("embedding_dimension", embedSvc.Dimension()))

	return &dependencies{
		primary:  primary,
		vectors:  vectors,
		bus:      bus,
		embedSvc: embedSvc,
		logger:   logger,
	}, nil
}

// initServices wires the business services and registers the ingestion
// handlers on the bus.
func initServices(cfg *config.Config, deps *dependencies, logger *logging.Logger) (services.Registry, error) {
	intentClassifier, timeClassifier, err := icm.New(cfg.ICM, logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("creating classifiers: %w", err)
	}

	compressor := compression.NewExtractive(compression.DefaultConfig())

	var summarizer worldview.Summarizer
	if cfg.ICM.Mode == "llm" {
		model, err := openai.New(
			openai.WithModel(cfg.ICM.Model),
			openai.WithToken(cfg.ICM.APIKey.Value()),
		)
		if err != nil {
			return nil, fmt.Errorf("creating summarizer model: %w", err)
		}
		summarizer = worldview.NewLLMSummarizer(model)
	}

	builder := worldview.NewBuilder(deps.primary, compressor, summarizer, worldview.Config{
		RecentLimit:     cfg.WorldView.RecentLimit,
		SummaryMaxWords: cfg.WorldView.SummaryMaxWords,
	}, logger)

	engine := retrieval.NewEngine(deps.embedSvc, deps.vectors, deps.primary,
		timeClassifier, retrieval.Config{
			DefaultLimit:   cfg.Retrieval.DefaultLimit,
			WorldViewLimit: cfg.WorldView.RecentLimit,
		}, logger)

	identityProvider := identity.NewStaticProvider(nil)
	p := pipeline.New(intentClassifier, timeClassifier, deps.primary,
		identityProvider, builder, engine, logger)

	handlers := ingest.NewHandlers(deps.primary, deps.vectors, deps.embedSvc, compressor, logger)
	if err := handlers.Register(deps.bus); err != nil {
		return nil, fmt.Errorf("registering ingestion handlers: %w", err)
	}

	return services.NewRegistry(services.Options{
		Pipeline:    p,
		Embeddings:  deps.embedSvc,
		Ingest:      handlers,
		Store:       deps.primary,
		VectorStore: deps.vectors,
		Bus:         deps.bus,
		Identity:    identityProvider,
		WorldView:   builder,
		Retrieval:   engine,
		Compression: compressor,
		Admin:       services.NewAdmin(deps.primary, deps.vectors, logger),
	}), nil
}
