package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/archive"
	"github.com/your-org/docconv/internal/config"
	"github.com/your-org/docconv/internal/converter"
	"github.com/your-org/docconv/internal/dispatcher"
	"github.com/your-org/docconv/internal/domain"
	"github.com/your-org/docconv/internal/events"
	"github.com/your-org/docconv/internal/handlers"
	"github.com/your-org/docconv/internal/ingest"
	"github.com/your-org/docconv/internal/middleware"
	"github.com/your-org/docconv/internal/processor"
	"github.com/your-org/docconv/internal/registry"
	"github.com/your-org/docconv/internal/usecases"
	"github.com/your-org/docconv/internal/webhook"
	"github.com/your-org/docconv/pkg/logger"
)

const (
	shutdownTimeout   = 30 * time.Second
	writeTimeoutSlack = 30 * time.Second
	rateLimitWindow   = time.Minute
)

// App holds every component of the service and owns their lifecycle
type App struct {
	configPath string

	config    *config.Config
	logger    *zap.Logger
	registry  *registry.ShardedRegistry
	publisher domain.EventPublisher
	tracker   *usecases.StatusTracker
	usecase   *usecases.DocumentUsecase
	server    *http.Server

	eventsEnabled   bool
	disableDelivery bool

	initOnce sync.Once
	initErr  error

	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewApp creates an application that reads configuration from configPath.
// An empty path falls back to APP_CONFIG_PATH, then config.yaml.
func NewApp(configPath string) *App {
	return &App{configPath: configPath}
}

// Initialize builds all components once
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

func (a *App) doInitialize() error {
	configWarning, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.config = config.Get()

	if err := logger.Init(logger.Options{
		Level:       a.config.Log.Level,
		Development: a.config.Log.Development,
		Service:     a.config.App.Name,
		Version:     a.config.App.Version,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger.Get()
	if configWarning != nil {
		a.logger.Warn("config file not loaded, using defaults and environment", zap.Error(configWarning))
	}
	a.logger.Info("configuration loaded",
		zap.String("server_host", a.config.Server.Host),
		zap.Int("server_port", a.config.Server.Port),
		zap.String("upload_dir", a.config.Storage.UploadDir),
		zap.Bool("webhook_enabled", a.config.WebhookEnabled()),
	)

	a.registry = registry.NewShardedRegistry(a.config.Registry.Shards, a.config.Registry.Retention)
	a.registry.StartCleanupWorker()

	a.publisher = a.initializePublisher()
	a.tracker = usecases.NewStatusTracker(a.registry, a.publisher, logger.Named("tracker"))

	if err := a.initializePipeline(); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	a.initializeServer()

	a.logger.Info("application initialized")
	return nil
}

// loadConfig returns a non-fatal warning when the file could not be read
// but defaults and environment were enough.
func (a *App) loadConfig() (warning error, err error) {
	path := a.configPath
	if path == "" {
		path = os.Getenv("APP_CONFIG_PATH")
	}
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	if loadErr := config.Load(path); loadErr != nil {
		if explicit {
			return nil, fmt.Errorf("failed to load config %s: %w", path, loadErr)
		}
		if err := config.Reload(""); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return loadErr, nil
	}
	return nil, nil
}

// initializePublisher connects to Redis when an address is configured.
// Status events are optional, so a failed connection only disables them.
func (a *App) initializePublisher() domain.EventPublisher {
	cfg := a.config.Events
	if cfg.RedisAddr == "" {
		return events.NopPublisher{}
	}

	publisher, err := events.NewRedisPublisher(events.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.Channel,
	}, logger.Named("events"))
	if err != nil {
		a.logger.Warn("redis unavailable, status events disabled",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err),
		)
		return events.NopPublisher{}
	}
	a.eventsEnabled = true
	return publisher
}

func (a *App) initializePipeline() error {
	cfg := a.config

	runner := converter.NewExecRunner(logger.Named("runner"))

	var counter domain.PageCounter
	switch cfg.Converter.PageCounter {
	case config.PageCounterPdfcpu:
		counter = converter.NewPdfcpuCounter()
	default:
		counter = converter.NewPdfinfoCounter(runner, cfg.Converter.PdfinfoBin, cfg.Converter.Timeout, logger.Named("pdfinfo"))
	}

	rasterizer := converter.NewPdftoppmRasterizer(runner, cfg.Converter.PdftoppmBin, cfg.Converter.Timeout,
		cfg.Converter.TempDir, logger.Named("rasterizer"))
	office := converter.NewOfficeRenderer(runner, converter.OfficeOptions{
		Bin:      cfg.Converter.LibreOfficeBin,
		UseXvfb:  cfg.Converter.UseXvfb,
		XvfbBin:  cfg.Converter.XvfbBin,
		Timeout:  cfg.Converter.Timeout,
		TempBase: cfg.Converter.TempDir,
	}, logger.Named("office"))

	normalizer, err := ingest.NewNormalizer(cfg.Storage.UploadDir, ingest.Limits{
		MaxDocumentSize: cfg.Limits.MaxDocumentSize,
		MaxArchiveSize:  cfg.Limits.MaxArchiveSize,
	}, logger.Named("ingest"))
	if err != nil {
		return err
	}

	dispatch, err := dispatcher.New(dispatcher.Config{
		PageCounter:  counter,
		Rasterizer:   rasterizer,
		Office:       office,
		ProcessedDir: cfg.Storage.ProcessedDir,
		Observer:     a.tracker,
	}, logger.Named("dispatcher"))
	if err != nil {
		return err
	}

	expander, err := archive.NewExpander(archive.Options{
		ExtractRoot:     cfg.Archive.ExtractDir,
		MaxEntrySize:    cfg.Limits.MaxDocumentSize,
		URLBase:         a.publicURL(cfg.Archive.ExtractDir),
		StrictDiskCheck: cfg.Archive.StrictDiskCheck,
	}, logger.Named("archive"))
	if err != nil {
		return err
	}

	batch := processor.NewBatchProcessor(normalizer, dispatch, expander, cfg.Batch.Workers, logger.Named("batch"))
	batch.OnStaged(a.tracker.DocumentChanged)

	var deliverer domain.Deliverer
	if cfg.WebhookEnabled() && !a.disableDelivery {
		deliverer = webhook.NewClient(webhook.Options{
			URL:              cfg.Webhook.URL,
			Format:           cfg.Webhook.Format,
			Timeout:          cfg.Webhook.Timeout,
			BatchConcurrency: cfg.Webhook.BatchConcurrency,
		}, logger.Named("webhook"))
	}

	a.usecase, err = usecases.NewDocumentUsecase(usecases.Dependencies{
		Ingestor:       normalizer,
		Converter:      dispatch,
		Expander:       expander,
		Batch:          batch,
		Deliverer:      deliverer,
		Registry:       a.registry,
		Observer:       a.tracker,
		PublicURL:      a.publicURL,
		StagingDir:     cfg.Storage.UploadDir,
		MaxConversions: cfg.Concurrency.MaxConversions,
	}, logger.Named("usecase"))
	return err
}

// publicURL maps a path under the upload directory to domain/prefix/rel.
// Paths outside the upload directory have no public URL.
func (a *App) publicURL(path string) string {
	root, err := filepath.Abs(a.config.Storage.UploadDir)
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}

	base := a.config.App.Domain
	if a.config.App.PublicPrefix != "" {
		base += "/" + a.config.App.PublicPrefix
	}
	if rel == "." {
		return base
	}
	return base + "/" + filepath.ToSlash(rel)
}

func (a *App) initializeServer() {
	cfg := a.config

	docHandler := handlers.NewDocumentHandler(a.usecase, handlers.Limits{
		MaxDocumentSize: cfg.Limits.MaxDocumentSize,
		MaxArchiveSize:  cfg.Limits.MaxArchiveSize,
	}, logger.Named("http"))
	healthHandler := handlers.NewHealthHandler(handlers.ServiceInfo{
		Name:           cfg.App.Name,
		Version:        cfg.App.Version,
		WebhookEnabled: cfg.WebhookEnabled(),
		EventsEnabled:  a.eventsEnabled,
	}, a.usecase.DocumentCount, a.logger)

	rateLimiter := middleware.NewRateLimiter(cfg.Concurrency.HTTPMaxRequests, rateLimitWindow)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)

	// health stays outside the middleware chain so health checks are never rate limited
	r.Get("/api/health", healthHandler.Health)
	r.Get("/", healthHandler.Index)

	r.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(a.logger))
		r.Use(middleware.RecoveryMiddleware(a.logger))
		r.Use(middleware.TimeoutMiddleware(cfg.Server.RequestTimeout))
		r.Use(middleware.RateLimitMiddleware(rateLimiter, a.logger))

		docHandler.Routes(r)

		if cfg.Storage.ServeFiles && cfg.App.PublicPrefix != "" {
			prefix := "/" + cfg.App.PublicPrefix + "/"
			files := http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.Storage.UploadDir)))
			r.Handle(prefix+"*", files)
		}
	})

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + writeTimeoutSlack,
		IdleTimeout:  60 * time.Second,
	}
}

// Start initializes the application and begins serving in the background
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown stops the server and releases resources. Safe to call more than once.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		if a.logger == nil {
			return
		}
		a.logger.Info("shutting down")

		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Error("server shutdown failed", zap.Error(err))
				shutdownErr = err
			}
			cancel()
		}

		a.wg.Wait()

		if a.registry != nil {
			a.registry.StopCleanupWorker()
		}
		if a.publisher != nil {
			if err := a.publisher.Close(); err != nil {
				a.logger.Warn("failed to close event publisher", zap.Error(err))
			}
		}

		a.logger.Info("shutdown complete")
		_ = logger.Sync()
	})

	return shutdownErr
}

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
