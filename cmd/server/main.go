package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	"github.com/beladevo/libreoffice-docx-to-pdf/handler"
	"github.com/beladevo/libreoffice-docx-to-pdf/handler/platforms"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/acquire"
	httpadapter "github.com/beladevo/libreoffice-docx-to-pdf/internal/adapters/http"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/engine"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/service"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/validate"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/worker"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
	"github.com/beladevo/libreoffice-docx-to-pdf/storage"
	storagetypes "github.com/beladevo/libreoffice-docx-to-pdf/storage/types"
)

// timingComponent is the logger whose entries go to TIME_LOG_FILE.
const timingComponent = "conversion_time"

type flags struct {
	addr     string
	envFile  string
	logLevel string
}

// Dependencies holds all initialized infrastructure components
type Dependencies struct {
	provider   observability.Provider
	registry   *prometheus.Registry
	enginePath string
	archive    storagetypes.ObjectStorage
	closers    []io.Closer
	logger     types.Logger
	metrics    types.Metrics
}

// Application holds the complete application stack
type Application struct {
	server  *http.Server
	cfg     *config.Config
	logger  types.Logger
	metrics types.Metrics
}

func main() {
	f := parseFlags()

	cfg := loadConfiguration(f)

	deps := initializeDependencies(cfg)
	defer deps.close()

	app := buildApplication(cfg, deps)

	if err := startApplication(app); err != nil {
		app.logger.Error(context.Background(), "Server stopped with error", err, nil)
		deps.close()
		os.Exit(1)
	}
}

func parseFlags() flags {
	var f flags
	fs := pflag.NewFlagSet("office-pdf-gateway", pflag.ExitOnError)
	fs.StringVarP(&f.addr, "addr", "a", "", "listen address, overrides HTTP_ADDR and PORT")
	fs.StringVar(&f.envFile, "env-file", "", "extra .env file loaded after the defaults")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error; overrides LOG_LEVEL")
	_ = fs.Parse(os.Args[1:])
	return f
}

// loadConfiguration loads and validates the application configuration
func loadConfiguration(f flags) *config.Config {
	cfgProvider := config.GetProvider()

	var extra []string
	if f.envFile != "" {
		extra = append(extra, f.envFile)
	}
	if err := cfgProvider.Load(extra...); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg := cfgProvider.MustGet()
	if f.addr != "" {
		cfg.HTTP.Addr = f.addr
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg
}

// initializeDependencies sets up all infrastructure dependencies
func initializeDependencies(cfg *config.Config) *Dependencies {
	deps := &Dependencies{}

	initializeObservability(cfg, deps)
	deps.logger = deps.provider.Logger("main")
	deps.metrics = deps.provider.Metrics("main")

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		deps.logger.Debug(context.Background(), fmt.Sprintf(format, args...), nil)
	}))
	if err != nil {
		deps.logger.Warn(context.Background(), "Failed to set GOMAXPROCS", types.Fields{"error": err.Error()})
	}
	deps.closers = append(deps.closers, closerFunc(func() error { undo(); return nil }))

	logStartup(cfg, deps)

	deps.enginePath = locateEngine(cfg, deps)
	deps.archive = initializeStorage(cfg, deps)

	return deps
}

// initializeObservability opens the log files and creates the provider.
// The main log always goes to stdout and additionally to LOG_FILE.
func initializeObservability(cfg *config.Config, deps *Dependencies) {
	var logOutput io.Writer = os.Stdout
	if cfg.Observability.LogFile != "" {
		f, err := openLog(cfg.Observability.LogFile)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		deps.closers = append(deps.closers, f)
		logOutput = io.MultiWriter(os.Stdout, f)
	}

	outputs := map[string]io.Writer{}
	if cfg.Observability.TimeLogFile != "" {
		f, err := openLog(cfg.Observability.TimeLogFile)
		if err != nil {
			log.Fatalf("Failed to open timing log file: %v", err)
		}
		// Closed by the provider with the other component outputs.
		outputs[timingComponent] = f
	}

	deps.registry = prometheus.NewRegistry()
	deps.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps.provider = observability.NewProvider(&observability.Config{
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
		LogLevel:         cfg.LogLevel,
		LogOutput:        logOutput,
		ComponentOutputs: outputs,
		AdditionalFields: observability.Fields{"version": cfg.Version},
		Registerer:       deps.registry,
	})
}

func openLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// logStartup logs application startup information
func logStartup(cfg *config.Config, deps *Dependencies) {
	deps.logger.Info(context.Background(), "Starting application", types.Fields{
		"service":          cfg.ServiceName,
		"version":          cfg.Version,
		"environment":      cfg.Environment,
		"gomaxprocs":       runtime.GOMAXPROCS(0),
		"archive":          cfg.Archive.Provider,
		"engine_timeout":   cfg.Engine.Timeout.String(),
		"max_request_size": cfg.Handler.MaxRequestSize,
	})
	deps.metrics.RecordSuccess("application_start")
}

// locateEngine resolves the engine executable. A missing engine is fatal.
func locateEngine(cfg *config.Config, deps *Dependencies) string {
	path, err := engine.Locate(cfg.Engine.Path)
	if err != nil {
		deps.metrics.RecordError("startup", "engine_not_found")
		deps.logger.Error(context.Background(), "Rendering engine not found", err, types.Fields{
			"configured": cfg.Engine.Path,
		})
		deps.close()
		log.Fatalf("Rendering engine not found: %v", err)
	}

	deps.logger.Info(context.Background(), "Rendering engine located", types.Fields{"path": path})
	return path
}

// initializeStorage sets up the optional archive. A configured archive that
// cannot be reached is fatal.
func initializeStorage(cfg *config.Config, deps *Dependencies) storagetypes.ObjectStorage {
	logger := deps.provider.Logger("storage")
	metrics := deps.provider.Metrics("storage")

	provider := storage.GetProvider()
	if err := provider.Initialize(cfg, logger, metrics); err != nil {
		if errors.Is(err, storage.ErrArchiveDisabled) {
			logger.Info(context.Background(), "Archive disabled", nil)
			return nil
		}
		metrics.RecordError("init", "storage")
		logger.Error(context.Background(), "Failed to initialize storage", err, nil)
		deps.close()
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	archive, err := provider.GetStorage()
	if err != nil {
		deps.close()
		log.Fatalf("Failed to get storage: %v", err)
	}
	return archive
}

// buildApplication assembles the application layers
func buildApplication(cfg *config.Config, deps *Dependencies) *Application {
	p := deps.provider

	fetcher := httpadapter.NewClient(cfg.Fetch, p.Logger("client.http"), p.Metrics("client.http"))
	acquirer := acquire.New(fetcher, cfg.Fetch.MaxBytes, p.Logger("acquire"), p.Metrics("acquire"))
	supervisor := engine.NewSupervisor(deps.enginePath, cfg.Engine, p.Logger("engine"), p.Metrics("engine"))

	maxConcurrency := cfg.Engine.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = runtime.GOMAXPROCS(0)
	}

	svc := service.NewConvertService(
		acquirer,
		validate.New(),
		supervisor,
		service.Options{
			MaxConcurrency: maxConcurrency,
			Archive:        deps.archive,
			ArchiveTimeout: cfg.Archive.Timeout,
		},
		p.Logger("service"),
		p.Logger(timingComponent),
		p.Metrics("service"),
	)

	w := worker.NewConvertWorker(svc, deps.enginePath, cfg.Workspace.Root, p.Logger("worker"), p.Metrics("worker"))

	h := handler.NewFactory(w, p).WithHandlerConfig(cfg.Handler).Create()

	opts := platforms.RouterOptions{}
	if cfg.Observability.MetricsEnabled {
		opts.MetricsPath = cfg.Observability.MetricsPath
		opts.Metrics = promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})
	}

	return &Application{
		server: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      platforms.NewRouter(h, p.Logger("http"), opts),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
		cfg:     cfg,
		logger:  deps.logger,
		metrics: deps.metrics,
	}
}

// startApplication serves until SIGINT or SIGTERM, then shuts down
// gracefully.
func startApplication(app *Application) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", app.server.Addr, err)
	}

	return platforms.Serve(ctx, app.server, ln, app.cfg.HTTP.ShutdownTimeout, app.logger, app.metrics)
}

func (d *Dependencies) close() {
	if d.provider != nil {
		_ = d.provider.Close()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i].Close()
	}
	d.closers = nil
	d.provider = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
