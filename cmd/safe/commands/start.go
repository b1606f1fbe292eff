package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/perdedora/safe/internal/cache"
	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/api"
	"github.com/perdedora/safe/pkg/api/handlers"
	"github.com/perdedora/safe/pkg/api/middleware"
	"github.com/perdedora/safe/pkg/cdn"
	"github.com/perdedora/safe/pkg/chunks"
	"github.com/perdedora/safe/pkg/cleanup"
	"github.com/perdedora/safe/pkg/ident"
	"github.com/perdedora/safe/pkg/ingest"
	"github.com/perdedora/safe/pkg/metrics"
	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/retention"
	"github.com/perdedora/safe/pkg/scanner"
	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/thumbs"
	"github.com/perdedora/safe/pkg/zipper"
)

// Auth failure rate limit: six strikes per source IP per window.
const (
	authFailureLimit  = 6
	authFailureWindow = 10 * time.Minute
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the upload service",
	Long: `Start the upload service with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/safe/config.yaml.

Examples:
  # Start with the default config
  safe start

  # Start with a custom config file
  safe start --config /etc/safe/config.yaml

  # Start with environment variable overrides
  SAFE_LOGGING_LEVEL=DEBUG safe start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("configuration loaded", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	rootPassword, err := st.EnsureRootUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure root user: %w", err)
	}
	if rootPassword != "" {
		logger.Info("root user created", "username", "root")
		fmt.Printf("\n*** Root user created with password: %s ***\n", rootPassword)
		fmt.Println("Save this password. It will not be shown again.")
		fmt.Println()
	}

	p := paths.New(cfg.Paths.UploadsRoot, cfg.Paths.ErrorPages)
	if err := p.Init(); err != nil {
		return fmt.Errorf("failed to prepare storage directories: %w", err)
	}

	idents := ident.New(st, p, ident.CheckDatabase)

	chunker := chunks.New(cfg.Chunks, p)
	defer chunker.Shutdown()

	stats := metrics.New(
		func() float64 { return float64(chunker.Active()) },
		func() float64 { return float64(idents.HeldCount()) },
	)

	ret := retention.New(cfg.Retention)
	caches := cache.NewStores(cfg.Cache)
	thumbGen := thumbs.New(cfg.Thumbs, p)
	defer thumbGen.Wait()

	engine := ingest.New(cfg.Uploads.IngestConfig(), st, idents, p, chunker, ret).
		WithThumbnailer(thumbGen).
		WithInvalidator(caches).
		WithMetrics(stats)

	if cfg.Scanner.Enabled {
		scn, err := scanner.New(cfg.Scanner)
		if err != nil {
			return fmt.Errorf("failed to connect to clamd: %w", err)
		}
		engine = engine.WithScanner(scn, scn)
		logger.Info("malware scanning enabled", "address", cfg.Scanner.Address)
	}

	deleter := cleanup.NewDeleter(st, p).
		WithInvalidator(caches).
		WithThumbs(thumbGen)

	if cfg.CDN.Enabled {
		purger := cdn.New(ctx, cfg.CDN, thumbGen.Eligible).WithMetrics(stats)
		deleter = deleter.WithPurger(purger)
		logger.Info("cdn purging enabled", "zone", cfg.CDN.Zone)
	}

	if cfg.Sweep.Enabled {
		sweeper := cleanup.NewSweeper(st, deleter, cfg.Sweep.Interval).WithMetrics(stats)
		go sweeper.Run(ctx)
	}

	zip := zipper.New(cfg.Zip, st, p).WithMetrics(stats)

	limiter := middleware.NewFailureLimiter(authFailureLimit, authFailureWindow)

	h := handlers.New(handlers.Config{
		Private:              cfg.Server.Private,
		EnableUserAccounts:   cfg.Server.EnableUserAccounts,
		Domain:               cfg.Server.Domain,
		MaxSize:              int64(cfg.Uploads.MaxSize),
		ChunkSize:            cfg.Chunks.MaxSize,
		FileIdentifierLength: cfg.Uploads.Ingest.IdentifierLength,
		StripTags:            cfg.Uploads.Ingest.AllowStripTags,
		PageSize:             cfg.Pages.FilesPerPage,
		Version:              Version,
	}, st, engine, deleter, zip, ret, idents, p, caches, limiter)

	auth := middleware.NewAuth(st, limiter, handlers.WriteError)

	router := api.NewRouter(api.RouterConfig{
		TrustProxy:     cfg.Server.TrustProxy,
		MetricsEnabled: cfg.Metrics.Enabled,
		ErrorPages:     cfg.Paths.ErrorPages,
		ServeFiles:     cfg.Server.ServeFiles,
	}, h, auth)

	srv := api.NewServer(api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, router)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("service is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
			return err
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
	}
	return nil
}
