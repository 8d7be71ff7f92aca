package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/shipsite/shipsite-go/internal/config"
	"github.com/shipsite/shipsite-go/internal/credstore"
	"github.com/shipsite/shipsite-go/internal/deploy"
	"github.com/shipsite/shipsite-go/internal/idp"
	"github.com/shipsite/shipsite-go/internal/rpc"
	"github.com/shipsite/shipsite-go/internal/session"
	"github.com/shipsite/shipsite-go/internal/storage"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "shipsite",
		Short:   "Deploy static-site builds to a hosted URL",
		Long:    "shipsite uploads a locally built artifact tree and publishes it at a public URL.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDeployCmd())

	return cmd
}

// loadConfig resolves the effective configuration. A missing config file
// yields defaults so first-run commands do not crash; commands that reach
// the network must additionally pass config.CheckEndpoints.
func loadConfig() (*config.Config, error) {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// buildLogger creates an slog.Logger from the config log level. --verbose
// and --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// app bundles the wired pipeline for one command invocation.
type app struct {
	cfg     *config.Config
	store   *credstore.SQLiteStore
	session *session.Manager
	invoker *rpc.Invoker
	engine  *storage.Engine
	coord   *deploy.Coordinator
	logger  *slog.Logger
}

// buildApp loads configuration and assembles the full pipeline: credential
// store, identity-provider client, session manager, resilient invoker,
// upload engine, and deployment coordinator. Callers must Close it.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := config.CheckEndpoints(cfg); err != nil {
		return nil, fmt.Errorf("%w — edit %s", err, config.DefaultConfigPath())
	}

	logger := buildLogger(cfg)

	store, err := credstore.Open(ctx, cfg.Session.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	requestClient := &http.Client{Timeout: cfg.Transfers.RequestTimeoutDuration()}
	uploadClient := &http.Client{Timeout: cfg.Transfers.UploadTimeoutDuration()}

	provider := idp.NewClient(idp.Config{
		AuthURL:  cfg.Endpoints.AuthURL,
		TokenURL: cfg.Endpoints.TokenURL,
		APIURL:   cfg.Endpoints.APIURL,
		APIKey:   cfg.Endpoints.APIKey,
	}, requestClient, logger)

	mgr := session.NewManager(provider, store, logger)
	invoker := rpc.NewInvoker(cfg.Endpoints.APIURL, requestClient, mgr, logger)
	engine := storage.NewEngine(cfg.Endpoints.StorageURL, uploadClient, mgr,
		cfg.Transfers.ParallelUploads, logger)
	coord := deploy.NewCoordinator(engine, invoker, mgr, logger)

	return &app{
		cfg:     cfg,
		store:   store,
		session: mgr,
		invoker: invoker,
		engine:  engine,
		coord:   coord,
		logger:  logger,
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() error {
	return a.store.Close()
}

// requireSession resumes a persisted session and fails with an actionable
// message when none is available.
func (a *app) requireSession(ctx context.Context) error {
	if a.session.Current().Active() {
		return nil
	}

	if !a.session.TryResume(ctx) {
		return fmt.Errorf("not logged in — run 'shipsite login' first")
	}

	return nil
}
