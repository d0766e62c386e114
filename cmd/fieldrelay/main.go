// FieldRelay is a daemon that mirrors Google Calendar events into work-order
// jobs in a field-service backend, keeping the two eventually consistent as
// events are created, rescheduled, and cancelled.
//
// Usage:
//
//	fieldrelay serve [--config <path>]       # webhook server + watch channel + fallback poll
//	fieldrelay sync-once [--config <path>]   # single delta pull then exit
//	fieldrelay status                        # show config & state summary
//	fieldrelay reset-cache [--config <path>] # clear the directory-resolution cache
//	fieldrelay version                       # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fieldrelay/fieldrelay/internal/config"
	"github.com/fieldrelay/fieldrelay/internal/fieldservice"
	"github.com/fieldrelay/fieldrelay/internal/gcal"
	"github.com/fieldrelay/fieldrelay/internal/httpapi"
	"github.com/fieldrelay/fieldrelay/internal/state"
	syncp "github.com/fieldrelay/fieldrelay/internal/sync"
	"github.com/fieldrelay/fieldrelay/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// renewalCheckInterval is how often serve mode re-checks the watch channel.
const renewalCheckInterval = 15 * time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "serve":
		return runRelay(os.Args[2:], true)
	case "sync-once":
		return runRelay(os.Args[2:], false)
	case "status":
		return runStatus()
	case "reset-cache":
		return runResetCache(os.Args[2:])
	case "version":
		fmt.Println("fieldrelay", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'fieldrelay' for usage", cmd)
	}
}

// printUsage shows help and hints at the config file if none exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "FieldRelay mirrors Google Calendar events into field-service jobs")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  fieldrelay serve [--config ...]       Run webhook server + sync daemon")
	fmt.Fprintln(os.Stderr, "  fieldrelay sync-once [--config ...]   Single delta pull then exit")
	fmt.Fprintln(os.Stderr, "  fieldrelay status                     Show config & state summary")
	fmt.Fprintln(os.Stderr, "  fieldrelay reset-cache [--config ...] Clear the directory cache")
	fmt.Fprintln(os.Stderr, "  fieldrelay version                    Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// runRelay handles both "serve" and "sync-once".
func runRelay(args []string, serve bool) error {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	logger.Info("config loaded",
		"calendar_id", cfg.CalendarID,
		"fieldservice_url", cfg.FieldService.BaseURL,
		"poll_interval", cfg.PollInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- State DB ------------------------------------------------------------

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing state DB", "error", closeErr)
		}
	}()

	// --- Wiring --------------------------------------------------------------

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	oauthCfg := gcal.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.PublicBaseURL)
	calAdapter := gcal.NewAdapter(oauthCfg, store, cfg.CalendarID, logger)

	webhookURL := strings.TrimRight(cfg.PublicBaseURL, "/") + "/webhook/google"
	watchMgr := gcal.NewManager(calAdapter, store, webhookURL, logger)
	authFlow := gcal.NewFlow(oauthCfg, store, watchMgr, logger)

	jobClient, err := fieldservice.NewClient(fieldservice.Options{
		BaseURL:         cfg.FieldService.BaseURL,
		APIToken:        cfg.FieldService.APIToken,
		DefaultCustomer: cfg.FieldService.DefaultCustomer,
		Cache:           store,
		Limiter:         fieldservice.NewLimiter(cfg.FieldService.CallSpacing),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("initialising field-service client: %w", err)
	}

	puller := syncp.NewPuller(calAdapter, store, logger)
	reconciler := syncp.NewReconciler(jobClient, store, logger)
	engine := syncp.NewEngine(puller, reconciler, cfg.PollInterval, logger)

	// --- Dispatch mode -------------------------------------------------------

	if !serve {
		logger.Info("running single pull")
		stats, err := engine.PullOnce(ctx)
		if errors.Is(err, gcal.ErrNoCredential) {
			return fmt.Errorf("no stored credential: start 'fieldrelay serve' and visit %s/auth/google first", cfg.PublicBaseURL)
		}
		logger.Info("pull complete",
			"created", stats.Created,
			"updated", stats.Updated,
			"cancelled", stats.Cancelled,
			"skipped", stats.Skipped,
			"errors", stats.Errors,
		)
		return err
	}

	return serveHTTP(ctx, cfg, engine, watchMgr, authFlow, logger)
}

// serveHTTP runs the webhook server, the watch renewal loop, and the fallback
// polling loop until the context is cancelled.
func serveHTTP(ctx context.Context, cfg *config.Config, engine *syncp.Engine, watchMgr *gcal.Manager, authFlow *gcal.Flow, logger *slog.Logger) error {
	// Best-effort watch registration at startup. Before first-time
	// authorization there is no credential yet and the auth callback
	// registers the watch instead.
	if err := watchMgr.EnsureActive(ctx); err != nil && !errors.Is(err, gcal.ErrNoCredential) {
		logger.Error("watch registration at startup failed", "error", err)
	}
	go watchMgr.RunRenewal(ctx, renewalCheckInterval)
	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sync engine stopped", "error", err)
		}
	}()

	api := httpapi.NewServer(ctx, engine, authFlow, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", "error", err)
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// runStatus prints the current configuration and state summary.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("FieldRelay Status")
	fmt.Println("─────────────────")

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, loadErr := config.Load(cfgPath)
		if loadErr != nil {
			fmt.Printf("  Config:     %s (invalid: %v)\n", cfgPath, loadErr)
		} else {
			cfg = loaded
			fmt.Printf("  Config:     %s ✓\n", cfgPath)
			fmt.Printf("  Calendar:   %s\n", cfg.CalendarID)
			fmt.Printf("  Backend:    %s\n", cfg.FieldService.BaseURL)
			fmt.Printf("  Poll:       %s\n", cfg.PollInterval)
		}
	} else {
		fmt.Printf("  Config:     not found (%s)\n", cfgPath)
	}

	dbPath, err := statePath(cfg)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("  State DB:   not found")
		return nil
	}

	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	count, err := store.MappingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  State DB:   %s (%d mapped events)\n", dbPath, count)

	if token, _ := store.GetSyncToken(ctx); token != "" {
		fmt.Println("  Sync token: present")
	} else {
		fmt.Println("  Sync token: not seeded")
	}

	if cred, _ := store.GetRefreshToken(ctx); cred != "" {
		fmt.Println("  Credential: stored")
	} else {
		fmt.Println("  Credential: missing, visit /auth/google")
	}

	if ws, _ := store.GetWatchState(ctx); ws != nil {
		fmt.Printf("  Watch:      %s (expires %s)\n", ws.ChannelID, ws.Expiration.Format(time.RFC3339))
	} else {
		fmt.Println("  Watch:      not registered")
	}

	return nil
}

// runResetCache clears the directory-resolution cache. The mapping table and
// singletons are untouched.
func runResetCache(args []string) error {
	fs := flag.NewFlagSet("reset-cache", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg *config.Config
	if loaded, err := config.Load(*cfgPath); err == nil {
		cfg = loaded
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	n, err := store.ClearDirectoryCache(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Cleared %d cached directory entries.\n", n)
	return nil
}

// openStore opens the state DB at the configured or default path.
func openStore(cfg *config.Config) (*state.Store, error) {
	dbPath, err := statePath(cfg)
	if err != nil {
		return nil, err
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	return store, nil
}

func statePath(cfg *config.Config) (string, error) {
	if cfg != nil && cfg.StateDB != "" {
		return cfg.StateDB, nil
	}
	path, err := state.DefaultDBPath()
	if err != nil {
		return "", fmt.Errorf("resolving state DB path: %w", err)
	}
	return path, nil
}
