// Package main is the CLI entry point for forged.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/focusforge/forged/internal/api"
	"github.com/focusforge/forged/internal/config"
	"github.com/focusforge/forged/internal/daemon"
	"github.com/focusforge/forged/internal/domain"
	"github.com/focusforge/forged/internal/enforce"
	"github.com/focusforge/forged/internal/infra"
	"github.com/focusforge/forged/internal/metrics"
	"github.com/focusforge/forged/internal/schedule"
	"github.com/focusforge/forged/internal/session"
	"github.com/focusforge/forged/internal/usage"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forged",
	Short: "Focus session enforcement engine",
	Long: `forged enforces time-boxed focus sessions: while a session is active,
designated applications and websites are blocked, usage is measured,
and per-item daily time limits are enforced independent of session state.

The UI and the browser extension talk to it over a local HTTP API.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enforcement engine in the foreground",
	Long: `Runs the usage tracker, blocklist enforcer, scheduler and local API
gateway until interrupted. Only one instance can run per machine;
a second instance fails to bind the API port.`,
	RunE: runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current session status",
	RunE:  runStatus,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one enforcement sweep immediately",
	Long: `Runs a one-time sweep against persisted over-limit state without
starting the engine: any running process whose daily limit is already
exhausted today is terminated.`,
	RunE: runScan,
}

var blocklistCmd = &cobra.Command{
	Use:   "blocklist",
	Short: "List the standing blocklist",
	RunE:  runBlocklist,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("forged %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(blocklistCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics.Register()

	clock := domain.RealClock{}
	sessions := session.NewController(store, store, store, clock, logger)

	aggregator := usage.NewAggregator(
		usage.Config{
			SampleInterval:  cfg.Tracking.SampleInterval,
			RefreshInterval: cfg.Tracking.RefreshInterval,
		},
		store, store, infra.NewForegroundProbe(), clock, logger,
	)

	enforcer := enforce.NewEnforcer(
		enforce.Config{SweepInterval: cfg.Enforcement.SweepInterval},
		infra.NewProcessManager(), sessions, aggregator, logger,
	)

	scheduler := schedule.NewScheduler(
		schedule.Config{CheckInterval: cfg.Scheduler.CheckInterval},
		store, sessions, clock, logger,
	)

	gateway := api.NewServer(
		api.Config{ListenAddr: cfg.Server.ListenAddr(), Version: Version},
		sessions, aggregator, enforcer, store, clock, logger,
	)

	engine := daemon.NewEngine(aggregator, enforcer, scheduler, gateway, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting forged",
		zap.String("version", Version),
		zap.String("listen", cfg.Server.ListenAddr()),
		zap.String("data_dir", cfg.Storage.DataDir))

	return engine.Run(ctx)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var status struct {
		Active          bool     `json:"active"`
		SessionID       string   `json:"session_id"`
		StrictMode      bool     `json:"strict_mode"`
		SessionDuration int64    `json:"session_duration"`
		BlockedApps     []string `json:"blocked_apps"`
		BlockedWebsites []string `json:"blocked_websites"`
	}
	if err := apiGet(cfg, "/focus/status", &status); err != nil {
		fmt.Println("forged is not running (engine unreachable)")
		fmt.Println("\nRun 'forged serve' to start it.")
		return nil
	}

	fmt.Println("\n=== forged Status ===")
	if !status.Active {
		fmt.Println("Session: none active")
	} else {
		fmt.Println("Session: ACTIVE")
		fmt.Printf("Elapsed: %s\n", (time.Duration(status.SessionDuration) * time.Second).Round(time.Second))
		fmt.Printf("Strict mode: %v\n", status.StrictMode)
		if len(status.BlockedApps) > 0 {
			fmt.Printf("Blocked apps: %s\n", strings.Join(status.BlockedApps, ", "))
		}
		if len(status.BlockedWebsites) > 0 {
			fmt.Printf("Blocked sites: %s\n", strings.Join(status.BlockedWebsites, ", "))
		}
	}
	fmt.Println("=====================")
	return nil
}

func runBlocklist(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var blocklist struct {
		Apps     []string `json:"apps"`
		Websites []string `json:"websites"`
	}
	if err := apiGet(cfg, "/blocklist", &blocklist); err != nil {
		return fmt.Errorf("engine unreachable: %w", err)
	}

	fmt.Println("\n=== Standing Blocklist ===")
	fmt.Println("Apps:")
	for _, app := range blocklist.Apps {
		fmt.Printf("  - %s\n", app)
	}
	fmt.Println("Websites:")
	for _, site := range blocklist.Websites {
		fmt.Printf("  - %s\n", site)
	}
	fmt.Println("==========================")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Println("\n=== Running Enforcement Sweep ===")

	ctx := context.Background()
	clock := domain.RealClock{}

	// A one-shot sweep sees no active session; only persisted over-limit
	// state applies.
	sessions := session.NewController(store, store, store, clock, logger)
	aggregator := usage.NewAggregator(usage.DefaultConfig(), store, store,
		infra.NewForegroundProbe(), clock, logger)
	aggregator.RefreshOverLimit(ctx)

	enforcer := enforce.NewEnforcer(enforce.DefaultConfig(),
		infra.NewProcessManager(), sessions, aggregator, logger)

	killed := enforcer.Sweep(ctx)
	if killed == 0 {
		fmt.Println("No over-limit processes found.")
	} else {
		fmt.Printf("Terminated %d processes.\n", killed)
	}
	fmt.Println("=================================")
	return nil
}

func openStore(cfg *config.Config) (domain.Store, error) {
	keyProvider := infra.NewFileKeyProvider(cfg.Storage.DataDir)
	key, err := infra.EnsureKey(keyProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare store key: %w", err)
	}
	store, err := infra.NewEncryptedStore(cfg.Storage.DataDir, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// apiGet performs a GET against the running engine's local API.
func apiGet(cfg *config.Config, path string, out any) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + cfg.Server.ListenAddr() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}
	return json.Unmarshal(buf.Bytes(), out)
}

func createLogger(cfg config.LoggingConfig) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err == nil {
			zcfg.OutputPaths = []string{cfg.File}
			zcfg.ErrorOutputPaths = []string{cfg.File}
		}
	}

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
