package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/revsla/internal/dispatch"
	"github.com/joescharf/revsla/internal/engine"
	"github.com/joescharf/revsla/internal/output"
	"github.com/joescharf/revsla/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "revsla",
	Short: "Review SLA engine - assign, escalate, and compensate human reviews",
	Long: `revsla tracks human review requests against service-level bands.
It assigns each request to the best available reviewer, moves stalled reviews
to a backup reviewer, and compensates requesters when reviews run late.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/revsla/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REVSLA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default, rooted at stateDir.
func setDefaults(stateDir string) {
	def := engine.DefaultConfig()
	thresholds := make([]int, len(def.Compensation))
	for i, tier := range def.Compensation {
		thresholds[i] = tier.Hours
	}

	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "revsla.db"))
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)

	viper.SetDefault("sla.sweep_interval", def.SweepInterval)
	viper.SetDefault("sla.max_hops", def.MaxHops)
	viper.SetDefault("sla.redistribute_after", def.RedistributeAfter)
	viper.SetDefault("sla.max_pending_wait", def.MaxPendingWait)
	viper.SetDefault("sla.redistribution_penalty", def.RedistributionPenalty)
	viper.SetDefault("sla.compensation_thresholds", thresholds)
	viper.SetDefault("sla.compensation_amount", def.Compensation[0].Amount)
	viper.SetDefault("sla.timeout_compensation", def.TimeoutCompensation)

	viper.SetDefault("ports.webhook_url", "")
	viper.SetDefault("ports.workers", 2)
	viper.SetDefault("ports.queue_size", 256)
	viper.SetDefault("ports.retry_attempts", 5)

	viper.SetDefault("serve.port", 8080)
	viper.SetDefault("serve.metrics", true)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// rootRun handles `revsla` with no subcommand: show the dashboard if a
// database exists, help otherwise.
func rootRun(cmd *cobra.Command) error {
	if _, err := os.Stat(viper.GetString("db_path")); err != nil {
		return cmd.Help()
	}
	return statusRun()
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// newLogger builds the structured logger from log.level and log.json.
// Logs go to stderr so they never mix with command output.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if viper.GetBool("log.json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// engineConfig reads the SLA policy from viper. Compensation tier N pays
// N times sla.compensation_amount.
func engineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.SweepInterval = viper.GetDuration("sla.sweep_interval")
	cfg.MaxHops = viper.GetInt("sla.max_hops")
	cfg.RedistributeAfter = viper.GetDuration("sla.redistribute_after")
	cfg.MaxPendingWait = viper.GetDuration("sla.max_pending_wait")
	cfg.RedistributionPenalty = viper.GetFloat64("sla.redistribution_penalty")
	cfg.TimeoutCompensation = viper.GetInt("sla.timeout_compensation")

	amount := viper.GetInt("sla.compensation_amount")
	cfg.Compensation = nil
	for i, hours := range viper.GetIntSlice("sla.compensation_thresholds") {
		cfg.Compensation = append(cfg.Compensation, engine.CompensationTier{Hours: hours, Amount: amount * (i + 1)})
	}
	return cfg
}

// newDispatcher builds the port dispatcher: a webhook sink when
// ports.webhook_url is set, a log sink otherwise.
func newDispatcher(log *slog.Logger) *dispatch.Dispatcher {
	var sink dispatch.Sink = dispatch.NewLogSink(log.With("component", "ports"))
	if url := viper.GetString("ports.webhook_url"); url != "" {
		sink = dispatch.NewWebhookSink(url, nil)
	}
	return dispatch.New(sink,
		dispatch.WithLogger(log.With("component", "dispatch")),
		dispatch.WithWorkers(viper.GetInt("ports.workers")),
		dispatch.WithQueueSize(viper.GetInt("ports.queue_size")),
		dispatch.WithRetry(uint(max(viper.GetInt("ports.retry_attempts"), 1)), 0),
	)
}

// buildEngine wires the store, logger, and dispatcher into an engine. The
// caller must Close the returned dispatcher to flush queued port calls.
func buildEngine(s store.Store, log *slog.Logger, extra ...engine.Option) (*engine.Engine, *dispatch.Dispatcher) {
	d := newDispatcher(log)
	opts := []engine.Option{
		engine.WithConfig(engineConfig()),
		engine.WithLogger(log.With("component", "engine")),
		engine.WithRewards(d),
		engine.WithNotifier(d),
		engine.WithReputation(d),
	}
	return engine.New(s, append(opts, extra...)...), d
}
