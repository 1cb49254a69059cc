package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "revsla"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage revsla configuration.

Running bare 'revsla config' is the same as 'revsla config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# revsla configuration
# See: revsla config show (for effective values and sources)

# State/data directory (default: ~/.config/revsla)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/revsla/revsla.db)
# db_path: {{ .DBPath }}

log:
  # debug, info, warn, error
  level: "{{ .LogLevel }}"
  # Emit JSON log lines instead of text
  json: {{ .LogJSON }}

# Service-level policy
sla:
  # How often the server sweeps open requests
  sweep_interval: {{ .SweepInterval }}
  # Redistributions allowed before a request times out
  max_hops: {{ .MaxHops }}
  # Age at which a held request is moved to a backup reviewer
  redistribute_after: {{ .RedistributeAfter }}
  # How long a request may wait for capacity before the requester is told
  max_pending_wait: {{ .MaxPendingWait }}
  # SLA score points a reviewer loses when a request is taken from them
  redistribution_penalty: {{ .RedistributionPenalty }}
  # Request ages (hours) that trigger requester compensation
  compensation_thresholds: [{{ .Thresholds }}]
  # Tier N pays N times this amount
  compensation_amount: {{ .CompensationAmount }}
  # Paid once when a request times out
  timeout_compensation: {{ .TimeoutCompensation }}

# Rewards, notification, and reputation delivery
ports:
  # POST events here as JSON; empty logs them instead
  webhook_url: "{{ .WebhookURL }}"
  workers: {{ .Workers }}
  queue_size: {{ .QueueSize }}
  retry_attempts: {{ .RetryAttempts }}

serve:
  port: {{ .Port }}
  # Expose Prometheus metrics at /metrics
  metrics: {{ .Metrics }}
`

type configTemplateData struct {
	StateDir              string
	DBPath                string
	LogLevel              string
	LogJSON               bool
	SweepInterval         time.Duration
	MaxHops               int
	RedistributeAfter     time.Duration
	MaxPendingWait        time.Duration
	RedistributionPenalty float64
	Thresholds            string
	CompensationAmount    int
	TimeoutCompensation   int
	WebhookURL            string
	Workers               int
	QueueSize             int
	RetryAttempts         int
	Port                  int
	Metrics               bool
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	thresholds := make([]string, 0)
	for _, h := range viper.GetIntSlice("sla.compensation_thresholds") {
		thresholds = append(thresholds, strconv.Itoa(h))
	}
	data := configTemplateData{
		StateDir:              viper.GetString("state_dir"),
		DBPath:                viper.GetString("db_path"),
		LogLevel:              viper.GetString("log.level"),
		LogJSON:               viper.GetBool("log.json"),
		SweepInterval:         viper.GetDuration("sla.sweep_interval"),
		MaxHops:               viper.GetInt("sla.max_hops"),
		RedistributeAfter:     viper.GetDuration("sla.redistribute_after"),
		MaxPendingWait:        viper.GetDuration("sla.max_pending_wait"),
		RedistributionPenalty: viper.GetFloat64("sla.redistribution_penalty"),
		Thresholds:            strings.Join(thresholds, ", "),
		CompensationAmount:    viper.GetInt("sla.compensation_amount"),
		TimeoutCompensation:   viper.GetInt("sla.timeout_compensation"),
		WebhookURL:            viper.GetString("ports.webhook_url"),
		Workers:               viper.GetInt("ports.workers"),
		QueueSize:             viper.GetInt("ports.queue_size"),
		RetryAttempts:         viper.GetInt("ports.retry_attempts"),
		Port:                  viper.GetInt("serve.port"),
		Metrics:               viper.GetBool("serve.metrics"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "REVSLA_STATE_DIR"},
	{Key: "db_path", EnvVar: "REVSLA_DB_PATH"},
	{Key: "log.level", EnvVar: "REVSLA_LOG_LEVEL"},
	{Key: "log.json", EnvVar: "REVSLA_LOG_JSON"},
	{Key: "sla.sweep_interval", EnvVar: "REVSLA_SLA_SWEEP_INTERVAL"},
	{Key: "sla.max_hops", EnvVar: "REVSLA_SLA_MAX_HOPS"},
	{Key: "sla.redistribute_after", EnvVar: "REVSLA_SLA_REDISTRIBUTE_AFTER"},
	{Key: "sla.max_pending_wait", EnvVar: "REVSLA_SLA_MAX_PENDING_WAIT"},
	{Key: "sla.redistribution_penalty", EnvVar: "REVSLA_SLA_REDISTRIBUTION_PENALTY"},
	{Key: "sla.compensation_thresholds", EnvVar: "REVSLA_SLA_COMPENSATION_THRESHOLDS"},
	{Key: "sla.compensation_amount", EnvVar: "REVSLA_SLA_COMPENSATION_AMOUNT"},
	{Key: "sla.timeout_compensation", EnvVar: "REVSLA_SLA_TIMEOUT_COMPENSATION"},
	{Key: "ports.webhook_url", EnvVar: "REVSLA_PORTS_WEBHOOK_URL"},
	{Key: "ports.workers", EnvVar: "REVSLA_PORTS_WORKERS"},
	{Key: "ports.queue_size", EnvVar: "REVSLA_PORTS_QUEUE_SIZE"},
	{Key: "ports.retry_attempts", EnvVar: "REVSLA_PORTS_RETRY_ATTEMPTS"},
	{Key: "serve.port", EnvVar: "REVSLA_SERVE_PORT"},
	{Key: "serve.metrics", EnvVar: "REVSLA_SERVE_METRICS"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'revsla config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
