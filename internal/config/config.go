// Package config handles configuration management with validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Broker    BrokerConfig    `yaml:"broker"`
	Safety    SafetyConfig    `yaml:"safety"`
	Oracle    OracleConfig    `yaml:"oracle"`
	News      NewsConfig      `yaml:"news"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Timing    TimingConfig    `yaml:"timing"`
	Swap      SwapConfig      `yaml:"swap"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Pair       string `yaml:"pair"`
	BrokerType string `yaml:"broker_type"` // "gmo" or "mock"
	LogLevel   string `yaml:"log_level"`
}

// BrokerConfig contains exchange connection settings.
type BrokerConfig struct {
	APIKey        Secret `yaml:"api_key"`
	APISecret     Secret `yaml:"api_secret"`
	PublicBaseURL string `yaml:"public_base_url"`
	PrivateURL    string `yaml:"private_base_url"`
	TimeoutSec    int    `yaml:"timeout_seconds"`
	// GMO private API allows 1 request per second; the burst stays at 1 so a
	// concurrent monitor cannot double up on the same tick.
	ReadRatePerSec float64 `yaml:"read_rate_per_sec"`
	ReadBurst      int     `yaml:"read_burst"`
}

// SafetyConfig contains interlock and kill switch settings.
type SafetyConfig struct {
	// EnableLiveTrading is the persisted half of the two-stage arm. The
	// runtime half is the LIVE_TRADING_ARMED=YES environment variable.
	EnableLiveTrading   bool    `yaml:"enable_live_trading"`
	KillSwitchMarginPct float64 `yaml:"kill_switch_margin_pct"`
	CooldownSec         int     `yaml:"cooldown_seconds"`
	MinConfidence       float64 `yaml:"min_confidence"`
	OrderSize           float64 `yaml:"order_size"`
	MinLotUnit          int64   `yaml:"min_lot_unit"`
	MaxOpenPositions    int     `yaml:"max_open_positions"`
	ReconcileOnStart    bool    `yaml:"reconcile_on_start"`
}

// OracleConfig configures the AI proposal oracle.
type OracleConfig struct {
	Provider    string `yaml:"provider"` // "openai"
	APIKey      Secret `yaml:"api_key"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	TimeoutSec  int    `yaml:"timeout_seconds"`
	MinInterval string `yaml:"min_interval"` // e.g. "1h"; throttles oracle calls
}

// NewsConfig configures the news digest collaborator.
type NewsConfig struct {
	Provider   string `yaml:"provider"` // "tavily" or "mock"
	APIKey     Secret `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_seconds"`
	MaxResults int    `yaml:"max_results"`
}

// AlertsConfig configures best-effort notification channels.
type AlertsConfig struct {
	SlackWebhookURL   Secret `yaml:"slack_webhook_url"`
	DiscordWebhookURL Secret `yaml:"discord_webhook_url"`
}

// StorageConfig configures durable local state.
type StorageConfig struct {
	AuditDBPath string `yaml:"audit_db_path"`
	StateDBPath string `yaml:"state_db_path"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	EnableMetrics bool     `yaml:"enable_metrics"`
	MetricsPort   int      `yaml:"metrics_port"`
	LivePort      int      `yaml:"live_port"`
	LiveOrigins   []string `yaml:"live_origins"`
}

// TimingConfig contains cycle timing settings.
type TimingConfig struct {
	CycleIntervalSec int `yaml:"cycle_interval_seconds"`
}

// SwapConfig carries the manually maintained swap points, with a freshness
// stamp because stale swap data silently poisons every carry decision.
type SwapConfig struct {
	UpdatedAt string                `yaml:"updated_at"` // YYYY-MM-DD
	Overrides map[string]SwapPoints `yaml:"overrides"`
}

// SwapPoints are the per-day swap points for one pair.
type SwapPoints struct {
	Long  float64 `yaml:"long"`
	Short float64 `yaml:"short"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "INFO"
	}
	if c.App.BrokerType == "" {
		c.App.BrokerType = "mock"
	}
	if c.Broker.TimeoutSec == 0 {
		c.Broker.TimeoutSec = 10
	}
	if c.Broker.ReadRatePerSec == 0 {
		c.Broker.ReadRatePerSec = 0.9
	}
	if c.Broker.ReadBurst == 0 {
		c.Broker.ReadBurst = 1
	}
	if c.Safety.KillSwitchMarginPct == 0 {
		c.Safety.KillSwitchMarginPct = 120.0
	}
	if c.Safety.CooldownSec == 0 {
		c.Safety.CooldownSec = 3600
	}
	if c.Safety.MaxOpenPositions == 0 {
		c.Safety.MaxOpenPositions = 1
	}
	if c.Safety.MinLotUnit == 0 {
		c.Safety.MinLotUnit = 1000
	}
	if c.Oracle.TimeoutSec == 0 {
		c.Oracle.TimeoutSec = 60
	}
	if c.News.TimeoutSec == 0 {
		c.News.TimeoutSec = 10
	}
	if c.News.MaxResults == 0 {
		c.News.MaxResults = 5
	}
	if c.Timing.CycleIntervalSec == 0 {
		c.Timing.CycleIntervalSec = 60
	}
	if c.Storage.AuditDBPath == "" {
		c.Storage.AuditDBPath = "data/audit.db"
	}
	if c.Storage.StateDBPath == "" {
		c.Storage.StateDBPath = "data/state.db"
	}
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateAppConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateBrokerConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSafetyConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateOracleConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.Pair == "" {
		return ValidationError{Field: "app.pair", Message: "currency pair is required"}
	}

	validBrokers := []string{"gmo", "mock"}
	if !contains(validBrokers, c.App.BrokerType) {
		return ValidationError{
			Field:   "app.broker_type",
			Value:   c.App.BrokerType,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validBrokers, ", ")),
		}
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}

	return nil
}

func (c *Config) validateBrokerConfig() error {
	// Mock broker needs no credentials.
	if c.App.BrokerType == "mock" {
		return nil
	}

	if c.Broker.APIKey == "" {
		return ValidationError{Field: "broker.api_key", Message: "API key is required for live broker"}
	}
	if c.Broker.APISecret == "" {
		return ValidationError{Field: "broker.api_secret", Message: "API secret is required for live broker"}
	}
	if c.Broker.ReadRatePerSec <= 0 || c.Broker.ReadRatePerSec > 100 {
		return ValidationError{
			Field:   "broker.read_rate_per_sec",
			Value:   c.Broker.ReadRatePerSec,
			Message: "must be in (0, 100]",
		}
	}
	return nil
}

func (c *Config) validateSafetyConfig() error {
	if c.Safety.KillSwitchMarginPct <= 0 {
		return ValidationError{
			Field:   "safety.kill_switch_margin_pct",
			Value:   c.Safety.KillSwitchMarginPct,
			Message: "must be positive",
		}
	}
	if c.Safety.MinConfidence < 0 || c.Safety.MinConfidence > 1 {
		return ValidationError{
			Field:   "safety.min_confidence",
			Value:   c.Safety.MinConfidence,
			Message: "must be in [0, 1]",
		}
	}
	if c.Safety.MaxOpenPositions != 1 {
		return ValidationError{
			Field:   "safety.max_open_positions",
			Value:   c.Safety.MaxOpenPositions,
			Message: "only a single open position is supported",
		}
	}
	if c.Safety.OrderSize < 0 {
		return ValidationError{
			Field:   "safety.order_size",
			Value:   c.Safety.OrderSize,
			Message: "must not be negative",
		}
	}
	if c.Safety.OrderSize > 0 && c.Safety.MinLotUnit > 0 &&
		int64(c.Safety.OrderSize)%c.Safety.MinLotUnit != 0 {
		return ValidationError{
			Field:   "safety.order_size",
			Value:   c.Safety.OrderSize,
			Message: fmt.Sprintf("must be a multiple of the %d unit lot", c.Safety.MinLotUnit),
		}
	}
	return nil
}

func (c *Config) validateOracleConfig() error {
	if c.Oracle.Provider == "" {
		return nil // oracle disabled; every cycle degrades to Hold
	}
	if c.Oracle.Provider != "openai" {
		return ValidationError{
			Field:   "oracle.provider",
			Value:   c.Oracle.Provider,
			Message: "must be 'openai' or empty",
		}
	}
	if c.Oracle.Model == "" {
		return ValidationError{Field: "oracle.model", Message: "model is required when oracle is enabled"}
	}
	if c.Oracle.MinInterval != "" {
		if _, err := time.ParseDuration(c.Oracle.MinInterval); err != nil {
			return ValidationError{
				Field:   "oracle.min_interval",
				Value:   c.Oracle.MinInterval,
				Message: "must be a valid duration (e.g. '1h')",
			}
		}
	}
	return nil
}

// OracleMinInterval returns the parsed oracle throttle interval.
func (c *Config) OracleMinInterval() time.Duration {
	if c.Oracle.MinInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Oracle.MinInterval)
	if err != nil {
		return 0
	}
	return d
}

// SwapFreshness returns the age of the manual swap settings. Stale settings
// are a warning above 7 days and critical above 14.
func (c *Config) SwapFreshness(now time.Time) (time.Duration, error) {
	if c.Swap.UpdatedAt == "" {
		return 0, fmt.Errorf("swap.updated_at is not set")
	}
	updated, err := time.Parse("2006-01-02", c.Swap.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("invalid swap.updated_at: %w", err)
	}
	return now.Sub(updated), nil
}

// expandEnvVars expands ${VAR} references in the YAML content.
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
