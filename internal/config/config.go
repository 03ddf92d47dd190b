// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Defense    DefenseConfig    `mapstructure:"defense" yaml:"defense"`
	Consent    ConsentConfig    `mapstructure:"consent" yaml:"consent"`
	Origin     OriginConfig     `mapstructure:"origin" yaml:"origin"`
	Monitor    MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	API        APIConfig        `mapstructure:"api" yaml:"api"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser resource pool.
type BrowserConfig struct {
	Headless           bool          `mapstructure:"headless" yaml:"headless"`
	MaxInstances       int           `mapstructure:"max_instances" yaml:"max_instances"`
	MaxTabsPerInstance int           `mapstructure:"max_tabs_per_instance" yaml:"max_tabs_per_instance"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ReclaimInterval    time.Duration `mapstructure:"reclaim_interval" yaml:"reclaim_interval"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	UserAgent          string        `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth      int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight     int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	Args               []string      `mapstructure:"args" yaml:"args"`
}

// ClassifierConfig tunes the multi-strategy contact page detector.
type ClassifierConfig struct {
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	ProbeRateLimit    float64       `mapstructure:"probe_rate_limit" yaml:"probe_rate_limit"`
	MaxLinkCandidates int           `mapstructure:"max_link_candidates" yaml:"max_link_candidates"`
	MinConfidence     int           `mapstructure:"min_confidence" yaml:"min_confidence"`
	PatternProbe      bool          `mapstructure:"pattern_probe" yaml:"pattern_probe"`
	ContentScan       bool          `mapstructure:"content_scan" yaml:"content_scan"`
	LinkTraversal     bool          `mapstructure:"link_traversal" yaml:"link_traversal"`
	FooterScan        bool          `mapstructure:"footer_scan" yaml:"footer_scan"`
	LLM               LLMConfig     `mapstructure:"llm" yaml:"llm"`
}

// LLMConfig configures the optional AI content classifier.
type LLMConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Model      string        `mapstructure:"model" yaml:"model"`
	APIKey     string        `mapstructure:"api_key" yaml:"-"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
}

// DefenseConfig bounds the CAPTCHA detection/response state machine.
type DefenseConfig struct {
	InteractionWait    time.Duration `mapstructure:"interaction_wait" yaml:"interaction_wait"`
	ManualWait         time.Duration `mapstructure:"manual_wait" yaml:"manual_wait"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RecognitionEnabled bool          `mapstructure:"recognition_enabled" yaml:"recognition_enabled"`
}

// ConsentConfig governs the permission-grant state machine.
type ConsentConfig struct {
	ExpiryMinutes      int           `mapstructure:"expiry_minutes" yaml:"expiry_minutes"`
	MaxPendingPerUser  int           `mapstructure:"max_pending_per_user" yaml:"max_pending_per_user"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	AllowedActions     []string      `mapstructure:"allowed_actions" yaml:"allowed_actions"`
	AllowedPermissions []string      `mapstructure:"allowed_permissions" yaml:"allowed_permissions"`
}

// OriginConfig defines the trust gate for inbound requests.
type OriginConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedProtocols []string `mapstructure:"allowed_protocols" yaml:"allowed_protocols"`
	AllowedPorts     []string `mapstructure:"allowed_ports" yaml:"allowed_ports"`
	StrictMode       bool     `mapstructure:"strict_mode" yaml:"strict_mode"`
	ViolationLogCap  int      `mapstructure:"violation_log_cap" yaml:"violation_log_cap"`
}

// MonitorConfig sets the connection-health thresholds and cadence.
type MonitorConfig struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval"`
	LatencyExcellentMs  float64       `mapstructure:"latency_excellent_ms" yaml:"latency_excellent_ms"`
	LatencyGoodMs       float64       `mapstructure:"latency_good_ms" yaml:"latency_good_ms"`
	LatencyFairMs       float64       `mapstructure:"latency_fair_ms" yaml:"latency_fair_ms"`
	LossExcellentPct    float64       `mapstructure:"loss_excellent_pct" yaml:"loss_excellent_pct"`
	LossGoodPct         float64       `mapstructure:"loss_good_pct" yaml:"loss_good_pct"`
	LossFairPct         float64       `mapstructure:"loss_fair_pct" yaml:"loss_fair_pct"`
	LatencyAlertMs      float64       `mapstructure:"latency_alert_ms" yaml:"latency_alert_ms"`
	LossAlertPct        float64       `mapstructure:"loss_alert_pct" yaml:"loss_alert_pct"`
	ErrorAlertCount     int           `mapstructure:"error_alert_count" yaml:"error_alert_count"`
	HistoryWindow       time.Duration `mapstructure:"history_window" yaml:"history_window"`
}

// StoreConfig points at the optional outcome/alert history database.
// An empty URL disables persistence entirely.
type StoreConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// APIConfig configures the consent/origin HTTP surface.
type APIConfig struct {
	ListenAddr   string `mapstructure:"listen_addr" yaml:"listen_addr"`
	JWTSecret    string `mapstructure:"jwt_secret" yaml:"-"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scout-cli")
	v.SetDefault("logger.log_file", "scout.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_instances", 3)
	v.SetDefault("browser.max_tabs_per_instance", 5)
	v.SetDefault("browser.idle_timeout", "5m")
	v.SetDefault("browser.reclaim_interval", "1m")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)

	// -- Classifier --
	v.SetDefault("classifier.probe_timeout", "10s")
	v.SetDefault("classifier.probe_rate_limit", 4.0)
	v.SetDefault("classifier.max_link_candidates", 5)
	v.SetDefault("classifier.min_confidence", 40)
	v.SetDefault("classifier.pattern_probe", true)
	v.SetDefault("classifier.content_scan", true)
	v.SetDefault("classifier.link_traversal", true)
	v.SetDefault("classifier.footer_scan", true)
	v.SetDefault("classifier.llm.enabled", false)
	v.SetDefault("classifier.llm.model", "gemini-2.0-flash")
	v.SetDefault("classifier.llm.api_timeout", "30s")

	// -- Defense --
	v.SetDefault("defense.interaction_wait", "10s")
	v.SetDefault("defense.manual_wait", "60s")
	v.SetDefault("defense.poll_interval", "2s")
	v.SetDefault("defense.recognition_enabled", true)

	// -- Consent --
	v.SetDefault("consent.expiry_minutes", 10)
	v.SetDefault("consent.max_pending_per_user", 5)
	v.SetDefault("consent.sweep_interval", "1m")
	v.SetDefault("consent.allowed_actions", []string{
		"contact_automation", "form_submission", "page_analysis",
	})
	v.SetDefault("consent.allowed_permissions", []string{
		"navigate", "read_content", "fill_forms", "submit_forms", "screenshot",
	})

	// -- Origin --
	v.SetDefault("origin.allowed_origins", []string{
		"http://localhost:3000", "http://localhost:8080",
	})
	v.SetDefault("origin.allowed_protocols", []string{"http", "https"})
	v.SetDefault("origin.allowed_ports", []string{"", "80", "443", "3000", "8080"})
	v.SetDefault("origin.strict_mode", false)
	v.SetDefault("origin.violation_log_cap", 100)

	// -- Monitor --
	v.SetDefault("monitor.health_check_interval", "30s")
	v.SetDefault("monitor.latency_excellent_ms", 100.0)
	v.SetDefault("monitor.latency_good_ms", 300.0)
	v.SetDefault("monitor.latency_fair_ms", 1000.0)
	v.SetDefault("monitor.loss_excellent_pct", 1.0)
	v.SetDefault("monitor.loss_good_pct", 5.0)
	v.SetDefault("monitor.loss_fair_pct", 10.0)
	v.SetDefault("monitor.latency_alert_ms", 2000.0)
	v.SetDefault("monitor.loss_alert_pct", 15.0)
	v.SetDefault("monitor.error_alert_count", 5)
	v.SetDefault("monitor.history_window", "24h")

	// -- API --
	v.SetDefault("api.listen_addr", ":8090")
	v.SetDefault("api.max_body_bytes", 1<<20)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("classifier.llm.api_key", "SCOUT_LLM_API_KEY")
	v.BindEnv("api.jwt_secret", "SCOUT_API_JWT_SECRET")
	v.BindEnv("store.url", "SCOUT_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Classifier.LLM.Enabled && cfg.Classifier.LLM.APIKey == "" {
		cfg.Classifier.LLM.APIKey = os.Getenv("SCOUT_LLM_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.MaxInstances <= 0 {
		return fmt.Errorf("browser.max_instances must be a positive integer")
	}
	if c.Browser.MaxTabsPerInstance <= 0 {
		return fmt.Errorf("browser.max_tabs_per_instance must be a positive integer")
	}
	if c.Browser.IdleTimeout <= 0 {
		return fmt.Errorf("browser.idle_timeout must be a positive duration")
	}
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("classifier configuration invalid: %w", err)
	}
	if err := c.Consent.Validate(); err != nil {
		return fmt.Errorf("consent configuration invalid: %w", err)
	}
	if err := c.Defense.Validate(); err != nil {
		return fmt.Errorf("defense configuration invalid: %w", err)
	}
	if c.Origin.ViolationLogCap <= 0 {
		return fmt.Errorf("origin.violation_log_cap must be a positive integer")
	}
	if c.Monitor.HealthCheckInterval <= 0 {
		return fmt.Errorf("monitor.health_check_interval must be a positive duration")
	}
	return nil
}

// Validate checks the classifier settings.
func (c *ClassifierConfig) Validate() error {
	if c.MaxLinkCandidates <= 0 {
		return fmt.Errorf("max_link_candidates must be greater than 0")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("min_confidence must be between 0 and 100")
	}
	if c.LLM.Enabled && c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required when the LLM classifier is enabled")
	}
	return nil
}

// Validate checks the consent settings.
func (c *ConsentConfig) Validate() error {
	if c.ExpiryMinutes <= 0 {
		return fmt.Errorf("expiry_minutes must be greater than 0")
	}
	if c.MaxPendingPerUser <= 0 {
		return fmt.Errorf("max_pending_per_user must be greater than 0")
	}
	if len(c.AllowedActions) == 0 {
		return fmt.Errorf("allowed_actions must not be empty")
	}
	return nil
}

// Validate checks the defense settings.
func (d *DefenseConfig) Validate() error {
	if d.InteractionWait <= 0 || d.ManualWait <= 0 {
		return fmt.Errorf("interaction_wait and manual_wait must be positive durations")
	}
	if d.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	return nil
}

// Expiry returns the consent expiry as a duration.
func (c *ConsentConfig) Expiry() time.Duration {
	return time.Duration(c.ExpiryMinutes) * time.Minute
}
