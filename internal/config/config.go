package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/stone-age-io/remediator/internal/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g. REMEDIATOR_COMMANDS_TIMEOUT
const EnvPrefix = "REMEDIATOR"

// Config is the remediator configuration
type Config struct {
	Commands     CommandsConfig     `mapstructure:"commands"`
	Restart      RestartConfig      `mapstructure:"restart"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Platform     PlatformConfig     `mapstructure:"platform"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Report       ReportConfig       `mapstructure:"report"`
}

// CommandsConfig bounds every external command
type CommandsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

// RetryConfig is the executor retry policy; max_attempts 1 disables retries
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	BackoffRate float64       `mapstructure:"backoff_rate"`
}

// RestartConfig tunes the restart workflow
type RestartConfig struct {
	StopSettle  time.Duration `mapstructure:"stop_settle"`
	StartSettle time.Duration `mapstructure:"start_settle"`
	Candidates  []string      `mapstructure:"candidates"`
}

// ConnectivityConfig lists what is checked after a restart
type ConnectivityConfig struct {
	Targets   []string `mapstructure:"targets"`
	PingCount int      `mapstructure:"ping_count"`
	DNSHost   string   `mapstructure:"dns_host"`
}

// Sudo modes
const (
	SudoAuto   = "auto"
	SudoAlways = "always"
	SudoNever  = "never"
)

// PlatformConfig controls privilege elevation of service commands
type PlatformConfig struct {
	Sudo string `mapstructure:"sudo"`
}

// LoggingConfig controls log level and the optional rotating log file.
// Logs always go to stderr; File adds a JSON copy.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// MetricsConfig enables the node_exporter textfile output
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// ReportConfig publishes every outcome to NATS
type ReportConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DeviceID      string        `mapstructure:"device_id"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
	NATS          NATSConfig    `mapstructure:"nats"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URLs []string   `mapstructure:"urls"`
	Auth AuthConfig `mapstructure:"auth"`
	TLS  TLSConfig  `mapstructure:"tls"`
}

// AuthConfig holds NATS authentication settings
type AuthConfig struct {
	Type      string `mapstructure:"type"` // creds, token, userpass, none
	CredsFile string `mapstructure:"creds_file"`
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig holds TLS settings for the NATS connection
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// Validation patterns; hostPattern accepts hostnames and IP literals but no
// leading dash, which ping and nslookup would read as an option
var (
	tokenPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	hostPattern     = regexp.MustCompile(`^[a-zA-Z0-9:][a-zA-Z0-9.:-]*$`)
)

// Load reads configuration from defaults, an optional YAML file and the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigError("failed to read config file", err).WithContext("path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError("failed to parse config", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, errors.NewConfigError("invalid configuration", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("commands.timeout", 30*time.Second)
	v.SetDefault("commands.retry.max_attempts", 1)
	v.SetDefault("commands.retry.delay", 2*time.Second)
	v.SetDefault("commands.retry.backoff_rate", 2.0)

	v.SetDefault("restart.stop_settle", 3*time.Second)
	v.SetDefault("restart.start_settle", 5*time.Second)
	v.SetDefault("restart.candidates", []string{})

	v.SetDefault("connectivity.targets", []string{"8.8.8.8", "1.1.1.1", "10.0.0.1", "192.168.1.1"})
	v.SetDefault("connectivity.ping_count", 2)
	v.SetDefault("connectivity.dns_host", "google.com")

	v.SetDefault("platform.sudo", SudoAuto)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("report.enabled", false)
	v.SetDefault("report.device_id", "")
	v.SetDefault("report.subject_prefix", "agents")
	v.SetDefault("report.timeout", 5*time.Second)
	v.SetDefault("report.nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("report.nats.auth.type", "none")
	v.SetDefault("report.nats.auth.token", "")
	v.SetDefault("report.nats.auth.username", "")
	v.SetDefault("report.nats.auth.password", "")
	v.SetDefault("report.nats.tls.enabled", false)
	v.SetDefault("report.nats.tls.cert_file", "")
	v.SetDefault("report.nats.tls.key_file", "")
	v.SetDefault("report.nats.tls.ca_file", "")
	v.SetDefault("report.nats.tls.insecure_skip_verify", false)

	UpdateConfigDefaults(v)
}

// validate checks configuration values
func validate(cfg *Config) error {
	// Commands
	if cfg.Commands.Timeout < 5*time.Second {
		return fmt.Errorf("command timeout must be at least 5 seconds")
	}
	if cfg.Commands.Timeout > 5*time.Minute {
		return fmt.Errorf("command timeout must not exceed 5 minutes")
	}
	if cfg.Commands.Retry.MaxAttempts < 1 || cfg.Commands.Retry.MaxAttempts > 5 {
		return fmt.Errorf("retry max_attempts must be between 1 and 5")
	}
	if cfg.Commands.Retry.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}
	if cfg.Commands.Retry.BackoffRate < 1 {
		return fmt.Errorf("retry backoff_rate must be at least 1")
	}

	// Restart
	if cfg.Restart.StopSettle < 0 || cfg.Restart.StartSettle < 0 {
		return fmt.Errorf("settle times must not be negative")
	}
	if cfg.Restart.StopSettle > time.Minute || cfg.Restart.StartSettle > time.Minute {
		return fmt.Errorf("settle times must not exceed 1 minute")
	}
	for _, name := range cfg.Restart.Candidates {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("restart candidates must not contain empty names")
		}
	}

	// Connectivity
	if len(cfg.Connectivity.Targets) == 0 {
		return fmt.Errorf("at least one connectivity target is required")
	}
	for _, target := range cfg.Connectivity.Targets {
		if !hostPattern.MatchString(target) {
			return fmt.Errorf("invalid connectivity target %q: must be a hostname or IP address", target)
		}
	}
	if cfg.Connectivity.PingCount < 1 || cfg.Connectivity.PingCount > 10 {
		return fmt.Errorf("ping_count must be between 1 and 10")
	}
	if !hostPattern.MatchString(cfg.Connectivity.DNSHost) {
		return fmt.Errorf("invalid dns_host %q: must be a hostname", cfg.Connectivity.DNSHost)
	}

	// Platform
	switch cfg.Platform.Sudo {
	case SudoAuto, SudoAlways, SudoNever:
	default:
		return fmt.Errorf("invalid sudo mode: %s (must be auto, always, or never)", cfg.Platform.Sudo)
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}
	if cfg.Logging.File != "" && cfg.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging max_size_mb must be at least 1")
	}

	// Report
	if cfg.Report.Enabled {
		if err := validateReport(&cfg.Report); err != nil {
			return err
		}
	}

	return nil
}

func validateReport(cfg *ReportConfig) error {
	if cfg.DeviceID == "" {
		return fmt.Errorf("device_id is required when reporting is enabled")
	}
	if !deviceIDPattern.MatchString(cfg.DeviceID) {
		return fmt.Errorf("device_id must contain only alphanumeric characters, dashes, and underscores")
	}

	if cfg.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}
	if len(cfg.SubjectPrefix) > 50 {
		return fmt.Errorf("subject_prefix must not exceed 50 characters")
	}
	if err := validateSubjectPrefix(cfg.SubjectPrefix); err != nil {
		return err
	}

	if cfg.Timeout < time.Second {
		return fmt.Errorf("report timeout must be at least 1 second")
	}

	if len(cfg.NATS.URLs) == 0 {
		return fmt.Errorf("at least one NATS URL is required")
	}

	switch cfg.NATS.Auth.Type {
	case "creds":
		if cfg.NATS.Auth.CredsFile == "" {
			return fmt.Errorf("creds_file is required for creds auth")
		}
	case "token":
		if cfg.NATS.Auth.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
	case "userpass":
		if cfg.NATS.Auth.Username == "" || cfg.NATS.Auth.Password == "" {
			return fmt.Errorf("username and password are required for userpass auth")
		}
	case "none":
	default:
		return fmt.Errorf("invalid auth type: %s (must be creds, token, userpass, or none)", cfg.NATS.Auth.Type)
	}

	if cfg.NATS.TLS.Enabled {
		if err := validateTLS(&cfg.NATS.TLS); err != nil {
			return err
		}
	}

	return nil
}

// validateSubjectPrefix checks a dot-separated NATS subject prefix
func validateSubjectPrefix(prefix string) error {
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("subject_prefix cannot start or end with a dot")
	}
	if strings.Contains(prefix, "..") {
		return fmt.Errorf("subject_prefix is invalid: consecutive dots not allowed")
	}
	for _, token := range strings.Split(prefix, ".") {
		if !tokenPattern.MatchString(token) {
			return fmt.Errorf("subject_prefix token %q contains invalid characters", token)
		}
	}
	return nil
}

func validateTLS(cfg *TLSConfig) error {
	if cfg.CertFile != "" && cfg.KeyFile == "" {
		return fmt.Errorf("key_file is required when cert_file is set")
	}
	if cfg.KeyFile != "" && cfg.CertFile == "" {
		return fmt.Errorf("cert_file is required when key_file is set")
	}
	if cfg.CertFile != "" {
		if _, err := os.Stat(cfg.CertFile); err != nil {
			return fmt.Errorf("certificate file not found: %s", cfg.CertFile)
		}
	}
	if cfg.KeyFile != "" {
		if _, err := os.Stat(cfg.KeyFile); err != nil {
			return fmt.Errorf("key file not found: %s", cfg.KeyFile)
		}
	}
	if cfg.CAFile != "" {
		if _, err := os.Stat(cfg.CAFile); err != nil {
			return fmt.Errorf("CA file not found: %s", cfg.CAFile)
		}
	}
	return nil
}
