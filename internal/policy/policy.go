// Package policy loads the daemon configuration and answers path and feature questions from it.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PEERTASKS_REDIS_ADDR.
const EnvPrefix = "PEERTASKS"

// ConfigEnv names the environment variable holding the config file path.
const ConfigEnv = "PEERTASKS_CONFIG"

// GlobalStateDir returns the default global state directory (~/.config/peertasks).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "peertasks")
}

// GlobalStateFile returns the default global state file path.
func GlobalStateFile() string {
	return filepath.Join(GlobalStateDir(), "state.sqlite")
}

// IdentityConfig controls the peer credential.
type IdentityConfig struct {
	Label         string        `yaml:"label"`
	CommonPrefix  string        `yaml:"common_prefix"`
	Validity      time.Duration `yaml:"validity"`
	RenewBefore   time.Duration `yaml:"renew_before"`
	RenewInterval time.Duration `yaml:"renew_interval"`
}

// ReplicationConfig points at the Redis bus carrying engine events.
// An empty RedisAddr runs the session without replication.
type ReplicationConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
}

// Config holds the daemon configuration.
type Config struct {
	StateFile    string   `yaml:"state_file"`
	LogFile      string   `yaml:"log_file"`
	LogLevel     string   `yaml:"log_level"`
	HTTPPort     int      `yaml:"http_port"`
	EnabledTools []string `yaml:"enabled_tools"`

	// QuietPeriod is the peer list debounce window.
	QuietPeriod time.Duration `yaml:"quiet_period"`

	Identity    IdentityConfig    `yaml:"identity"`
	Replication ReplicationConfig `yaml:"replication"`
}

// envOverrides mirrors the settings that can come from the environment.
// Pointers stay nil when the variable is unset so file values survive.
type envOverrides struct {
	StateFile     *string        `envconfig:"STATE_FILE"`
	LogFile       *string        `envconfig:"LOG_FILE"`
	LogLevel      *string        `envconfig:"LOG_LEVEL"`
	HTTPPort      *int           `envconfig:"HTTP_PORT"`
	QuietPeriod   *time.Duration `envconfig:"QUIET_PERIOD"`
	RedisAddr     *string        `envconfig:"REDIS_ADDR"`
	RedisPassword *string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       *int           `envconfig:"REDIS_DB"`
	RedisPrefix   *string        `envconfig:"REDIS_PREFIX"`
	IdentityLabel *string        `envconfig:"IDENTITY_LABEL"`
	RenewBefore   *time.Duration `envconfig:"RENEW_BEFORE"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		HTTPPort:     8943,
		EnabledTools: []string{"*"},
		QuietPeriod:  2 * time.Second,
		Identity: IdentityConfig{
			Label:         "peertasks-identity",
			CommonPrefix:  "peertasks",
			Validity:      30 * 24 * time.Hour,
			RenewInterval: time.Hour,
		},
		Replication: ReplicationConfig{
			Prefix: "peertasks",
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads the file named by PEERTASKS_CONFIG (defaults if unset) and then
// applies PEERTASKS_* environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(ConfigEnv); path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any PEERTASKS_* variables that are set.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("env config: %w", err)
	}
	setString(&cfg.StateFile, env.StateFile)
	setString(&cfg.LogFile, env.LogFile)
	setString(&cfg.LogLevel, env.LogLevel)
	setString(&cfg.Replication.RedisAddr, env.RedisAddr)
	setString(&cfg.Replication.RedisPassword, env.RedisPassword)
	setString(&cfg.Replication.Prefix, env.RedisPrefix)
	setString(&cfg.Identity.Label, env.IdentityLabel)
	if env.HTTPPort != nil {
		cfg.HTTPPort = *env.HTTPPort
	}
	if env.RedisDB != nil {
		cfg.Replication.RedisDB = *env.RedisDB
	}
	if env.QuietPeriod != nil {
		cfg.QuietPeriod = *env.QuietPeriod
	}
	if env.RenewBefore != nil {
		cfg.Identity.RenewBefore = *env.RenewBefore
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Policy answers configuration questions for the rest of the daemon.
type Policy struct {
	config *Config
}

// New creates a policy over cfg.
func New(cfg *Config) *Policy {
	return &Policy{config: cfg}
}

// StateFile returns the configured state file path.
// If unset, defaults to the global state file (~/.config/peertasks/state.sqlite).
func (p *Policy) StateFile() string {
	if p.config.StateFile == "" {
		return GlobalStateFile()
	}
	return p.config.StateFile
}

// SignalFilePath returns the path to the change signal file (same directory as state file).
// Stores sharing a database use it to see each other's commits without relying on SQLite WAL file events.
func (p *Policy) SignalFilePath() string {
	return filepath.Join(filepath.Dir(p.StateFile()), ".peertasks-changed")
}

// LogFile returns the configured log file path.
// If unset, defaults to ~/.config/peertasks/peertasks.log.
// Set to "none" or "off" to disable file logging entirely.
func (p *Policy) LogFile() string {
	if p.config.LogFile == "" {
		return filepath.Join(GlobalStateDir(), "peertasks.log")
	}
	return p.config.LogFile
}

// LogLevel returns the zap level name.
func (p *Policy) LogLevel() string {
	if p.config.LogLevel == "" {
		return "info"
	}
	return p.config.LogLevel
}

// HTTPPort returns the HTTP listen port; 0 disables the HTTP server.
func (p *Policy) HTTPPort() int {
	return p.config.HTTPPort
}

// QuietPeriod returns the peer list debounce window.
func (p *Policy) QuietPeriod() time.Duration {
	if p.config.QuietPeriod <= 0 {
		return 2 * time.Second
	}
	return p.config.QuietPeriod
}

// Identity returns the credential settings.
func (p *Policy) Identity() IdentityConfig {
	return p.config.Identity
}

// Replication returns the Redis bus settings.
func (p *Policy) Replication() ReplicationConfig {
	return p.config.Replication
}

// ReplicationEnabled reports whether a Redis address is configured.
func (p *Policy) ReplicationEnabled() bool {
	return p.config.Replication.RedisAddr != ""
}

// IsToolEnabled checks if a tool is enabled
func (p *Policy) IsToolEnabled(name string) bool {
	for _, t := range p.config.EnabledTools {
		if t == "*" || t == name {
			return true
		}
	}
	return false
}
