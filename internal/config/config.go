package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/sshconn"
)

const redacted = "<redacted>"

// Config holds all configuration for gerrit-trigger
type Config struct {
	Gerrit  GerritConfig  `yaml:"gerrit"`
	Events  EventsConfig  `yaml:"events"`
	Trigger TriggerConfig `yaml:"trigger"`
	Logging LoggingConfig `yaml:"logging"`
	Output  OutputConfig  `yaml:"output"`
}

// GerritConfig holds the SSH connection settings
type GerritConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	PrivateKeyFile string        `yaml:"private_key_file,omitempty"`
	PrivateKey     string        `yaml:"private_key,omitempty"` // PEM, takes precedence over the file
	KeyPassphrase  string        `yaml:"key_passphrase,omitempty"`
	Proxy          string        `yaml:"proxy,omitempty"` // e.g. socks5://proxy:1080
	CommandTimeout time.Duration `yaml:"command_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

// EventsConfig tunes the stream-events bridge used by watch
type EventsConfig struct {
	Workers     int          `yaml:"workers"`
	QueueSize   int          `yaml:"queue_size"`
	MailboxSize int          `yaml:"mailbox_size"`
	DedupSize   int          `yaml:"dedup_size"`
	LazyMode    bool         `yaml:"lazy_mode"` // Keep only latest patchset per change in queue
	Filter      FilterConfig `yaml:"filter"`
}

// FilterConfig holds event filtering rules
type FilterConfig struct {
	Projects []string `yaml:"projects"` // Projects to watch (empty = all)
	Exclude  []string `yaml:"exclude"`  // Projects to exclude
}

// TriggerConfig bounds the retry around change discovery
type TriggerConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// LoggingConfig holds diagnostic logging settings
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Verbose bool   `yaml:"verbose"`
	File    string `yaml:"file,omitempty"`
}

// OutputConfig selects how commands print results
type OutputConfig struct {
	Format string `yaml:"format"` // text or json
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default .env) into the
// environment without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Init prepares Viper: .env, defaults, the config file and environment bindings.
// With configFile empty, config.yaml is searched in . and ~/.config/gerrit-trigger
// and a missing file is not an error.
func Init(configFile string) error {
	if err := LoadDotEnv(); err != nil {
		return err
	}

	initViperDefaults()
	bindEnvVars()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "gerrit-trigger"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// LoadConfig builds the configuration from the current Viper state (flags, config
// file, env vars) and validates it
func LoadConfig() (*Config, error) {
	cfg := Build()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// bindEnvVars binds environment variable names to viper keys
func bindEnvVars() {
	viper.BindEnv("gerrit.host", "GERRIT_HOST")
	viper.BindEnv("gerrit.port", "GERRIT_PORT")
	viper.BindEnv("gerrit.user", "GERRIT_USER")
	viper.BindEnv("gerrit.private_key_file", "GERRIT_PRIVATE_KEY_FILE")
	viper.BindEnv("gerrit.private_key", "GERRIT_PRIVATE_KEY")
	viper.BindEnv("gerrit.key_passphrase", "GERRIT_KEY_PASSPHRASE")
	viper.BindEnv("gerrit.proxy", "GERRIT_PROXY")
	viper.BindEnv("gerrit.command_timeout", "GERRIT_COMMAND_TIMEOUT")
	viper.BindEnv("events.workers", "EVENTS_WORKERS")
	viper.BindEnv("events.lazy_mode", "EVENTS_LAZY_MODE")
	viper.BindEnv("trigger.max_retries", "TRIGGER_MAX_RETRIES")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("logging.verbose", "LOG_VERBOSE")
	viper.BindEnv("logging.file", "LOG_FILE")
	viper.BindEnv("output.format", "OUTPUT_FORMAT")
}

// initViperDefaults sets default values
func initViperDefaults() {
	viper.SetDefault("gerrit.port", sshconn.DefaultPort)
	viper.SetDefault("gerrit.command_timeout", "60s")
	viper.SetDefault("gerrit.dial_timeout", "10s")
	viper.SetDefault("events.workers", 2)
	viper.SetDefault("events.queue_size", 100)
	viper.SetDefault("events.mailbox_size", 64)
	viper.SetDefault("events.dedup_size", 1024)
	viper.SetDefault("events.lazy_mode", false)
	viper.SetDefault("trigger.max_retries", 3)
	viper.SetDefault("trigger.retry_interval", "5s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.verbose", false)
	viper.SetDefault("output.format", "text")
}

// Build constructs a Config from the current Viper state without validating it
func Build() *Config {
	initViperDefaults()
	bindEnvVars()

	cfg := &Config{
		Gerrit: GerritConfig{
			Host:           viper.GetString("gerrit.host"),
			Port:           viper.GetInt("gerrit.port"),
			User:           viper.GetString("gerrit.user"),
			PrivateKeyFile: viper.GetString("gerrit.private_key_file"),
			PrivateKey:     viper.GetString("gerrit.private_key"),
			KeyPassphrase:  viper.GetString("gerrit.key_passphrase"),
			Proxy:          viper.GetString("gerrit.proxy"),
			CommandTimeout: viper.GetDuration("gerrit.command_timeout"),
			DialTimeout:    viper.GetDuration("gerrit.dial_timeout"),
		},
		Events: EventsConfig{
			Workers:     viper.GetInt("events.workers"),
			QueueSize:   viper.GetInt("events.queue_size"),
			MailboxSize: viper.GetInt("events.mailbox_size"),
			DedupSize:   viper.GetInt("events.dedup_size"),
			LazyMode:    viper.GetBool("events.lazy_mode"),
			Filter: FilterConfig{
				Projects: viper.GetStringSlice("events.filter.projects"),
				Exclude:  viper.GetStringSlice("events.filter.exclude"),
			},
		},
		Trigger: TriggerConfig{
			MaxRetries:    viper.GetInt("trigger.max_retries"),
			RetryInterval: viper.GetDuration("trigger.retry_interval"),
		},
		Logging: LoggingConfig{
			Level:   strings.ToLower(strings.TrimSpace(viper.GetString("logging.level"))),
			Verbose: viper.GetBool("logging.verbose"),
			File:    viper.GetString("logging.file"),
		},
		Output: OutputConfig{
			Format: strings.ToLower(strings.TrimSpace(viper.GetString("output.format"))),
		},
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gerrit.Host == "" {
		return fmt.Errorf("gerrit.host is required")
	}

	if c.Gerrit.User == "" {
		return fmt.Errorf("gerrit.user is required")
	}

	if c.Gerrit.PrivateKey == "" && c.Gerrit.PrivateKeyFile == "" {
		return fmt.Errorf("gerrit.private_key_file or gerrit.private_key is required")
	}

	if c.Gerrit.Port < 1 || c.Gerrit.Port > 65535 {
		return fmt.Errorf("gerrit.port must be between 1 and 65535, got %d", c.Gerrit.Port)
	}

	if c.Events.Workers < 1 {
		return fmt.Errorf("events.workers must be at least 1, got %d", c.Events.Workers)
	}

	if c.Trigger.MaxRetries < 0 {
		return fmt.Errorf("trigger.max_retries must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}

	switch c.Output.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("output.format must be text or json; got %q", c.Output.Format)
	}

	return nil
}

// LogVerbose reports whether debug logging is enabled by level or flag
func (c *Config) LogVerbose() bool {
	return c.Logging.Verbose || c.Logging.Level == "debug"
}

// Credentials builds the SSH credentials, reading the private key file if no inline
// key is configured
func (c *Config) Credentials() (sshconn.Credentials, error) {
	key := []byte(c.Gerrit.PrivateKey)
	if len(key) == 0 {
		data, err := os.ReadFile(expandHome(c.Gerrit.PrivateKeyFile))
		if err != nil {
			return sshconn.Credentials{}, fmt.Errorf("failed to read private key: %w", err)
		}
		key = data
	}

	creds := sshconn.Credentials{
		Host:        c.Gerrit.Host,
		Port:        c.Gerrit.Port,
		Proxy:       c.Gerrit.Proxy,
		User:        c.Gerrit.User,
		PrivateKey:  key,
		DialTimeout: c.Gerrit.DialTimeout,
	}
	if c.Gerrit.KeyPassphrase != "" {
		creds.Passphrase = []byte(c.Gerrit.KeyPassphrase)
	}
	return creds, nil
}

// Redacted returns a copy safe to print: key material and passphrase are masked
func (c *Config) Redacted() Config {
	out := *c
	if out.Gerrit.PrivateKey != "" {
		out.Gerrit.PrivateKey = redacted
	}
	if out.Gerrit.KeyPassphrase != "" {
		out.Gerrit.KeyPassphrase = redacted
	}
	if out.Gerrit.Proxy != "" {
		out.Gerrit.Proxy = redactURL(out.Gerrit.Proxy)
	}
	return out
}

// redactURL masks a password embedded in a proxy URL
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	user, _, hasPass := strings.Cut(userinfo, ":")
	if !hasPass {
		return raw
	}
	return scheme + "://" + user + ":" + redacted + "@" + host
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
