package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Thread   ThreadConfig   `mapstructure:"thread"`
	Provider ProviderConfig `mapstructure:"provider"`
	Index    IndexConfig    `mapstructure:"index"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// ThreadConfig holds thread runtime configuration
type ThreadConfig struct {
	ID                string        `mapstructure:"id"`
	HistoryPath       string        `mapstructure:"history_path"`
	MaxAttachmentSize int64         `mapstructure:"max_attachment_size"`
	ToolTimeout       time.Duration `mapstructure:"-"`
	ToolTimeoutStr    string        `mapstructure:"tool_timeout"` // For parsing string duration
}

// ProviderConfig holds model provider configuration
type ProviderConfig struct {
	Name         string        `mapstructure:"name"` // ollama, script
	URL          string        `mapstructure:"url"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"-"`
	TimeoutStr   string        `mapstructure:"timeout"`
}

// IndexConfig holds semantic index configuration
type IndexConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Collection     string `mapstructure:"collection"`
	PersistenceDir string `mapstructure:"persistence_dir"`
	EmbedderModel  string `mapstructure:"embedder_model"`
}

// MetricsConfig holds diagnostics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var (
	// Global config instance
	cfg *Config
)

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// IsLoaded reports whether Load has completed successfully
func IsLoaded() bool {
	return cfg != nil
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	// Set defaults first
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.threadline") // Check project directory first
		viper.AddConfigPath(filepath.Join(xdgConfigHome, "threadline"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.AutomaticEnv()
	bindEnvironmentVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing default file is fine, an explicit or broken one is not
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || cfgFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Post-process durations (viper doesn't handle time.Duration directly)
	if err := processDurations(loaded); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	cfg = loaded
	return cfg, nil
}

// setDefaults sets all default configuration values
func setDefaults() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("logging.log_file", "./.threadline/threadline.log")
	v.SetDefault("logging.preserve", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("thread.id", "default")
	v.SetDefault("thread.history_path", "./.threadline/history.db")
	v.SetDefault("thread.max_attachment_size", 10<<20)
	v.SetDefault("thread.tool_timeout", "30s")

	v.SetDefault("provider.name", "ollama")
	v.SetDefault("provider.url", "http://localhost:11434")
	v.SetDefault("provider.model", "qwen3:latest")
	v.SetDefault("provider.system_prompt", "")
	v.SetDefault("provider.timeout", "90s")

	v.SetDefault("index.enabled", false)
	v.SetDefault("index.collection", "messages")
	v.SetDefault("index.persistence_dir", "")
	v.SetDefault("index.embedder_model", "nomic-embed-text")

	v.SetDefault("metrics.enabled", true)
}

// bindEnvironmentVariables binds THREADLINE_ prefixed variables to viper keys
func bindEnvironmentVariables() {
	viper.BindEnv("logging.log_file", "THREADLINE_LOG_FILE")
	viper.BindEnv("logging.level", "THREADLINE_LOG_LEVEL")
	viper.BindEnv("logging.preserve", "THREADLINE_LOG_PRESERVE")
	viper.BindEnv("thread.id", "THREADLINE_THREAD_ID")
	viper.BindEnv("thread.history_path", "THREADLINE_HISTORY_PATH")
	viper.BindEnv("thread.tool_timeout", "THREADLINE_TOOL_TIMEOUT")
	viper.BindEnv("thread.max_attachment_size", "THREADLINE_MAX_ATTACHMENT_SIZE")
	viper.BindEnv("provider.name", "THREADLINE_PROVIDER")
	viper.BindEnv("provider.url", "THREADLINE_PROVIDER_URL")
	viper.BindEnv("provider.model", "THREADLINE_PROVIDER_MODEL")
	viper.BindEnv("provider.system_prompt", "THREADLINE_SYSTEM_PROMPT")
	viper.BindEnv("index.enabled", "THREADLINE_INDEX_ENABLED")
	viper.BindEnv("index.collection", "THREADLINE_INDEX_COLLECTION")
	viper.BindEnv("metrics.enabled", "THREADLINE_METRICS_ENABLED")
}

// processDurations converts string durations to time.Duration
func processDurations(cfg *Config) error {
	if cfg.Thread.ToolTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.Thread.ToolTimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid thread.tool_timeout: %w", err)
		}
		cfg.Thread.ToolTimeout = d
	} else if cfg.Thread.ToolTimeout == 0 {
		cfg.Thread.ToolTimeout = 30 * time.Second
	}

	if cfg.Provider.TimeoutStr != "" {
		d, err := time.ParseDuration(cfg.Provider.TimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid provider.timeout: %w", err)
		}
		cfg.Provider.Timeout = d
	} else if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 90 * time.Second
	}

	return nil
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// WriteDefaults creates dir/settings.yaml holding the default configuration.
// An existing file is left untouched.
func WriteDefaults(dir string) (string, error) {
	path := filepath.Join(dir, "settings.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	applyDefaults(v)
	if err := v.SafeWriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to write default configuration: %w", err)
	}
	return path, nil
}
