package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Engine         EngineConfig         `mapstructure:"engine"`
	Sampler        SamplerConfig        `mapstructure:"sampler"`
	Controller     ControllerConfig     `mapstructure:"controller"`
	History        HistoryConfig        `mapstructure:"history"`
	DefaultPolicy  PolicyConfig         `mapstructure:"default_policy"`
	LeaderElection LeaderElectionConfig `mapstructure:"leader_election"`
	LogLevel       string               `mapstructure:"log_level"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	APIKey       string        `mapstructure:"api_key"`
	EnableAuth   bool          `mapstructure:"enable_auth"`
}

type EngineConfig struct {
	HistorySize      int           `mapstructure:"history_size"`
	WindowSize       int           `mapstructure:"window_size"`
	AutotuneInterval time.Duration `mapstructure:"autotune_interval"`
	SaveInterval     time.Duration `mapstructure:"save_interval"`
	SavePath         string        `mapstructure:"save_path"`
}

type SamplerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type ControllerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	PredictionWindow int           `mapstructure:"prediction_window_minutes"`
	MaxDecisions     int           `mapstructure:"max_decisions"`
}

type HistoryConfig struct {
	Path      string `mapstructure:"path"`
	MaxEvents int    `mapstructure:"max_events"`
}

// PolicyConfig is the scaling policy applied to pools created without an
// explicit policy.
type PolicyConfig struct {
	Trigger            string        `mapstructure:"trigger"`
	MinWorkers         int           `mapstructure:"min_workers"`
	MaxWorkers         int           `mapstructure:"max_workers"`
	ScaleUpThreshold   float64       `mapstructure:"scale_up_threshold"`
	ScaleDownThreshold float64       `mapstructure:"scale_down_threshold"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	Step               int           `mapstructure:"step"`
}

type LeaderElectionConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	LockFilePath string        `mapstructure:"lock_file_path"`
	RetryPeriod  time.Duration `mapstructure:"retry_period"`
}

// Load reads configuration from environment variables and an optional config file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("STRATO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.enable_auth", false)

	// Load engine defaults
	v.SetDefault("engine.history_size", 60)
	v.SetDefault("engine.window_size", 10)
	v.SetDefault("engine.autotune_interval", 10*time.Minute)
	v.SetDefault("engine.save_interval", 1*time.Hour)
	v.SetDefault("engine.save_path", "/var/lib/strato/load_metrics.json")

	// Sampler defaults
	v.SetDefault("sampler.enabled", true)
	v.SetDefault("sampler.interval", 5*time.Second)

	// Decision controller defaults
	v.SetDefault("controller.enabled", true)
	v.SetDefault("controller.check_interval", 30*time.Second)
	v.SetDefault("controller.prediction_window_minutes", 15)
	v.SetDefault("controller.max_decisions", 100)

	// Scaling history defaults
	v.SetDefault("history.path", "/var/lib/strato/scaling_history.json")
	v.SetDefault("history.max_events", 1000)

	// Default pool policy
	v.SetDefault("default_policy.trigger", "queue_length")
	v.SetDefault("default_policy.min_workers", 1)
	v.SetDefault("default_policy.max_workers", 5)
	v.SetDefault("default_policy.scale_up_threshold", 0.8)
	v.SetDefault("default_policy.scale_down_threshold", 0.2)
	v.SetDefault("default_policy.cooldown", 60*time.Second)
	v.SetDefault("default_policy.step", 1)

	// Leader election defaults
	v.SetDefault("leader_election.enabled", false)
	v.SetDefault("leader_election.lock_file_path", "/tmp/strato-leader.lock")
	v.SetDefault("leader_election.retry_period", 2*time.Second)

	v.SetDefault("log_level", "info")
}

func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.EnableAuth && c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required when server.enable_auth is true")
	}

	// Engine validation
	if c.Engine.HistorySize < 1 {
		return fmt.Errorf("engine.history_size must be >= 1")
	}
	if c.Engine.WindowSize < 2 {
		return fmt.Errorf("engine.window_size must be >= 2")
	}
	if c.Engine.WindowSize > c.Engine.HistorySize {
		return fmt.Errorf("engine.window_size must be <= engine.history_size")
	}

	// Sampler validation
	if c.Sampler.Enabled && c.Sampler.Interval <= 0 {
		return fmt.Errorf("sampler.interval must be > 0")
	}

	// Controller validation
	if c.Controller.Enabled && c.Controller.CheckInterval <= 0 {
		return fmt.Errorf("controller.check_interval must be > 0")
	}
	if c.Controller.PredictionWindow < 1 {
		return fmt.Errorf("controller.prediction_window_minutes must be >= 1")
	}
	if c.Controller.MaxDecisions < 1 {
		return fmt.Errorf("controller.max_decisions must be >= 1")
	}

	// History validation
	if c.History.MaxEvents < 1 {
		return fmt.Errorf("history.max_events must be >= 1")
	}

	// Default policy validation
	if c.DefaultPolicy.MinWorkers < 1 {
		return fmt.Errorf("default_policy.min_workers must be >= 1")
	}
	if c.DefaultPolicy.MaxWorkers < c.DefaultPolicy.MinWorkers {
		return fmt.Errorf("default_policy.max_workers must be >= default_policy.min_workers")
	}
	if c.DefaultPolicy.ScaleUpThreshold <= c.DefaultPolicy.ScaleDownThreshold {
		return fmt.Errorf("default_policy.scale_up_threshold must be > default_policy.scale_down_threshold")
	}
	if c.DefaultPolicy.Cooldown < 0 {
		return fmt.Errorf("default_policy.cooldown must be >= 0")
	}
	if c.DefaultPolicy.Step < 1 {
		return fmt.Errorf("default_policy.step must be >= 1")
	}

	// Leader election validation
	if c.LeaderElection.Enabled {
		if c.LeaderElection.LockFilePath == "" {
			return fmt.Errorf("leader_election.lock_file_path is required when enabled")
		}
		if c.LeaderElection.RetryPeriod <= 0 {
			return fmt.Errorf("leader_election.retry_period must be > 0")
		}
	}

	return nil
}
