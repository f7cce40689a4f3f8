package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Signalflow SignalflowConfig `yaml:"signalflow"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Bus        BusConfig        `yaml:"bus"`
	Health     HealthConfig     `yaml:"health"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Endpoints  EndpointsConfig  `yaml:"endpoints"`
	Firehose   FirehoseConfig   `yaml:"firehose"`
	Fallback   FallbackConfig   `yaml:"fallback"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
}

type SignalflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
	Dashboard  string `yaml:"dashboard"`
}

type BusConfig struct {
	HistorySize int `yaml:"history_size"`
	QueueSize   int `yaml:"queue_size"`
}

type HealthConfig struct {
	StallThreshold    time.Duration `yaml:"stall_threshold"`
	WindowSeconds     int           `yaml:"window_seconds"`
	MaxLatencySamples int           `yaml:"max_latency_samples"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

type WatchdogConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BootGrace   time.Duration `yaml:"boot_grace"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

type EndpointsConfig struct {
	File             string        `yaml:"file"`
	Network          string        `yaml:"network"`
	FailureThreshold int           `yaml:"failure_threshold"`
	CooldownPeriod   time.Duration `yaml:"cooldown_period"`
	RotateMin        time.Duration `yaml:"rotate_min"`
	RotateMax        time.Duration `yaml:"rotate_max"`
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	AlertCooldown    time.Duration `yaml:"alert_cooldown"`
}

type FirehoseConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

type FallbackConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

type ConsumerConfig struct {
	Dir            string        `yaml:"dir"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ExecuteEnabled bool          `yaml:"execute_enabled"`
	WindowMinutes  int           `yaml:"window_minutes"`
}

type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
}

// LoadConfig reads, defaults, env-overrides and validates the yaml
// configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Bus: BusConfig{
			HistorySize: 2000,
			QueueSize:   1000,
		},
		Health: HealthConfig{
			StallThreshold:    5 * time.Second,
			WindowSeconds:     10,
			MaxLatencySamples: 500,
			PollInterval:      time.Second,
		},
		Watchdog: WatchdogConfig{
			Interval:    30 * time.Second,
			BootGrace:   90 * time.Second,
			SettleDelay: 5 * time.Second,
		},
		Endpoints: EndpointsConfig{
			File:             "config/endpoints.yml",
			Network:          "solana",
			FailureThreshold: 3,
			CooldownPeriod:   600 * time.Second,
			RotateMin:        120 * time.Second,
			RotateMax:        300 * time.Second,
			MonitorInterval:  90 * time.Second,
			AlertCooldown:    300 * time.Second,
		},
		Firehose: FirehoseConfig{
			Enabled:        true,
			PingInterval:   20 * time.Second,
			ReconnectDelay: 5 * time.Second,
			ReadTimeout:    30 * time.Second,
		},
		Fallback: FallbackConfig{
			PollInterval:      2 * time.Second,
			RequestTimeout:    10 * time.Second,
			RequestsPerSecond: 2,
			BurstSize:         4,
		},
		Consumer: ConsumerConfig{
			Dir:           "runtime/orders",
			PollInterval:  250 * time.Millisecond,
			WindowMinutes: 60,
		},
		Dashboard: DashboardConfig{
			Address: "127.0.0.1:8070",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Live execution is opt-in and its switch lives in the environment so a
	// committed config file can never flip a rehearsal box into trading.
	if v := os.Getenv("SF_EXECUTE"); v != "" {
		config.Consumer.ExecuteEnabled = v == "1"
	}

	// Override archive credentials from environment variables if available
	if config.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.Bucket = strings.TrimSpace(v)
		}
	}
	config.Archive.Bucket = strings.TrimSpace(config.Archive.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Signalflow.Name == "" {
		return fmt.Errorf("signalflow.name is required")
	}

	if cfg.Signalflow.Version == "" {
		return fmt.Errorf("signalflow.version is required")
	}

	if cfg.Bus.HistorySize <= 0 {
		return fmt.Errorf("bus.history_size must be greater than 0")
	}
	if cfg.Bus.QueueSize <= 0 {
		return fmt.Errorf("bus.queue_size must be greater than 0")
	}

	if cfg.Health.StallThreshold <= 0 {
		return fmt.Errorf("health.stall_threshold must be greater than 0")
	}
	if cfg.Health.WindowSeconds <= 0 {
		return fmt.Errorf("health.window_seconds must be greater than 0")
	}

	if cfg.Watchdog.Interval <= 0 {
		return fmt.Errorf("watchdog.interval must be greater than 0")
	}

	if cfg.Endpoints.FailureThreshold <= 0 {
		return fmt.Errorf("endpoints.failure_threshold must be greater than 0")
	}
	if cfg.Endpoints.RotateMax < cfg.Endpoints.RotateMin {
		return fmt.Errorf("endpoints.rotate_max must not be less than endpoints.rotate_min")
	}

	if cfg.Consumer.Dir == "" {
		return fmt.Errorf("consumer.dir is required")
	}
	if cfg.Consumer.PollInterval <= 0 {
		return fmt.Errorf("consumer.poll_interval must be greater than 0")
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when the archive is enabled")
		}
		if cfg.Archive.Region == "" {
			return fmt.Errorf("archive.region is required when the archive is enabled")
		}
		if !isValidS3Bucket(cfg.Archive.Bucket) {
			return fmt.Errorf("archive.bucket '%s' is invalid", cfg.Archive.Bucket)
		}
	}

	return nil
}

// isValidS3Bucket applies the subset of S3 naming rules the archiver relies
// on: lowercase alphanumerics, dots and hyphens, 3-63 chars, no leading or
// trailing separator.
func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-':
			if i == 0 || i == len(name)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
