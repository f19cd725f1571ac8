package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Sources struct {
		Fred struct {
			APIKey  string        `yaml:"api_key"`
			BaseURL string        `yaml:"base_url"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"fred"`
		AlphaVantage struct {
			APIKey    string        `yaml:"api_key"`
			BaseURL   string        `yaml:"base_url"`
			Timeout   time.Duration `yaml:"timeout"`
			CallDelay time.Duration `yaml:"call_delay"`
		} `yaml:"alpha_vantage"`
		MetalsDev struct {
			APIKey  string        `yaml:"api_key"`
			BaseURL string        `yaml:"base_url"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"metals_dev"`
	} `yaml:"sources"`
	Data struct {
		Dir               string `yaml:"dir"`           // CSV archives and static export
		CacheFile         string `yaml:"cache_file"`    // local bundle cache
		SnapshotFile      string `yaml:"snapshot_file"` // local snapshot fallback
		AllowFileFallback bool   `yaml:"allow_file_fallback"`
		AllowLiveRebuild  bool   `yaml:"allow_live_rebuild"`
		// OffWarrantCeiling caps plausible monthly off-warrant values when
		// deduplicating archive rows. Zero disables the check.
		OffWarrantCeiling float64 `yaml:"off_warrant_ceiling"`
	} `yaml:"data"`
	Auth struct {
		RebuildToken  string `yaml:"rebuild_token"`
		SnapshotToken string `yaml:"snapshot_token"`
	} `yaml:"auth"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled     bool          `yaml:"enabled"`
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port"`
		Database    string        `yaml:"database"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Host     string        `yaml:"host"`
		Port     int           `yaml:"port"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PageTTL  time.Duration `yaml:"page_ttl"`
	} `yaml:"redis"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// Secrets are expected from the environment in deployed setups.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FRED_API_KEY"); v != "" {
		c.Sources.Fred.APIKey = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		c.Sources.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("METALS_DEV_API_KEY"); v != "" {
		c.Sources.MetalsDev.APIKey = v
	}
	if v := os.Getenv("ECONOMY_SNAPSHOT_API_TOKEN"); v != "" {
		c.Auth.RebuildToken = v
	}
	if v := os.Getenv("MARKET_SNAPSHOT_API_TOKEN"); v != "" {
		c.Auth.SnapshotToken = v
	}
	if v := os.Getenv("ECONOMY_CACHE_FILE"); v != "" {
		c.Data.CacheFile = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Data.CacheFile == "" {
		return fmt.Errorf("data.cache_file is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	return nil
}

// IsProduction reports whether the service runs with production semantics:
// unauthenticated endpoint access is refused and remote snapshots are the
// preferred fallback.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
