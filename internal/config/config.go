package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Tiers      []TierConfig     `mapstructure:"tiers"`
	Image      ImageConfig      `mapstructure:"image"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	FloodGuard FloodGuardConfig `mapstructure:"flood_guard"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Admin      AdminConfig      `mapstructure:"admin"`
	UsageSink  UsageSinkConfig  `mapstructure:"usage_sink"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	BodyLimit string `mapstructure:"body_limit"` // echo size string, e.g. "12M"
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	WindowKey   string        `mapstructure:"window_key_prefix"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type QuotaConfig struct {
	HoldTTL          time.Duration `mapstructure:"hold_ttl"`
	EventsTopic      string        `mapstructure:"events_topic"`
	SweepBatchSize   int           `mapstructure:"sweep_batch_size"`
	SweepParallelism int           `mapstructure:"sweep_parallelism"`
}

// TierConfig mirrors model.TierConfig with config keys.
type TierConfig struct {
	Tier                  string `mapstructure:"tier"`
	MonthlyQuota          int    `mapstructure:"monthly_quota"`
	RateWindowSeconds     int    `mapstructure:"rate_window_seconds"`
	RateWindowMaxRequests int    `mapstructure:"rate_window_max_requests"`
	MaxProductsPerRequest int    `mapstructure:"max_products_per_request"`
	MaxImageSizeKB        int    `mapstructure:"max_image_size_kb"`
}

type ImageConfig struct {
	MaxEdge     int `mapstructure:"max_edge"`
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

type DispatcherConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
	HalfOpenMax   int `mapstructure:"half_open_max"  yaml:"half_open_max"`
}

type ProviderConfig struct {
	Name         string        `mapstructure:"name"`
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	GeneratePath string        `mapstructure:"generate_path"`
	APIKey       string        `mapstructure:"api_key"`
	TimeoutMs    int           `mapstructure:"timeout_ms"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

// FloodGuardConfig is the per-IP limit in front of license auth.
type FloodGuardConfig struct {
	RPS    int           `mapstructure:"rps"`
	Window time.Duration `mapstructure:"window"`
}

type AuthConfig struct {
	EnforceDomain bool `mapstructure:"enforce_domain"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type UsageSinkConfig struct {
	Workers   int           `mapstructure:"workers"`
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// TierTable validates the tiers section.
func (c Config) TierTable() (model.TierTable, error) {
	cfgs := make([]model.TierConfig, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tier, ok := model.ParseTier(t.Tier)
		if !ok {
			return model.TierTable{}, fmt.Errorf("tiers: unknown tier %q", t.Tier)
		}
		cfgs = append(cfgs, model.TierConfig{
			Tier:                  tier,
			MonthlyQuota:          t.MonthlyQuota,
			RateWindowSeconds:     t.RateWindowSeconds,
			RateWindowMaxRequests: t.RateWindowMaxRequests,
			MaxProductsPerRequest: t.MaxProductsPerRequest,
			MaxImageSizeKB:        t.MaxImageSizeKB,
		})
	}
	tt, err := model.NewTierTable(cfgs)
	if err != nil {
		return model.TierTable{}, fmt.Errorf("tiers: %w", err)
	}
	return tt, nil
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (AIGEN_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	// env override (AIGEN_HTTP_ADDR -> http.addr)
	v.SetEnvPrefix("AIGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := cfg.TierTable(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
