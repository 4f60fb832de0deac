// Package config loads and validates dispatcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Broker   BrokerConfig   `mapstructure:"broker"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Identity IdentityConfig `mapstructure:"identity"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BrokerConfig controls the AMQP connection pool and topology names.
type BrokerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	VHost           string `mapstructure:"vhost"`
	PoolSize        int    `mapstructure:"pool_size"`
	Prefetch        int    `mapstructure:"prefetch"`
	ProduceExchange string `mapstructure:"produce_exchange"`
	ConsumeExchange string `mapstructure:"consume_exchange"`
	ConsumeQueue    string `mapstructure:"consume_queue"`
}

// URL assembles the AMQP connection string.
func (b BrokerConfig) URL() string {
	vhost := b.VHost
	if strings.HasPrefix(vhost, "/") {
		vhost = strings.ReplaceAll(vhost, "/", "%2f")
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", b.User, b.Password, b.Host, b.Port, vhost)
}

// PipelineConfig names the stage queues. The scrape stage may run several
// equivalent worker queues; the rate limiter picks the instance.
type PipelineConfig struct {
	ScrapeQueue        string `mapstructure:"scrape_queue"`
	ScrapeInstances    int    `mapstructure:"scrape_instances"`
	HeavyRetryQueue    string `mapstructure:"heavy_retry_queue"`
	ExtractQueue       string `mapstructure:"extract_queue"`
	NotifyQueue        string `mapstructure:"notify_queue"`
	DBManagerQueue     string `mapstructure:"db_manager_queue"`
	StatusManagerQueue string `mapstructure:"status_manager_queue"`
	CooldownSeconds    int    `mapstructure:"cooldown_seconds"`
}

// ScrapeQueues expands the scrape stage into its instance queue names:
// a single instance keeps the bare name, multiple instances are numbered.
func (p PipelineConfig) ScrapeQueues() []string {
	if p.ScrapeInstances <= 1 {
		return []string{p.ScrapeQueue}
	}
	queues := make([]string, 0, p.ScrapeInstances)
	for i := 1; i <= p.ScrapeInstances; i++ {
		queues = append(queues, fmt.Sprintf("%s%d", p.ScrapeQueue, i))
	}
	return queues
}

// StageQueues flattens every produce-side queue for topology declaration.
func (p PipelineConfig) StageQueues() []string {
	queues := p.ScrapeQueues()
	queues = append(queues,
		p.HeavyRetryQueue,
		p.ExtractQueue,
		p.NotifyQueue,
		p.DBManagerQueue,
		p.StatusManagerQueue,
	)
	return queues
}

// Cooldown returns the rate-limiter record TTL.
func (p PipelineConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

// RetryConfig tunes the shared retry policies.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	MinDelayMs  int `mapstructure:"min_delay_ms"`
	StepDelayMs int `mapstructure:"step_delay_ms"`
	MaxDelaySec int `mapstructure:"max_delay_seconds"`
	IntervalMs  int `mapstructure:"interval_ms"`
}

// RedisConfig locates the shared cooldown/identity store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the host:port address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// GatewayConfig controls the HTTP API surface.
type GatewayConfig struct {
	Port int `mapstructure:"port"`
}

// IdentityConfig tunes the identity rotation pool.
type IdentityConfig struct {
	PoolSize     int     `mapstructure:"pool_size"`
	RotationRate float64 `mapstructure:"rotation_rate"`
}

// LoggingConfig selects the log output format.
type LoggingConfig struct {
	Format string `mapstructure:"format"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.host", "localhost")
	v.SetDefault("broker.port", 5672)
	v.SetDefault("broker.user", "guest")
	v.SetDefault("broker.password", "guest")
	v.SetDefault("broker.vhost", "")
	v.SetDefault("broker.pool_size", 16)
	v.SetDefault("broker.prefetch", 1)
	v.SetDefault("broker.produce_exchange", "from_dispatcher")
	v.SetDefault("broker.consume_exchange", "to_dispatcher")
	v.SetDefault("broker.consume_queue", "to_dispatcher")
	v.SetDefault("pipeline.scrape_queue", "scrape")
	v.SetDefault("pipeline.scrape_instances", 1)
	v.SetDefault("pipeline.heavy_retry_queue", "heavy_retry")
	v.SetDefault("pipeline.extract_queue", "extract")
	v.SetDefault("pipeline.notify_queue", "notify")
	v.SetDefault("pipeline.db_manager_queue", "db_manager")
	v.SetDefault("pipeline.status_manager_queue", "status_manager")
	v.SetDefault("pipeline.cooldown_seconds", 2)
	v.SetDefault("retry.max_attempts", 10)
	v.SetDefault("retry.min_delay_ms", 800)
	v.SetDefault("retry.step_delay_ms", 300)
	v.SetDefault("retry.max_delay_seconds", 20)
	v.SetDefault("retry.interval_ms", 400)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("identity.pool_size", 64)
	v.SetDefault("identity.rotation_rate", 0.2)
	v.SetDefault("logging.format", "text")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host must be set")
	}
	if c.Broker.PoolSize <= 0 {
		return fmt.Errorf("broker.pool_size must be > 0")
	}
	if c.Pipeline.ScrapeInstances <= 0 {
		return fmt.Errorf("pipeline.scrape_instances must be > 0")
	}
	if c.Pipeline.CooldownSeconds <= 0 {
		return fmt.Errorf("pipeline.cooldown_seconds must be > 0")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if c.Identity.RotationRate < 0 || c.Identity.RotationRate > 1 {
		return fmt.Errorf("identity.rotation_rate must be in [0,1]")
	}
	if c.Gateway.Port <= 0 {
		return fmt.Errorf("gateway.port must be > 0")
	}
	for _, q := range c.Pipeline.StageQueues() {
		if q == "" {
			return fmt.Errorf("pipeline queue names must not be empty")
		}
	}
	return nil
}
