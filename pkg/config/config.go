// Package config loads service configuration from a YAML file, a .env file
// and OCR_RELAY_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the full configuration for both daemons.
type Config struct {
	// Backend selects the queue store: redis, sqlite or memory.
	Backend string `mapstructure:"backend" yaml:"backend"`

	Receiver ReceiverConfig `mapstructure:"receiver" yaml:"receiver"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	OCR      OCRConfig      `mapstructure:"ocr" yaml:"ocr"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ReceiverConfig configures the HTTP receiver daemon.
type ReceiverConfig struct {
	ListenAddr     string  `mapstructure:"listen_addr" yaml:"listen_addr"`
	MetricsAddr    string  `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// WorkerConfig configures the worker daemon.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MetricsAddr    string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// RedisConfig configures the Redis queue backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// SQLiteConfig configures the SQLite queue backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// QueueConfig configures queue keys and result retention.
type QueueConfig struct {
	Key          string        `mapstructure:"key" yaml:"key"`
	ResultPrefix string        `mapstructure:"result_prefix" yaml:"result_prefix"`
	ResultTTL    time.Duration `mapstructure:"result_ttl" yaml:"result_ttl"`
}

// OCRConfig configures the OCR engine endpoint.
type OCRConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MinConfidence float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
}

// LogConfig configures logging for both daemons.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: "redis",
		Receiver: ReceiverConfig{
			ListenAddr:     ":8001",
			MetricsAddr:    ":9101",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Worker: WorkerConfig{
			Concurrency:    1,
			PollInterval:   1 * time.Second,
			MaxRetries:     3,
			RequestTimeout: 30 * time.Second,
			MetricsAddr:    ":9102",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		SQLite: SQLiteConfig{
			Path: "./ocr-relay.db",
		},
		Queue: QueueConfig{
			Key:          "ocr:input",
			ResultPrefix: "ocr:output",
			ResultTTL:    1 * time.Hour,
		},
		OCR: OCRConfig{
			Endpoint:      "http://localhost:8501",
			Timeout:       30 * time.Second,
			MinConfidence: 0.3,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads configuration from path (optional), a .env file in the working
// directory (optional) and OCR_RELAY_* environment variables.
func Load(path string) (*Config, error) {
	// .env is a convenience for local runs; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("OCR_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ocr-relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ocr-relay")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Backend {
	case "redis", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid backend %q: must be redis, sqlite or memory", c.Backend)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker max_retries must not be negative, got %d", c.Worker.MaxRetries)
	}
	if c.Queue.ResultTTL <= 0 {
		return fmt.Errorf("queue result_ttl must be positive, got %s", c.Queue.ResultTTL)
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		return fmt.Errorf("ocr min_confidence must be within [0,1], got %v", c.OCR.MinConfidence)
	}
	return nil
}

// WriteExample writes the default configuration as a YAML file. Durations
// are rendered in their string form so the file stays readable.
func WriteExample(path string) error {
	c := Default()
	doc := map[string]interface{}{
		"backend": c.Backend,
		"receiver": map[string]interface{}{
			"listen_addr":      c.Receiver.ListenAddr,
			"metrics_addr":     c.Receiver.MetricsAddr,
			"rate_limit_rps":   c.Receiver.RateLimitRPS,
			"rate_limit_burst": c.Receiver.RateLimitBurst,
		},
		"worker": map[string]interface{}{
			"concurrency":     c.Worker.Concurrency,
			"poll_interval":   c.Worker.PollInterval.String(),
			"max_retries":     c.Worker.MaxRetries,
			"request_timeout": c.Worker.RequestTimeout.String(),
			"metrics_addr":    c.Worker.MetricsAddr,
		},
		"redis": map[string]interface{}{
			"addr":     c.Redis.Addr,
			"password": c.Redis.Password,
			"db":       c.Redis.DB,
		},
		"sqlite": map[string]interface{}{
			"path": c.SQLite.Path,
		},
		"queue": map[string]interface{}{
			"key":           c.Queue.Key,
			"result_prefix": c.Queue.ResultPrefix,
			"result_ttl":    c.Queue.ResultTTL.String(),
		},
		"ocr": map[string]interface{}{
			"endpoint":       c.OCR.Endpoint,
			"timeout":        c.OCR.Timeout.String(),
			"min_confidence": c.OCR.MinConfidence,
		},
		"log": map[string]interface{}{
			"level": c.Log.Level,
			"json":  c.Log.JSON,
		},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("backend", c.Backend)
	v.SetDefault("receiver.listen_addr", c.Receiver.ListenAddr)
	v.SetDefault("receiver.metrics_addr", c.Receiver.MetricsAddr)
	v.SetDefault("receiver.rate_limit_rps", c.Receiver.RateLimitRPS)
	v.SetDefault("receiver.rate_limit_burst", c.Receiver.RateLimitBurst)
	v.SetDefault("worker.concurrency", c.Worker.Concurrency)
	v.SetDefault("worker.poll_interval", c.Worker.PollInterval)
	v.SetDefault("worker.max_retries", c.Worker.MaxRetries)
	v.SetDefault("worker.request_timeout", c.Worker.RequestTimeout)
	v.SetDefault("worker.metrics_addr", c.Worker.MetricsAddr)
	v.SetDefault("redis.addr", c.Redis.Addr)
	v.SetDefault("redis.password", c.Redis.Password)
	v.SetDefault("redis.db", c.Redis.DB)
	v.SetDefault("sqlite.path", c.SQLite.Path)
	v.SetDefault("queue.key", c.Queue.Key)
	v.SetDefault("queue.result_prefix", c.Queue.ResultPrefix)
	v.SetDefault("queue.result_ttl", c.Queue.ResultTTL)
	v.SetDefault("ocr.endpoint", c.OCR.Endpoint)
	v.SetDefault("ocr.timeout", c.OCR.Timeout)
	v.SetDefault("ocr.min_confidence", c.OCR.MinConfidence)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.json", c.Log.JSON)
}
