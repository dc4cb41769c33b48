package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	SemanticIndex SemanticIndexConfig `mapstructure:"semantic_index"`
	ObjectStore   ObjectStoreConfig   `mapstructure:"object_store"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Engine        EngineConfig        `mapstructure:"engine"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type SemanticIndexConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	TopK    int           `mapstructure:"top_k"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ObjectStoreConfig struct {
	Bucket  string        `mapstructure:"bucket"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EngineConfig holds the tuning knobs of the query engine.
// DirectLoadTokenLimit is the hybrid strategy's cutoff between loading a
// document whole and going through the semantic index. DefaultWindowDays of
// zero means vague phrases like "recently" are rejected, not guessed.
type EngineConfig struct {
	DirectLoadTokenLimit int           `mapstructure:"direct_load_token_limit"`
	DefaultWindowDays    int           `mapstructure:"default_window_days"`
	RetryBackoff         time.Duration `mapstructure:"retry_backoff"`
	SummaryCacheTTL      time.Duration `mapstructure:"summary_cache_ttl"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout_seconds", 30)
	viper.SetDefault("server.rate_limit", 50)
	viper.SetDefault("server.rate_burst", 100)
	viper.SetDefault("semantic_index.top_k", 8)
	viper.SetDefault("semantic_index.timeout", 10*time.Second)
	viper.SetDefault("object_store.timeout", 10*time.Second)
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("engine.direct_load_token_limit", 4000)
	viper.SetDefault("engine.retry_backoff", 500*time.Millisecond)
	viper.SetDefault("engine.summary_cache_ttl", 5*time.Minute)
	viper.SetDefault("engine.sweep_interval", time.Hour)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applySecrets(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// secrets are taken from the environment, never from the config file.
type secrets struct {
	DBPassword     string `envconfig:"DB_PASSWORD"`
	SemindexAPIKey string `envconfig:"SEMINDEX_API_KEY"`
	LLMAPIKey      string `envconfig:"LLM_API_KEY"`
}

func applySecrets(config *Config) error {
	var s secrets
	if err := envconfig.Process("chartquery", &s); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if s.DBPassword != "" {
		config.Database.Password = s.DBPassword
	}
	if s.SemindexAPIKey != "" {
		config.SemanticIndex.APIKey = s.SemindexAPIKey
	}
	if s.LLMAPIKey != "" {
		config.LLM.APIKey = s.LLMAPIKey
	}
	return nil
}
