package config

import (
	"fmt"
	"os"
	"time"

	"meetcore/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	API struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"api"`

	Session struct {
		BaseURL     string        `yaml:"base_url"`
		SessionID   string        `yaml:"session_id"`
		Token       string        `yaml:"token"`
		JoinTimeout time.Duration `yaml:"join_timeout"`
	} `yaml:"session"`

	Signal struct {
		URL               string        `yaml:"url"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		ReconnectAttempts int           `yaml:"reconnect_attempts"`
		MaxMessageBytes   int64         `yaml:"max_message_bytes"`
	} `yaml:"signal"`

	Stats struct {
		PollInterval    time.Duration `yaml:"poll_interval"`
		FetchTimeout    time.Duration `yaml:"fetch_timeout"`
		SendTransportID string        `yaml:"send_transport_id"`
		RecvTransportID string        `yaml:"recv_transport_id"`
	} `yaml:"stats"`

	Quality struct {
		GoodMaxLossPercent int `yaml:"good_max_loss_percent"`
		BadMaxLossPercent  int `yaml:"bad_max_loss_percent"`
	} `yaml:"quality"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.API.Address == "" {
		return fmt.Errorf("api.address must not be empty")
	}
	if c.API.ReadTimeout <= 0 {
		return fmt.Errorf("api.read_timeout must be > 0")
	}
	if c.API.WriteTimeout <= 0 {
		return fmt.Errorf("api.write_timeout must be > 0")
	}
	if c.API.ShutdownTimeout <= 0 {
		return fmt.Errorf("api.shutdown_timeout must be > 0")
	}

	if err := validation.ValidateURL(c.Session.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("session.base_url: %w", err)
	}
	if c.Session.JoinTimeout <= 0 {
		return fmt.Errorf("session.join_timeout must be > 0")
	}

	if err := validation.ValidateURL(c.Signal.URL, "ws", "wss"); err != nil {
		return fmt.Errorf("signal.url: %w", err)
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.ReconnectAttempts < 0 {
		return fmt.Errorf("signal.reconnect_attempts must be >= 0")
	}
	if c.Signal.MaxMessageBytes < 0 {
		return fmt.Errorf("signal.max_message_bytes must be >= 0")
	}

	if c.Stats.PollInterval <= 0 {
		return fmt.Errorf("stats.poll_interval must be > 0")
	}
	if c.Stats.FetchTimeout <= 0 || c.Stats.FetchTimeout > c.Stats.PollInterval {
		return fmt.Errorf("stats.fetch_timeout must be > 0 and <= stats.poll_interval")
	}

	if c.Quality.GoodMaxLossPercent < 0 {
		return fmt.Errorf("quality.good_max_loss_percent must be >= 0")
	}
	if c.Quality.BadMaxLossPercent < c.Quality.GoodMaxLossPercent {
		return fmt.Errorf("quality.bad_max_loss_percent must be >= quality.good_max_loss_percent")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.API.Address = ":8090"
	cfg.API.ReadTimeout = 10 * time.Second
	cfg.API.WriteTimeout = 10 * time.Second
	cfg.API.ShutdownTimeout = 15 * time.Second

	cfg.Session.BaseURL = "http://localhost:8080"
	cfg.Session.JoinTimeout = 10 * time.Second

	cfg.Signal.URL = "ws://localhost:8080/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.ReconnectAttempts = 3
	cfg.Signal.MaxMessageBytes = 64 * 1024

	cfg.Stats.PollInterval = 3 * time.Second
	cfg.Stats.FetchTimeout = 2 * time.Second

	cfg.Quality.GoodMaxLossPercent = 3
	cfg.Quality.BadMaxLossPercent = 15

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "meetcore:events"

	cfg.Auth.Enabled = false

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("MEETCORE_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if url := os.Getenv("MEETCORE_SESSION_BASE_URL"); url != "" {
		c.Session.BaseURL = url
	}
	if id := os.Getenv("MEETCORE_SESSION_ID"); id != "" {
		c.Session.SessionID = id
	}
	if token := os.Getenv("MEETCORE_SESSION_TOKEN"); token != "" {
		c.Session.Token = token
	}
	if url := os.Getenv("MEETCORE_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if level := os.Getenv("MEETCORE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("MEETCORE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
