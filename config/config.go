// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"secret.vault/internal/crypto"
)

const envPrefix = "SECRET_"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	FrontendOrigin  string        `yaml:"frontend_origin"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type StoreConfig struct {
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig takes either a URL or discrete fields; URL wins when set.
type RedisConfig struct {
	URL       string `yaml:"url"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SecretsConfig struct {
	EncryptionKey             string `yaml:"encryption_key"`
	OneTimeFallbackTTLSeconds int    `yaml:"one_time_fallback_ttl_seconds"`
	MaxTTLSeconds             int    `yaml:"max_ttl_seconds"`
	BcryptCost                int    `yaml:"bcrypt_cost"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	UnlockPerMin   int  `yaml:"unlock_per_min"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	JSON    bool   `yaml:"json"`
	Service string `yaml:"service"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			FrontendOrigin: "http://localhost:5173",
			AllowedOrigins: []string{
				"https://localhost",
				"https://localhost:443",
				"http://localhost",
				"http://localhost:5173",
			},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Type: "redis",
			Redis: RedisConfig{
				URL: "redis://localhost:6379/0",
			},
		},
		Secrets: SecretsConfig{
			OneTimeFallbackTTLSeconds: 604800,
			MaxTTLSeconds:             31536000,
			BcryptCost:                12,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 100,
			UnlockPerMin:   20,
		},
		Log: LogConfig{
			Level:   "info",
			Service: "secret-vault",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) loadFromEnv(lookup lookupFunc) {
	get := func(name string) string {
		v, _ := lookup(envPrefix + name)
		return v
	}
	setInt := func(name string, dst *int) {
		if v := get(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(name string, dst *bool) {
		if v := get(name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Server
	if v := get("HOST"); v != "" {
		c.Server.Host = v
	}
	setInt("PORT", &c.Server.Port)
	if v := get("FRONTEND_ORIGIN"); v != "" {
		c.Server.FrontendOrigin = v
	}
	if v := get("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	setBool("TRUST_PROXY_HEADERS", &c.Server.TrustProxyHeaders)

	if v := get("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := get("REDIS_URL"); v != "" {
		c.Store.Redis.URL = v
	}
	if v := get("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
		// An explicit address overrides the default URL.
		if get("REDIS_URL") == "" {
			c.Store.Redis.URL = ""
		}
	}
	if v := get("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	setInt("REDIS_DB", &c.Store.Redis.DB)
	if v := get("REDIS_KEY_PREFIX"); v != "" {
		c.Store.Redis.KeyPrefix = v
	}

	// FERNET_KEY is the historical name of the same setting.
	if v := get("FERNET_KEY"); v != "" {
		c.Secrets.EncryptionKey = v
	}
	if v := get("ENCRYPTION_KEY"); v != "" {
		c.Secrets.EncryptionKey = v
	}
	setInt("ONE_TIME_FALLBACK_TTL_SECONDS", &c.Secrets.OneTimeFallbackTTLSeconds)
	setInt("MAX_TTL_SECONDS", &c.Secrets.MaxTTLSeconds)
	setInt("BCRYPT_COST", &c.Secrets.BcryptCost)

	setBool("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	setInt("RATE_LIMIT_REQUESTS", &c.RateLimit.RequestsPerMin)
	setInt("RATE_LIMIT_UNLOCK", &c.RateLimit.UnlockPerMin)

	if v := get("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	setBool("LOG_JSON", &c.Log.JSON)

	setBool("METRICS_ENABLED", &c.Metrics.Enabled)
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Store.Type != "memory" && c.Store.Type != "redis" {
		return fmt.Errorf("invalid store type: %s (must be 'memory' or 'redis')", c.Store.Type)
	}

	if c.Store.Type == "redis" && c.Store.Redis.URL == "" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("redis url or addr is required when store type is 'redis'")
	}

	if c.Secrets.EncryptionKey == "" {
		return fmt.Errorf("encryption_key is required (set %sENCRYPTION_KEY)", envPrefix)
	}
	if _, err := crypto.ParseKey(c.Secrets.EncryptionKey); err != nil {
		return fmt.Errorf("encryption_key: %w", err)
	}

	if c.Secrets.OneTimeFallbackTTLSeconds <= 0 {
		return fmt.Errorf("one_time_fallback_ttl_seconds must be positive")
	}

	if c.Secrets.MaxTTLSeconds <= 0 {
		return fmt.Errorf("max_ttl_seconds must be positive")
	}

	if c.Secrets.BcryptCost < 4 || c.Secrets.BcryptCost > 31 {
		return fmt.Errorf("bcrypt_cost must be between 4 and 31")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMin < 1 || c.RateLimit.UnlockPerMin < 1) {
		return fmt.Errorf("rate limits must be at least 1 per minute when enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Origins is the CORS allow list: the frontend origin plus any extras.
func (c *Config) Origins() []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range append([]string{c.Server.FrontendOrigin}, c.Server.AllowedOrigins...) {
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}

func (c *Config) FallbackTTL() time.Duration {
	return time.Duration(c.Secrets.OneTimeFallbackTTLSeconds) * time.Second
}

func (c *Config) MaxTTL() time.Duration {
	return time.Duration(c.Secrets.MaxTTLSeconds) * time.Second
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
