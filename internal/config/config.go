package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "SPOTTER"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "spotter.db"
	defaultLogLevel           = "info"
	defaultAuthIssuer         = "spotter-auth"
	defaultTokenTTLMinutes    = 60
	defaultRateLimitBackend   = RateLimitBackendMemory
	defaultRateLimitCapacity  = 5
	defaultRateLimitWindow    = 30 * time.Minute
	defaultRedisAddress       = "127.0.0.1:6379"
	defaultImagesDirectory    = "uploads"
	defaultImagesURLPrefix    = "/uploads"
	defaultRealtimeBuffer     = 64
	defaultRealtimePing       = 30 * time.Second
	defaultConnectsPerSecond  = 5.0
	defaultConnectBurst       = 10
	defaultCORSAllowedOrigins = "*"
)

const (
	// RateLimitBackendMemory keeps sliding windows in process memory.
	RateLimitBackendMemory = "memory"
	// RateLimitBackendRedis keeps sliding windows in Redis sorted sets.
	RateLimitBackendRedis = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SigningSecret      string
	AuthIssuer         string
	TokenTTL           time.Duration
	RateLimitBackend   string
	RateLimitCapacity  int
	RateLimitWindow    time.Duration
	RedisAddress       string
	ImagesDirectory    string
	ImagesURLPrefix    string
	RealtimeBufferSize int
	RealtimePing       time.Duration
	ConnectsPerSecond  float64
	ConnectBurst       int
	CORSAllowedOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("ratelimit.backend", defaultRateLimitBackend)
	configViper.SetDefault("ratelimit.capacity", defaultRateLimitCapacity)
	configViper.SetDefault("ratelimit.window", defaultRateLimitWindow)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("images.directory", defaultImagesDirectory)
	configViper.SetDefault("images.url_prefix", defaultImagesURLPrefix)
	configViper.SetDefault("realtime.buffer_size", defaultRealtimeBuffer)
	configViper.SetDefault("realtime.ping_interval", defaultRealtimePing)
	configViper.SetDefault("realtime.connects_per_second", defaultConnectsPerSecond)
	configViper.SetDefault("realtime.connect_burst", defaultConnectBurst)
	configViper.SetDefault("cors.allowed_origins", defaultCORSAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		AuthIssuer:         configViper.GetString("auth.issuer"),
		TokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RateLimitBackend:   strings.ToLower(strings.TrimSpace(configViper.GetString("ratelimit.backend"))),
		RateLimitCapacity:  configViper.GetInt("ratelimit.capacity"),
		RateLimitWindow:    configViper.GetDuration("ratelimit.window"),
		RedisAddress:       configViper.GetString("redis.address"),
		ImagesDirectory:    configViper.GetString("images.directory"),
		ImagesURLPrefix:    configViper.GetString("images.url_prefix"),
		RealtimeBufferSize: configViper.GetInt("realtime.buffer_size"),
		RealtimePing:       configViper.GetDuration("realtime.ping_interval"),
		ConnectsPerSecond:  configViper.GetFloat64("realtime.connects_per_second"),
		ConnectBurst:       configViper.GetInt("realtime.connect_burst"),
		CORSAllowedOrigins: splitList(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	switch c.RateLimitBackend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("ratelimit.backend must be %q or %q", RateLimitBackendMemory, RateLimitBackendRedis)
	}
	if c.RateLimitCapacity < 1 {
		return fmt.Errorf("ratelimit.capacity must be at least 1")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("ratelimit.window must be positive")
	}
	if strings.TrimSpace(c.ImagesDirectory) == "" {
		return fmt.Errorf("images.directory is required")
	}
	if c.RealtimeBufferSize < 1 {
		return fmt.Errorf("realtime.buffer_size must be at least 1")
	}
	if c.RealtimePing <= 0 {
		return fmt.Errorf("realtime.ping_interval must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
