package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address: %s", cfg.HTTPAddress)
	}
	if cfg.RateLimitBackend != RateLimitBackendMemory {
		t.Fatalf("unexpected rate limit backend: %s", cfg.RateLimitBackend)
	}
	if cfg.RateLimitCapacity != 5 || cfg.RateLimitWindow != 30*time.Minute {
		t.Fatalf("unexpected rate limit settings: %d per %s", cfg.RateLimitCapacity, cfg.RateLimitWindow)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl: %s", cfg.TokenTTL)
	}
	if diff := cmp.Diff([]string{"*"}, cfg.CORSAllowedOrigins); diff != "" {
		t.Fatalf("unexpected cors origins (-want +got):\n%s", diff)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SPOTTER_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("SPOTTER_RATELIMIT_WINDOW", "10m")
	t.Setenv("SPOTTER_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "from-env" {
		t.Fatalf("expected signing secret from env, got %q", cfg.SigningSecret)
	}
	if cfg.RateLimitWindow != 10*time.Minute {
		t.Fatalf("expected 10m window, got %s", cfg.RateLimitWindow)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if diff := cmp.Diff(want, cfg.CORSAllowedOrigins); diff != "" {
		t.Fatalf("unexpected cors origins (-want +got):\n%s", diff)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(*testing.T) map[string]any
	}{
		{
			name: "missing-secret",
			setup: func(*testing.T) map[string]any {
				return map[string]any{}
			},
		},
		{
			name: "unknown-backend",
			setup: func(*testing.T) map[string]any {
				return map[string]any{"auth.signing_secret": "s", "ratelimit.backend": "memcached"}
			},
		},
		{
			name: "zero-capacity",
			setup: func(*testing.T) map[string]any {
				return map[string]any{"auth.signing_secret": "s", "ratelimit.capacity": 0}
			},
		},
		{
			name: "zero-buffer",
			setup: func(*testing.T) map[string]any {
				return map[string]any{"auth.signing_secret": "s", "realtime.buffer_size": 0}
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.setup(t) {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
