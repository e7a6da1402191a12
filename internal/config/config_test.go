package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StoreBackend != BackendSQLite {
		t.Errorf("StoreBackend = %q, want sqlite", cfg.StoreBackend)
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Errorf("SessionTTL = %v, want 60m", cfg.SessionTTL)
	}
	if cfg.ModelTimeout != 15*time.Second {
		t.Errorf("ModelTimeout = %v, want 15s", cfg.ModelTimeout)
	}
	if cfg.ExtractMaxRetries != 2 {
		t.Errorf("ExtractMaxRetries = %d, want 2", cfg.ExtractMaxRetries)
	}
	if cfg.UnclearEscalation != 3 {
		t.Errorf("UnclearEscalation = %d, want 3", cfg.UnclearEscalation)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("conversation logging should be off by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("EXTRACT_MAX_RETRIES", "0")
	t.Setenv("UNCLEAR_ESCALATION_THRESHOLD", "5")
	t.Setenv("CONVERSATION_LOG_ENABLED", "true")
	t.Setenv("CONVERSATION_LOG_DIR", "/tmp/conv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.StoreBackend != BackendRedis {
		t.Errorf("StoreBackend = %q, want redis (case-insensitive)", cfg.StoreBackend)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.ExtractMaxRetries != 0 {
		t.Errorf("ExtractMaxRetries = %d", cfg.ExtractMaxRetries)
	}
	if cfg.UnclearEscalation != 5 {
		t.Errorf("UnclearEscalation = %d", cfg.UnclearEscalation)
	}
	if !cfg.ConversationLog.Enabled || cfg.ConversationLog.Dir != "/tmp/conv" {
		t.Errorf("ConversationLog = %+v", cfg.ConversationLog)
	}
}

func TestLoadFallsBackOnBadValues(t *testing.T) {
	t.Setenv("SESSION_TTL", "not-a-duration")
	t.Setenv("EXTRACT_MAX_RETRIES", "many")
	t.Setenv("CONVERSATION_LOG_ENABLED", "sure")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Errorf("SessionTTL = %v, want default on parse failure", cfg.SessionTTL)
	}
	if cfg.ExtractMaxRetries != 2 {
		t.Errorf("ExtractMaxRetries = %d, want default on parse failure", cfg.ExtractMaxRetries)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("unparseable bool should fall back to default")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Port:              "8080",
			StoreBackend:      BackendSQLite,
			DBPath:            "./data/test.db",
			SessionTTL:        time.Hour,
			UnclearEscalation: 3,
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid sqlite", func(*Config) {}, true},
		{"valid memory", func(c *Config) { c.StoreBackend = BackendMemory }, true},
		{"empty port", func(c *Config) { c.Port = "" }, false},
		{"unknown backend", func(c *Config) { c.StoreBackend = "dynamo" }, false},
		{"sqlite without path", func(c *Config) { c.DBPath = "" }, false},
		{"redis without addr", func(c *Config) { c.StoreBackend = BackendRedis; c.RedisAddr = "" }, false},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, false},
		{"negative retries", func(c *Config) { c.ExtractMaxRetries = -1 }, false},
		{"zero escalation", func(c *Config) { c.UnclearEscalation = 0 }, false},
		{"log enabled without dir", func(c *Config) {
			c.ConversationLog = ConversationLogConfig{Enabled: true, QueueSize: 10}
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://app.example.com", false},
	}
	for _, tc := range cases {
		c := &Config{FrontendURL: tc.url}
		if got := c.IsDevelopment(); got != tc.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
