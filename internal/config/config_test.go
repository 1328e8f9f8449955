package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("POLL_DEBOUNCE_MS", "")
	t.Setenv("FEED_DRIVER", "NATS")
	t.Setenv("SESSION_IDLE_MS", "abc")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.PollDebounce != 300*time.Millisecond || cfg.MergeDebounce != 1500*time.Millisecond {
		t.Errorf("debounces = %v, %v", cfg.PollDebounce, cfg.MergeDebounce)
	}
	if cfg.FeedDriver != FeedNATS {
		t.Errorf("FeedDriver = %q", cfg.FeedDriver)
	}
	if cfg.SessionIdle != 30*time.Second {
		t.Errorf("SessionIdle = %v, want fallback on a bad value", cfg.SessionIdle)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "1000")
	t.Setenv("SECURE_COOKIES", "true")

	cfg := Load()
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if !cfg.SecureCookies {
		t.Error("SecureCookies should be set")
	}
}
