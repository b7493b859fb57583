package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxMessagesPerHour <= 0 {
		t.Errorf("MaxMessagesPerHour default should be positive, got %d", cfg.MaxMessagesPerHour)
	}
	if cfg.DelayRandomness < 0 || cfg.DelayRandomness > 1 {
		t.Errorf("DelayRandomness default out of [0,1]: %v", cfg.DelayRandomness)
	}
	if cfg.OperatorAuthEnabled() {
		t.Errorf("OperatorAuthEnabled() should be false without credentials set")
	}
	if cfg.HeartbeatEnabled() {
		t.Errorf("HeartbeatEnabled() should be false without REDIS_URL set")
	}
}

func TestLoadValidatesRanges(t *testing.T) {
	t.Setenv("DELAY_RANDOMNESS", "1.5")
	if _, err := Load(); err == nil {
		t.Errorf("expected validation error for DELAY_RANDOMNESS=1.5")
	}
}

func TestOperatorAuthEnabled(t *testing.T) {
	t.Setenv("OPERATOR_USERNAME", "ops")
	t.Setenv("OPERATOR_PASSWORD_HASH", "hash")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.OperatorAuthEnabled() {
		t.Errorf("OperatorAuthEnabled() should be true with both fields set")
	}
}
