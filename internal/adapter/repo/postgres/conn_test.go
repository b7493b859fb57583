package postgres

import (
	"context"
	"testing"
	"time"
)

func TestNewPoolRejectsInvalidDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), "://bad", 0, 0); err == nil {
		t.Fatal("expected error for invalid dsn")
	}
}

func TestNewPoolAppliesDefaultsWhenZero(t *testing.T) {
	// ParseConfig accepts an empty DSN (it just means "use defaults"), so
	// this exercises the maxConns/maxConnIdleTime <= 0 fallback paths
	// without needing a reachable database.
	pool, err := NewPool(context.Background(), "", 0, 0)
	if err != nil {
		t.Fatalf("NewPool with zero-value pool settings: %v", err)
	}
	defer pool.Close()

	cfg := pool.Config()
	if cfg.MaxConns != defaultMaxConns {
		t.Errorf("MaxConns = %d, want default %d", cfg.MaxConns, defaultMaxConns)
	}
	if cfg.MaxConnIdleTime != defaultMaxConnIdleTime {
		t.Errorf("MaxConnIdleTime = %v, want default %v", cfg.MaxConnIdleTime, defaultMaxConnIdleTime)
	}
}

func TestNewPoolHonorsExplicitPoolSettings(t *testing.T) {
	pool, err := NewPool(context.Background(), "", 3, 90*time.Second)
	if err != nil {
		t.Fatalf("NewPool with explicit pool settings: %v", err)
	}
	defer pool.Close()

	cfg := pool.Config()
	if cfg.MaxConns != 3 {
		t.Errorf("MaxConns = %d, want 3", cfg.MaxConns)
	}
	if cfg.MaxConnIdleTime != 90*time.Second {
		t.Errorf("MaxConnIdleTime = %v, want 90s", cfg.MaxConnIdleTime)
	}
}
