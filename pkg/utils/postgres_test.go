package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfigDefaults(t *testing.T) {
	cfg := PostgresPoolConfig{}.withDefaults()
	if cfg.MaxOpenConns != 25 || cfg.MaxIdleConns != 25 {
		t.Fatalf("unexpected pool sizing defaults: %+v", cfg)
	}
	if cfg.ConnMaxLifetime != 30*time.Minute || cfg.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("unexpected lifetime defaults: %+v", cfg)
	}
	if cfg.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout default: %v", cfg.PingTimeout)
	}
}

func TestPostgresPoolConfigKeepsExplicitValues(t *testing.T) {
	cfg := PostgresPoolConfig{
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
	}.withDefaults()
	if cfg.MaxOpenConns != 5 || cfg.MaxIdleConns != 2 || cfg.PingTimeout != time.Second {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}
