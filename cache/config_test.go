package cache

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StaleTime != 30*time.Second {
		t.Errorf("expected StaleTime 30s, got %v", cfg.StaleTime)
	}
	if cfg.GCTime != 5*time.Minute {
		t.Errorf("expected GCTime 5m, got %v", cfg.GCTime)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantError bool
	}{
		{name: "zero values", cfg: Config{}},
		{name: "negative stale time", cfg: Config{StaleTime: -time.Second}, wantError: true},
		{name: "negative gc time", cfg: Config{GCTime: -time.Second}, wantError: true},
		{name: "negative refetch interval", cfg: Config{RefetchInterval: -time.Second}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantError && err == nil {
				t.Error("expected error")
			}
			if !tt.wantError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewStore_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewStore(Config{StaleTime: -1}); err == nil {
		t.Error("expected NewStore to validate config")
	}
}
