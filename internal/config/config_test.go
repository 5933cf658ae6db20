package config

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("SYNC_ORDERS_INTERVAL", "2m")
	t.Setenv("SYNC_REGIONS", "10000002, 10000043")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Sync.OrdersInterval != 2*time.Minute {
		t.Errorf("Sync.OrdersInterval = %v, want %v", cfg.Sync.OrdersInterval, 2*time.Minute)
	}
	// lock TTLs follow the interval unless set explicitly
	if cfg.Sync.FanOutLockTTL != 2*time.Minute {
		t.Errorf("Sync.FanOutLockTTL = %v, want %v", cfg.Sync.FanOutLockTTL, 2*time.Minute)
	}
	if len(cfg.Sync.Regions) != 2 || cfg.Sync.Regions[0] != 10000002 || cfg.Sync.Regions[1] != 10000043 {
		t.Errorf("Sync.Regions = %v", cfg.Sync.Regions)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Sync.FanOutLockKey != "lock:fetch_all_regions_orders" {
		t.Errorf("Sync.FanOutLockKey = %q", cfg.Sync.FanOutLockKey)
	}
	if cfg.Sync.OrdersInterval != 5*time.Minute {
		t.Errorf("Sync.OrdersInterval = %v, want 5m", cfg.Sync.OrdersInterval)
	}
	if cfg.History.RetentionDays != 90 {
		t.Errorf("History.RetentionDays = %d, want 90", cfg.History.RetentionDays)
	}
	if cfg.ESI.BaseURL != "https://esi.evetech.net/latest" {
		t.Errorf("ESI.BaseURL = %q", cfg.ESI.BaseURL)
	}
}

func TestLoadConfigRejectsInvalidHour(t *testing.T) {
	t.Setenv("HISTORY_RUN_HOUR_UTC", "24")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() expected error for hour 24")
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{"returns integer when valid", "TEST_INT", 100, "200", 200},
		{"returns default when invalid", "TEST_INT_INVALID", 100, "invalid", 100},
		{"returns default when not set", "TEST_INT_NOTSET", 100, "", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnvAsInt(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{"returns duration when valid", "TEST_DURATION", 10 * time.Second, "30s", 30 * time.Second},
		{"returns default when invalid", "TEST_DURATION_INVALID", 10 * time.Second, "invalid", 10 * time.Second},
		{"returns default when not set", "TEST_DURATION_NOTSET", 10 * time.Second, "", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnvAsDuration(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt32List(t *testing.T) {
	t.Setenv("TEST_IDS", "1, x,3,,99999999999")

	got := getEnvAsInt32List("TEST_IDS")
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("getEnvAsInt32List() = %v, want [1 3]", got)
	}

	if got := getEnvAsInt32List("TEST_IDS_UNSET"); got != nil {
		t.Errorf("getEnvAsInt32List() unset = %v, want nil", got)
	}
}
