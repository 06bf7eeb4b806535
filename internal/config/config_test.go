package config

import (
	"testing"
	"time"

	"github.com/bardlex/gomint/pkg/errors"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "default config",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.MaxLoss != 20000 {
					t.Errorf("MaxLoss = %d, want 20000", cfg.MaxLoss)
				}
				if !cfg.ProfitFailsafe {
					t.Error("ProfitFailsafe should be enabled on mainnet")
				}
				if cfg.WalletName() != "__melminter_Mainnet" {
					t.Errorf("WalletName() = %q", cfg.WalletName())
				}
				if cfg.DifficultyMode() != "auto" {
					t.Errorf("DifficultyMode() = %q, want auto", cfg.DifficultyMode())
				}
			},
		},
		{
			name: "testnet overrides",
			envVars: map[string]string{
				"NETWORK":  "testnet",
				"MAX_LOSS": "0.5",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.ProfitFailsafe {
					t.Error("ProfitFailsafe should be disabled on testnet")
				}
				if cfg.MaxLoss != 2_000_000 {
					t.Errorf("MaxLoss = %d, want 2000000", cfg.MaxLoss)
				}
				if !cfg.BulkSeeds {
					t.Error("BulkSeeds should be forced on testnet")
				}
				if cfg.WalletName() != "__melminter_Testnet" {
					t.Errorf("WalletName() = %q", cfg.WalletName())
				}
			},
		},
		{
			name: "custom mainnet policy",
			envVars: map[string]string{
				"THREADS":          "8",
				"FIXED_DIFFICULTY": "27",
				"MAX_LOSS":         "0.0321",
				"REFUSE_HIGH_FEE":  "true",
				"KAFKA_BROKERS":    "a:9092, b:9092",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Threads != 8 || cfg.FixedDifficulty != 27 {
					t.Errorf("threads/difficulty = %d/%d", cfg.Threads, cfg.FixedDifficulty)
				}
				if cfg.MaxLoss != 32100 {
					t.Errorf("MaxLoss = %d, want 32100", cfg.MaxLoss)
				}
				if !cfg.RefuseHighFee {
					t.Error("RefuseHighFee should be set")
				}
				if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
					t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
				}
				if cfg.DifficultyMode() != "fixed" {
					t.Errorf("DifficultyMode() = %q", cfg.DifficultyMode())
				}
			},
		},
		{
			name: "explicit wallet name",
			envVars: map[string]string{
				"NETWORK":     "testnet",
				"WALLET_NAME": "alice",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.WalletName() != "alice" {
					t.Errorf("WalletName() = %q, want alice", cfg.WalletName())
				}
			},
		},
		{
			name: "fixed difficulty and target duration conflict",
			envVars: map[string]string{
				"FIXED_DIFFICULTY": "20",
				"TARGET_DURATION":  "1h",
			},
			wantErr: true,
		},
		{
			name:    "fixed difficulty above maximum",
			envVars: map[string]string{"FIXED_DIFFICULTY": "64"},
			wantErr: true,
		},
		{
			name:    "too many threads",
			envVars: map[string]string{"THREADS": "256"},
			wantErr: true,
		},
		{
			name:    "unknown network",
			envVars: map[string]string{"NETWORK": "devnet"},
			wantErr: true,
		},
		{
			name:    "bad max loss",
			envVars: map[string]string{"MAX_LOSS": "lots"},
			wantErr: true,
		},
		{
			name:    "unknown store",
			envVars: map[string]string{"STORE_BACKEND": "sqlite"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.IsType(err, errors.ErrorTypeConfig) {
					t.Errorf("expected config error, got %v", err)
				}
				if errors.ExitStatus(err) != errors.ExitConfig {
					t.Errorf("ExitStatus() = %d, want %d", errors.ExitStatus(err), errors.ExitConfig)
				}
				return
			}
			tt.check(t, cfg)
		})
	}
}

func TestParseMEL(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0.02", 20000, false},
		{"1", 1_000_000, false},
		{" 0.0321 ", 32100, false},
		{"0.0000001", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMEL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMEL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMEL(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "test_value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "30s")
	t.Setenv("TEST_BAD_INT", "forty")

	if got := getEnv("TEST_STRING", "default"); got != "test_value" {
		t.Errorf("getEnv() = %v, want test_value", got)
	}
	if got := getEnv("NONEXISTENT", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 99); got != 99 {
		t.Errorf("getEnvInt() = %v, want fallback 99", got)
	}
	if got := getEnvBool("TEST_BOOL", false); !got {
		t.Error("getEnvBool() = false, want true")
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 30*time.Second {
		t.Errorf("getEnvDuration() = %v, want 30s", got)
	}
	if got := getEnvSlice("NONEXISTENT", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("getEnvSlice() = %v, want [x]", got)
	}
}
