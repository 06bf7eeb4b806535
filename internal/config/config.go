// Package config provides configuration management for the gomint worker.
// It loads configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"math/big"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/bardlex/gomint/internal/pow"
	"github.com/bardlex/gomint/pkg/errors"
)

// Networks accepted by NETWORK.
const (
	Mainnet = "mainnet"
	Testnet = "testnet"
)

// MicroPerMEL is the number of micro-units in one MEL.
const MicroPerMEL = 1_000_000

const (
	defaultMaxLoss = MicroPerMEL / 50 // 0.02 MEL
	testnetMaxLoss = 2 * MicroPerMEL
	maxThreads     = 255
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreLevelDB = "leveldb"
	StoreRedis   = "redis"
)

// Config holds the configuration of one worker run
type Config struct {
	// Service identification
	ServiceName string
	Version     string

	// Network selection
	Network string

	// Wallet daemon
	WalletEndpoint string
	WalletPrefix   string
	// Wallet overrides the prefixed default wallet name
	Wallet string

	// Chain node
	ChainRPCHost     string
	ChainRPCPort     int
	ChainRPCUser     string
	ChainRPCPassword string
	ChainZMQAddr     string

	// Minting policy
	Threads          int
	PayoutAddress    string
	FixedDifficulty  uint
	TargetDuration   time.Duration
	MaxLoss          uint64 // micro-MEL
	ProfitFailsafe   bool
	RefuseHighFee    bool
	BulkSeeds        bool
	SeedTTL          time.Duration
	SkipBalanceCheck bool
	VoidAddress      string
	FallbackAddress  string

	// Persistence
	DataDir      string
	StoreBackend string
	RedisURL     string

	// Optional sinks, disabled when empty
	PostgresURL  string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	KafkaBrokers []string
	KafkaTopic   string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	maxLoss, err := ParseMEL(getEnv("MAX_LOSS", "0.02"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load", "MAX_LOSS is not a MEL amount")
	}
	fixedDiff, err := strconv.ParseUint(getEnv("FIXED_DIFFICULTY", "0"), 10, 8)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load", "FIXED_DIFFICULTY is not a difficulty")
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "gomint"),
		Version:     getEnv("VERSION", "dev"),

		Network: strings.ToLower(getEnv("NETWORK", Mainnet)),

		WalletEndpoint: getEnv("WALLET_ENDPOINT", "http://127.0.0.1:11773"),
		WalletPrefix:   getEnv("WALLET_PREFIX", "__melminter_"),
		Wallet:         getEnv("WALLET_NAME", ""),

		ChainRPCHost:     getEnv("CHAIN_RPC_HOST", "localhost"),
		ChainRPCPort:     getEnvInt("CHAIN_RPC_PORT", 11814),
		ChainRPCUser:     getEnv("CHAIN_RPC_USER", ""),
		ChainRPCPassword: getEnv("CHAIN_RPC_PASSWORD", ""),
		ChainZMQAddr:     getEnv("CHAIN_ZMQ_ADDR", ""),

		Threads:          getEnvInt("THREADS", runtime.NumCPU()),
		PayoutAddress:    getEnv("PAYOUT_ADDRESS", ""),
		FixedDifficulty:  uint(fixedDiff),
		TargetDuration:   getEnvDuration("TARGET_DURATION", 0),
		MaxLoss:          maxLoss,
		ProfitFailsafe:   !getEnvBool("DISABLE_PROFIT_FAILSAFE", false),
		RefuseHighFee:    getEnvBool("REFUSE_HIGH_FEE", false),
		BulkSeeds:        getEnvBool("BULK_SEEDS", false),
		SeedTTL:          getEnvDuration("SEED_TTL", 6*time.Hour),
		SkipBalanceCheck: getEnvBool("SKIP_BALANCE_CHECK", false),
		VoidAddress:      getEnv("VOID_ADDRESS", strings.Repeat("0", 64)),
		FallbackAddress:  getEnv("FALLBACK_ADDRESS", ""),

		DataDir:      getEnv("DATA_DIR", btcutil.AppDataDir("gomint", false)),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreLevelDB)),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),

		PostgresURL:  getEnv("POSTGRES_URL", ""),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "gomint"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "minting"),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "gomint.events"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if cfg.IsTestnet() {
		cfg.applyTestnetOverrides()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyTestnetOverrides relaxes economic safeguards on the test network,
// where coins are worthless and bulk seeds keep fees low.
func (c *Config) applyTestnetOverrides() {
	c.ProfitFailsafe = false
	c.MaxLoss = testnetMaxLoss
	c.BulkSeeds = true
}

// IsTestnet reports whether the worker targets a non-production network
func (c *Config) IsTestnet() bool {
	return c.Network != Mainnet
}

// WalletName returns the name of the mint wallet owned by the worker
func (c *Config) WalletName() string {
	if c.Wallet != "" {
		return c.Wallet
	}
	if c.IsTestnet() {
		return c.WalletPrefix + "Testnet"
	}
	return c.WalletPrefix + "Mainnet"
}

// DifficultyMode names the active difficulty policy
func (c *Config) DifficultyMode() string {
	switch {
	case c.FixedDifficulty > 0:
		return "fixed"
	case c.TargetDuration > 0:
		return "duration"
	default:
		return "auto"
	}
}

func configError(message string) error {
	return errors.New(errors.ErrorTypeConfig, "validate", message)
}

// validate checks values and mutually exclusive settings
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return configError("SERVICE_NAME cannot be empty")
	}
	if c.Network != Mainnet && c.Network != Testnet {
		return configError(fmt.Sprintf("NETWORK must be %q or %q", Mainnet, Testnet))
	}
	if c.WalletEndpoint == "" {
		return configError("WALLET_ENDPOINT cannot be empty")
	}
	if c.Threads <= 0 || c.Threads > maxThreads {
		return configError(fmt.Sprintf("THREADS must be between 1 and %d", maxThreads))
	}
	if c.FixedDifficulty > pow.MaxDifficulty {
		return configError(fmt.Sprintf("FIXED_DIFFICULTY must be at most %d", pow.MaxDifficulty))
	}
	if c.FixedDifficulty > 0 && c.TargetDuration > 0 {
		return configError("FIXED_DIFFICULTY and TARGET_DURATION are mutually exclusive")
	}
	if c.TargetDuration < 0 {
		return configError("TARGET_DURATION cannot be negative")
	}
	if c.ChainRPCPort <= 0 || c.ChainRPCPort > 65535 {
		return configError("CHAIN_RPC_PORT must be between 1 and 65535")
	}
	switch c.StoreBackend {
	case StoreLevelDB:
		if c.DataDir == "" {
			return configError("DATA_DIR cannot be empty")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return configError("REDIS_URL cannot be empty with the redis store")
		}
	default:
		return configError(fmt.Sprintf("STORE_BACKEND must be %q or %q", StoreLevelDB, StoreRedis))
	}
	if c.InfluxURL != "" && c.InfluxToken == "" {
		return configError("INFLUX_TOKEN is required when INFLUX_URL is set")
	}
	return nil
}

// ParseMEL parses a decimal MEL amount ("0.0321") into micro-MEL.
func ParseMEL(s string) (uint64, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok || r.Sign() < 0 {
		return 0, fmt.Errorf("invalid MEL amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt64(MicroPerMEL))
	if !r.IsInt() {
		return 0, fmt.Errorf("MEL amount %q has more than 6 decimals", s)
	}
	if !r.Num().IsUint64() {
		return 0, fmt.Errorf("MEL amount %q overflows", s)
	}
	return r.Num().Uint64(), nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
