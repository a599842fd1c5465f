// Package config defines the top-level configuration for the prediction
// engine daemon and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PREDICT_* environment
// variables.
type Config struct {
	Params    ParamsConfig    `toml:"params"`
	Pairs     []PairConfig    `toml:"pairs"`
	Oracle    OracleConfig    `toml:"oracle"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Token     TokenConfig     `toml:"token"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ParamsConfig holds the shared engine parameters and control addresses.
type ParamsConfig struct {
	Owner          string `toml:"owner"`
	Admin          string `toml:"admin"`
	RouterAddress  string `toml:"router_address"`
	MinBetAmount   string `toml:"min_bet_amount"` // base units, decimal string
	BufferSeconds  int64  `toml:"buffer_seconds"`
	TreasuryFeeBps uint64 `toml:"treasury_fee_bps"`
	ReferralFeeBps uint64 `toml:"referral_fee_bps"`
}

// PairConfig describes one prediction instance created at startup.
type PairConfig struct {
	Symbol          string `toml:"symbol"`
	PriceFeedID     string `toml:"price_feed_id"`
	Operator        string `toml:"operator"`
	IntervalSeconds int64  `toml:"interval_seconds"`
}

// OracleConfig holds the Hermes price service parameters.
type OracleConfig struct {
	HermesURL string   `toml:"hermes_url"`
	Timeout   duration `toml:"timeout"`
}

// SchedulerConfig holds the operator loop parameters.
type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
	// Operator is the address the scheduler acts as; pairs that omit their
	// own operator inherit it.
	Operator     string   `toml:"operator"`
	PollInterval duration `toml:"poll_interval"`
	AutoRestart  bool     `toml:"auto_restart"`
	// DistributedLock gates per-instance leader election through Redis so
	// several daemons can run against the same instances.
	DistributedLock bool `toml:"distributed_lock"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for round archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey is the plaintext API key; APIKeyHash/APIKeySalt carry the
	// PBKDF2 digest form. Leave all empty to disable authentication.
	APIKey     string   `toml:"api_key"`
	APIKeyHash string   `toml:"api_key_hash"`
	APIKeySalt string   `toml:"api_key_salt"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channels. Channels with empty
// credentials are skipped; Events narrows which event types are forwarded
// (empty means the built-in administrative set).
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// TokenMint seeds one account of the in-memory bank at startup.
type TokenMint struct {
	Address string `toml:"address"`
	Amount  string `toml:"amount"` // base units, decimal string
}

// TokenConfig configures the value-transfer medium.
type TokenConfig struct {
	Mint []TokenMint `toml:"mint"`
}

// duration wraps time.Duration for TOML round-trips.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Params: ParamsConfig{
			MinBetAmount:   "1000000", // 1 token at 6 decimals
			BufferSeconds:  30,
			TreasuryFeeBps: 300,
			ReferralFeeBps: 100,
		},
		Oracle: OracleConfig{
			HermesURL: "https://hermes.pyth.network",
			Timeout:   duration{10 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: duration{time.Second},
			AutoRestart:  true,
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "predictd",
			User:          "predictd",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		S3: S3Config{
			Enabled:        false,
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   100,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode: "server" runs
// the API only, "operator" drives rounds only, "full" does both.
var validModes = map[string]bool{
	"server":   true,
	"operator": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, operator, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Params
	if !validAddress(c.Params.Owner) {
		errs = append(errs, "params: owner must be a non-zero hex address")
	}
	if !validAddress(c.Params.Admin) {
		errs = append(errs, "params: admin must be a non-zero hex address")
	}
	if !validAddress(c.Params.RouterAddress) {
		errs = append(errs, "params: router_address must be a non-zero hex address")
	}
	if n, ok := new(big.Int).SetString(c.Params.MinBetAmount, 10); !ok || n.Sign() <= 0 {
		errs = append(errs, "params: min_bet_amount must be a positive decimal string")
	}
	if c.Params.BufferSeconds <= 0 {
		errs = append(errs, "params: buffer_seconds must be > 0")
	}

	// Pairs
	if len(c.Pairs) == 0 {
		errs = append(errs, "pairs: at least one pair must be configured")
	}
	for i, p := range c.Pairs {
		if p.Symbol == "" {
			errs = append(errs, fmt.Sprintf("pairs[%d]: symbol must not be empty", i))
		}
		if p.PriceFeedID == "" {
			errs = append(errs, fmt.Sprintf("pairs[%d]: price_feed_id must not be empty", i))
		}
		if p.Operator == "" {
			if !validAddress(c.Scheduler.Operator) {
				errs = append(errs, fmt.Sprintf("pairs[%d]: operator must be set (or set scheduler.operator)", i))
			}
		} else if !validAddress(p.Operator) {
			errs = append(errs, fmt.Sprintf("pairs[%d]: operator must be a non-zero hex address", i))
		}
		if p.IntervalSeconds <= 0 {
			errs = append(errs, fmt.Sprintf("pairs[%d]: interval_seconds must be > 0", i))
		}
	}

	// Oracle
	if c.Oracle.HermesURL == "" {
		errs = append(errs, "oracle: hermes_url must not be empty")
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if c.Scheduler.PollInterval.Duration <= 0 {
			errs = append(errs, "scheduler: poll_interval must be > 0")
		}
		if !validAddress(c.Scheduler.Operator) {
			errs = append(errs, "scheduler: operator must be a non-zero hex address")
		}
	}
	if c.Scheduler.DistributedLock && !c.Redis.Enabled {
		errs = append(errs, "scheduler: distributed_lock requires redis to be enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if (c.Server.APIKeyHash == "") != (c.Server.APIKeySalt == "") {
			errs = append(errs, "server: api_key_hash and api_key_salt must be set together")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Token mints
	for i, m := range c.Token.Mint {
		if !validAddress(m.Address) {
			errs = append(errs, fmt.Sprintf("token.mint[%d]: address must be a non-zero hex address", i))
		}
		if n, ok := new(big.Int).SetString(m.Amount, 10); !ok || n.Sign() <= 0 {
			errs = append(errs, fmt.Sprintf("token.mint[%d]: amount must be a positive decimal string", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
