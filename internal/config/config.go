// Package config defines the top-level configuration for the up/down market
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/updown/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Market    MarketConfig    `toml:"market"`
	Escrow    EscrowConfig    `toml:"escrow"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Chain     ChainConfig     `toml:"chain"`
	PriceFeed PriceFeedConfig `toml:"price_feed"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// MarketConfig holds the off-chain round rules and the trading session.
type MarketConfig struct {
	Symbol          string    `toml:"symbol"`
	Timezone        string    `toml:"timezone"`
	SessionOpen     clockTime `toml:"session_open"`
	SessionClose    clockTime `toml:"session_close"`
	SettleAt        clockTime `toml:"settle_at"`
	MinBet          amount    `toml:"min_bet"`
	MaxBet          amount    `toml:"max_bet"`
	FeeBps          int64     `toml:"fee_bps"`
	PriceBandBps    int64     `toml:"price_band_bps"`
	MinSettleDelay  duration  `toml:"min_settle_delay"`
	StartingBalance amount    `toml:"starting_balance"`
	BankruptcyFloor amount    `toml:"bankruptcy_floor"`
	EnforceHours    bool      `toml:"enforce_hours"`
	SettleLockTTL   duration  `toml:"settle_lock_ttl"`
}

// EscrowConfig parameterises the in-process escrow used as a simulated
// chain when no RPC endpoint is configured.
type EscrowConfig struct {
	Simulate       bool     `toml:"simulate"`
	Address        string   `toml:"address"`
	Owner          string   `toml:"owner"`
	MinBet         amount   `toml:"min_bet"`
	MaxBet         amount   `toml:"max_bet"`
	FeeBps         int64    `toml:"fee_bps"`
	PriceBandBps   int64    `toml:"price_band_bps"`
	MinSettleDelay duration `toml:"min_settle_delay"`
	// SettlerFunds is minted to the owner and approved for betFor.
	SettlerFunds amount `toml:"settler_funds"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// receipts.
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

// ChainConfig holds the escrow contract endpoint and the settler key.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	Contract         string   `toml:"contract"`
	ChainID          int64    `toml:"chain_id"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	TxTimeout        duration `toml:"tx_timeout"`
	CallTimeout      duration `toml:"call_timeout"`
	GasLimit         uint64   `toml:"gas_limit"`
}

// Enabled reports whether a settler key is configured.
func (c ChainConfig) Enabled() bool {
	return c.PrivateKey != "" || c.EncryptedKeyPath != ""
}

// PriceFeedConfig holds the quote supplier parameters.
type PriceFeedConfig struct {
	Hosts   []string `toml:"hosts"`
	Timeout duration `toml:"timeout"`
}

// SchedulerConfig holds the daily job schedule and the settle retry policy.
type SchedulerConfig struct {
	OpenCron      string   `toml:"open_cron"`
	SettleCron    string   `toml:"settle_cron"`
	RetryInterval duration `toml:"retry_interval"`
	MaxAttempts   int      `toml:"max_attempts"`
	MaxPriceAge   duration `toml:"max_price_age"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding.
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

// amount decodes a decimal string such as "1000" or "0.5" into micro-units.
type amount struct {
	domain.Amount
}

func (a *amount) UnmarshalText(text []byte) error {
	v, err := domain.ParseAmount(string(text))
	if err != nil {
		return err
	}
	a.Amount = v
	return nil
}

func (a amount) MarshalText() ([]byte, error) {
	return []byte(a.Amount.String()), nil
}

// clockTime is a wall-clock time of day such as "09:30", stored as minutes
// after midnight.
type clockTime struct {
	Minutes int
}

func (c *clockTime) UnmarshalText(text []byte) error {
	t, err := time.Parse("15:04", string(text))
	if err != nil {
		return fmt.Errorf("time of day %q: want HH:MM", text)
	}
	c.Minutes = t.Hour()*60 + t.Minute()
	return nil
}

func (c clockTime) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%02d:%02d", c.Minutes/60, c.Minutes%60)), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	AdminKey        string   `toml:"admin_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// DedupWindow suppresses a repeated alert for this long. Zero disables.
	DedupWindow       duration `toml:"dedup_window"`
}

// KafkaConfig holds the optional round event stream. Empty brokers disable it.
type KafkaConfig struct {
	Brokers       []string `toml:"brokers"`
	Topic         string   `toml:"topic"`
	SigningSecret string   `toml:"signing_secret"`
	WriteTimeout  duration `toml:"write_timeout"`
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			Symbol:          "SPY",
			Timezone:        "America/New_York",
			SessionOpen:     clockTime{9*60 + 30},
			SessionClose:    clockTime{16 * 60},
			SettleAt:        clockTime{16*60 + 35},
			MinBet:          amount{domain.Units(10)},
			MaxBet:          amount{domain.Units(1000)},
			FeeBps:          500,
			PriceBandBps:    1000,
			MinSettleDelay:  duration{6 * time.Hour},
			StartingBalance: amount{domain.Units(10_000)},
			BankruptcyFloor: amount{domain.Units(1000)},
			EnforceHours:    true,
			SettleLockTTL:   duration{time.Minute},
		},
		Escrow: EscrowConfig{
			Simulate:       false,
			Address:        "0x00000000000000000000000000000000000e5c70",
			Owner:          "0x0000000000000000000000000000000000000a11",
			MinBet:         amount{domain.Units(1)},
			MaxBet:         amount{domain.Units(50)},
			FeeBps:         500,
			PriceBandBps:   1000,
			MinSettleDelay: duration{6 * time.Hour},
			SettlerFunds:   amount{domain.Units(100_000)},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "updown",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "updown:",
			PriceTTL:   duration{24 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updown-receipts",
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			ChainID:     8453,
			TxTimeout:   duration{2 * time.Minute},
			CallTimeout: duration{10 * time.Second},
			GasLimit:    500_000,
		},
		PriceFeed: PriceFeedConfig{
			Hosts:   []string{"https://query2.finance.yahoo.com", "https://query1.finance.yahoo.com"},
			Timeout: duration{8 * time.Second},
		},
		Scheduler: SchedulerConfig{
			OpenCron:      "31 9 * * 1-5",
			SettleCron:    "30 16 * * 1-5",
			RetryInterval: duration{10 * time.Second},
			MaxAttempts:   180,
			MaxPriceAge:   duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:      []string{domain.EventRoundSettled, domain.EventRoundRefunded, domain.EventSettleFailed},
			DedupWindow: duration{10 * time.Minute},
		},
		Kafka: KafkaConfig{
			Topic:        "updown.rounds",
			WriteTimeout: duration{10 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":    true,
	"scheduler": true,
	"full":      true,
	"dev":       true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, scheduler, full, dev)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	m := c.Market
	if strings.TrimSpace(m.Symbol) == "" {
		errs = append(errs, "market: symbol must not be empty")
	}
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("market: timezone %q: %v", m.Timezone, err))
	}
	if m.SessionOpen.Minutes >= m.SessionClose.Minutes {
		errs = append(errs, "market: session_open must be before session_close")
	}
	if m.SettleAt.Minutes < m.SessionClose.Minutes {
		errs = append(errs, "market: settle_at must not be before session_close")
	}
	if m.MinBet.Amount <= 0 {
		errs = append(errs, "market: min_bet must be > 0")
	}
	if m.MaxBet.Amount < m.MinBet.Amount {
		errs = append(errs, "market: max_bet must be >= min_bet")
	}
	if m.FeeBps < 0 || m.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("market: fee_bps must be 0-10000, got %d", m.FeeBps))
	}
	if m.PriceBandBps < 0 || m.PriceBandBps > 10_000 {
		errs = append(errs, fmt.Sprintf("market: price_band_bps must be 0-10000, got %d", m.PriceBandBps))
	}
	if m.MinSettleDelay.Duration < 0 {
		errs = append(errs, "market: min_settle_delay must be >= 0")
	}
	if m.StartingBalance.Amount <= 0 {
		errs = append(errs, "market: starting_balance must be > 0")
	}
	if m.BankruptcyFloor.Amount < 0 {
		errs = append(errs, "market: bankruptcy_floor must be >= 0")
	}

	if c.Escrow.Simulate {
		if !common.IsHexAddress(c.Escrow.Address) {
			errs = append(errs, "escrow: address must be a hex address")
		}
		if !common.IsHexAddress(c.Escrow.Owner) {
			errs = append(errs, "escrow: owner must be a hex address")
		}
		if c.Escrow.MaxBet.Amount < c.Escrow.MinBet.Amount || c.Escrow.MinBet.Amount <= 0 {
			errs = append(errs, "escrow: need 0 < min_bet <= max_bet")
		}
		if c.Chain.Enabled() {
			errs = append(errs, "escrow: simulate cannot be combined with a chain settler key")
		}
	}

	if mode != "dev" {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Chain.Enabled() {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required when a settler key is set")
		}
		if !common.IsHexAddress(c.Chain.Contract) {
			errs = append(errs, "chain: contract must be a hex address")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
			errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
		}
	}

	if len(c.PriceFeed.Hosts) == 0 {
		errs = append(errs, "price_feed: at least one host is required")
	}

	if mode == "scheduler" || mode == "full" || mode == "dev" {
		if c.Scheduler.OpenCron == "" || c.Scheduler.SettleCron == "" {
			errs = append(errs, "scheduler: open_cron and settle_cron must be set")
		}
		if c.Scheduler.MaxAttempts < 1 {
			errs = append(errs, "scheduler: max_attempts must be >= 1")
		}
		if c.Scheduler.RetryInterval.Duration <= 0 {
			errs = append(errs, "scheduler: retry_interval must be > 0")
		}
	}

	if mode != "scheduler" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, "kafka: topic must not be empty when brokers are set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
