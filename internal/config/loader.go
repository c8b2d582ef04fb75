package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/updown/internal/domain"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setStr(&cfg.Market.Symbol, "UPDOWN_MARKET_SYMBOL")
	setStr(&cfg.Market.Timezone, "UPDOWN_MARKET_TIMEZONE")
	setAmount(&cfg.Market.MinBet, "UPDOWN_MARKET_MIN_BET")
	setAmount(&cfg.Market.MaxBet, "UPDOWN_MARKET_MAX_BET")
	setInt64(&cfg.Market.FeeBps, "UPDOWN_MARKET_FEE_BPS")
	setInt64(&cfg.Market.PriceBandBps, "UPDOWN_MARKET_PRICE_BAND_BPS")
	setDuration(&cfg.Market.MinSettleDelay, "UPDOWN_MARKET_MIN_SETTLE_DELAY")
	setAmount(&cfg.Market.StartingBalance, "UPDOWN_MARKET_STARTING_BALANCE")
	setAmount(&cfg.Market.BankruptcyFloor, "UPDOWN_MARKET_BANKRUPTCY_FLOOR")
	setBool(&cfg.Market.EnforceHours, "UPDOWN_MARKET_ENFORCE_HOURS")

	// ── Escrow ──
	setBool(&cfg.Escrow.Simulate, "UPDOWN_ESCROW_SIMULATE")
	setStr(&cfg.Escrow.Owner, "UPDOWN_ESCROW_OWNER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UPDOWN_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "UPDOWN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "UPDOWN_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "UPDOWN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "UPDOWN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWN_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWN_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "UPDOWN_CHAIN_RPC_URL")
	setStr(&cfg.Chain.Contract, "UPDOWN_CHAIN_CONTRACT")
	setInt64(&cfg.Chain.ChainID, "UPDOWN_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "UPDOWN_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "UPDOWN_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "UPDOWN_CHAIN_KEY_PASSWORD")

	// ── Price feed ──
	setStringSlice(&cfg.PriceFeed.Hosts, "UPDOWN_PRICE_FEED_HOSTS")
	setDuration(&cfg.PriceFeed.Timeout, "UPDOWN_PRICE_FEED_TIMEOUT")

	// ── Scheduler ──
	setStr(&cfg.Scheduler.OpenCron, "UPDOWN_SCHEDULER_OPEN_CRON")
	setStr(&cfg.Scheduler.SettleCron, "UPDOWN_SCHEDULER_SETTLE_CRON")
	setDuration(&cfg.Scheduler.RetryInterval, "UPDOWN_SCHEDULER_RETRY_INTERVAL")
	setInt(&cfg.Scheduler.MaxAttempts, "UPDOWN_SCHEDULER_MAX_ATTEMPTS")
	setDuration(&cfg.Scheduler.MaxPriceAge, "UPDOWN_SCHEDULER_MAX_PRICE_AGE")

	// ── Server ──
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminKey, "UPDOWN_SERVER_ADMIN_KEY")
	setInt(&cfg.Server.RateLimit, "UPDOWN_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "UPDOWN_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWN_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.DedupWindow, "UPDOWN_NOTIFY_DEDUP_WINDOW")

	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "UPDOWN_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "UPDOWN_KAFKA_TOPIC")
	setStr(&cfg.Kafka.SigningSecret, "UPDOWN_KAFKA_SIGNING_SECRET")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setAmount(dst *amount, key string) {
	if v := os.Getenv(key); v != "" {
		if a, err := domain.ParseAmount(v); err == nil {
			dst.Amount = a
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
