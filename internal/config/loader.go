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
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SKYSHIELD_* environment variable overrides, and
// returns the final Config. A missing file is not an error so the service can
// be configured from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SKYSHIELD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "SKYSHIELD_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SKYSHIELD_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ReadTimeout, "SKYSHIELD_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "SKYSHIELD_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "SKYSHIELD_SERVER_IDLE_TIMEOUT")
	setStr(&cfg.Server.APIKey, "SKYSHIELD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SKYSHIELD_SERVER_RATE_LIMIT")
	setStringSlice(&cfg.Server.TrustedProxies, "SKYSHIELD_SERVER_TRUSTED_PROXIES")

	// ── Aviation Edge ──
	setStr(&cfg.AviationEdge.BaseURL, "SKYSHIELD_AVIATION_EDGE_BASE_URL")
	setStr(&cfg.AviationEdge.APIKey, "SKYSHIELD_AVIATION_EDGE_API_KEY")
	setStr(&cfg.AviationEdge.APIKey, "AVIATION_EDGE_API_KEY") // compatibility alias
	setDuration(&cfg.AviationEdge.Timeout, "SKYSHIELD_AVIATION_EDGE_TIMEOUT")

	// ── Resolver ──
	setDuration(&cfg.Resolver.ProviderTimeout, "SKYSHIELD_RESOLVER_PROVIDER_TIMEOUT")
	setDuration(&cfg.Resolver.ChainTimeout, "SKYSHIELD_RESOLVER_CHAIN_TIMEOUT")
	setDuration(&cfg.Resolver.CacheTTL, "SKYSHIELD_RESOLVER_CACHE_TTL")
	setDuration(&cfg.Resolver.LockTTL, "SKYSHIELD_RESOLVER_LOCK_TTL")
	setDuration(&cfg.Resolver.ReceiptPoll, "SKYSHIELD_RESOLVER_RECEIPT_POLL")
	setStr(&cfg.Resolver.EvidencePrefix, "SKYSHIELD_RESOLVER_EVIDENCE_PREFIX")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SKYSHIELD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "SKYSHIELD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SKYSHIELD_WALLET_KEY_PASSWORD")

	// ── Chains ──
	setStr(&cfg.Chains.Celo.RPCURL, "SKYSHIELD_CHAINS_CELO_RPC_URL")
	setStr(&cfg.Chains.Celo.RPCURL, "CELO_RPC_URL") // compatibility alias
	setStr(&cfg.Chains.Celo.Contract, "SKYSHIELD_CHAINS_CELO_CONTRACT")
	setStr(&cfg.Chains.Sepolia.RPCURL, "SKYSHIELD_CHAINS_SEPOLIA_RPC_URL")
	setStr(&cfg.Chains.Sepolia.RPCURL, "SEPOLIA_RPC_URL") // compatibility alias
	setStr(&cfg.Chains.Sepolia.Contract, "SKYSHIELD_CHAINS_SEPOLIA_CONTRACT")
	setStr(&cfg.DefaultChain, "SKYSHIELD_DEFAULT_CHAIN")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SKYSHIELD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SKYSHIELD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SKYSHIELD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SKYSHIELD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SKYSHIELD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SKYSHIELD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SKYSHIELD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SKYSHIELD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SKYSHIELD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SKYSHIELD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SKYSHIELD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SKYSHIELD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SKYSHIELD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SKYSHIELD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SKYSHIELD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SKYSHIELD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SKYSHIELD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SKYSHIELD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "SKYSHIELD_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SKYSHIELD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SKYSHIELD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SKYSHIELD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SKYSHIELD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SKYSHIELD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SKYSHIELD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SKYSHIELD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SKYSHIELD_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.ArchiveAudit, "SKYSHIELD_S3_ARCHIVE_AUDIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SKYSHIELD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SKYSHIELD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SKYSHIELD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "SKYSHIELD_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "SKYSHIELD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SKYSHIELD_MODE")
	setStr(&cfg.LogLevel, "SKYSHIELD_LOG_LEVEL")
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
