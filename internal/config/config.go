// Package config defines the top-level configuration for the SkyShield
// resolver and provides validation helpers.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SKYSHIELD_* environment variables.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	AviationEdge AviationEdgeConfig `toml:"aviation_edge"`
	Resolver     ResolverConfig     `toml:"resolver"`
	Wallet       WalletConfig       `toml:"wallet"`
	Chains       ChainsConfig       `toml:"chains"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Notify       NotifyConfig       `toml:"notify"`
	DefaultChain string             `toml:"default_chain"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	IdleTimeout  duration `toml:"idle_timeout"`
	// APIKey guards operator endpoints (market creation, submission retry).
	// Empty disables them.
	APIKey string `toml:"api_key"`
	// RateLimit is the number of /resolve requests allowed per client per
	// minute. Zero disables rate limiting. Needs redis.
	RateLimit int `toml:"rate_limit"`
	// TrustedProxies lists proxy addresses or CIDR ranges whose
	// X-Forwarded-For and X-Real-IP headers identify the client.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// AviationEdgeConfig holds the flight-status provider credentials.
type AviationEdgeConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// ResolverConfig holds resolution timeouts and retention.
type ResolverConfig struct {
	ProviderTimeout duration `toml:"provider_timeout"`
	ChainTimeout    duration `toml:"chain_timeout"`
	CacheTTL        duration `toml:"cache_ttl"`
	LockTTL         duration `toml:"lock_ttl"`
	ReceiptPoll     duration `toml:"receipt_poll"`
	EvidencePrefix  string   `toml:"evidence_prefix"`
}

// WalletConfig holds the signing key used for resolveMarket and
// createFlightMarket transactions.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainsConfig holds per-network RPC endpoints and contract overrides.
type ChainsConfig struct {
	Celo    ChainConfig `toml:"celo"`
	Sepolia ChainConfig `toml:"sepolia"`
}

// ChainConfig configures one FlightMarket deployment. An empty Contract keeps
// the built-in address.
type ChainConfig struct {
	RPCURL   string `toml:"rpc_url"`
	Contract string `toml:"contract"`
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
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveAudit exports the previous day's audit log once a day. Needs
	// postgres.
	ArchiveAudit bool `toml:"archive_audit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values. Only
// the provider key is needed to serve /resolve; every backing store starts
// disabled.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         4500,
			CORSOrigins:  []string{"*"},
			ReadTimeout:  duration{10 * time.Second},
			WriteTimeout: duration{3 * time.Minute},
			IdleTimeout:  duration{2 * time.Minute},
		},
		AviationEdge: AviationEdgeConfig{
			BaseURL: "https://aviation-edge.com/v2/public",
			Timeout: duration{30 * time.Second},
		},
		Resolver: ResolverConfig{
			ProviderTimeout: duration{30 * time.Second},
			ChainTimeout:    duration{2 * time.Minute},
			CacheTTL:        duration{24 * time.Hour},
			LockTTL:         duration{3 * time.Minute},
			ReceiptPoll:     duration{2 * time.Second},
			EvidencePrefix:  "evidence",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "skyshield",
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
			Namespace:  "skyshield",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "skyshield-evidence",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"submission_succeeded", "submission_failed", "ambiguous_match"},
		},
		DefaultChain: "celo",
		Mode:         "server",
		LogLevel:     "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":      true,
	"resolve":     true,
	"encrypt-key": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// knownChains lists the selectors accepted for DefaultChain.
var knownChains = map[string]bool{
	"celo": true, "c": true,
	"sepolia": true, "s": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Secrets are never checked
// beyond presence.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, resolve, encrypt-key)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !knownChains[strings.ToLower(c.DefaultChain)] {
		errs = append(errs, fmt.Sprintf("unknown default_chain %q (valid: celo, sepolia)", c.DefaultChain))
	}

	// Server
	if c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
		for _, p := range c.Server.TrustedProxies {
			if !validProxy(p) {
				errs = append(errs, fmt.Sprintf("server: trusted_proxies: invalid address or CIDR %q", p))
			}
		}
	}

	// Resolver
	if c.Resolver.ProviderTimeout.Duration <= 0 {
		errs = append(errs, "resolver: provider_timeout must be > 0")
	}
	if c.Resolver.ChainTimeout.Duration <= 0 {
		errs = append(errs, "resolver: chain_timeout must be > 0")
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Mode == "encrypt-key" && (c.Wallet.PrivateKey == "" || c.Wallet.EncryptedKeyPath == "") {
		errs = append(errs, "wallet: encrypt-key mode needs private_key and encrypted_key_path")
	}

	// Chains
	for name, ch := range map[string]ChainConfig{"celo": c.Chains.Celo, "sepolia": c.Chains.Sepolia} {
		if ch.Contract != "" && !common.IsHexAddress(ch.Contract) {
			errs = append(errs, fmt.Sprintf("chains.%s: contract %q is not a hex address", name, ch.Contract))
		}
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
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveAudit && !c.Postgres.Enabled {
			errs = append(errs, "s3: archive_audit requires postgres.enabled")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Presence reports which secrets are configured, for startup logging and the
// health endpoint. Values are never exposed.
type Presence struct {
	AviationEdgeKey bool
	PrivateKey      bool
	RPC             map[string]bool
}

// SecretPresence summarises which secrets are set.
func (c *Config) SecretPresence() Presence {
	return Presence{
		AviationEdgeKey: c.AviationEdge.APIKey != "",
		PrivateKey:      c.Wallet.PrivateKey != "" || c.Wallet.EncryptedKeyPath != "",
		RPC: map[string]bool{
			"celo":    c.Chains.Celo.RPCURL != "",
			"sepolia": c.Chains.Sepolia.RPCURL != "",
		},
	}
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
