package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"quotasigner/internal/domain"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string `yaml:"httpAddr"`
	ServiceName string `yaml:"serviceName"`
	LogLevel    string `yaml:"logLevel"`
	SSLKeyPath  string `yaml:"sslKeyPath"`
	SSLCertPath string `yaml:"sslCertPath"`
	PostgresDSN string `yaml:"postgresDSN"`

	API    APIConfig    `yaml:"api"`
	Ledger LedgerConfig `yaml:"ledger"`
	Keys   KeysConfig   `yaml:"keys"`

	QuotaPolicyPath string `yaml:"quotaPolicyPath"`

	RateLimitRequests      int  `yaml:"rateLimitRequests"`
	RateLimitWindowSeconds int  `yaml:"rateLimitWindowSeconds"`
	RateLimitFailClosed    bool `yaml:"rateLimitFailClosed"`
	RateLimitMaxKeys       int  `yaml:"rateLimitMaxKeys"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
}

type APIConfig struct {
	PhoneNumberPrivacy EndpointFamily `yaml:"phoneNumberPrivacy"`
	Domains            EndpointFamily `yaml:"domains"`
}

type EndpointFamily struct {
	Enabled        bool `yaml:"enabled"`
	ShouldFailOpen bool `yaml:"shouldFailOpen"`
}

type LedgerConfig struct {
	TimeoutMs    int `yaml:"timeoutMs"`
	RetryCount   int `yaml:"retryCount"`
	RetryDelayMs int `yaml:"retryDelayMs"`
}

type KeysConfig struct {
	Provider string `yaml:"provider"`

	PNPKeyVersion     int `yaml:"pnpKeyVersion"`
	DomainsKeyVersion int `yaml:"domainsKeyVersion"`

	PNPPrivateKeyBase64      string `yaml:"pnpPrivateKeyBase64"`
	PNPPrivateKeySeedHex     string `yaml:"pnpPrivateKeySeedHex"`
	DomainsPrivateKeyBase64  string `yaml:"domainsPrivateKeyBase64"`
	DomainsPrivateKeySeedHex string `yaml:"domainsPrivateKeySeedHex"`

	VaultAddr  string `yaml:"vaultAddr"`
	VaultToken string `yaml:"vaultToken"`
	VaultEnv   string `yaml:"vaultEnv"`
}

func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		ServiceName: "quotasigner",
		LogLevel:    "info",
		API: APIConfig{
			PhoneNumberPrivacy: EndpointFamily{Enabled: false, ShouldFailOpen: true},
			Domains:            EndpointFamily{Enabled: false, ShouldFailOpen: false},
		},
		Ledger: LedgerConfig{
			TimeoutMs:    1000,
			RetryCount:   5,
			RetryDelayMs: 100,
		},
		Keys: KeysConfig{
			Provider:          "soft",
			PNPKeyVersion:     1,
			DomainsKeyVersion: 1,
		},
		RateLimitWindowSeconds: 60,
		RateLimitMaxKeys:       10000,
	}
}

// FromEnv returns the defaults, overlaid with SIGNER_CONFIG_FILE when set,
// overlaid with individual environment variables.
func FromEnv() (Config, error) {
	cfg := Default()
	if path := os.Getenv("SIGNER_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envDefault("HTTP_ADDR", c.HTTPAddr)
	c.ServiceName = envDefault("SERVICE_NAME", c.ServiceName)
	c.LogLevel = envDefault("LOG_LEVEL", c.LogLevel)
	c.SSLKeyPath = envDefault("SERVER_SSL_KEY_PATH", c.SSLKeyPath)
	c.SSLCertPath = envDefault("SERVER_SSL_CERT_PATH", c.SSLCertPath)
	c.PostgresDSN = envDefault("POSTGRES_DSN", c.PostgresDSN)

	c.API.PhoneNumberPrivacy.Enabled = envBoolDefault("PHONE_NUMBER_PRIVACY_API_ENABLED", c.API.PhoneNumberPrivacy.Enabled)
	c.API.PhoneNumberPrivacy.ShouldFailOpen = envBoolDefault("PHONE_NUMBER_PRIVACY_SHOULD_FAIL_OPEN", c.API.PhoneNumberPrivacy.ShouldFailOpen)
	c.API.Domains.Enabled = envBoolDefault("DOMAINS_API_ENABLED", c.API.Domains.Enabled)
	c.API.Domains.ShouldFailOpen = envBoolDefault("DOMAINS_SHOULD_FAIL_OPEN", c.API.Domains.ShouldFailOpen)

	c.Ledger.TimeoutMs = envIntDefault("LEDGER_TIMEOUT_MS", c.Ledger.TimeoutMs)
	c.Ledger.RetryCount = envNonNegativeIntDefault("LEDGER_RETRY_COUNT", c.Ledger.RetryCount)
	c.Ledger.RetryDelayMs = envNonNegativeIntDefault("LEDGER_RETRY_DELAY_MS", c.Ledger.RetryDelayMs)

	c.Keys.Provider = envDefault("KEYSTORE_TYPE", c.Keys.Provider)
	c.Keys.PNPKeyVersion = envIntDefault("PHONE_NUMBER_PRIVACY_LATEST_KEY_VERSION", c.Keys.PNPKeyVersion)
	c.Keys.DomainsKeyVersion = envIntDefault("DOMAINS_LATEST_KEY_VERSION", c.Keys.DomainsKeyVersion)
	c.Keys.PNPPrivateKeyBase64 = envDefault("PNP_PRIVATE_KEY_BASE64", c.Keys.PNPPrivateKeyBase64)
	c.Keys.PNPPrivateKeySeedHex = envDefault("PNP_PRIVATE_KEY_SEED_HEX", c.Keys.PNPPrivateKeySeedHex)
	c.Keys.DomainsPrivateKeyBase64 = envDefault("DOMAINS_PRIVATE_KEY_BASE64", c.Keys.DomainsPrivateKeyBase64)
	c.Keys.DomainsPrivateKeySeedHex = envDefault("DOMAINS_PRIVATE_KEY_SEED_HEX", c.Keys.DomainsPrivateKeySeedHex)
	c.Keys.VaultAddr = envDefault("VAULT_ADDR", c.Keys.VaultAddr)
	c.Keys.VaultToken = envDefault("VAULT_TOKEN", c.Keys.VaultToken)
	c.Keys.VaultEnv = envDefault("VAULT_ENV", c.Keys.VaultEnv)

	c.QuotaPolicyPath = envDefault("QUOTA_POLICY_PATH", c.QuotaPolicyPath)

	c.RateLimitRequests = envIntDefault("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindowSeconds = envIntDefault("RATE_LIMIT_WINDOW_SECONDS", c.RateLimitWindowSeconds)
	c.RateLimitFailClosed = envBoolDefault("RATE_LIMIT_FAIL_CLOSED", c.RateLimitFailClosed)
	c.RateLimitMaxKeys = envIntDefault("RATE_LIMIT_MAX_KEYS", c.RateLimitMaxKeys)
	c.RedisAddr = envDefault("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envDefault("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envIntDefault("REDIS_DB", c.RedisDB)
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// Retry counts and delays may legitimately be zero.
func envNonNegativeIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) PNPEndpoint() domain.EndpointConfig {
	return domain.EndpointConfig{
		Enabled:  c.API.PhoneNumberPrivacy.Enabled,
		FailOpen: c.API.PhoneNumberPrivacy.ShouldFailOpen,
	}
}

func (c Config) DomainsEndpoint() domain.EndpointConfig {
	return domain.EndpointConfig{
		Enabled:  c.API.Domains.Enabled,
		FailOpen: c.API.Domains.ShouldFailOpen,
	}
}

func (c Config) LedgerRetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		Timeout:    time.Duration(c.Ledger.TimeoutMs) * time.Millisecond,
		RetryCount: c.Ledger.RetryCount,
		RetryDelay: time.Duration(c.Ledger.RetryDelayMs) * time.Millisecond,
	}
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
