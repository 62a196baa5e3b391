package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Admin    AdminConfig    `mapstructure:"admin"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ChainConfig points at the chain gateway the monitor polls and the recovery
// service broadcasts through.
type ChainConfig struct {
	GatewayURL     string        `mapstructure:"gateway_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MonitorConfig drives the per-session chain watchers. The payment window is
// poll_interval * max_attempts.
type MonitorConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	Tolerance        string        `mapstructure:"tolerance"` // decimal string, e.g. "0.01"
	ErrorThreshold   int           `mapstructure:"error_threshold"`
	DegradedInterval time.Duration `mapstructure:"degraded_interval"`
}

// PaymentWindow returns how long a claimed wallet waits for funds.
func (m MonitorConfig) PaymentWindow() time.Duration {
	return m.PollInterval * time.Duration(m.MaxAttempts)
}

// ToleranceDecimal parses the confirmation tolerance band.
func (m MonitorConfig) ToleranceDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(m.Tolerance)
}

type RecoveryConfig struct {
	NetworkFee      string        `mapstructure:"network_fee"` // decimal string
	ConfirmAttempts int           `mapstructure:"confirm_attempts"`
	ConfirmInterval time.Duration `mapstructure:"confirm_interval"`
}

// NetworkFeeDecimal parses the flat sweep network fee.
func (r RecoveryConfig) NetworkFeeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(r.NetworkFee)
}

type VaultConfig struct {
	MasterKey string `mapstructure:"master_key"` // 32-byte hex-encoded key for AES-256
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type NotifierConfig struct {
	URL    string `mapstructure:"url"`    // empty = log-only completion callback
	Secret string `mapstructure:"secret"` // HMAC secret for outcome signatures
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CWP_ (Custodial Wallet Pool).
// Nested keys use underscore: CWP_DATABASE_HOST, CWP_VAULT_MASTER_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_pool")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("chain.gateway_url", "http://localhost:3000")
	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("monitor.poll_interval", "15s")
	v.SetDefault("monitor.max_attempts", 60)
	v.SetDefault("monitor.tolerance", "0.01")
	v.SetDefault("monitor.error_threshold", 5)
	v.SetDefault("monitor.degraded_interval", "1m")
	v.SetDefault("recovery.network_fee", "0.5")
	v.SetDefault("recovery.confirm_attempts", 10)
	v.SetDefault("recovery.confirm_interval", "6s")
	v.SetDefault("vault.master_key", "")
	v.SetDefault("admin.api_key", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "12h")
	v.SetDefault("jwt.issuer", "custodial-wallet-pool")
	v.SetDefault("notifier.url", "")
	v.SetDefault("notifier.secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CWP_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CWP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
