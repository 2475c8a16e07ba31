package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingLedgerAddress and ErrMissingDescriptor are configuration faults, not runtime ones.
var (
	ErrMissingLedgerAddress = errors.New("ledger address is not set")
	ErrMissingDescriptor    = errors.New("ledger interface descriptor is not set")
	ErrMissingRPCURL        = errors.New("ledger rpc url is not set")
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// LedgerConfig is the static deployment metadata for the one mirrored ledger.
type LedgerConfig struct {
	Address        string        `mapstructure:"address"`         // contract address, 0x-prefixed
	DescriptorPath string        `mapstructure:"descriptor_path"` // ABI JSON file
	RPCURL         string        `mapstructure:"rpc_url"`         // JSON-RPC over HTTP
	WSURL          string        `mapstructure:"ws_url"`          // JSON-RPC over WebSocket, for subscriptions
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReceiptPoll    time.Duration `mapstructure:"receipt_poll"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
}

// Validate reports missing deployment metadata.
func (l LedgerConfig) Validate() error {
	var errs []error
	if l.Address == "" {
		errs = append(errs, ErrMissingLedgerAddress)
	}
	if l.DescriptorPath == "" {
		errs = append(errs, ErrMissingDescriptor)
	}
	if l.RPCURL == "" {
		errs = append(errs, ErrMissingRPCURL)
	}
	return errors.Join(errs...)
}

type WalletConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	BroadcastViaWallet bool          `mapstructure:"broadcast_via_wallet"` // wallet signs and sends in one call
}

type SnapshotConfig struct {
	Window      int     `mapstructure:"window"`      // newest entries fetched per run
	Concurrency int     `mapstructure:"concurrency"` // parallel entry reads
	ReadsPerSec float64 `mapstructure:"reads_per_sec"`
}

type MirrorConfig struct {
	MaxEntries        int           `mapstructure:"max_entries"`        // retention cap for held entries, 0 = unbounded
	RecentEntries     int           `mapstructure:"recent_entries"`     // entries rendered to the UI
	OptimisticEntries bool          `mapstructure:"optimistic_entries"` // show tagged placeholders for in-flight appends
	ResubscribeMin    time.Duration `mapstructure:"resubscribe_min"`
	ResubscribeMax    time.Duration `mapstructure:"resubscribe_max"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
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
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
	JournalTTL  time.Duration `mapstructure:"journal_ttl"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// deploymentEnvFile is where the contract deploy tooling writes the ledger address.
const deploymentEnvFile = ".env.local"

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: LEDGER_.
// Nested keys use underscore: LEDGER_LEDGER_RPC_URL, LEDGER_REDIS_HOST, etc.
// The deployment env file (LEDGER_ENV_FILE, default .env.local) is loaded first;
// its VITE_CONTRACT_ADDRESS is accepted as the ledger address.
func Load(path string) (*Config, error) {
	envFile := os.Getenv("LEDGER_ENV_FILE")
	if envFile == "" {
		envFile = deploymentEnvFile
	}
	// godotenv never overrides variables already present in the environment.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading env file %s: %w", envFile, err)
	}

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("ledger.address", "")
	v.SetDefault("ledger.descriptor_path", "")
	v.SetDefault("ledger.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("ledger.ws_url", "ws://127.0.0.1:8545")
	v.SetDefault("ledger.request_timeout", "10s")
	v.SetDefault("ledger.receipt_poll", "1s")
	v.SetDefault("ledger.receipt_timeout", "2m")
	v.SetDefault("wallet.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("wallet.request_timeout", "2m")
	v.SetDefault("wallet.broadcast_via_wallet", false)
	v.SetDefault("snapshot.window", 50)
	v.SetDefault("snapshot.concurrency", 8)
	v.SetDefault("snapshot.reads_per_sec", 50.0)
	v.SetDefault("mirror.max_entries", 500)
	v.SetDefault("mirror.recent_entries", 20)
	v.SetDefault("mirror.optimistic_entries", false)
	v.SetDefault("mirror.resubscribe_min", "1s")
	v.SetDefault("mirror.resubscribe_max", "30s")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "ledger_mirror")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", "24h")
	v.SetDefault("redis.journal_ttl", "168h")
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

	// Environment variables: LEDGER_LEDGER_ADDRESS -> ledger.address
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("ledger.address", "LEDGER_LEDGER_ADDRESS", "VITE_CONTRACT_ADDRESS"); err != nil {
		return nil, fmt.Errorf("binding ledger address env: %w", err)
	}

	// Read config file (not required, env vars can suffice)
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
