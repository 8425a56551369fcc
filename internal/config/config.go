package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// EthereumConfig holds chain access and sync-window configuration
type EthereumConfig struct {
	WebSocketURL    string `mapstructure:"websocket_url"`
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	StartBlock      uint64 `mapstructure:"start_block"`
	// Confirmations is the reorg-safety depth: logs newer than
	// head - confirmations are not persisted yet. 0 disables the delay.
	Confirmations uint64 `mapstructure:"confirmations"`
	// LogPageBlocks caps the block span of one getLogs page during backfill
	LogPageBlocks        uint64        `mapstructure:"log_page_blocks"`
	BlockHeadTTL         time.Duration `mapstructure:"block_head_ttl"`
	BlockHeadStaleWindow time.Duration `mapstructure:"block_head_stale_window"`
}

// RedisConfig holds the block timestamp cache configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// WorkerConfig holds the per-page mapping pool configuration
type WorkerConfig struct {
	PoolSize  int `mapstructure:"pool_size"`
	QueueSize int `mapstructure:"queue_size"`
}

// ChainSyncConfig holds configuration for the chain-sync daemon
type ChainSyncConfig struct {
	Debug     bool           `mapstructure:"debug"`
	SentryDSN string         `mapstructure:"sentry_dsn"`
	Database  DatabaseConfig `mapstructure:"database"`
	Ethereum  EthereumConfig `mapstructure:"ethereum"`
	Redis     RedisConfig    `mapstructure:"redis"`
	NATS      NATSConfig     `mapstructure:"nats"`
	Worker    WorkerConfig   `mapstructure:"worker"`
}

// LoadChainSyncConfig loads configuration for the chain-sync daemon
func LoadChainSyncConfig(configFile string, envPath string) (*ChainSyncConfig, error) {
	v := configureViper("chain-sync", configFile, envPath)

	// Set defaults
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("ethereum.confirmations", 12)
	v.SetDefault("ethereum.log_page_blocks", 10000)
	v.SetDefault("ethereum.block_head_ttl", "12s")
	v.SetDefault("ethereum.block_head_stale_window", "60s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "COLLECTIBLE_EVENTS")
	v.SetDefault("worker.pool_size", 20)
	v.SetDefault("worker.queue_size", 2048)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config ChainSyncConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Ethereum.ContractAddress == "" {
		return nil, errors.New("ethereum.contract_address is required")
	}

	return &config, nil
}

// configureViper builds a viper instance with file + env layering
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("CHAIN_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// Required for viper to map env vars to config struct fields when no config
// file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Ethereum
		"ethereum.websocket_url",
		"ethereum.rpc_url",
		"ethereum.contract_address",
		"ethereum.start_block",
		"ethereum.confirmations",
		"ethereum.log_page_blocks",
		"ethereum.block_head_ttl",
		"ethereum.block_head_stale_window",
		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		// Worker
		"worker.pool_size",
		"worker.queue_size",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv layers .env files so service-specific values override shared ones
func loadEnv(envPath string, service string) {
	envFiles := []string{
		".env",
		fmt.Sprintf(".env.%s", service),
		".env.local",
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
