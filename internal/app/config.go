package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportRelay = "relay"
	TransportRedis = "redis"

	StoreFile     = "file"
	StorePostgres = "postgres"

	DirectoryRelay = "relay"
	DirectoryS3    = "s3"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home     string // state directory, e.g. $HOME/.chainmail
	Address  string
	RelayURL string // relay base URL, e.g. http://127.0.0.1:8080
	LogMode  string

	Transport     string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisPrefix   string

	Store       string
	DatabaseURL string

	PreKeyDirectory   string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	PollInterval     time.Duration
	WatchInterval    time.Duration
	MaintainInterval time.Duration
	Confirmations    int
	ConfirmRounds    int
	PreKeyCount      int
}

// LoadConfig reads the configuration from the environment. A .env file in
// the working directory is loaded first when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Home:     getEnv("CHAINMAIL_HOME", defaultHome()),
		Address:  getEnv("CHAINMAIL_ADDRESS", ""),
		RelayURL: getEnv("CHAINMAIL_RELAY_URL", "http://127.0.0.1:8080"),
		LogMode:  getEnv("CHAINMAIL_LOG_MODE", "production"),

		Transport:     getEnv("CHAINMAIL_TRANSPORT", TransportRelay),
		RedisHost:     getEnv("CHAINMAIL_REDIS_HOST", "localhost"),
		RedisPort:     getEnv("CHAINMAIL_REDIS_PORT", "6379"),
		RedisPassword: getEnv("CHAINMAIL_REDIS_PASSWORD", ""),
		RedisPrefix:   getEnv("CHAINMAIL_REDIS_PREFIX", "chainmail"),

		Store:       getEnv("CHAINMAIL_STORE", StoreFile),
		DatabaseURL: getEnv("CHAINMAIL_DATABASE_URL", ""),

		PreKeyDirectory:   getEnv("CHAINMAIL_PREKEY_DIRECTORY", DirectoryRelay),
		S3Bucket:          getEnv("CHAINMAIL_S3_BUCKET", ""),
		S3Region:          getEnv("CHAINMAIL_S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("CHAINMAIL_S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("CHAINMAIL_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("CHAINMAIL_S3_SECRET_ACCESS_KEY", ""),

		PollInterval:     getEnvAsDuration("CHAINMAIL_POLL_INTERVAL", 2*time.Second),
		WatchInterval:    getEnvAsDuration("CHAINMAIL_WATCH_INTERVAL", 5*time.Second),
		MaintainInterval: getEnvAsDuration("CHAINMAIL_MAINTAIN_INTERVAL", time.Hour),
		Confirmations:    getEnvAsInt("CHAINMAIL_CONFIRMATIONS", 1),
		ConfirmRounds:    getEnvAsInt("CHAINMAIL_CONFIRM_ROUNDS", 60),
		PreKeyCount:      getEnvAsInt("CHAINMAIL_PREKEY_COUNT", 365),
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.Home == "" {
		return errors.New("CHAINMAIL_HOME is empty")
	}
	switch c.Transport {
	case TransportRelay, TransportRedis:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	switch c.Store {
	case StoreFile:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("CHAINMAIL_DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.PreKeyDirectory {
	case DirectoryRelay:
	case DirectoryS3:
		if c.S3Bucket == "" {
			return errors.New("CHAINMAIL_S3_BUCKET is required for the s3 pre-key directory")
		}
	default:
		return fmt.Errorf("unknown pre-key directory %q", c.PreKeyDirectory)
	}
	if c.PollInterval <= 0 || c.WatchInterval <= 0 || c.MaintainInterval <= 0 {
		return errors.New("intervals must be positive")
	}
	return nil
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chainmail"
	}
	return filepath.Join(home, ".chainmail")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

const (
	LedgerMemory = "memory"
	LedgerRedis  = "redis"
)

// RelayConfig configures the relay daemon.
type RelayConfig struct {
	Listen        string
	Mode          string
	LogMode       string
	Ledger        string
	BlockInterval time.Duration

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisPrefix   string
}

// LoadRelayConfig reads the relay configuration from the environment.
func LoadRelayConfig() *RelayConfig {
	_ = godotenv.Load()

	return &RelayConfig{
		Listen:        getEnv("CHAINMAIL_RELAY_LISTEN", ":8080"),
		Mode:          getEnv("CHAINMAIL_RELAY_MODE", "release"),
		LogMode:       getEnv("CHAINMAIL_LOG_MODE", "production"),
		Ledger:        getEnv("CHAINMAIL_RELAY_LEDGER", LedgerMemory),
		BlockInterval: getEnvAsDuration("CHAINMAIL_BLOCK_INTERVAL", 2*time.Second),
		RedisHost:     getEnv("CHAINMAIL_REDIS_HOST", "localhost"),
		RedisPort:     getEnv("CHAINMAIL_REDIS_PORT", "6379"),
		RedisPassword: getEnv("CHAINMAIL_REDIS_PASSWORD", ""),
		RedisPrefix:   getEnv("CHAINMAIL_REDIS_PREFIX", "chainmail"),
	}
}
