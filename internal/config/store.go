package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

const (
	StoreBackendMemory = "memory"
	StoreBackendS3     = "s3"
	StoreBackendMySQL  = "mysql"
)

// StoreConfig holds persistence, history and query-cache settings
type StoreConfig struct {
	Backend string

	// S3 snapshot settings
	Bucket string
	Key    string

	// MySQL settings
	MySQLHost           string
	MySQLPort           int
	MySQLUser           string
	MySQLPassword       string
	MySQLName           string
	MySQLTimeoutSeconds int

	// DynamoDB cycle history
	HistoryTable   string
	HistoryTTLDays int
	EnableHistory  bool

	QueryCacheSize int
	// AWSEndpoint points S3 and DynamoDB clients at a local emulator
	AWSEndpoint string
}

const (
	defaultHistoryTTLDays = 30
	defaultQueryCacheSize = 256
	defaultMySQLPort      = 3306
)

// GetStoreConfig returns the store configuration from environment variables or defaults
func GetStoreConfig() *StoreConfig {
	config := &StoreConfig{
		Backend:             getEnvOrDefault("STORE_BACKEND", StoreBackendMemory),
		Bucket:              getEnvOrDefault("STORE_BUCKET", ""),
		Key:                 getEnvOrDefault("STORE_KEY", ""),
		MySQLHost:           getEnvOrDefault("MYSQL_HOST", "localhost"),
		MySQLPort:           getEnvInt("MYSQL_PORT", defaultMySQLPort),
		MySQLUser:           getEnvOrDefault("MYSQL_USER", "bicyclette"),
		MySQLPassword:       getEnvOrDefault("MYSQL_PASSWORD", ""),
		MySQLName:           getEnvOrDefault("MYSQL_NAME", "bicyclette"),
		MySQLTimeoutSeconds: getEnvInt("MYSQL_TIMEOUT_SECONDS", 30),
		HistoryTable:        getEnvOrDefault("HISTORY_TABLE", ""),
		HistoryTTLDays:      getEnvInt("HISTORY_TTL_DAYS", defaultHistoryTTLDays),
		EnableHistory:       getEnvBool("HISTORY_ENABLE", false),
		QueryCacheSize:      getEnvInt("QUERY_CACHE_SIZE", defaultQueryCacheSize),
		AWSEndpoint:         getEnvOrDefault("AWS_ENDPOINT", ""),
	}

	log.Debug().
		Str("Backend", config.Backend).
		Str("Bucket", config.Bucket).
		Str("MySQLHost", config.MySQLHost).
		Bool("EnableHistory", config.EnableHistory).
		Int("QueryCacheSize", config.QueryCacheSize).
		Msg("Store configuration loaded")

	return config
}

func (c *StoreConfig) GetHistoryTTL() time.Duration {
	return time.Duration(c.HistoryTTLDays) * 24 * time.Hour
}
