package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetStoreConfig(t *testing.T) {
	t.Run("custom values", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "mysql")
		t.Setenv("STORE_BUCKET", "bicyclette-snapshots")
		t.Setenv("MYSQL_HOST", "db.internal")
		t.Setenv("MYSQL_PORT", "3307")
		t.Setenv("MYSQL_PASSWORD", "p@ss")
		t.Setenv("HISTORY_TABLE", "history")
		t.Setenv("HISTORY_TTL_DAYS", "7")
		t.Setenv("HISTORY_ENABLE", "true")
		t.Setenv("QUERY_CACHE_SIZE", "64")
		t.Setenv("AWS_ENDPOINT", "http://localhost:4566")

		config := GetStoreConfig()

		assert.Equal(t, StoreBackendMySQL, config.Backend)
		assert.Equal(t, "bicyclette-snapshots", config.Bucket)
		assert.Equal(t, "db.internal", config.MySQLHost)
		assert.Equal(t, 3307, config.MySQLPort)
		assert.Equal(t, "p@ss", config.MySQLPassword)
		assert.Equal(t, "history", config.HistoryTable)
		assert.True(t, config.EnableHistory)
		assert.Equal(t, 64, config.QueryCacheSize)
		assert.Equal(t, "http://localhost:4566", config.AWSEndpoint)
		assert.Equal(t, 7*24*time.Hour, config.GetHistoryTTL())
	})

	t.Run("invalid numbers use defaults", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "")
		t.Setenv("MYSQL_PORT", "not-a-port")
		t.Setenv("QUERY_CACHE_SIZE", "big")
		t.Setenv("HISTORY_TTL_DAYS", "x")

		config := GetStoreConfig()

		assert.Equal(t, StoreBackendMemory, config.Backend)
		assert.Equal(t, defaultMySQLPort, config.MySQLPort)
		assert.Equal(t, defaultQueryCacheSize, config.QueryCacheSize)
		assert.Equal(t, 30*24*time.Hour, config.GetHistoryTTL())
	})
}
