package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

// setupTestDB creates an in-memory SQLite DB for testing the SQL store
func setupTestDB(t *testing.T, dbName string) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", dbName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	return db
}

func TestSQL_CommitAndReload(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "sql_commit")

	s, err := NewSQL(db)
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	first := testStation("1")
	first.UpdatedAt = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tx.Create(first))
	require.NoError(t, tx.Create(testStation("2")))
	require.NoError(t, tx.SetRegions([]models.Region{{
		Key:            "48:2",
		Title:          "Centre",
		Bounds:         models.Bounds{MinLatitude: 48.85, MinLongitude: 2.35, MaxLatitude: 48.85, MaxLongitude: 2.35, NonEmpty: true},
		StationNumbers: []string{"1", "2"},
	}}))
	require.NoError(t, tx.Save(ctx))

	// a fresh store over the same database sees the committed rows
	reopened, err := NewSQL(db)
	require.NoError(t, err)
	g, err := reopened.Load(ctx)
	require.NoError(t, err)

	require.Len(t, g.Stations, 2)
	assert.Equal(t, "Station 1", g.Stations["1"].Name)
	assert.Equal(t, models.StatusOpen, g.Stations["1"].Status)
	assert.True(t, first.UpdatedAt.Equal(g.Stations["1"].UpdatedAt))
	require.Len(t, g.Regions, 1)
	assert.Equal(t, "Centre", g.Regions[0].Title)
	assert.Equal(t, []string{"1", "2"}, g.Regions[0].StationNumbers)
	assert.True(t, g.Regions[0].Bounds.NonEmpty)
}

func TestSQL_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "sql_update")

	s, err := NewSQL(db)
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(testStation("1")))
	require.NoError(t, tx.Create(testStation("2")))
	require.NoError(t, tx.Save(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	changed := testStation("1")
	changed.Available = 11
	require.NoError(t, tx.Update(changed))
	require.NoError(t, tx.Delete("2"))
	require.NoError(t, tx.SetRegions(nil))
	require.NoError(t, tx.Save(ctx))

	var rows []stationRow
	require.NoError(t, db.Order("number").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, 11, rows[0].Available)

	var regionCount int64
	require.NoError(t, db.Model(&regionRow{}).Count(&regionCount).Error)
	assert.Zero(t, regionCount)
}

func TestSQL_FailedCommitRollsBack(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, "sql_rollback")

	s, err := NewSQL(db)
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(testStation("1")))
	require.NoError(t, tx.Save(ctx))

	// a row written behind the store's back makes the next create collide
	require.NoError(t, db.Create(&stationRow{Number: "3", Name: "intruder"}).Error)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete("1"))
	require.NoError(t, tx.Create(testStation("3")))
	require.Error(t, tx.Save(ctx))

	var count int64
	require.NoError(t, db.Model(&stationRow{}).Where("number = ?", "1").Count(&count).Error)
	assert.Equal(t, int64(1), count, "delete inside the failed transaction was rolled back")

	g, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, g.Stations, "1")
	assert.NotContains(t, g.Stations, "3")
}

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name        string
		cfg         MySQLConfig
		wantAddr    string
		wantTimeout time.Duration
	}{
		{
			name:        "plain password",
			cfg:         MySQLConfig{Host: "db.internal", Port: 3306, User: "velib", Password: "secret", Name: "bicyclette", TimeoutSeconds: 5},
			wantAddr:    "db.internal:3306",
			wantTimeout: 5 * time.Second,
		},
		{
			name:        "special characters are kept verbatim",
			cfg:         MySQLConfig{Host: "127.0.0.1", Port: 3307, User: "velib", Password: "p@ss:w/rd?#%20&", Name: "bicyclette"},
			wantAddr:    "127.0.0.1:3307",
			wantTimeout: 30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := mysqldriver.ParseDSN(mysqlDSN(tt.cfg))
			require.NoError(t, err)

			assert.Equal(t, tt.cfg.User, parsed.User)
			assert.Equal(t, tt.cfg.Password, parsed.Passwd)
			assert.Equal(t, "tcp", parsed.Net)
			assert.Equal(t, tt.wantAddr, parsed.Addr)
			assert.Equal(t, tt.cfg.Name, parsed.DBName)
			assert.True(t, parsed.ParseTime)
			assert.Equal(t, time.UTC, parsed.Loc)
			assert.Equal(t, tt.wantTimeout, parsed.Timeout)
			assert.Equal(t, "utf8mb4", parsed.Params["charset"])
		})
	}
}
