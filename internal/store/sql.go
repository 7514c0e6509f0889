package store

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

type stationRow struct {
	Number        string `gorm:"primaryKey;size:32"`
	Name          string `gorm:"size:255"`
	Address       string `gorm:"size:255"`
	Latitude      float64
	Longitude     float64
	Capacity      int
	Available     int
	Free          int
	Status        string `gorm:"size:32"`
	RegionKey     string `gorm:"size:64;index"`
	MissedFetches int
	LastUpdate    time.Time
}

func (stationRow) TableName() string {
	return "stations"
}

type regionRow struct {
	RegionKey      string `gorm:"primaryKey;size:64"`
	Title          string `gorm:"size:255"`
	Subtitle       string `gorm:"size:255"`
	MinLatitude    float64
	MinLongitude   float64
	MaxLatitude    float64
	MaxLongitude   float64
	NonEmpty       bool
	StationNumbers []string `gorm:"serializer:json"`
}

func (regionRow) TableName() string {
	return "regions"
}

func toStationRow(s models.Station) stationRow {
	return stationRow{
		Number:        s.Number,
		Name:          s.Name,
		Address:       s.Address,
		Latitude:      s.Latitude,
		Longitude:     s.Longitude,
		Capacity:      s.Capacity,
		Available:     s.Available,
		Free:          s.Free,
		Status:        string(s.Status),
		RegionKey:     s.RegionKey,
		MissedFetches: s.MissedFetches,
		LastUpdate:    s.UpdatedAt,
	}
}

func (r stationRow) station() models.Station {
	return models.Station{
		Number:        r.Number,
		Name:          r.Name,
		Address:       r.Address,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		Capacity:      r.Capacity,
		Available:     r.Available,
		Free:          r.Free,
		Status:        models.Status(r.Status),
		RegionKey:     r.RegionKey,
		MissedFetches: r.MissedFetches,
		UpdatedAt:     r.LastUpdate,
	}
}

func toRegionRow(r models.Region) regionRow {
	return regionRow{
		RegionKey:      r.Key,
		Title:          r.Title,
		Subtitle:       r.Subtitle,
		MinLatitude:    r.Bounds.MinLatitude,
		MinLongitude:   r.Bounds.MinLongitude,
		MaxLatitude:    r.Bounds.MaxLatitude,
		MaxLongitude:   r.Bounds.MaxLongitude,
		NonEmpty:       r.Bounds.NonEmpty,
		StationNumbers: r.StationNumbers,
	}
}

func (r regionRow) region() models.Region {
	return models.Region{
		Key:      r.RegionKey,
		Title:    r.Title,
		Subtitle: r.Subtitle,
		Bounds: models.Bounds{
			MinLatitude:  r.MinLatitude,
			MinLongitude: r.MinLongitude,
			MaxLatitude:  r.MaxLatitude,
			MaxLongitude: r.MaxLongitude,
			NonEmpty:     r.NonEmpty,
		},
		StationNumbers: r.StationNumbers,
	}
}

// sqlBackend writes each commit inside one database transaction.
type sqlBackend struct {
	db *gorm.DB
}

// NewSQL returns a store backed by db, creating the tables if needed.
func NewSQL(db *gorm.DB) (*GraphStore, error) {
	if err := db.AutoMigrate(&stationRow{}, &regionRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return newGraphStore(&sqlBackend{db: db}), nil
}

func (b *sqlBackend) load(ctx context.Context) (*Graph, error) {
	var stations []stationRow
	if err := b.db.WithContext(ctx).Find(&stations).Error; err != nil {
		return nil, fmt.Errorf("loading stations: %w", err)
	}
	var regions []regionRow
	if err := b.db.WithContext(ctx).Order("region_key").Find(&regions).Error; err != nil {
		return nil, fmt.Errorf("loading regions: %w", err)
	}

	g := NewGraph()
	for _, row := range stations {
		g.Stations[row.Number] = row.station()
	}
	for _, row := range regions {
		g.Regions = append(g.Regions, row.region())
	}
	return g, nil
}

func (b *sqlBackend) commit(ctx context.Context, g *Graph, c *changeset) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, number := range sortedSet(c.deleted) {
			if err := tx.Where("number = ?", number).Delete(&stationRow{}).Error; err != nil {
				return fmt.Errorf("deleting station %s: %w", number, err)
			}
		}
		for _, number := range sortedSet(c.created) {
			row := toStationRow(g.Stations[number])
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("creating station %s: %w", number, err)
			}
		}
		for _, number := range sortedSet(c.updated) {
			row := toStationRow(g.Stations[number])
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("updating station %s: %w", number, err)
			}
		}
		if !c.regions {
			return nil
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&regionRow{}).Error; err != nil {
			return fmt.Errorf("clearing regions: %w", err)
		}
		if len(g.Regions) == 0 {
			return nil
		}
		rows := make([]regionRow, len(g.Regions))
		for i, r := range g.Regions {
			rows[i] = toRegionRow(r)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("writing regions: %w", err)
		}
		return nil
	})
}

func sortedSet(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MySQLConfig holds the connection settings for OpenMySQL
type MySQLConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	TimeoutSeconds int
}

func (c MySQLConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// mysqlDSN formats the driver DSN. The driver takes the password verbatim, so
// it must not be URL encoded.
func mysqlDSN(c MySQLConfig) string {
	dc := mysqldriver.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dc.DBName = c.Name
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Timeout = c.timeout()
	dc.ReadTimeout = c.timeout()
	dc.WriteTimeout = c.timeout()
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

// OpenMySQL connects to MySQL and verifies the connection with a ping.
func OpenMySQL(cfg MySQLConfig) (*gorm.DB, error) {
	timeout := cfg.timeout()
	dsn := mysqlDSN(cfg)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
