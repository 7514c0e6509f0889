package config

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

// CityConfig describes the bike-sharing system a process tracks.
type CityConfig struct {
	Name       string
	UpdateURL  string
	DetailsURL string // may contain {number}

	Dialect   string
	RecordTag string

	LimitLatitude  float64
	LimitLongitude float64
	LimitRadiusKm  float64

	PatchFile          string
	RetireAfter        int
	ClusterCellDegrees float64
	RegionPrefixDigits int

	// ServiceInfo describes the operator, e.g. name and website
	ServiceInfo map[string]string
}

const (
	defaultCityName           = "Paris"
	defaultDialect            = "velib"
	defaultRetireAfter        = 1
	defaultClusterCellDegrees = 0.02

	// outer limit of the default city, centred on Notre-Dame
	defaultLimitLatitude  = 48.8566
	defaultLimitLongitude = 2.3522
	defaultLimitRadiusKm  = 25.0
)

// GetCityConfig returns the city configuration from environment variables or defaults.
// The default outer limit only applies to the default city; any other city
// must configure its own.
func GetCityConfig() *CityConfig {
	name := getEnvOrDefault("CITY_NAME", defaultCityName)
	var limitLat, limitLng, limitRadius float64
	if name == defaultCityName {
		limitLat, limitLng, limitRadius = defaultLimitLatitude, defaultLimitLongitude, defaultLimitRadiusKm
	}

	config := &CityConfig{
		Name:               name,
		UpdateURL:          getEnvOrDefault("CITY_UPDATE_URL", ""),
		DetailsURL:         getEnvOrDefault("CITY_DETAILS_URL", ""),
		Dialect:            getEnvOrDefault("CITY_DIALECT", defaultDialect),
		RecordTag:          getEnvOrDefault("CITY_RECORD_TAG", ""),
		LimitLatitude:      getEnvFloat("CITY_LIMIT_LAT", limitLat),
		LimitLongitude:     getEnvFloat("CITY_LIMIT_LNG", limitLng),
		LimitRadiusKm:      getEnvFloat("CITY_LIMIT_RADIUS_KM", limitRadius),
		PatchFile:          getEnvOrDefault("CITY_PATCH_FILE", ""),
		RetireAfter:        getEnvInt("CITY_RETIRE_AFTER", defaultRetireAfter),
		ClusterCellDegrees: getEnvFloat("CITY_CLUSTER_CELL_DEGREES", defaultClusterCellDegrees),
		RegionPrefixDigits: getEnvInt("CITY_REGION_PREFIX_DIGITS", 0),
		ServiceInfo:        getEnvMap("CITY_SERVICE_INFO"),
	}

	log.Debug().
		Str("Name", config.Name).
		Str("UpdateURL", config.UpdateURL).
		Str("Dialect", config.Dialect).
		Float64("LimitRadiusKm", config.LimitRadiusKm).
		Int("RetireAfter", config.RetireAfter).
		Msg("City configuration loaded")

	return config
}

func (c *CityConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("city name is required")
	}
	if c.UpdateURL == "" {
		return fmt.Errorf("city %s: update URL is required", c.Name)
	}
	if c.LimitRadiusKm <= 0 {
		return fmt.Errorf("city %s: outer limit radius is required", c.Name)
	}
	if err := c.OuterLimit().Center.Validate(); err != nil {
		return fmt.Errorf("city %s: outer limit centre: %w", c.Name, err)
	}
	if c.RetireAfter < 0 {
		return fmt.Errorf("city %s: retire-after must not be negative", c.Name)
	}
	return nil
}

// OuterLimit is the circle outside which fetched stations are rejected.
func (c *CityConfig) OuterLimit() models.OuterLimit {
	return models.OuterLimit{
		Center:   models.Coordinate{Latitude: c.LimitLatitude, Longitude: c.LimitLongitude},
		RadiusKm: c.LimitRadiusKm,
	}
}
