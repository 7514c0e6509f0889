package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/bicyclette/backend-go/internal/geo"
	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

var cityEnvKeys = []string{"CITY_NAME", "CITY_UPDATE_URL", "CITY_DETAILS_URL", "CITY_DIALECT",
	"CITY_RECORD_TAG", "CITY_LIMIT_LAT", "CITY_LIMIT_LNG", "CITY_LIMIT_RADIUS_KM", "CITY_PATCH_FILE",
	"CITY_RETIRE_AFTER", "CITY_CLUSTER_CELL_DEGREES", "CITY_REGION_PREFIX_DIGITS", "CITY_SERVICE_INFO"}

func clearCityEnv(t *testing.T) {
	t.Helper()
	for _, key := range cityEnvKeys {
		t.Setenv(key, "")
	}
}

func TestGetCityConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected CityConfig
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			expected: CityConfig{
				Name:               "Paris",
				Dialect:            "velib",
				LimitLatitude:      48.8566,
				LimitLongitude:     2.3522,
				LimitRadiusKm:      25,
				RetireAfter:        1,
				ClusterCellDegrees: 0.02,
			},
		},
		{
			name: "other city has no default limit",
			envVars: map[string]string{
				"CITY_NAME":       "Toulouse",
				"CITY_UPDATE_URL": "https://example.com/velo.xml",
			},
			expected: CityConfig{
				Name:               "Toulouse",
				UpdateURL:          "https://example.com/velo.xml",
				Dialect:            "velib",
				RetireAfter:        1,
				ClusterCellDegrees: 0.02,
			},
		},
		{
			name: "custom values",
			envVars: map[string]string{
				"CITY_NAME":                 "Lyon",
				"CITY_UPDATE_URL":           "https://example.com/velov.xml",
				"CITY_DETAILS_URL":          "https://example.com/velov/{number}",
				"CITY_DIALECT":              "xmlattributes",
				"CITY_RECORD_TAG":           "borne",
				"CITY_LIMIT_LAT":            "45.76",
				"CITY_LIMIT_LNG":            "4.84",
				"CITY_LIMIT_RADIUS_KM":      "25",
				"CITY_PATCH_FILE":           "patches/lyon.yaml",
				"CITY_RETIRE_AFTER":         "3",
				"CITY_CLUSTER_CELL_DEGREES": "0.05",
				"CITY_REGION_PREFIX_DIGITS": "2",
				"CITY_SERVICE_INFO":         "operator=JCDecaux, website=https://velov.grandlyon.com,=orphan",
			},
			expected: CityConfig{
				Name:               "Lyon",
				UpdateURL:          "https://example.com/velov.xml",
				DetailsURL:         "https://example.com/velov/{number}",
				Dialect:            "xmlattributes",
				RecordTag:          "borne",
				LimitLatitude:      45.76,
				LimitLongitude:     4.84,
				LimitRadiusKm:      25,
				PatchFile:          "patches/lyon.yaml",
				RetireAfter:        3,
				ClusterCellDegrees: 0.05,
				RegionPrefixDigits: 2,
				ServiceInfo: map[string]string{
					"operator": "JCDecaux",
					"website":  "https://velov.grandlyon.com",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearCityEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			config := GetCityConfig()
			require.NotNil(t, config)
			assert.Equal(t, tt.expected, *config)
		})
	}
}

func TestCityConfigValidate(t *testing.T) {
	valid := CityConfig{
		Name:           "Paris",
		UpdateURL:      "https://example.com/carto.xml",
		LimitLatitude:  48.8566,
		LimitLongitude: 2.3522,
		LimitRadiusKm:  25,
		RetireAfter:    1,
	}

	tests := []struct {
		name    string
		modify  func(c *CityConfig)
		wantErr bool
	}{
		{name: "valid", modify: func(c *CityConfig) {}},
		{name: "missing name", modify: func(c *CityConfig) { c.Name = "" }, wantErr: true},
		{name: "missing update URL", modify: func(c *CityConfig) { c.UpdateURL = "" }, wantErr: true},
		{name: "negative radius", modify: func(c *CityConfig) { c.LimitRadiusKm = -1 }, wantErr: true},
		{name: "missing limit", modify: func(c *CityConfig) { c.LimitRadiusKm = 0 }, wantErr: true},
		{name: "invalid limit centre", modify: func(c *CityConfig) { c.LimitLatitude = 120 }, wantErr: true},
		{name: "negative retire-after", modify: func(c *CityConfig) { c.RetireAfter = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetCityConfig_LimitEnforced(t *testing.T) {
	t.Run("default city rejects far away stations", func(t *testing.T) {
		clearCityEnv(t)
		t.Setenv("CITY_UPDATE_URL", "https://example.com/carto.xml")

		cfg := GetCityConfig()
		require.NoError(t, cfg.Validate())

		limit := cfg.OuterLimit()
		assert.True(t, geo.WithinLimit(limit, models.Coordinate{Latitude: 48.892, Longitude: 2.391}))
		assert.False(t, geo.WithinLimit(limit, models.Coordinate{Latitude: -33.86, Longitude: 151.2}), "Sydney")
		assert.False(t, geo.WithinLimit(limit, models.Coordinate{}), "null island placeholder")
	})

	t.Run("other city without a limit is invalid", func(t *testing.T) {
		clearCityEnv(t)
		t.Setenv("CITY_NAME", "Toulouse")
		t.Setenv("CITY_UPDATE_URL", "https://example.com/velo.xml")

		assert.Error(t, GetCityConfig().Validate())
	})
}
