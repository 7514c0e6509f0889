package models

import (
	"fmt"
	"math"
)

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %f", c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("invalid longitude: %f", c.Longitude)
	}
	return nil
}

// Bounds is an axis-aligned latitude/longitude rectangle. The zero value is
// the empty region, which contains nothing.
type Bounds struct {
	MinLatitude  float64 `json:"minLatitude"`
	MinLongitude float64 `json:"minLongitude"`
	MaxLatitude  float64 `json:"maxLatitude"`
	MaxLongitude float64 `json:"maxLongitude"`
	NonEmpty     bool    `json:"nonEmpty"`
}

func (b Bounds) IsEmpty() bool {
	return !b.NonEmpty
}

// Contains is inclusive of the boundary.
func (b Bounds) Contains(c Coordinate) bool {
	if b.IsEmpty() {
		return false
	}
	return c.Latitude >= b.MinLatitude && c.Latitude <= b.MaxLatitude &&
		c.Longitude >= b.MinLongitude && c.Longitude <= b.MaxLongitude
}

// Extend returns the smallest bounds containing both b and c.
func (b Bounds) Extend(c Coordinate) Bounds {
	if b.IsEmpty() {
		return Bounds{
			MinLatitude:  c.Latitude,
			MinLongitude: c.Longitude,
			MaxLatitude:  c.Latitude,
			MaxLongitude: c.Longitude,
			NonEmpty:     true,
		}
	}
	b.MinLatitude = math.Min(b.MinLatitude, c.Latitude)
	b.MinLongitude = math.Min(b.MinLongitude, c.Longitude)
	b.MaxLatitude = math.Max(b.MaxLatitude, c.Latitude)
	b.MaxLongitude = math.Max(b.MaxLongitude, c.Longitude)
	return b
}

func (b Bounds) Center() Coordinate {
	return Coordinate{
		Latitude:  (b.MinLatitude + b.MaxLatitude) / 2,
		Longitude: (b.MinLongitude + b.MaxLongitude) / 2,
	}
}

// OuterLimit is the circular area outside of which station data is rejected.
type OuterLimit struct {
	Center   Coordinate `json:"center"`
	RadiusKm float64    `json:"radiusKm"`
}

// Region is a named group of stations with the bounds enclosing all of them.
type Region struct {
	Key            string   `json:"key"`
	Title          string   `json:"title"`
	Subtitle       string   `json:"subtitle"`
	Bounds         Bounds   `json:"bounds"`
	StationNumbers []string `json:"stationNumbers"`
}

// Radar is a density summary over a region's stations. It is never persisted.
type Radar struct {
	RegionKey    string     `json:"regionKey"`
	Title        string     `json:"title"`
	Center       Coordinate `json:"center"`
	StationCount int        `json:"stationCount"`
	Available    int        `json:"available"`
	Free         int        `json:"free"`
	Capacity     int        `json:"capacity"`
}
