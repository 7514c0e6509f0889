package geo

import (
	"math"
	"sort"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance between two coordinates in km.
func Distance(a, b models.Coordinate) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Latitude))*math.Cos(toRadians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// WithinLimit reports whether c lies inside the outer limit, boundary included.
func WithinLimit(limit models.OuterLimit, c models.Coordinate) bool {
	if c.Validate() != nil {
		return false
	}
	return Distance(limit.Center, c) <= limit.RadiusKm
}

// BoundingRegion returns the smallest bounds containing every station. It is
// empty for no stations and a single point for one.
func BoundingRegion(stations []models.Station) models.Bounds {
	var b models.Bounds
	for _, s := range stations {
		b = b.Extend(s.Coordinate())
	}
	return b
}

// StationsWithin returns the stations inside b, boundary included, in input order.
func StationsWithin(b models.Bounds, stations []models.Station) []models.Station {
	result := make([]models.Station, 0)
	for _, s := range stations {
		if b.Contains(s.Coordinate()) {
			result = append(result, s)
		}
	}
	return result
}

// StationDistance pairs a station with its distance from a query point.
type StationDistance struct {
	Station    models.Station `json:"station"`
	DistanceKm float64        `json:"distanceKm"`
}

// Nearest returns up to limit stations sorted by distance from c. A
// non-positive limit defaults to 5.
func Nearest(c models.Coordinate, stations []models.Station, limit int) []StationDistance {
	distances := make([]StationDistance, len(stations))
	for i, s := range stations {
		distances[i] = StationDistance{
			Station:    s,
			DistanceKm: Distance(c, s.Coordinate()),
		}
	}

	sort.SliceStable(distances, func(i, j int) bool {
		return distances[i].DistanceKm < distances[j].DistanceKm
	})

	if limit <= 0 {
		limit = 5
	}
	if limit > len(distances) {
		limit = len(distances)
	}
	return distances[:limit]
}
