package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

// Grouper assigns a station to a region key.
type Grouper interface {
	Key(s models.Station) string
}

// GridGrouper buckets stations into square cells of CellDegrees on each side.
type GridGrouper struct {
	CellDegrees float64
}

const DefaultCellDegrees = 0.02

func (g GridGrouper) Key(s models.Station) string {
	cell := g.CellDegrees
	if cell <= 0 {
		cell = DefaultCellDegrees
	}
	return fmt.Sprintf("%d:%d",
		int64(math.Floor(s.Latitude/cell)),
		int64(math.Floor(s.Longitude/cell)))
}

// NumberPrefixGrouper groups stations sharing the leading Digits of their
// number, which is how several operators encode the district.
type NumberPrefixGrouper struct {
	Digits int
}

func (g NumberPrefixGrouper) Key(s models.Station) string {
	if g.Digits <= 0 || len(s.Number) <= g.Digits {
		return s.Number
	}
	return s.Number[:g.Digits]
}

// Regions groups stations by key. Each region's bounds is the bounding region
// of its own stations. Titles are left for the caller to fill in.
func Regions(stations []models.Station, g Grouper) []models.Region {
	groups := group(stations, g)

	regions := make([]models.Region, 0, len(groups))
	for _, key := range sortedKeys(groups) {
		members := groups[key]
		numbers := make([]string, len(members))
		for i, s := range members {
			numbers[i] = s.Number
		}
		sort.Strings(numbers)
		regions = append(regions, models.Region{
			Key:            key,
			Bounds:         BoundingRegion(members),
			StationNumbers: numbers,
		})
	}
	return regions
}

// Clusters summarises each group of stations into a radar centred on the
// group's centroid.
func Clusters(stations []models.Station, g Grouper) []models.Radar {
	groups := group(stations, g)

	radars := make([]models.Radar, 0, len(groups))
	for _, key := range sortedKeys(groups) {
		radars = append(radars, radarOf(key, groups[key]))
	}
	return radars
}

func radarOf(key string, members []models.Station) models.Radar {
	r := models.Radar{RegionKey: key, StationCount: len(members)}
	var lat, lng float64
	for _, s := range members {
		lat += s.Latitude
		lng += s.Longitude
		r.Available += s.Available
		r.Free += s.Free
		r.Capacity += s.Capacity
	}
	if len(members) > 0 {
		r.Center = models.Coordinate{
			Latitude:  lat / float64(len(members)),
			Longitude: lng / float64(len(members)),
		}
	}
	return r
}

func group(stations []models.Station, g Grouper) map[string][]models.Station {
	groups := make(map[string][]models.Station)
	for _, s := range stations {
		key := g.Key(s)
		groups[key] = append(groups[key], s)
	}
	return groups
}

func sortedKeys(groups map[string][]models.Station) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
