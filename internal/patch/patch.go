package patch

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

// Patch holds manual overrides for one station. Nil fields are left untouched.
type Patch struct {
	Name      *string
	Address   *string
	Latitude  *float64
	Longitude *float64
	Capacity  *int
	Available *int
	Free      *int
	Status    *models.Status
}

// Overrides lists the patched fields by their file key, for diagnostics.
func (p Patch) Overrides() map[string]interface{} {
	out := make(map[string]interface{})
	if p.Name != nil {
		out["name"] = *p.Name
	}
	if p.Address != nil {
		out["address"] = *p.Address
	}
	if p.Latitude != nil {
		out["lat"] = *p.Latitude
	}
	if p.Longitude != nil {
		out["lng"] = *p.Longitude
	}
	if p.Capacity != nil {
		out["capacity"] = *p.Capacity
	}
	if p.Available != nil {
		out["available"] = *p.Available
	}
	if p.Free != nil {
		out["free"] = *p.Free
	}
	if p.Status != nil {
		out["status"] = string(*p.Status)
	}
	return out
}

func (p Patch) apply(rec models.RawStation) models.RawStation {
	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Address != nil {
		rec.Address = *p.Address
	}
	if p.Latitude != nil {
		rec.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		rec.Longitude = *p.Longitude
	}
	if p.Capacity != nil {
		rec.Capacity = *p.Capacity
	}
	if p.Available != nil {
		rec.Available = *p.Available
	}
	if p.Free != nil {
		rec.Free = *p.Free
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	return rec
}

// Table is an immutable set of patches keyed by station number. A nil Table
// applies no patches.
type Table struct {
	patches map[string]Patch
}

func NewTable(patches map[string]Patch) *Table {
	copied := make(map[string]Patch, len(patches))
	for number, p := range patches {
		copied[number] = p
	}
	return &Table{patches: copied}
}

// Apply returns rec with any patched fields replaced. Records without a patch
// are returned unchanged.
func (t *Table) Apply(rec models.RawStation) models.RawStation {
	if t == nil {
		return rec
	}
	p, ok := t.patches[rec.Number]
	if !ok {
		return rec
	}
	return p.apply(rec)
}

func (t *Table) Lookup(number string) (Patch, bool) {
	if t == nil {
		return Patch{}, false
	}
	p, ok := t.patches[number]
	return p, ok
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.patches)
}

// Numbers returns the patched station numbers in sorted order
func (t *Table) Numbers() []string {
	if t == nil {
		return nil
	}
	numbers := make([]string, 0, len(t.patches))
	for number := range t.patches {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	return numbers
}

// LoadFile reads a patch table from a YAML (or JSON) file. An empty path
// yields an empty table.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return NewTable(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patch file: %w", err)
	}
	table, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading patch file %s: %w", path, err)
	}
	return table, nil
}

// Load decodes a document mapping station numbers to field overrides, e.g.
//
//	"42":
//	  status: closed
//	  name: Place d'Italie
//
// Entries that cannot be interpreted are dropped with a warning.
func Load(data []byte) (*Table, error) {
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding patches: %w", err)
	}

	patches := make(map[string]Patch, len(doc))
	for _, item := range doc {
		number := strings.TrimSpace(fmt.Sprint(item.Key))
		fields, ok := item.Value.(map[string]interface{})
		if number == "" || !ok {
			log.Warn().Str("station_number", number).Msg("Dropping patch entry: expected a mapping of fields")
			continue
		}
		p, err := parsePatch(fields)
		if err != nil {
			log.Warn().Err(err).Str("station_number", number).Msg("Dropping malformed patch entry")
			continue
		}
		patches[number] = p
	}

	log.Debug().Int("patch_count", len(patches)).Msg("Loaded station patches")
	return &Table{patches: patches}, nil
}

func parsePatch(fields map[string]interface{}) (Patch, error) {
	var p Patch
	if len(fields) == 0 {
		return p, fmt.Errorf("no fields")
	}
	for key, value := range fields {
		switch key {
		case "name":
			s, err := toString(value)
			if err != nil {
				return p, fmt.Errorf("%s: %w", key, err)
			}
			p.Name = &s
		case "address":
			s, err := toString(value)
			if err != nil {
				return p, fmt.Errorf("%s: %w", key, err)
			}
			p.Address = &s
		case "lat", "latitude":
			f, err := toFloat(value)
			if err != nil {
				return p, fmt.Errorf("%s: %w", key, err)
			}
			p.Latitude = &f
		case "lng", "lon", "longitude":
			f, err := toFloat(value)
			if err != nil {
				return p, fmt.Errorf("%s: %w", key, err)
			}
			p.Longitude = &f
		case "capacity", "available", "free":
			n, err := toInt(value)
			if err != nil {
				return p, fmt.Errorf("%s: %w", key, err)
			}
			switch key {
			case "capacity":
				p.Capacity = &n
			case "available":
				p.Available = &n
			default:
				p.Free = &n
			}
		case "status":
			s, err := toString(value)
			if err != nil {
				return p, fmt.Errorf("%s: %w", key, err)
			}
			status := models.NormalizeStatus(s)
			p.Status = &status
		default:
			return p, fmt.Errorf("unknown field %q", key)
		}
	}
	return p, nil
}

func toString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(val), nil
	}
	return "", fmt.Errorf("expected a scalar, got %T", v)
}

func toFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func toInt(v interface{}) (int, error) {
	var n int
	switch val := v.(type) {
	case int:
		n = val
	case int64:
		n = int(val)
	case uint64:
		n = int(val)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, err
		}
		n = parsed
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}
