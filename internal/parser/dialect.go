package parser

import (
	"fmt"
	"sort"
)

type Format string

const (
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
)

// Canonical record fields a dialect can map source attributes onto.
const (
	FieldNumber    = "number"
	FieldName      = "name"
	FieldAddress   = "address"
	FieldLatitude  = "lat"
	FieldLongitude = "lng"
	FieldCapacity  = "capacity"
	FieldAvailable = "available"
	FieldFree      = "free"
	FieldStatus    = "status"
)

// RootRecordTag selects a top-level JSON array when passed as the record tag
// override to LookupDialect.
const RootRecordTag = "."

// Dialect describes one remote data format. Cities sharing a format differ only
// by RecordTag: the XML element name, or the JSON key holding the record array
// ("" for a top-level array). JSON keys may name one nested level as
// "parent.child".
type Dialect struct {
	Name      string
	Format    Format
	RecordTag string
	// Keys lists, per canonical field, the source attribute names to try in order.
	Keys map[string][]string
}

var defaultKeys = map[string][]string{
	FieldNumber:    {"number", "id"},
	FieldName:      {"name"},
	FieldAddress:   {"address", "fullAddress"},
	FieldLatitude:  {"lat", "latitude", "position.lat"},
	FieldLongitude: {"lng", "lon", "longitude", "position.lng"},
	FieldCapacity:  {"total", "capacity", "bike_stands"},
	FieldAvailable: {"bikes", "available", "available_bikes"},
	FieldFree:      {"free", "attachs", "available_bike_stands"},
	FieldStatus:    {"status", "open"},
}

var dialects = map[string]Dialect{
	"xmlattributes": {Name: "xmlattributes", Format: FormatXML, RecordTag: "station", Keys: defaultKeys},
	"velib":         {Name: "velib", Format: FormatXML, RecordTag: "marker", Keys: defaultKeys},
	"json":          {Name: "json", Format: FormatJSON, RecordTag: "stations", Keys: defaultKeys},
	"jcdecaux":      {Name: "jcdecaux", Format: FormatJSON, RecordTag: "", Keys: defaultKeys},
}

// LookupDialect returns a registered dialect by name, optionally overriding its record tag.
func LookupDialect(name, recordTag string) (Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return Dialect{}, fmt.Errorf("unknown dialect %q (known: %v)", name, DialectNames())
	}
	switch recordTag {
	case "":
	case RootRecordTag:
		d.RecordTag = ""
	default:
		d.RecordTag = recordTag
	}
	return d, nil
}

func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d Dialect) keys(field string) []string {
	if k, ok := d.Keys[field]; ok {
		return k
	}
	return defaultKeys[field]
}
