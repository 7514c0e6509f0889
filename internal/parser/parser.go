package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

// Parser turns a fetched payload into raw station records.
type Parser interface {
	Parse(data []byte) (*Result, error)
	Dialect() Dialect
}

// Result holds the records that decoded cleanly and how many were skipped.
type Result struct {
	Records []models.RawStation
	Skipped int
}

// New returns the parser implementation for the dialect's format.
func New(d Dialect) (Parser, error) {
	if d.RecordTag == "" && d.Format == FormatXML {
		return nil, fmt.Errorf("dialect %s: xml record tag is required", d.Name)
	}
	switch d.Format {
	case FormatXML:
		return &XMLAttributesParser{dialect: d}, nil
	case FormatJSON:
		return &JSONRecordsParser{dialect: d}, nil
	default:
		return nil, fmt.Errorf("dialect %s: unsupported format %q", d.Name, d.Format)
	}
}

// attributeFunc looks up one source attribute of the record being decoded.
type attributeFunc func(name string) (string, bool)

func lookup(d Dialect, attr attributeFunc, field string) (string, bool) {
	for _, key := range d.keys(field) {
		if v, ok := attr(key); ok {
			v = strings.TrimSpace(v)
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// buildRecord maps source attributes onto a RawStation. Number and coordinates
// are required; counts are optional but must be integers when present.
func buildRecord(d Dialect, attr attributeFunc) (models.RawStation, error) {
	var rec models.RawStation

	number, ok := lookup(d, attr, FieldNumber)
	if !ok {
		return rec, fmt.Errorf("missing station number")
	}
	rec.Number = number

	lat, err := requiredFloat(d, attr, FieldLatitude)
	if err != nil {
		return rec, fmt.Errorf("station %s: %w", number, err)
	}
	lng, err := requiredFloat(d, attr, FieldLongitude)
	if err != nil {
		return rec, fmt.Errorf("station %s: %w", number, err)
	}
	rec.Latitude, rec.Longitude = lat, lng

	rec.Name, _ = lookup(d, attr, FieldName)
	if rec.Name == "" {
		rec.Name = number
	}
	rec.Address, _ = lookup(d, attr, FieldAddress)

	var hasCapacity, hasAvailable, hasFree bool
	if rec.Capacity, hasCapacity, err = optionalInt(d, attr, FieldCapacity); err != nil {
		return rec, fmt.Errorf("station %s: %w", number, err)
	}
	if rec.Available, hasAvailable, err = optionalInt(d, attr, FieldAvailable); err != nil {
		return rec, fmt.Errorf("station %s: %w", number, err)
	}
	if rec.Free, hasFree, err = optionalInt(d, attr, FieldFree); err != nil {
		return rec, fmt.Errorf("station %s: %w", number, err)
	}
	if !hasCapacity && hasAvailable && hasFree {
		rec.Capacity = rec.Available + rec.Free
	}

	status, _ := lookup(d, attr, FieldStatus)
	rec.Status = models.NormalizeStatus(status)

	return rec, nil
}

func requiredFloat(d Dialect, attr attributeFunc, field string) (float64, error) {
	raw, ok := lookup(d, attr, field)
	if !ok {
		return 0, fmt.Errorf("missing %s", field)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, raw)
	}
	return v, nil
}

func optionalInt(d Dialect, attr attributeFunc, field string) (int, bool, error) {
	raw, ok := lookup(d, attr, field)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s %q", field, raw)
	}
	if v < 0 {
		return 0, false, fmt.Errorf("negative %s %d", field, v)
	}
	return v, true, nil
}
