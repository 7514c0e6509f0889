package models

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusUnknown Status = "unknown"
)

// NormalizeStatus maps the various spellings used by remote feeds onto Status values.
// Unrecognised values are kept lower-cased so nothing is lost.
func NormalizeStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "unknown":
		return StatusUnknown
	case "1", "true", "open", "yes":
		return StatusOpen
	case "0", "false", "closed", "close", "no":
		return StatusClosed
	}
	return Status(s)
}

// Station is a docking station as persisted in the store. Number is its identity.
type Station struct {
	Number        string    `json:"number"`
	Name          string    `json:"name"`
	Address       string    `json:"address,omitempty"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Capacity      int       `json:"capacity"`
	Available     int       `json:"available"`
	Free          int       `json:"free"`
	Status        Status    `json:"status"`
	RegionKey     string    `json:"regionKey,omitempty"`
	MissedFetches int       `json:"missedFetches,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (s Station) Coordinate() Coordinate {
	return Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Stale reports whether the station was absent from at least one recent fetch.
func (s Station) Stale() bool {
	return s.MissedFetches > 0
}

// Validate checks the fields every persisted station must carry
func (s Station) Validate() error {
	if s.Number == "" {
		return fmt.Errorf("station number is required")
	}
	if err := s.Coordinate().Validate(); err != nil {
		return fmt.Errorf("station %s: %w", s.Number, err)
	}
	if s.Capacity < 0 || s.Available < 0 || s.Free < 0 {
		return fmt.Errorf("station %s: negative counts", s.Number)
	}
	return nil
}

// RawStation is one record as produced by a format parser, before patches
// and reconciliation.
type RawStation struct {
	Number    string
	Name      string
	Address   string
	Latitude  float64
	Longitude float64
	Capacity  int
	Available int
	Free      int
	Status    Status
}

func (r RawStation) Coordinate() Coordinate {
	return Coordinate{Latitude: r.Latitude, Longitude: r.Longitude}
}
