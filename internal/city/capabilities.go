package city

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

// URLProvider tells the city where to fetch its data and, optionally, where
// a station's detail page lives.
type URLProvider interface {
	UpdateURL() string
	DetailsURL(s models.Station) (string, bool)
}

// TitleProvider supplies the labels used when composing regions and radars.
type TitleProvider interface {
	Title() string
	RegionTitle(r models.Region) string
	RegionSubtitle(r models.Region) string
	StationTitle(s models.Station) string
}

// Capabilities are the per-city behaviours handed to New.
type Capabilities struct {
	URLs   URLProvider
	Titles TitleProvider
}

// StaticURLs serves a fixed update URL. DetailsTemplate may contain
// "{number}", which is replaced by the station number.
type StaticURLs struct {
	Update          string
	DetailsTemplate string
}

func (u StaticURLs) UpdateURL() string {
	return u.Update
}

func (u StaticURLs) DetailsURL(s models.Station) (string, bool) {
	if u.DetailsTemplate == "" {
		return "", false
	}
	return strings.ReplaceAll(u.DetailsTemplate, "{number}", s.Number), true
}

// numberPrefix matches the "00901 - " prefix many feeds put in front of names
var numberPrefix = regexp.MustCompile(`^\s*\d+\s*-\s*`)

// DefaultTitles derives labels from the data itself.
type DefaultTitles struct {
	CityName string
}

func (d DefaultTitles) Title() string {
	return d.CityName
}

func (d DefaultTitles) RegionTitle(r models.Region) string {
	return r.Key
}

func (d DefaultTitles) RegionSubtitle(r models.Region) string {
	if len(r.StationNumbers) == 1 {
		return "1 station"
	}
	return fmt.Sprintf("%d stations", len(r.StationNumbers))
}

// StationTitle strips the number prefix and title-cases names that arrive
// in capitals.
func (d DefaultTitles) StationTitle(s models.Station) string {
	name := strings.TrimSpace(numberPrefix.ReplaceAllString(s.Name, ""))
	if name == "" {
		return s.Number
	}
	if name == strings.ToUpper(name) {
		// a Caser keeps state, so it is not shared between goroutines
		name = cases.Title(language.French).String(strings.ToLower(name))
	}
	return name
}
