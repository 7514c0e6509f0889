package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/bbernstein/bicyclette/backend-go/internal/city"
	"github.com/bbernstein/bicyclette/backend-go/internal/geo"
	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

type APIResponse struct {
	ResponseType string `json:"responseType"`
}

func (r APIResponse) GetResponseType() string {
	return r.ResponseType
}

// StationView is a station as returned to clients, with its display title
type StationView struct {
	models.Station
	Title      string `json:"title"`
	DetailsURL string `json:"detailsUrl,omitempty"`
}

type StationsResponse struct {
	APIResponse
	Stations []StationView `json:"stations"`
}

type NearestResponse struct {
	APIResponse
	Stations []geo.StationDistance `json:"stations"`
}

type RadarsResponse struct {
	APIResponse
	Radars []models.Radar `json:"radars"`
}

type RegionsResponse struct {
	APIResponse
	Regions []models.Region `json:"regions"`
}

type BoundsResponse struct {
	APIResponse
	Bounds models.Bounds `json:"bounds"`
}

type StatusResponse struct {
	APIResponse
	City        string            `json:"city"`
	State       city.State        `json:"state"`
	ServiceInfo map[string]string `json:"serviceInfo"`
	LastReport  *city.CycleReport `json:"lastReport,omitempty"`
}

type PatchesResponse struct {
	APIResponse
	Patches map[string]map[string]interface{} `json:"patches"`
}

type ErrorResponse struct {
	APIResponse
	Error string `json:"error"`
}

func NewStationsResponse(stations []StationView) *StationsResponse {
	if stations == nil {
		stations = []StationView{}
	}
	return &StationsResponse{
		APIResponse: APIResponse{ResponseType: "stations"},
		Stations:    stations,
	}
}

func NewNearestResponse(stations []geo.StationDistance) *NearestResponse {
	return &NearestResponse{
		APIResponse: APIResponse{ResponseType: "nearest"},
		Stations:    stations,
	}
}

func NewRadarsResponse(radars []models.Radar) *RadarsResponse {
	return &RadarsResponse{
		APIResponse: APIResponse{ResponseType: "radars"},
		Radars:      radars,
	}
}

func NewRegionsResponse(regions []models.Region) *RegionsResponse {
	return &RegionsResponse{
		APIResponse: APIResponse{ResponseType: "regions"},
		Regions:     regions,
	}
}

func NewBoundsResponse(bounds models.Bounds) *BoundsResponse {
	return &BoundsResponse{
		APIResponse: APIResponse{ResponseType: "bounds"},
		Bounds:      bounds,
	}
}

func NewStatusResponse(cityName string, state city.State, info map[string]string, report *city.CycleReport) *StatusResponse {
	if info == nil {
		info = map[string]string{}
	}
	return &StatusResponse{
		APIResponse: APIResponse{ResponseType: "status"},
		City:        cityName,
		State:       state,
		ServiceInfo: info,
		LastReport:  report,
	}
}

func NewPatchesResponse(patches map[string]map[string]interface{}) *PatchesResponse {
	return &PatchesResponse{
		APIResponse: APIResponse{ResponseType: "patches"},
		Patches:     patches,
	}
}

func NewErrorResponse(message string) *ErrorResponse {
	return &ErrorResponse{
		APIResponse: APIResponse{ResponseType: "error"},
		Error:       message,
	}
}

// Response helpers
func Success(body interface{}) (events.APIGatewayProxyResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Error("Internal Server Error", http.StatusInternalServerError)
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":                "application/json",
			"Access-Control-Allow-Origin": "*",
		},
		Body: string(jsonBody),
	}, nil
}

func Error(message string, statusCode int) (events.APIGatewayProxyResponse, error) {
	body, _ := json.Marshal(NewErrorResponse(message))

	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers: map[string]string{
			"Content-Type":                "application/json",
			"Access-Control-Allow-Origin": "*",
		},
		Body: string(body),
	}, nil
}

// Parameter parsing helpers

// ParseCoordinates reads lat and lng (or lon). ok is false when either is absent.
func ParseCoordinates(params map[string]string) (c models.Coordinate, ok bool, err error) {
	latStr, hasLat := params["lat"]
	lngStr, hasLng := params["lng"]
	if !hasLng {
		lngStr, hasLng = params["lon"]
	}

	if !hasLat || !hasLng {
		return models.Coordinate{}, false, nil
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return models.Coordinate{}, true, err
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return models.Coordinate{}, true, err
	}

	c = models.Coordinate{Latitude: lat, Longitude: lng}
	if c.Validate() != nil {
		return models.Coordinate{}, true, InvalidCoordinatesError{}
	}

	return c, true, nil
}

// ParseBounds reads minLat, minLng, maxLat and maxLng. ok is false unless all
// four are present.
func ParseBounds(params map[string]string) (b models.Bounds, ok bool, err error) {
	keys := []string{"minLat", "minLng", "maxLat", "maxLng"}
	values := make([]float64, len(keys))
	for i, key := range keys {
		raw, present := params[key]
		if !present {
			return models.Bounds{}, false, nil
		}
		values[i], err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Bounds{}, true, err
		}
	}

	low := models.Coordinate{Latitude: values[0], Longitude: values[1]}
	high := models.Coordinate{Latitude: values[2], Longitude: values[3]}
	if low.Validate() != nil || high.Validate() != nil {
		return models.Bounds{}, true, InvalidCoordinatesError{}
	}
	if low.Latitude > high.Latitude || low.Longitude > high.Longitude {
		return models.Bounds{}, true, InvalidBoundsError{}
	}

	return models.Bounds{}.Extend(low).Extend(high), true, nil
}

// ParseLimit returns the limit parameter, or defaultLimit when it is absent or invalid.
func ParseLimit(params map[string]string, defaultLimit int) int {
	if limitStr, ok := params["limit"]; ok {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			return parsedLimit
		}
	}
	return defaultLimit
}

type InvalidCoordinatesError struct{}

func (e InvalidCoordinatesError) Error() string {
	return "Invalid coordinates"
}

type InvalidBoundsError struct{}

func (e InvalidBoundsError) Error() string {
	return "Invalid bounds"
}
