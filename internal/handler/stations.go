package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/bicyclette/backend-go/internal/api"
	"github.com/bbernstein/bicyclette/backend-go/internal/city"
	"github.com/bbernstein/bicyclette/backend-go/internal/geo"
	"github.com/bbernstein/bicyclette/backend-go/internal/models"
	"github.com/bbernstein/bicyclette/backend-go/internal/patch"
)

const defaultNearestLimit = 5

// StationQuerier is the read side of a city
type StationQuerier interface {
	Name() string
	ServiceInfo() map[string]string
	State() city.State
	LastReport() (city.CycleReport, bool)
	StationWithNumber(number string) (models.Station, bool)
	Stations() []models.Station
	StationsWithin(b models.Bounds) []models.Station
	NearestStations(from models.Coordinate, limit int) []geo.StationDistance
	RegionContainingData() models.Bounds
	Regions() []models.Region
	Radars() []models.Radar
	Patches() *patch.Table
	DetailsURL(number string) (string, bool)
	StationTitle(number string) (string, bool)
}

var _ StationQuerier = (*city.City)(nil)

type StationsHandler struct {
	city StationQuerier
}

func NewStationsHandler(c StationQuerier) *StationsHandler {
	return &StationsHandler{
		city: c,
	}
}

func (h *StationsHandler) HandleRequest(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	params := request.QueryStringParameters
	if params == nil {
		params = map[string]string{}
	}

	log.Debug().Interface("params", params).Msg("Handling stations request")

	if view, ok := params["view"]; ok {
		return h.handleView(view)
	}

	// Check if we're looking up by station number, bounds or coordinates
	if number, ok := params["number"]; ok {
		s, found := h.city.StationWithNumber(number)
		if !found {
			return api.Error("Station not found", http.StatusNotFound)
		}
		return api.Success(api.NewStationsResponse([]api.StationView{h.view(s)}))
	}

	bounds, ok, err := api.ParseBounds(params)
	if err != nil {
		return badRequest(err)
	}
	if ok {
		return api.Success(api.NewStationsResponse(h.views(h.city.StationsWithin(bounds))))
	}

	from, ok, err := api.ParseCoordinates(params)
	if err != nil {
		return badRequest(err)
	}
	if ok {
		limit := api.ParseLimit(params, defaultNearestLimit)
		return api.Success(api.NewNearestResponse(h.city.NearestStations(from, limit)))
	}

	return api.Success(api.NewStationsResponse(h.views(h.city.Stations())))
}

func (h *StationsHandler) handleView(view string) (events.APIGatewayProxyResponse, error) {
	switch view {
	case "radars":
		return api.Success(api.NewRadarsResponse(h.city.Radars()))
	case "regions":
		return api.Success(api.NewRegionsResponse(h.city.Regions()))
	case "bounds":
		return api.Success(api.NewBoundsResponse(h.city.RegionContainingData()))
	case "status":
		var last *city.CycleReport
		if report, ok := h.city.LastReport(); ok {
			last = &report
		}
		return api.Success(api.NewStatusResponse(h.city.Name(), h.city.State(), h.city.ServiceInfo(), last))
	case "patches":
		table := h.city.Patches()
		patches := make(map[string]map[string]interface{}, table.Len())
		for _, number := range table.Numbers() {
			p, _ := table.Lookup(number)
			patches[number] = p.Overrides()
		}
		return api.Success(api.NewPatchesResponse(patches))
	default:
		return api.Error("Unknown view", http.StatusBadRequest)
	}
}

func (h *StationsHandler) view(s models.Station) api.StationView {
	v := api.StationView{Station: s, Title: s.Name}
	if title, ok := h.city.StationTitle(s.Number); ok {
		v.Title = title
	}
	if url, ok := h.city.DetailsURL(s.Number); ok {
		v.DetailsURL = url
	}
	return v
}

func (h *StationsHandler) views(stations []models.Station) []api.StationView {
	out := make([]api.StationView, len(stations))
	for i, s := range stations {
		out[i] = h.view(s)
	}
	return out
}

func badRequest(err error) (events.APIGatewayProxyResponse, error) {
	var invalidCoordErr api.InvalidCoordinatesError
	var invalidBoundsErr api.InvalidBoundsError
	if errors.As(err, &invalidCoordErr) || errors.As(err, &invalidBoundsErr) {
		return api.Error(err.Error(), http.StatusBadRequest)
	}
	return api.Error("Invalid parameters", http.StatusBadRequest)
}
