package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/bicyclette/backend-go/internal/app"
	"github.com/bbernstein/bicyclette/backend-go/internal/city"
	"github.com/bbernstein/bicyclette/backend-go/internal/config"
	"github.com/bbernstein/bicyclette/backend-go/internal/handler"
)

var (
	lambdaStart = lambda.Start // Allow mocking of lambda.Start in tests
	svc         *service
	setupOnce   sync.Once
	initService = defaultInitService
)

type reloader interface {
	Reload(ctx context.Context) error
}

// service answers queries from the committed graph, re-reading it from the
// store at most once per reload interval.
type service struct {
	handler        *handler.StationsHandler
	city           reloader
	reloadInterval time.Duration
	now            func() time.Time

	mu         sync.Mutex
	lastReload time.Time
}

func newService(c *city.City, reloadInterval time.Duration) *service {
	return &service{
		handler:        handler.NewStationsHandler(c),
		city:           c,
		reloadInterval: reloadInterval,
		now:            time.Now,
		lastReload:     time.Now(),
	}
}

func (s *service) maybeReload(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Sub(s.lastReload) < s.reloadInterval {
		return
	}
	if err := s.city.Reload(ctx); err != nil {
		if !errors.Is(err, city.ErrUpdateInProgress) {
			log.Error().Err(err).Msg("Failed to reload committed graph")
		}
		return
	}
	s.lastReload = s.now()
}

func defaultInitService(ctx context.Context) (*service, error) {
	cfg := config.LoadFromEnv()
	cfg.InitializeLogging()

	a, err := app.Build(ctx, cfg, config.GetCityConfig(), config.GetStoreConfig())
	if err != nil {
		return nil, fmt.Errorf("initializing city: %w", err)
	}
	return newService(a.City, cfg.PollInterval), nil
}

func handleRequest(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if svc == nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"responseType":"error","error":"service not initialized"}`,
		}, fmt.Errorf("service not initialized")
	}
	svc.maybeReload(ctx)
	return svc.handler.HandleRequest(ctx, request)
}

func InitializeService() error {
	var initErr error
	setupOnce.Do(func() {
		s, err := initService(context.Background())
		if err != nil {
			initErr = err
			return
		}
		svc = s
	})
	return initErr
}

func main() {
	if err := InitializeService(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize service")
	}
	lambdaStart(handleRequest)
}
