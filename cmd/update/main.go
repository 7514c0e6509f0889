package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/bicyclette/backend-go/internal/app"
	"github.com/bbernstein/bicyclette/backend-go/internal/city"
	"github.com/bbernstein/bicyclette/backend-go/internal/config"
)

var (
	lambdaStart = lambda.Start // Allow mocking of lambda.Start in tests
	application *app.App
	setupOnce   sync.Once
	initApp     = defaultInitApp
)

func defaultInitApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.Build(ctx, cfg, config.GetCityConfig(), config.GetStoreConfig())
}

// handleEvent runs one update cycle per scheduled invocation.
func handleEvent(ctx context.Context, event events.CloudWatchEvent) error {
	if application == nil {
		return fmt.Errorf("application not initialized")
	}
	log.Debug().Str("event_id", event.ID).Time("event_time", event.Time).Msg("Scheduled update")

	err := application.City.Update(ctx)
	if errors.Is(err, city.ErrUpdateInProgress) {
		log.Info().Str("city", application.City.Name()).Msg("Update already running, skipping")
		return nil
	}
	return err
}

func InitializeApp(ctx context.Context, cfg *config.Config) error {
	var initErr error
	setupOnce.Do(func() {
		a, err := initApp(ctx, cfg)
		if err != nil {
			initErr = err
			return
		}
		application = a
	})
	return initErr
}

func runLocal(ctx context.Context, cfg *config.Config) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Dur("interval", cfg.PollInterval).Msg("Polling locally")
	application.City.Poll(ctx, cfg.PollInterval)
	application.Close()
}

func main() {
	config.LoadDotEnv()
	cfg := config.LoadFromEnv()
	cfg.InitializeLogging()

	ctx := context.Background()
	if err := InitializeApp(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	if cfg.IsLocal() {
		runLocal(ctx, cfg)
		return
	}
	lambdaStart(handleEvent)
}
