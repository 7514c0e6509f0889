package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/bicyclette/backend-go/internal/city"
	"github.com/bbernstein/bicyclette/backend-go/internal/config"
	"github.com/bbernstein/bicyclette/backend-go/internal/geo"
	"github.com/bbernstein/bicyclette/backend-go/internal/history"
	"github.com/bbernstein/bicyclette/backend-go/internal/parser"
	"github.com/bbernstein/bicyclette/backend-go/internal/patch"
	"github.com/bbernstein/bicyclette/backend-go/internal/store"
	"github.com/bbernstein/bicyclette/backend-go/pkg/http/client"
)

var _ city.Fetcher = (*client.Client)(nil)

// App is a fully wired city plus its optional history recorder.
type App struct {
	Config   *config.Config
	City     *city.City
	Recorder *history.Recorder
	detach   func()
}

// Build wires a city from configuration.
func Build(ctx context.Context, cfg *config.Config, cityCfg *config.CityConfig, storeCfg *config.StoreConfig) (*App, error) {
	if err := cityCfg.Validate(); err != nil {
		return nil, err
	}

	dialect, err := parser.LookupDialect(cityCfg.Dialect, cityCfg.RecordTag)
	if err != nil {
		return nil, err
	}
	p, err := parser.New(dialect)
	if err != nil {
		return nil, err
	}

	patches, err := patch.LoadFile(cityCfg.PatchFile)
	if err != nil {
		return nil, fmt.Errorf("loading patches: %w", err)
	}

	st, err := NewStore(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	httpClient := client.New(client.Options{
		Timeout: cfg.HTTPTimeout,
	})

	retireAfter := cityCfg.RetireAfter
	c, err := city.New(ctx, city.Config{
		Name:           cityCfg.Name,
		Parser:         p,
		Limit:          cityCfg.OuterLimit(),
		Patches:        patches,
		RetireAfter:    &retireAfter,
		Grouper:        grouperFor(cityCfg),
		QueryCacheSize: storeCfg.QueryCacheSize,
		ServiceInfo:    cityCfg.ServiceInfo,
	}, httpClient, st, city.Capabilities{
		URLs: city.StaticURLs{
			Update:          cityCfg.UpdateURL,
			DetailsTemplate: cityCfg.DetailsURL,
		},
		Titles: city.DefaultTitles{CityName: cityCfg.Name},
	})
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, City: c}
	if storeCfg.EnableHistory {
		dynamoClient, err := history.NewDynamoClient(ctx, storeCfg.AWSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("creating DynamoDB client: %w", err)
		}
		a.Recorder = history.NewRecorder(dynamoClient, storeCfg.HistoryTable, storeCfg.GetHistoryTTL())
		a.detach = a.Recorder.Attach(c)
	}

	log.Info().
		Str("city", cityCfg.Name).
		Str("store", storeCfg.Backend).
		Bool("history", storeCfg.EnableHistory).
		Msg("Application initialized")
	return a, nil
}

// Close detaches the history recorder.
func (a *App) Close() {
	if a.detach != nil {
		a.detach()
		a.detach = nil
	}
}

// NewStore opens the configured store backend.
func NewStore(ctx context.Context, cfg *config.StoreConfig) (*store.GraphStore, error) {
	switch cfg.Backend {
	case "", config.StoreBackendMemory:
		return store.NewMemory(), nil
	case config.StoreBackendS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 store: bucket is required")
		}
		s3Client, err := store.NewS3Client(ctx, cfg.AWSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("creating S3 client: %w", err)
		}
		return store.NewS3(s3Client, cfg.Bucket, cfg.Key), nil
	case config.StoreBackendMySQL:
		db, err := store.OpenMySQL(store.MySQLConfig{
			Host:           cfg.MySQLHost,
			Port:           cfg.MySQLPort,
			User:           cfg.MySQLUser,
			Password:       cfg.MySQLPassword,
			Name:           cfg.MySQLName,
			TimeoutSeconds: cfg.MySQLTimeoutSeconds,
		})
		if err != nil {
			return nil, err
		}
		return store.NewSQL(db)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func grouperFor(cfg *config.CityConfig) geo.Grouper {
	if cfg.RegionPrefixDigits > 0 {
		return geo.NumberPrefixGrouper{Digits: cfg.RegionPrefixDigits}
	}
	return geo.GridGrouper{CellDegrees: cfg.ClusterCellDegrees}
}
