package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/bicyclette/backend-go/internal/app"
	"github.com/bbernstein/bicyclette/backend-go/internal/city"
	"github.com/bbernstein/bicyclette/backend-go/internal/config"
)

const testCarto = `<carto><markers>
  <marker name="00901 - ALLEE DU BELVEDERE" number="901" lat="48.892" lng="2.391" open="1"/>
  <marker name="00903 - QUAI MAURIAC" number="903" lat="48.837" lng="2.374" open="1"/>
</markers></carto>`

func newTestApp(t *testing.T, status int) *app.App {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(testCarto))
	}))
	t.Cleanup(server.Close)

	a, err := app.Build(context.Background(), config.New(), &config.CityConfig{
		Name:           "Paris",
		UpdateURL:      server.URL,
		Dialect:        "velib",
		LimitLatitude:  48.8566,
		LimitLongitude: 2.3522,
		LimitRadiusKm:  30,
		RetireAfter:    1,
	}, &config.StoreConfig{Backend: config.StoreBackendMemory})
	require.NoError(t, err)
	return a
}

func resetGlobals(t *testing.T) {
	t.Helper()
	origInit, origStart := initApp, lambdaStart
	t.Cleanup(func() {
		initApp = origInit
		lambdaStart = origStart
		application = nil
		setupOnce = sync.Once{}
	})
	application = nil
	setupOnce = sync.Once{}
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantErr      bool
		wantStations int
	}{
		{name: "successful cycle", status: http.StatusOK, wantStations: 2},
		{name: "feed unavailable", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals(t)
			application = newTestApp(t, tt.status)

			err := handleEvent(context.Background(), events.CloudWatchEvent{ID: "evt-1", Time: time.Now()})
			if tt.wantErr {
				var transportErr *city.TransportError
				assert.ErrorAs(t, err, &transportErr)
				assert.Equal(t, city.Idle, application.City.State())
				return
			}
			require.NoError(t, err)
			assert.Len(t, application.City.Stations(), tt.wantStations)
		})
	}
}

func TestHandleEvent_NotInitialized(t *testing.T) {
	resetGlobals(t)
	assert.Error(t, handleEvent(context.Background(), events.CloudWatchEvent{}))
}

func TestInitializeApp(t *testing.T) {
	t.Run("runs once", func(t *testing.T) {
		resetGlobals(t)
		calls := 0
		initApp = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
			calls++
			return newTestApp(t, http.StatusOK), nil
		}

		require.NoError(t, InitializeApp(context.Background(), config.New()))
		require.NoError(t, InitializeApp(context.Background(), config.New()))
		assert.Equal(t, 1, calls)
		assert.NotNil(t, application)
	})

	t.Run("failure", func(t *testing.T) {
		resetGlobals(t)
		initApp = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
			return nil, errors.New("unknown dialect")
		}

		assert.EqualError(t, InitializeApp(context.Background(), config.New()), "unknown dialect")
		assert.Nil(t, application)
	})
}

func TestRunLocal_StopsOnCancel(t *testing.T) {
	resetGlobals(t)
	application = newTestApp(t, http.StatusOK)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runLocal(ctx, config.New(config.WithPollInterval(time.Hour)))
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := application.City.LastReport()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runLocal did not stop")
	}
	assert.Len(t, application.City.Stations(), 2)
}

func TestMain_StartsLambda(t *testing.T) {
	resetGlobals(t)
	t.Setenv("ENV", "production")
	initApp = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
		return newTestApp(t, http.StatusOK), nil
	}
	var started bool
	lambdaStart = func(handler interface{}) {
		started = true
	}

	main()
	assert.True(t, started)
}
