package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertysearch/server/config"
	"propertysearch/server/internal/database"
	"propertysearch/server/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.HTTP.MaxParallelConnections = 4
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "property.db")
	return cfg
}

func TestNew_OpensSqliteStore(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	a, err := New(context.Background(), testConfig(t), logger)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &database.Database{}, a.Store)
	assert.NotNil(t, a.Runner)

	summaries, err := a.Store.GetPropertySummaries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRunner_PropertyTaskFailsWithoutStations(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	a, err := New(context.Background(), testConfig(t), logger)
	require.NoError(t, err)
	defer a.Close()

	err = a.Runner.Run(context.Background(), pipeline.TaskUpdateProperty)
	assert.ErrorIs(t, err, pipeline.ErrNoLocations)
}

func TestNewRunner_LocationCache(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := testConfig(t)
	cfg.Rightmove.LocationCacheDir = filepath.Join(t.TempDir(), "cache")

	a, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	assert.DirExists(t, cfg.Rightmove.LocationCacheDir)
}

func TestRunner_TubeTaskUsesSharedOutboundClient(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mux := http.NewServeMux()
	mux.HandleFunc("/Line/Mode/tube/Route", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"jubilee"}]`))
	})
	mux.HandleFunc("/Line/jubilee/StopPoints", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"940GZZLUWLO","commonName":"Waterloo Underground Station","lat":51.503299,"lon":-0.11478,
			"lineModeGroups":[{"modeName":"tube","lineIdentifier":["jubilee"]}],
			"additionalProperties":[{"category":"Address","key":"Address","value":"York Road, London,SE1 7ND"}]}]`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := testConfig(t)
	cfg.TfL.BaseURL = server.URL

	a, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Runner.Run(context.Background(), pipeline.TaskUpdateTube))

	stations, err := a.Store.GetTubeStations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "940GZZLUWLO", stations[0].ID)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.Metrics.RequestsTotal.WithLabelValues("outbound", "2xx")))
	assert.Zero(t, testutil.ToFloat64(a.Metrics.RequestsTotal.WithLabelValues("rightmove", "2xx")))
}
