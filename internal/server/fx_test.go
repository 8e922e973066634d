package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/config"
	"github.com/JakeFAU/show-catalog-crawler/internal/worker"
)

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/shows/1":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":1,"name":"Under the Dome","externals":{"imdb":"tt1553656"},`+
				`"_embedded":{"cast":[{"person":{"id":7,"name":"Mike Vogel","birthday":"1979-07-17"}}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, catalogURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Catalog.BaseURL = catalogURL
	cfg.Catalog.RequestsPerSecond = 0
	cfg.Worker.Enabled = false
	return cfg
}

func buildApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	return app
}

func serve(t *testing.T, app *App, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBuildWiresCrawlToWorkerAndAPI(t *testing.T) {
	t.Parallel()

	catalogSrv := newCatalogServer(t)
	app := buildApp(t, testConfig(t, catalogSrv.URL))
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.Equal(t, http.StatusOK, serve(t, app, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, serve(t, app, http.MethodGet, "/readyz", "").Code)

	rec := serve(t, app, http.MethodPost, "/v1/crawl/start", `{"from":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 30, app.Service().Pending())

	require.Equal(t, worker.Done, app.Worker().Tick(context.Background()))

	rec = serve(t, app, http.MethodGet, "/v1/shows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Shows []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"shows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Shows, 1)
	require.Equal(t, "Under the Dome", page.Shows[0].Name)

	// Rating routes are disabled by default.
	rec = serve(t, app, http.MethodGet, "/v1/ratings/tt1553656", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildWithRatingsQueuesStoredShows(t *testing.T) {
	t.Parallel()

	catalogSrv := newCatalogServer(t)
	cfg := testConfig(t, catalogSrv.URL)
	cfg.Rating.Enabled = true
	cfg.Rating.APIKey = "k"
	cfg.Rating.BaseURL = catalogSrv.URL
	app := buildApp(t, cfg)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	require.NotNil(t, app.Ratings())

	_, err := app.Service().Start(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, worker.Done, app.Worker().Tick(context.Background()))

	// Nothing is cached yet, so the query answers 204 and leaves a request queued.
	rec := serve(t, app, http.MethodGet, "/v1/ratings/tt1553656", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBuildRejectsBadDrainSchedule(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Rating.Enabled = true
	cfg.Rating.APIKey = "k"
	cfg.Rating.DrainSchedule = "every now and then"
	_, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "rating drain schedule")
}

func TestCloseRunsClosersInReverse(t *testing.T) {
	t.Parallel()

	app := buildApp(t, testConfig(t, "http://127.0.0.1:1"))
	var order []string
	app.addCloser("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	app.addCloser("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("boom")
	})

	err := app.Close(context.Background())
	require.ErrorContains(t, err, "second: boom")
	require.Equal(t, []string{"second", "first"}, order)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	catalogSrv := newCatalogServer(t)
	cfg := testConfig(t, catalogSrv.URL)
	cfg.Worker.Enabled = true
	cfg.Worker.EmptyDelay = 10 * time.Millisecond
	cfg.Crawler.AutoStart = true
	cfg.Crawler.StartFrom = 1
	cfg.Rating.Enabled = true
	cfg.Rating.APIKey = "k"
	cfg.Rating.BaseURL = catalogSrv.URL
	app := buildApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec := serve(t, app, http.MethodGet, "/v1/shows", "")
		return strings.Contains(rec.Body.String(), "Under the Dome")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
