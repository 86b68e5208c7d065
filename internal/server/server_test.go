package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/quakemap/internal/config"
	"github.com/woozymasta/quakemap/internal/mapview"
	"github.com/woozymasta/quakemap/internal/marker"
	"github.com/woozymasta/quakemap/internal/observability"
	"github.com/woozymasta/quakemap/internal/quake"
)

func testFeatures() []quake.Feature {
	return []quake.Feature{
		{
			ID:        "ci38457511",
			Place:     "10km NE of Ridgecrest, CA",
			Time:      time.UnixMilli(1609459200000),
			HasTime:   true,
			Magnitude: 4.2,
			Longitude: -117.5,
			Latitude:  35.7,
		},
		{ID: "nan", Place: "Unknown", Magnitude: math.NaN(), Longitude: 1, Latitude: 2},
	}
}

func newTestContext(t *testing.T, fetchErr error, tileProxy http.Handler) (*ServerContext, *observability.Metrics) {
	t.Helper()
	cfg := config.Default()
	comp, err := mapview.NewComposer(cfg)
	require.NoError(t, err)

	var view *mapview.View
	if fetchErr != nil {
		view = comp.Failed(fetchErr)
	} else {
		view = comp.Compose(marker.NewLayer(cfg.Overlay, testFeatures(), time.UTC))
	}

	m := observability.NewMetricsForTesting()
	s, err := NewServerContext(view, tileProxy, m)
	require.NoError(t, err)
	return s, m
}

func do(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServerContext_SetsMarkerGauge(t *testing.T) {
	_, m := newTestContext(t, nil, nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MarkersRendered))
}

func TestHandleIndex(t *testing.T) {
	s, m := newTestContext(t, nil, nil)
	h := s.Handler()

	rec := do(h, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Ridgecrest")

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = do(h, "/", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "304")))
}

func TestHandleIndex_ErrorState(t *testing.T) {
	s, _ := newTestContext(t, errors.New("fetch earthquake feed: status 500"), nil)

	rec := do(s.Handler(), "/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unable to load earthquake data")
	assert.Contains(t, rec.Body.String(), "status 500")
	assert.Empty(t, rec.Header().Get("ETag"))

	// a stale validator must not turn the error page into a 304
	rec = do(s.Handler(), "/", http.Header{"If-None-Match": {s.indexETag}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unable to load earthquake data")
}

func TestUnknownPath(t *testing.T) {
	s, _ := newTestContext(t, nil, nil)

	assert.Equal(t, http.StatusNotFound, do(s.Handler(), "/maps/chernarus", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(s.Handler(), "/tiles/dark/0/0/0.webp", nil).Code)
}

func TestHandleView(t *testing.T) {
	s, _ := newTestContext(t, nil, nil)

	rec := do(s.Handler(), "/api/map", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var v map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 3.0, v["zoom"])
	assert.Equal(t, []any{31.57853542647338, -99.580078125}, v["center"])
	assert.Equal(t, false, v["control"].(map[string]any)["collapsed"])
}

func TestHandleQuakes(t *testing.T) {
	s, _ := newTestContext(t, nil, nil)

	rec := do(s.Handler(), "/api/earthquakes.geojson", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, 126000.0, fc.Features[0].Properties["radius"])
	assert.Nil(t, fc.Features[1].Properties["radius"])
}

func TestHandleFavicon(t *testing.T) {
	s, _ := newTestContext(t, nil, nil)

	for _, path := range []string{"/favicon.ico", "/favicon.svg"} {
		rec := do(s.Handler(), path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "<svg")
	}
}

func TestHealthAndReadiness(t *testing.T) {
	s, _ := newTestContext(t, nil, nil)
	h := s.Handler()

	rec := do(h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = do(h, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestReadiness_FailedPipeline(t *testing.T) {
	s, _ := newTestContext(t, errors.New("feed down"), nil)

	rec := do(s.Handler(), "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready","error":"feed down"}`, rec.Body.String())

	rec = do(s.Handler(), "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestContext(t, nil, nil)

	rec := do(s.Handler(), "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestTileRouteMounted(t *testing.T) {
	var style, y string
	proxy := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		style, y = r.PathValue("style"), r.PathValue("y")
		w.WriteHeader(http.StatusTeapot)
	})
	s, _ := newTestContext(t, nil, proxy)

	rec := do(s.Handler(), "/tiles/dark/2/1/3.webp", nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "dark", style)
	assert.Equal(t, "3.webp", y)
}
