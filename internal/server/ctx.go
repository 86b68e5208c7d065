package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/woozymasta/quakemap/assets"
	"github.com/woozymasta/quakemap/internal/mapview"
	"github.com/woozymasta/quakemap/internal/observability"
	"github.com/woozymasta/quakemap/internal/tiles"
)

// ServerContext holds dependencies for request handlers. Everything except
// the tile proxy is rendered once at startup and served from memory.
type ServerContext struct {
	View          *mapview.View
	IndexHTML     []byte
	ViewJSON      []byte
	QuakesGeoJSON []byte
	Favicon       []byte
	Tiles         http.Handler
	Metrics       *observability.Metrics

	indexETag string
}

// NewServerContext renders the view into its served representations.
// tileProxy may be nil when tiles are loaded straight from the upstream service.
func NewServerContext(view *mapview.View, tileProxy http.Handler, metrics *observability.Metrics) (*ServerContext, error) {
	index, err := mapview.RenderBytes(view)
	if err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}

	viewJSON, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("encode view: %w", err)
	}

	quakes, err := json.Marshal(view.Overlay.GeoJSON())
	if err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}

	favicon, err := mapview.MinifySVG(assets.Favicon)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to minify favicon, serving as-is")
		favicon = assets.Favicon
	}

	metrics.MarkersRendered.Set(float64(len(view.Overlay.Markers)))

	log.Info().
		Int("markers", len(view.Overlay.Markers)).
		Int("index_bytes", len(index)).
		Bool("tile_proxy", tileProxy != nil).
		Bool("error_state", view.Error != "").
		Msg("Server context initialized successfully")

	return &ServerContext{
		View:          view,
		IndexHTML:     index,
		ViewJSON:      viewJSON,
		QuakesGeoJSON: quakes,
		Favicon:       favicon,
		Tiles:         tileProxy,
		Metrics:       metrics,
		indexETag:     fmt.Sprintf(`"%x-%x"`, len(index), crc32.ChecksumIEEE(index)),
	}, nil
}

// Handler returns the routed handler wrapped in the request logger.
func (s *ServerContext) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.HandleIndex)
	mux.HandleFunc("GET /api/map", s.HandleView)
	mux.HandleFunc("GET /api/earthquakes.geojson", s.HandleQuakes)
	mux.HandleFunc("GET /favicon.ico", s.HandleFavicon)
	mux.HandleFunc("GET /favicon.svg", s.HandleFavicon)
	mux.HandleFunc("GET /healthz", s.HandleHealth)
	mux.HandleFunc("GET /readyz", s.HandleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.Tiles != nil {
		mux.Handle(tiles.Route, s.Tiles)
	}

	return RequestLogger(mux, s.Metrics)
}

// CheckReadiness fails when the map could not be built.
func (s *ServerContext) CheckReadiness(_ context.Context) error {
	if s.View.Error != "" {
		return errors.New(s.View.Error)
	}
	return nil
}
