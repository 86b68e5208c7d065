// Package mapview composes the interactive map from base layers, the
// earthquake overlay and the legend, and renders it as a page.
package mapview

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/quakemap/internal/config"
	"github.com/woozymasta/quakemap/internal/marker"
	"github.com/woozymasta/quakemap/internal/quake"
	"github.com/woozymasta/quakemap/internal/tiles"
)

// LegendPosition is the map corner holding the legend.
const LegendPosition = "bottomright"

// View is everything the page needs to draw the map.
type View struct {
	Container   string      `json:"container"`
	Center      [2]float64  `json:"center"` // [lat, lng]
	Zoom        int         `json:"zoom"`
	BaseLayers  []TileLayer `json:"baseLayers"`
	Overlay     Overlay     `json:"overlay"`
	Control     Control     `json:"control"`
	Legend      Legend      `json:"legend"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Error       string      `json:"error,omitempty"`
}

// TileLayer is a base layer. URL keeps the {z}/{x}/{y} placeholders.
type TileLayer struct {
	Name        string `json:"name"`
	Style       string `json:"style"`
	URL         string `json:"url"`
	Attribution string `json:"attribution"`
	MaxZoom     int    `json:"maxZoom"`
	Visible     bool   `json:"visible"`
}

// Overlay is the togglable marker layer.
type Overlay struct {
	marker.Layer
	Visible bool `json:"visible"`
}

// Control configures the layer selector.
type Control struct {
	Collapsed bool `json:"collapsed"`
}

// Legend is the color key control.
type Legend struct {
	Position string               `json:"position"`
	Entries  []marker.LegendEntry `json:"entries"`
}

// VisibleBaseLayer returns the base layer shown on load.
func (v *View) VisibleBaseLayer() (TileLayer, bool) {
	for _, l := range v.BaseLayers {
		if l.Visible {
			return l, true
		}
	}
	return TileLayer{}, false
}

// Composer builds views from a validated configuration.
type Composer struct {
	cfg *config.Config
	loc *time.Location
}

// NewComposer resolves the configured time zone up front.
func NewComposer(cfg *config.Config) (*Composer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve timezone: %w", err)
	}
	return &Composer{cfg: cfg, loc: loc}, nil
}

// Location is the zone popup times are rendered in.
func (c *Composer) Location() *time.Location {
	return c.loc
}

// OverlayName is the configured name of the earthquake overlay.
func (c *Composer) OverlayName() string {
	return c.cfg.Overlay
}

// Compose assembles the view around layer. The first base layer and the
// overlay are visible; the layer control starts expanded.
func (c *Composer) Compose(layer marker.Layer) *View {
	if layer.Markers == nil {
		layer.Markers = []marker.Marker{}
	}

	v := &View{
		Container:  c.cfg.View.Container,
		Center:     c.cfg.View.Center,
		Zoom:       c.cfg.View.Zoom,
		BaseLayers: make([]TileLayer, 0, len(c.cfg.BaseLayers)),
		Overlay:    Overlay{Layer: layer, Visible: true},
		Control:    Control{Collapsed: false},
		Legend: Legend{
			Position: LegendPosition,
			Entries:  marker.Legend(),
		},
		GeneratedAt: clock.Now().UTC(),
	}

	for i, bl := range c.cfg.BaseLayers {
		v.BaseLayers = append(v.BaseLayers, TileLayer{
			Name:        bl.Name,
			Style:       bl.Style,
			URL:         c.tileURL(bl.Style),
			Attribution: c.cfg.Tiles.Attribution,
			MaxZoom:     c.cfg.Tiles.MaxZoom,
			Visible:     i == 0,
		})
	}

	return v
}

// Failed returns the view shown when no data could be loaded.
func (c *Composer) Failed(err error) *View {
	v := c.Compose(marker.Layer{Name: c.cfg.Overlay})
	v.Error = err.Error()
	return v
}

func (c *Composer) tileURL(style string) string {
	if c.cfg.Tiles.Proxy {
		return tiles.PathTemplate(style)
	}
	r := strings.NewReplacer(
		"{id}", style,
		"{accessToken}", url.QueryEscape(c.cfg.TileAccessToken),
	)
	return r.Replace(c.cfg.Tiles.URL)
}

// Source yields the features the overlay is built from.
type Source interface {
	Fetch(ctx context.Context) ([]quake.Feature, error)
}

// Build runs the pipeline once: fetch, then map features to markers, then
// compose. On fetch failure it returns the error-state view with the error.
func Build(ctx context.Context, src Source, c *Composer) (*View, error) {
	features, err := src.Fetch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load earthquake data")
		return c.Failed(err), err
	}

	layer := marker.NewLayer(c.cfg.Overlay, features, c.loc)
	v := c.Compose(layer)

	log.Info().
		Int("markers", len(layer.Markers)).
		Int("base_layers", len(v.BaseLayers)).
		Msg("Map composed")

	return v, nil
}
