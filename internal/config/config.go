// Package config handles configuration loading and shared data structures.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Defaults used when the configuration file leaves a value unset.
const (
	DefaultEndpointURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_month.geojson"
	DefaultTileURL     = "https://api.tiles.mapbox.com/v4/mapbox.{id}/{z}/{x}/{y}.png?access_token={accessToken}"
	DefaultAttribution = `Map data &copy; <a href="https://www.openstreetmap.org/">OpenStreetMap</a> contributors, ` +
		`<a href="https://creativecommons.org/licenses/by-sa/2.0/">CC-BY-SA</a>, ` +
		`Imagery © <a href="https://www.mapbox.com/">Mapbox</a>`
	DefaultMaxZoom      = 18
	DefaultZoom         = 3
	DefaultContainer    = "map"
	DefaultOverlayName  = "Earthquakes"
	DefaultFetchTimeout = 30 * time.Second
	DefaultTileQuality  = 80
)

// DefaultCenter is the initial [lat, lng] of the view.
var DefaultCenter = [2]float64{31.57853542647338, -99.580078125}

// Config represents the root configuration file structure.
type Config struct {
	EndpointURL     string        `yaml:"endpoint_url"`
	TileAccessToken string        `yaml:"tile_access_token,omitempty"`
	TimeZone        string        `yaml:"timezone,omitempty"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout,omitempty"`
	FetchRetries    int           `yaml:"fetch_retries,omitempty"`

	Tiles      Tiles       `yaml:"tiles"`
	View       View        `yaml:"view"`
	BaseLayers []BaseLayer `yaml:"base_layers"`
	Overlay    string      `yaml:"overlay,omitempty"`
}

// Tiles describes the upstream tile service shared by all base layers.
type Tiles struct {
	// URL is a template with {id}, {accessToken}, {z}, {x} and {y} placeholders.
	URL         string  `yaml:"url"`
	Attribution string  `yaml:"attribution,omitempty"`
	CacheDir    string  `yaml:"cache_dir,omitempty"`
	MaxZoom     int     `yaml:"max_zoom,omitempty"`
	Quality     float32 `yaml:"quality,omitempty"`
	Proxy       bool    `yaml:"proxy,omitempty"`
}

// View is the initial map viewport.
type View struct {
	Container string     `yaml:"container,omitempty"`
	Center    [2]float64 `yaml:"center,flow"` // [lat, lng]
	Zoom      int        `yaml:"zoom"`
}

// BaseLayer is one mutually exclusive background layer.
type BaseLayer struct {
	Name  string `yaml:"name"`
	Style string `yaml:"style"` // substituted for {id} in the tile URL
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		EndpointURL:  DefaultEndpointURL,
		TimeZone:     "UTC",
		FetchTimeout: DefaultFetchTimeout,
		Tiles: Tiles{
			URL:         DefaultTileURL,
			Attribution: DefaultAttribution,
			MaxZoom:     DefaultMaxZoom,
			Quality:     DefaultTileQuality,
		},
		View: View{
			Container: DefaultContainer,
			Center:    DefaultCenter,
			Zoom:      DefaultZoom,
		},
		BaseLayers: []BaseLayer{
			{Name: "Satellite Map", Style: "satellite"},
			{Name: "Dark Map", Style: "dark"},
		},
		Overlay: DefaultOverlayName,
	}
}

// Load reads and parses the YAML configuration file from the specified path
// on top of the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyOverrides replaces the endpoint and token with non-empty command line values.
func (c *Config) ApplyOverrides(endpointURL, tileAccessToken string) {
	if endpointURL != "" {
		c.EndpointURL = endpointURL
	}
	if tileAccessToken != "" {
		c.TileAccessToken = tileAccessToken
	}
}

// Validate checks the configuration for values that would produce a broken map.
func (c *Config) Validate() error {
	u, err := url.Parse(c.EndpointURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint_url %q is not an absolute http(s) URL", ErrInvalid, c.EndpointURL)
	}

	for _, p := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(c.Tiles.URL, p) {
			return fmt.Errorf("%w: tiles.url is missing %s", ErrInvalid, p)
		}
	}

	if c.Tiles.MaxZoom <= 0 {
		return fmt.Errorf("%w: tiles.max_zoom must be > 0", ErrInvalid)
	}
	if c.View.Zoom < 0 || c.View.Zoom > c.Tiles.MaxZoom {
		return fmt.Errorf("%w: view.zoom %d outside [0, %d]", ErrInvalid, c.View.Zoom, c.Tiles.MaxZoom)
	}
	if lat := c.View.Center[0]; lat < -90 || lat > 90 {
		return fmt.Errorf("%w: view.center latitude %v out of range", ErrInvalid, lat)
	}
	if lng := c.View.Center[1]; lng < -180 || lng > 180 {
		return fmt.Errorf("%w: view.center longitude %v out of range", ErrInvalid, lng)
	}
	if c.View.Container == "" {
		return fmt.Errorf("%w: view.container is empty", ErrInvalid)
	}

	if len(c.BaseLayers) == 0 {
		return fmt.Errorf("%w: at least one base layer is required", ErrInvalid)
	}
	names := make(map[string]bool, len(c.BaseLayers))
	styles := make(map[string]bool, len(c.BaseLayers))
	for _, l := range c.BaseLayers {
		if l.Name == "" || l.Style == "" {
			return fmt.Errorf("%w: base layer needs both name and style", ErrInvalid)
		}
		if names[l.Name] || styles[l.Style] {
			return fmt.Errorf("%w: duplicate base layer %q (%s)", ErrInvalid, l.Name, l.Style)
		}
		names[l.Name], styles[l.Style] = true, true
	}
	if c.Overlay == "" || names[c.Overlay] {
		return fmt.Errorf("%w: overlay name %q is empty or clashes with a base layer", ErrInvalid, c.Overlay)
	}

	if c.FetchTimeout < 0 || c.FetchRetries < 0 {
		return fmt.Errorf("%w: fetch_timeout and fetch_retries must not be negative", ErrInvalid)
	}
	if c.Tiles.Quality <= 0 || c.Tiles.Quality > 100 {
		return fmt.Errorf("%w: tiles.quality must be in (0, 100]", ErrInvalid)
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone: %v", ErrInvalid, err)
	}

	return nil
}

// Location resolves the time zone used to format event times.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// Styles lists the base layer styles in configuration order.
func (c *Config) Styles() []string {
	styles := make([]string, 0, len(c.BaseLayers))
	for _, l := range c.BaseLayers {
		styles = append(styles, l.Style)
	}
	return styles
}
