package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultEndpointURL, cfg.EndpointURL)
	assert.Empty(t, cfg.TileAccessToken)
	assert.Equal(t, DefaultCenter, cfg.View.Center)
	assert.Equal(t, 3, cfg.View.Zoom)
	assert.Equal(t, "map", cfg.View.Container)
	assert.Equal(t, 18, cfg.Tiles.MaxZoom)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Zero(t, cfg.FetchRetries)
	assert.Equal(t, "Earthquakes", cfg.Overlay)
	assert.Equal(t, []string{"satellite", "dark"}, cfg.Styles())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
endpoint_url: https://example.test/week.geojson
tile_access_token: pk.test
timezone: America/Los_Angeles
fetch_timeout: 5s
fetch_retries: 2
tiles:
  url: https://tiles.example.test/{id}/{z}/{x}/{y}.png?t={accessToken}
  max_zoom: 12
  proxy: true
  cache_dir: /tmp/tiles
view:
  center: [10.5, 20.25]
  zoom: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://example.test/week.geojson", cfg.EndpointURL)
	assert.Equal(t, "pk.test", cfg.TileAccessToken)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 2, cfg.FetchRetries)
	assert.Equal(t, 12, cfg.Tiles.MaxZoom)
	assert.True(t, cfg.Tiles.Proxy)
	assert.Equal(t, [2]float64{10.5, 20.25}, cfg.View.Center)
	assert.Equal(t, 5, cfg.View.Zoom)

	// unset keys keep their defaults
	assert.Equal(t, "map", cfg.View.Container)
	assert.Equal(t, DefaultAttribution, cfg.Tiles.Attribution)
	assert.Len(t, cfg.BaseLayers, 2)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", loc.String())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "view: [unclosed"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"relative endpoint", func(c *Config) { c.EndpointURL = "/feed.geojson" }, "endpoint_url"},
		{"ftp endpoint", func(c *Config) { c.EndpointURL = "ftp://example.test/feed" }, "endpoint_url"},
		{"tile url without z", func(c *Config) { c.Tiles.URL = "https://t.test/{x}/{y}.png" }, "{z}"},
		{"zoom above max", func(c *Config) { c.View.Zoom = 19 }, "view.zoom"},
		{"latitude", func(c *Config) { c.View.Center = [2]float64{91, 0} }, "latitude"},
		{"no base layers", func(c *Config) { c.BaseLayers = nil }, "base layer"},
		{"duplicate style", func(c *Config) { c.BaseLayers[1].Style = "satellite" }, "duplicate"},
		{"overlay clash", func(c *Config) { c.Overlay = "Dark Map" }, "overlay"},
		{"negative retries", func(c *Config) { c.FetchRetries = -1 }, "fetch_retries"},
		{"bad timezone", func(c *Config) { c.TimeZone = "Mars/Olympus" }, "timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.TileAccessToken = "from-file"

	cfg.ApplyOverrides("", "")
	assert.Equal(t, DefaultEndpointURL, cfg.EndpointURL)
	assert.Equal(t, "from-file", cfg.TileAccessToken)

	cfg.ApplyOverrides("https://example.test/day.geojson", "from-env")
	assert.Equal(t, "https://example.test/day.geojson", cfg.EndpointURL)
	assert.Equal(t, "from-env", cfg.TileAccessToken)
}
