package mapview

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/quakemap/internal/config"
	"github.com/woozymasta/quakemap/internal/marker"
	"github.com/woozymasta/quakemap/internal/quake"
)

var frozen = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	SetClock(clockwork.NewFakeClockAt(frozen))
	defer SetClock(nil)
	m.Run()
}

type stubSource struct {
	features []quake.Feature
	err      error
	calls    int
}

func (s *stubSource) Fetch(context.Context) ([]quake.Feature, error) {
	s.calls++
	return s.features, s.err
}

func testComposer(t *testing.T, mutate func(*config.Config)) *Composer {
	t.Helper()
	cfg := config.Default()
	cfg.TileAccessToken = "pk.test"
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	c, err := NewComposer(cfg)
	require.NoError(t, err)
	return c
}

func ridgecrest() quake.Feature {
	return quake.Feature{
		ID:        "ci38457511",
		Place:     "10km NE of Ridgecrest, CA",
		Time:      time.UnixMilli(1609459200000),
		HasTime:   true,
		Magnitude: 4.2,
		Longitude: -117.5,
		Latitude:  35.7,
	}
}

func TestCompose(t *testing.T) {
	c := testComposer(t, nil)
	layer := marker.NewLayer("Earthquakes", []quake.Feature{ridgecrest()}, time.UTC)

	v := c.Compose(layer)

	assert.Equal(t, "map", v.Container)
	assert.Equal(t, [2]float64{31.57853542647338, -99.580078125}, v.Center)
	assert.Equal(t, 3, v.Zoom)
	assert.False(t, v.Control.Collapsed)
	assert.Equal(t, frozen, v.GeneratedAt)
	assert.Empty(t, v.Error)

	require.Len(t, v.BaseLayers, 2)
	sat, dark := v.BaseLayers[0], v.BaseLayers[1]
	assert.Equal(t, "Satellite Map", sat.Name)
	assert.Equal(t, "Dark Map", dark.Name)
	assert.Equal(t, "https://api.tiles.mapbox.com/v4/mapbox.satellite/{z}/{x}/{y}.png?access_token=pk.test", sat.URL)
	assert.Equal(t, "https://api.tiles.mapbox.com/v4/mapbox.dark/{z}/{x}/{y}.png?access_token=pk.test", dark.URL)
	assert.Equal(t, 18, sat.MaxZoom)
	assert.Equal(t, config.DefaultAttribution, dark.Attribution)

	visible, ok := v.VisibleBaseLayer()
	require.True(t, ok)
	assert.Equal(t, "Satellite Map", visible.Name)
	assert.False(t, dark.Visible)

	assert.Equal(t, "Earthquakes", v.Overlay.Name)
	assert.True(t, v.Overlay.Visible)
	assert.Len(t, v.Overlay.Markers, 1)

	assert.Equal(t, LegendPosition, v.Legend.Position)
	assert.Len(t, v.Legend.Entries, 6)
}

func TestCompose_OneVisibleBaseLayer(t *testing.T) {
	c := testComposer(t, func(cfg *config.Config) {
		cfg.BaseLayers = append(cfg.BaseLayers, config.BaseLayer{Name: "Streets", Style: "streets"})
	})

	v := c.Compose(marker.Layer{Name: "Earthquakes"})

	visible := 0
	for _, l := range v.BaseLayers {
		if l.Visible {
			visible++
		}
	}
	assert.Equal(t, 1, visible)
	assert.NotNil(t, v.Overlay.Markers)
}

func TestCompose_ProxyURLs(t *testing.T) {
	c := testComposer(t, func(cfg *config.Config) { cfg.Tiles.Proxy = true })

	v := c.Compose(marker.Layer{Name: "Earthquakes"})
	for _, l := range v.BaseLayers {
		assert.Equal(t, "/tiles/"+l.Style+"/{z}/{x}/{y}.webp", l.URL)
		assert.NotContains(t, l.URL, "pk.test")
	}
}

func TestBuild(t *testing.T) {
	c := testComposer(t, nil)
	src := &stubSource{features: []quake.Feature{ridgecrest(), {Place: "Ocean", Magnitude: 1, Longitude: 10, Latitude: 5}}}

	v, err := Build(context.Background(), src, c)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	require.Len(t, v.Overlay.Markers, 2)
	m := v.Overlay.Markers[0]
	assert.Equal(t, 126000.0, m.Radius)
	assert.Equal(t, "#f7362d", m.FillColor)
	assert.Contains(t, m.Popup, "10km NE of Ridgecrest, CA")
	assert.Contains(t, m.Popup, "4.2")
	assert.Equal(t, "#ffedbf", v.Overlay.Markers[1].FillColor)
}

func TestBuild_Empty(t *testing.T) {
	c := testComposer(t, nil)

	v, err := Build(context.Background(), &stubSource{}, c)
	require.NoError(t, err)
	assert.Empty(t, v.Overlay.Markers)
	assert.Len(t, v.BaseLayers, 2)
	assert.Len(t, v.Legend.Entries, 6)

	page, err := RenderBytes(v)
	require.NoError(t, err)
	assert.Contains(t, string(page), "5+")
}

func TestBuild_FetchError(t *testing.T) {
	c := testComposer(t, nil)
	fetchErr := errors.New("fetch earthquake feed: status 503")

	v, err := Build(context.Background(), &stubSource{err: fetchErr}, c)
	require.ErrorIs(t, err, fetchErr)
	require.NotNil(t, v)
	assert.Equal(t, fetchErr.Error(), v.Error)
	assert.Empty(t, v.Overlay.Markers)
}

func TestBuild_NullMagnitude(t *testing.T) {
	c := testComposer(t, nil)
	f := ridgecrest()
	f.Magnitude = math.NaN()

	v, err := Build(context.Background(), &stubSource{features: []quake.Feature{f}}, c)
	require.NoError(t, err)
	require.Len(t, v.Overlay.Markers, 1)
	assert.True(t, math.IsNaN(v.Overlay.Markers[0].Radius))

	page, err := RenderBytes(v)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(page), `"radius":null`))
}

func TestComposer_Location(t *testing.T) {
	c := testComposer(t, func(cfg *config.Config) { cfg.TimeZone = "Asia/Tokyo" })
	assert.Equal(t, "Asia/Tokyo", c.Location().String())
	assert.Equal(t, "Earthquakes", c.OverlayName())
}
