package marker

import (
	"encoding/json"
	"html"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/woozymasta/quakemap/internal/geo"
	"github.com/woozymasta/quakemap/internal/quake"
)

// TimeLayout mirrors the browser's default Date string.
const TimeLayout = "Mon Jan 02 2006 15:04:05 GMT-0700 (MST)"

// InvalidTime is shown for events without a usable timestamp.
const InvalidTime = "Invalid Date"

// Marker is the circle drawn for one feature.
type Marker struct {
	ID          string
	Lat         float64
	Lng         float64
	Magnitude   float64
	Radius      float64
	FillColor   string
	FillOpacity float64
	Stroke      bool
	Popup       string
}

// NewMarker styles f. Popup times are rendered in loc.
func NewMarker(f quake.Feature, loc *time.Location) Marker {
	return Marker{
		ID:          f.ID,
		Lat:         f.Latitude,
		Lng:         f.Longitude,
		Magnitude:   f.Magnitude,
		Radius:      Size(f.Magnitude),
		FillColor:   Color(f.Magnitude),
		FillOpacity: 1,
		Stroke:      false,
		Popup:       Popup(f, loc),
	}
}

// Popup renders the three-line popup: place heading, event time, magnitude.
func Popup(f quake.Feature, loc *time.Location) string {
	when := InvalidTime
	if f.HasTime {
		if loc == nil {
			loc = time.UTC
		}
		when = f.Time.In(loc).Format(TimeLayout)
	}

	return "<h3>" + html.EscapeString(f.Place) + "</h3><hr>" +
		"<p>" + when + "</p>" +
		"<p>Magnitude: " + formatMagnitude(f.Magnitude) + "</p>"
}

// MarshalJSON encodes non-finite numbers as null.
func (m Marker) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID          string   `json:"id,omitempty"`
		LatLng      [2]any   `json:"latlng"`
		Magnitude   *float64 `json:"magnitude"`
		Radius      *float64 `json:"radius"`
		FillColor   string   `json:"fillColor"`
		FillOpacity float64  `json:"fillOpacity"`
		Stroke      bool     `json:"stroke"`
		Popup       string   `json:"popup"`
	}{
		ID:          m.ID,
		LatLng:      [2]any{finite(m.Lat), finite(m.Lng)},
		Magnitude:   finite(m.Magnitude),
		Radius:      finite(m.Radius),
		FillColor:   m.FillColor,
		FillOpacity: m.FillOpacity,
		Stroke:      m.Stroke,
		Popup:       m.Popup,
	})
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Layer is the overlay holding every marker.
type Layer struct {
	Name    string   `json:"name"`
	Markers []Marker `json:"markers"`
}

// NewLayer builds exactly one marker per feature, keeping feed order.
func NewLayer(name string, features []quake.Feature, loc *time.Location) Layer {
	return Layer{
		Name: name,
		Markers: lo.Map(features, func(f quake.Feature, _ int) Marker {
			return NewMarker(f, loc)
		}),
	}
}

// GeoJSON exports the layer with marker styling in each feature's properties.
func (l Layer) GeoJSON() geo.GeoJSONFeatureCollection {
	fc := geo.NewFeatureCollection(len(l.Markers))
	for _, m := range l.Markers {
		fc.Features = append(fc.Features, geo.NewPoint(m.ID, m.Lng, m.Lat, map[string]any{
			"mag":         nullable(m.Magnitude),
			"radius":      nullable(m.Radius),
			"fillColor":   m.FillColor,
			"fillOpacity": m.FillOpacity,
			"stroke":      m.Stroke,
			"popup":       m.Popup,
		}))
	}
	return fc
}

func nullable(f float64) any {
	if p := finite(f); p != nil {
		return *p
	}
	return nil
}
