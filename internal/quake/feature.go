// Package quake fetches earthquake events from a GeoJSON feed.
package quake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Feature is one earthquake event. It is a plain value and is never modified
// after decoding.
type Feature struct {
	ID    string
	Place string
	URL   string

	// Time is only meaningful when HasTime is set.
	Time    time.Time
	HasTime bool

	// Magnitude is NaN when the feed value is missing, null, or not a number.
	Magnitude float64

	Longitude float64
	Latitude  float64
	Depth     float64 // km, zero when absent

	problems []string
}

// Problems lists the attributes that were missing or invalid in the feed.
func (f Feature) Problems() []string {
	return f.problems
}

type collection struct {
	Type     string        `json:"type"`
	Features []wireFeature `json:"features"`
}

// wireFeature keeps every field raw so one odd feature cannot fail the
// whole collection.
type wireFeature struct {
	ID         json.RawMessage `json:"id"`
	Properties struct {
		Place json.RawMessage `json:"place"`
		Time  json.RawMessage `json:"time"`
		Mag   json.RawMessage `json:"mag"`
		URL   json.RawMessage `json:"url"`
	} `json:"properties"`
	Geometry *struct {
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
}

// maxTimeMillis is the largest instant a browser Date can represent.
const maxTimeMillis = 8.64e15

// Decode parses a GeoJSON feature collection. Features without a position
// are dropped and counted in skipped; every other attribute problem is kept
// on the feature and reported by Problems.
func Decode(data []byte) (features []Feature, skipped int, err error) {
	var doc collection
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if doc.Type != "FeatureCollection" {
		return nil, 0, fmt.Errorf("%w: document type %q", ErrMalformedPayload, doc.Type)
	}

	features = make([]Feature, 0, len(doc.Features))
	for _, wf := range doc.Features {
		coords, ok := wf.position()
		if !ok {
			skipped++
			continue
		}
		features = append(features, wf.feature(coords))
	}

	return features, skipped, nil
}

// position returns the point coordinates, or false for a missing geometry
// or anything that is not a flat array of at least two numbers.
func (wf wireFeature) position() ([]float64, bool) {
	if wf.Geometry == nil || isNull(wf.Geometry.Coordinates) {
		return nil, false
	}
	var coords []float64
	if err := json.Unmarshal(wf.Geometry.Coordinates, &coords); err != nil || len(coords) < 2 {
		return nil, false
	}
	return coords, true
}

func (wf wireFeature) feature(coords []float64) Feature {
	id, _ := decodeText(wf.ID)
	url, _ := decodeText(wf.Properties.URL)
	f := Feature{
		ID:        id,
		URL:       url,
		Longitude: coords[0],
		Latitude:  coords[1],
	}
	if len(coords) > 2 {
		f.Depth = coords[2]
	}

	var ok bool
	if f.Place, ok = decodeText(wf.Properties.Place); !ok {
		f.problems = append(f.problems, "place")
	}
	if f.Magnitude, ok = decodeNumber(wf.Properties.Mag); !ok {
		f.problems = append(f.problems, "magnitude")
	}

	if ms, ok := decodeNumber(wf.Properties.Time); ok && math.Abs(ms) <= maxTimeMillis {
		f.Time = time.UnixMilli(int64(ms))
		f.HasTime = true
	} else {
		f.problems = append(f.problems, "time")
	}

	return f
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decodeNumber returns NaN and false for anything that is not a finite number.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return math.NaN(), false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil || math.IsInf(v, 0) {
		return math.NaN(), false
	}
	return v, true
}

// decodeText accepts a JSON string; other scalars are kept as their literal text.
func decodeText(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw), false
	}
	return s, true
}
