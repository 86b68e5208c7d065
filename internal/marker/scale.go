// Package marker turns earthquake features into styled map markers.
package marker

import (
	"sort"
	"strconv"

	"github.com/samber/lo"
)

// SizeFactor converts a magnitude into a circle radius in meters.
const SizeFactor = 30000

// OverflowColor is used for magnitudes above the last step.
const OverflowColor = "#9b2948"

// Step maps every magnitude up to and including Threshold to Color.
type Step struct {
	Threshold float64
	Color     string
}

// Steps is sorted by ascending threshold.
var Steps = []Step{
	{Threshold: 1, Color: "#ffedbf"},
	{Threshold: 2, Color: "#fce772"},
	{Threshold: 3, Color: "#ff9933"},
	{Threshold: 4, Color: "#ffd700"},
	{Threshold: 5, Color: "#f7362d"},
}

// Size returns the circle radius for mag. Values are not clamped, so zero or
// negative magnitudes give zero or negative radii and NaN stays NaN.
func Size(mag float64) float64 {
	return mag * SizeFactor
}

// Color returns the fill color of the first step whose threshold is >= mag.
// NaN matches no step and gets OverflowColor.
func Color(mag float64) string {
	i := sort.Search(len(Steps), func(i int) bool { return mag <= Steps[i].Threshold })
	if i == len(Steps) {
		return OverflowColor
	}
	return Steps[i].Color
}

// LegendEntry is one magnitude bucket [Lower, Upper). Upper is nil for the
// open-ended last bucket.
type LegendEntry struct {
	Lower float64  `json:"lower"`
	Upper *float64 `json:"upper"`
	Color string   `json:"color"`
	Label string   `json:"label"`
}

// Legend returns one entry per bucket in ascending order: a bucket starting at
// zero plus one starting at every step threshold.
func Legend() []LegendEntry {
	lowers := append([]float64{0}, lo.Map(Steps, func(s Step, _ int) float64 { return s.Threshold })...)

	return lo.Map(lowers, func(lower float64, i int) LegendEntry {
		e := LegendEntry{
			Lower: lower,
			Color: Color(lower + 1),
			Label: formatMagnitude(lower) + "+",
		}
		if i+1 < len(lowers) {
			upper := lowers[i+1]
			e.Upper = &upper
			e.Label = formatMagnitude(lower) + " - " + formatMagnitude(upper)
		}
		return e
	})
}

func formatMagnitude(mag float64) string {
	return strconv.FormatFloat(mag, 'f', -1, 64)
}
