package utils

import (
	"fmt"
	"math"
)

// FormatMiles renders a distance for display. Infinite or NaN distances
// render as "n/a".
func FormatMiles(d float64) string {
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return "n/a"
	}
	return fmt.Sprintf("%.1f mi", d)
}
