package tracking

import (
	"fmt"
	"math"

	"github.com/rt-technologie/freightd/core/model"
)

// earthRadiusM is the mean Earth radius used by the haversine formula.
const earthRadiusM = 6371000.0

// Haversine returns the great-circle distance between two coordinates in
// meters. The function is symmetric in its arguments.
func Haversine(a, b model.Coordinates) float64 {
	la1 := a.Latitude * math.Pi / 180
	la2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// Bearing returns the initial compass bearing from one coordinate to another
// in degrees, normalized to [0, 360).
func Bearing(from, to model.Coordinates) float64 {
	la1 := from.Latitude * math.Pi / 180
	la2 := to.Latitude * math.Pi / 180
	dLon := (to.Longitude - from.Longitude) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(la2)
	x := math.Cos(la1)*math.Sin(la2) - math.Sin(la1)*math.Cos(la2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

var cardinals = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Direction converts a bearing in degrees to its cardinal direction.
func Direction(bearing float64) string {
	idx := int(math.Round(bearing/45)) % 8
	if idx < 0 {
		idx += 8
	}
	return cardinals[idx]
}

// InsideGeofence reports whether pos lies within radiusM meters of center.
func InsideGeofence(pos, center model.Coordinates, radiusM float64) bool {
	return Haversine(pos, center) <= radiusM
}

// FormatDistance renders a distance in meters for display.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration renders a duration in seconds for display.
func FormatDuration(seconds int) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dmin", hours, minutes)
	}
	return fmt.Sprintf("%dmin", minutes)
}
