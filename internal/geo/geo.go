// Package geo holds the small WGS84 helpers shared by the spatial index,
// boundary construction, and land-use area estimates. Everything assumes
// city-scale distances where an equirectangular approximation is fine.
package geo

import "math"

const (
	// EarthRadiusM is the mean earth radius for great-circle math.
	EarthRadiusM = 6371000.0
	// MetersPerDeg is the metres spanned by one degree of latitude.
	MetersPerDeg = 111000.0
)

// HaversineM returns the great-circle distance between two points in metres.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// CosLat returns the longitude shrink factor at lat, clamped away from
// zero so degree conversions stay finite near the poles.
func CosLat(lat float64) float64 {
	c := math.Cos(lat * math.Pi / 180)
	if c < 0.01 {
		return 0.01
	}
	return c
}
