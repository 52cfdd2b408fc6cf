package geo

import (
	"math"
	"time"
)

const (
	// EarthRadiusKm is Earth's radius used by the Haversine calculation.
	EarthRadiusKm = 6371.0
	// DefaultSpeedKmh is the average drone speed assumed for ETA estimates.
	DefaultSpeedKmh = 50.0
	// etaBuffer pads ETA estimates by 15% for weather and routing slack.
	etaBuffer = 1.15
)

// DistanceKm calculates the great-circle distance between two points on Earth
// in kilometers using the Haversine formula.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// WithinRadius checks whether two coordinates are within radiusMeters of each
// other. The boundary is inclusive: distance == radius passes.
func WithinRadius(lat1, lng1, lat2, lng2 float64, radiusMeters float64) bool {
	return DistanceKm(lat1, lng1, lat2, lng2)*1000 <= radiusMeters
}

// ETA estimates the arrival time for a flight of distanceKm at speedKmh,
// buffered and rounded up to the whole minute. A non-positive speed falls back
// to DefaultSpeedKmh.
func ETA(now time.Time, distanceKm, speedKmh float64) time.Time {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	minutes := math.Ceil(distanceKm / speedKmh * etaBuffer * 60)
	return now.Add(time.Duration(minutes) * time.Minute)
}
