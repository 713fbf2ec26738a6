package cluster

import "math"

// Default radius curve constants, in degrees. The curve halves per
// zoom level and is clamped on both ends so extreme zoom never
// produces a zero or world-spanning radius. The exact constants are
// a product knob; override them through Options.
const (
	DefaultBaseRadius = 8.0
	DefaultMinRadius  = 0.0005
	DefaultMaxRadius  = 4.0
)

const earthRadiusMeters = 6371000

// DistanceSquared is the flat lat/lng squared distance used by the
// clustering sweep. It deliberately skips trigonometry: the sweep
// only compares distances against a radius, so the cheap form wins.
func DistanceSquared(aLat, aLng, bLat, bLng float64) float64 {
	dLat := aLat - bLat
	dLng := aLng - bLng
	return dLat*dLat + dLng*dLng
}

// HaversineMeters is the great-circle distance between two
// coordinates. Display and debugging only; the hot loop uses
// DistanceSquared.
func HaversineMeters(aLat, aLng, bLat, bLng float64) float64 {
	la1 := aLat * math.Pi / 180
	la2 := bLat * math.Pi / 180
	dLat := (bLat - aLat) * math.Pi / 180
	dLng := (bLng - aLng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// ClusterRadius returns the clustering radius in degrees for a zoom
// level, using the default curve. Pure function: equal zoom always
// yields an equal radius, and the radius never increases with zoom.
func ClusterRadius(zoom float64) float64 {
	return clusterRadiusWith(zoom, DefaultBaseRadius, DefaultMinRadius, DefaultMaxRadius)
}

func clusterRadiusWith(zoom, base, min, max float64) float64 {
	r := base * math.Pow(2, -zoom)
	if r < min {
		return min
	}
	if r > max {
		return max
	}
	return r
}

// ZoomBucket quantizes zoom to one decimal. The engine computes with
// the bucketed value and the cache keys on it, so a cached entry can
// never disagree with a fresh compute for the same bucket.
func ZoomBucket(zoom float64) float64 {
	return math.Round(zoom*10) / 10
}

// InBounds reports whether a coordinate is inside the viewport.
// Nil bounds fail open: geometry being unavailable must never hide
// points.
func InBounds(lat, lng float64, b Bounds) bool {
	if b == nil {
		return true
	}
	return b.Contains(lat, lng)
}
