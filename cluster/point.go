package cluster

import "math"

// Point is a single geotagged item produced by the ingestion layer.
// The engine never mutates points; it only derives new structures
// from them. Identity is the ID.
type Point struct {
	ID      string         `json:"id"`
	Lat     float64        `json:"lat"`
	Lng     float64        `json:"lng"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Bounds is the viewport rectangle supplied by the map widget. The
// engine only ever asks whether a coordinate is inside it.
type Bounds interface {
	Contains(lat, lng float64) bool
}

func validCoord(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func validPoint(p Point) bool {
	return p.ID != "" && validCoord(p.Lat, p.Lng)
}

// SanitizePoints drops points with empty ids or non-finite or
// out-of-range coordinates. One bad record must not blank the map,
// so malformed points are skipped rather than reported as errors.
// Input order is preserved; the input slice is returned unchanged
// when everything is valid.
func SanitizePoints(points []Point) []Point {
	clean := true
	for _, p := range points {
		if !validPoint(p) {
			clean = false
			break
		}
	}
	if clean {
		return points
	}

	out := make([]Point, 0, len(points))
	for _, p := range points {
		if validPoint(p) {
			out = append(out, p)
		}
	}
	return out
}
