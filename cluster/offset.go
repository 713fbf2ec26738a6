package cluster

import (
	"fmt"
	"math"
)

// DefaultOffsetDistance is the spread radius in degrees, roughly a
// dozen meters: enough to separate markers on screen at street-level
// zoom without visibly relocating them.
const DefaultOffsetDistance = 0.0001

// coincidenceScale quantizes coordinates for collision detection.
// Two results closer than 1e-7 degrees render on the same pixel at
// any practical zoom.
const coincidenceScale = 1e7

// OffsetResolver nudges results that share an identical coordinate
// apart so no two markers render on the same pixel. Intended for
// high zoom where the engine no longer groups; at lower zoom the
// clusters themselves keep markers separated.
type OffsetResolver struct {
	distance float64
}

func NewOffsetResolver(distance float64) *OffsetResolver {
	if distance <= 0 {
		distance = DefaultOffsetDistance
	}
	return &OffsetResolver{distance: distance}
}

// Spread returns a copy of results where each group of coincident
// markers is fanned out on a circle around the shared coordinate,
// spaced evenly. The first member of each group stays put, which
// makes Spread idempotent: a second pass finds no coincidences.
// Quadratic only in the post-clustering result count.
func (o *OffsetResolver) Spread(results []Result) []Result {
	groups := make(map[string][]int, len(results))
	order := make([]string, 0, len(results))
	for i, r := range results {
		k := coincidenceKey(r.Lat, r.Lng)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	out := make([]Result, len(results))
	copy(out, results)

	for _, k := range order {
		idxs := groups[k]
		if len(idxs) < 2 {
			continue
		}
		n := float64(len(idxs))
		for pos, i := range idxs[1:] {
			angle := 2 * math.Pi * float64(pos+1) / n
			out[i].Lat = results[i].Lat + o.distance*math.Sin(angle)
			out[i].Lng = results[i].Lng + o.distance*math.Cos(angle)
		}
	}

	return out
}

func coincidenceKey(lat, lng float64) string {
	return fmt.Sprintf("%d:%d",
		int64(math.Round(lat*coincidenceScale)),
		int64(math.Round(lng*coincidenceScale)))
}
