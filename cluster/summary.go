package cluster

import (
	"fmt"
	"math/rand"
)

// Summary aggregates one clustering pass for dashboards and the
// metadata endpoint.
type Summary struct {
	TotalPoints   int                `json:"totalPoints"`
	NumClusters   int                `json:"numClusters"`
	NumSingletons int                `json:"numSingletons"`
	Categories    map[string]float64 `json:"categories,omitempty"`
}

// Summarize computes totals over clustering output. The category
// distribution (percentages) comes from singleton payloads; cluster
// members no longer carry payloads at this stage.
func Summarize(results []Result) Summary {
	s := Summary{}
	catCounts := make(map[string]int)
	catTotal := 0

	for _, r := range results {
		s.TotalPoints += r.Size
		if r.Kind == KindCluster {
			s.NumClusters++
			continue
		}
		s.NumSingletons++
		if r.Point == nil {
			continue
		}
		if cat := pointCategory(*r.Point); cat != "" {
			catCounts[cat]++
			catTotal++
		}
	}

	if catTotal > 0 {
		s.Categories = make(map[string]float64, len(catCounts))
		for cat, n := range catCounts {
			s.Categories[cat] = float64(n) / float64(catTotal) * 100
		}
	}

	return s
}

// GenerateTestPoints creates n points spread uniformly over a
// lat/lng box. The seed is fixed so benchmarks and the profiler are
// reproducible.
func GenerateTestPoints(n int, minLat, maxLat, minLng, maxLng float64) []Point {
	r := rand.New(rand.NewSource(42))
	categories := []string{"A", "B", "C"}

	points := make([]Point, n)
	for i := 0; i < n; i++ {
		points[i] = Point{
			ID:  fmt.Sprintf("p%06d", i+1),
			Lat: minLat + r.Float64()*(maxLat-minLat),
			Lng: minLng + r.Float64()*(maxLng-minLng),
			Payload: map[string]any{
				"category": categories[r.Intn(len(categories))],
				"value":    r.Float64() * 100,
			},
		}
	}
	return points
}
