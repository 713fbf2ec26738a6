package cluster

import (
	"runtime"
	"testing"
)

// benchmarkClustering runs clustering benchmarks with different
// point counts and zoom levels over the Continental US box.
func benchmarkClustering(b *testing.B, numPoints int, zoom float64) {
	engine := NewEngine(Options{}, NewNoopResultCache(), nil)
	points := GenerateTestPoints(numPoints, 25.0, 49.0, -125.0, -65.0)

	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.ClusterPoints(points, zoom, nil)
	}
	b.StopTimer()

	runtime.ReadMemStats(&memStatsAfter)
	allocMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024
	b.ReportMetric(allocMB/float64(b.N), "MB/op")
}

func BenchmarkClusteringSmall_LowZoom(b *testing.B) {
	benchmarkClustering(b, 1000, 2)
}

func BenchmarkClusteringSmall_MidZoom(b *testing.B) {
	benchmarkClustering(b, 1000, 8)
}

func BenchmarkClusteringSmall_HighZoom(b *testing.B) {
	benchmarkClustering(b, 1000, 14)
}

func BenchmarkClusteringMedium_LowZoom(b *testing.B) {
	benchmarkClustering(b, 10000, 2)
}

func BenchmarkClusteringMedium_MidZoom(b *testing.B) {
	benchmarkClustering(b, 10000, 8)
}

func BenchmarkClusteringMedium_HighZoom(b *testing.B) {
	benchmarkClustering(b, 10000, 14)
}

func BenchmarkClusteringCached(b *testing.B) {
	engine := NewEngine(Options{}, NewMemoryResultCache(10, 0), nil)
	points := GenerateTestPoints(10000, 25.0, 49.0, -125.0, -65.0)
	engine.ClusterPoints(points, 8, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.ClusterPoints(points, 8, nil)
	}
}

func BenchmarkCacheKey(b *testing.B) {
	points := GenerateTestPoints(10000, 25.0, 49.0, -125.0, -65.0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CacheKey(points, 8)
	}
}

func BenchmarkSpread(b *testing.B) {
	results := make([]Result, 0, 200)
	for i := 0; i < 200; i++ {
		// Every fourth marker shares a coordinate.
		results = append(results, singletonResult(Point{
			ID:  pointID("bench", i%600),
			Lat: 40 + float64(i/4)*0.001,
			Lng: -74,
		}))
	}
	resolver := NewOffsetResolver(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resolver.Spread(results)
	}
}
