package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"web/markercluster/cluster"
)

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile = flag.String("memprofile", "", "write memory profile to file")
	numPoints  = flag.Int("points", 100000, "number of points to generate")
	zoomLevel  = flag.Float64("zoom", 8, "zoom level to profile")
	testall    = flag.Bool("testall", false, "test all configurations")
)

// Continental US bounding box, matches the generator defaults used
// by the benchmarks.
const (
	usMinLat = 25.0
	usMaxLat = 49.0
	usMinLng = -125.0
	usMaxLng = -65.0
)

func newEngine() *cluster.Engine {
	cache, _ := cluster.NewResultCache("disabled", 0, 0, nil)
	return cluster.NewEngine(cluster.Options{}, cache, nil)
}

func runSingleProfile(numPoints int, zoom float64) {
	fmt.Printf("Profiling with %d points at zoom level %.1f\n", numPoints, zoom)

	engine := newEngine()
	points := cluster.GenerateTestPoints(numPoints, usMinLat, usMaxLat, usMinLng, usMaxLng)

	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)

	start := time.Now()
	results := engine.ClusterPoints(points, zoom, nil)
	duration := time.Since(start)

	runtime.ReadMemStats(&memStatsAfter)
	allocMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024

	fmt.Printf("Clustering completed in %v (%d markers)\n", duration, len(results))
	fmt.Printf("Memory allocated: %.2f MB\n", allocMB)
	fmt.Printf("Memory usage: %.2f MB\n", float64(memStatsAfter.Alloc)/1024/1024)
}

func runProfileBattery() {
	pointCounts := []int{1000, 10000, 50000, 100000}
	zoomLevels := []float64{2, 5, 8, 12, 15}

	fmt.Println("Running comprehensive profile battery...")
	fmt.Println("=======================================")

	fmt.Printf("%-10s | %-10s | %-10s | %-15s | %-12s | %-10s\n",
		"Points", "Zoom", "Markers", "Duration", "Memory (MB)", "GC Runs")
	fmt.Printf("%s\n", "------------------------------------------------------------------------")

	for _, points := range pointCounts {
		for _, zoom := range zoomLevels {
			engine := newEngine()
			testPoints := cluster.GenerateTestPoints(points, usMinLat, usMaxLat, usMinLng, usMaxLng)

			var memStatsBefore, memStatsAfter runtime.MemStats
			runtime.ReadMemStats(&memStatsBefore)

			start := time.Now()
			results := engine.ClusterPoints(testPoints, zoom, nil)
			duration := time.Since(start)

			runtime.ReadMemStats(&memStatsAfter)
			memMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024
			gcRuns := memStatsAfter.NumGC - memStatsBefore.NumGC

			fmt.Printf("%-10d | %-10.1f | %-10d | %-15s | %-12.2f | %-10d\n",
				points, zoom, len(results), duration, memMB, gcRuns)
		}

		fmt.Printf("%s\n", "------------------------------------------------------------------------")
	}
}

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			return
		}
		defer f.Close()

		fmt.Println("Starting CPU profiling...")
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			return
		}
		defer pprof.StopCPUProfile()
	}

	if *testall {
		runProfileBattery()
	} else {
		runSingleProfile(*numPoints, *zoomLevel)
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
			return
		}
		defer f.Close()

		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
		}
	}
}
