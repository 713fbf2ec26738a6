package cluster

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

// testBounds is the rectangle used across the package tests.
type testBounds struct {
	North, South, East, West float64
}

func (b testBounds) Contains(lat, lng float64) bool {
	return lat >= b.South && lat <= b.North && lng >= b.West && lng <= b.East
}

func newTestEngine(opts Options) *Engine {
	return NewEngine(opts, NewNoopResultCache(), nil)
}

func totalMembers(results []Result) int {
	n := 0
	for _, r := range results {
		n += r.Size
	}
	return n
}

func memberSet(results []Result) map[string]int {
	seen := make(map[string]int)
	for _, r := range results {
		for _, id := range r.Members() {
			seen[id]++
		}
	}
	return seen
}

func TestClusterPointsEmpty(t *testing.T) {
	e := newTestEngine(Options{})
	if got := e.ClusterPoints(nil, 10, nil); len(got) != 0 {
		t.Errorf("Expected no results for empty input, got %d", len(got))
	}
}

func TestClusterPointsGroupsNearby(t *testing.T) {
	// Two points ~0.00014 degrees apart plus one ~0.2 degrees away.
	// At zoom 10 the radius is 8/2^10 ~ 0.0078, so the pair merges
	// and the far point stays alone.
	points := []Point{
		{ID: "a", Lat: 40.0000, Lng: -74.0000},
		{ID: "b", Lat: 40.0001, Lng: -74.0001},
		{ID: "c", Lat: 40.2000, Lng: -74.0500},
	}

	e := newTestEngine(Options{})
	results := e.ClusterPoints(points, 10, nil)

	if len(results) != 2 {
		t.Fatalf("Expected 1 cluster + 1 singleton, got %d results", len(results))
	}

	var cluster, single *Result
	for i := range results {
		if results[i].Kind == KindCluster {
			cluster = &results[i]
		} else {
			single = &results[i]
		}
	}
	if cluster == nil || single == nil {
		t.Fatalf("Expected one of each kind, got %+v", results)
	}
	if cluster.Size != 2 {
		t.Errorf("Expected cluster of 2, got %d", cluster.Size)
	}
	if single.ID != "c" {
		t.Errorf("Expected c as singleton, got %s", single.ID)
	}

	wantLat := (40.0000 + 40.0001) / 2
	if math.Abs(cluster.Lat-wantLat) > 1e-9 {
		t.Errorf("Cluster center lat: want %f got %f", wantLat, cluster.Lat)
	}
}

func TestClusterPointsNoLoss(t *testing.T) {
	points := GenerateTestPoints(500, 40.0, 41.0, -74.0, -73.0)
	e := newTestEngine(Options{})

	for _, zoom := range []float64{2, 6, 10, 14} {
		results := e.ClusterPoints(points, zoom, nil)
		if got := totalMembers(results); got != len(points) {
			t.Errorf("zoom %.0f: member total %d != input %d", zoom, got, len(points))
		}

		seen := memberSet(results)
		if len(seen) != len(points) {
			t.Errorf("zoom %.0f: %d distinct members, want %d", zoom, len(seen), len(points))
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("zoom %.0f: point %s appears in %d results", zoom, id, n)
			}
		}
	}
}

func TestClusterPointsDeterministicAcrossOrder(t *testing.T) {
	points := GenerateTestPoints(300, 40.0, 41.0, -74.0, -73.0)

	shuffled := make([]Point, len(points))
	copy(shuffled, points)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	a := newTestEngine(Options{}).ClusterPoints(points, 8, nil)
	b := newTestEngine(Options{}).ClusterPoints(shuffled, 8, nil)

	if len(a) != len(b) {
		t.Fatalf("Result count differs across input order: %d vs %d", len(a), len(b))
	}
	ids := make(map[string]bool, len(a))
	for _, r := range a {
		ids[r.ID] = true
	}
	for _, r := range b {
		if !ids[r.ID] {
			t.Errorf("Result %s missing from reordered run", r.ID)
		}
	}
}

func TestClusterIDStable(t *testing.T) {
	points := []Point{
		{ID: "a", Lat: 40.0000, Lng: -74.0000},
		{ID: "b", Lat: 40.0001, Lng: -74.0001},
	}
	e := newTestEngine(Options{})

	r1 := e.ClusterPoints(points, 10, nil)
	r2 := e.ClusterPoints([]Point{points[1], points[0]}, 10, nil)

	if len(r1) != 1 || len(r2) != 1 {
		t.Fatalf("Expected single cluster in both runs")
	}
	if r1[0].ID != r2[0].ID {
		t.Errorf("Cluster id unstable: %s vs %s", r1[0].ID, r2[0].ID)
	}
	if r1[0].ID == "" || r1[0].ID[0] != 'c' {
		t.Errorf("Unexpected cluster id format: %q", r1[0].ID)
	}
}

func TestDisableZoomAllSingletons(t *testing.T) {
	// Coincident points would certainly merge if clustering ran.
	points := []Point{
		{ID: "a", Lat: 40, Lng: -74},
		{ID: "b", Lat: 40, Lng: -74},
		{ID: "c", Lat: 40, Lng: -74},
	}
	e := newTestEngine(Options{})

	for _, zoom := range []float64{15, 16, 18} {
		results := e.ClusterPoints(points, zoom, nil)
		if len(results) != 3 {
			t.Fatalf("zoom %.0f: expected 3 singletons, got %d", zoom, len(results))
		}
		for _, r := range results {
			if r.Kind != KindSingleton || r.Size != 1 {
				t.Errorf("zoom %.0f: unexpected non-singleton %+v", zoom, r)
			}
		}
	}
}

func TestDisableZoomBudgetTruncation(t *testing.T) {
	points := GenerateTestPoints(150, 40.0, 41.0, -74.0, -73.0)
	e := newTestEngine(Options{MaxMarkers: 100})

	results := e.ClusterPoints(points, 16, nil)
	if len(results) != 100 {
		t.Fatalf("Expected exactly 100 markers, got %d", len(results))
	}

	// No viewport: budget fills in input order.
	for i, r := range results {
		if r.ID != points[i].ID {
			t.Fatalf("Truncation order broken at %d: want %s got %s", i, points[i].ID, r.ID)
		}
	}
}

func TestDisableZoomBudgetPrefersViewport(t *testing.T) {
	// 60 points inside the viewport placed after 90 outside it.
	points := make([]Point, 0, 150)
	for i := 0; i < 90; i++ {
		points = append(points, Point{ID: pointID("out", i), Lat: 10, Lng: 10 + float64(i)*0.001})
	}
	for i := 0; i < 60; i++ {
		points = append(points, Point{ID: pointID("in", i), Lat: 40.5, Lng: -73.5 + float64(i)*0.001})
	}

	viewport := testBounds{North: 41, South: 40, East: -73, West: -74}
	e := newTestEngine(Options{MaxMarkers: 100})

	results := e.ClusterPoints(points, 16, viewport)
	if len(results) != 100 {
		t.Fatalf("Expected exactly 100 markers, got %d", len(results))
	}

	inCount := 0
	for _, r := range results {
		if viewport.Contains(r.Lat, r.Lng) {
			inCount++
		}
	}
	if inCount != 60 {
		t.Errorf("Expected all 60 in-viewport points kept, got %d", inCount)
	}
}

func TestViewportDoesNotAffectGrouping(t *testing.T) {
	points := GenerateTestPoints(200, 40.0, 41.0, -74.0, -73.0)
	viewport := testBounds{North: 40.5, South: 40, East: -73.5, West: -74}
	e := newTestEngine(Options{})

	a := e.ClusterPoints(points, 8, nil)
	b := e.ClusterPoints(points, 8, viewport)

	if len(a) != len(b) {
		t.Fatalf("Viewport changed grouping: %d vs %d results", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("Result %d differs with viewport: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}
}

func TestClusterPointsDropsMalformed(t *testing.T) {
	points := []Point{
		{ID: "ok", Lat: 40, Lng: -74},
		{ID: "", Lat: 40, Lng: -74},
		{ID: "nan", Lat: math.NaN(), Lng: -74},
		{ID: "inf", Lat: 40, Lng: math.Inf(1)},
		{ID: "range", Lat: 91, Lng: -74},
	}
	e := newTestEngine(Options{})

	results := e.ClusterPoints(points, 10, nil)
	if len(results) != 1 || results[0].ID != "ok" {
		t.Errorf("Expected only the valid point to survive, got %+v", results)
	}
}

func TestClusterPointsUsesCache(t *testing.T) {
	cache := NewMemoryResultCache(10, time.Minute)
	e := NewEngine(Options{}, cache, nil)
	points := GenerateTestPoints(100, 40.0, 41.0, -74.0, -73.0)

	e.ClusterPoints(points, 8, nil)
	second := e.ClusterPoints(points, 8, nil)

	if e.Computes() != 1 {
		t.Errorf("Expected 1 compute, got %d", e.Computes())
	}
	if e.CacheHits() != 1 {
		t.Errorf("Expected 1 cache hit, got %d", e.CacheHits())
	}
	// A cache hit must be structurally equal to a bypassed compute.
	fresh := newTestEngine(Options{}).ClusterPoints(points, 8, nil)
	if len(second) != len(fresh) {
		t.Fatalf("Cached results differ from fresh compute: %d vs %d", len(second), len(fresh))
	}
	for i := range fresh {
		if second[i].ID != fresh[i].ID || second[i].Size != fresh[i].Size ||
			second[i].Lat != fresh[i].Lat || second[i].Lng != fresh[i].Lng {
			t.Errorf("Cached result %d differs from fresh compute", i)
		}
	}

	// A different zoom bucket is a different key.
	e.ClusterPoints(points, 9, nil)
	if e.Computes() != 2 {
		t.Errorf("Expected recompute for new zoom, computes=%d", e.Computes())
	}
}

func TestDisableZoomConsistentAcrossBucket(t *testing.T) {
	// 14.95 and 15.04 share the 15.0 zoom bucket, which sits exactly
	// at the default disable threshold. Both calls must take the
	// singleton path, and the second must be a cache hit serving the
	// same shape a fresh compute would produce.
	points := []Point{
		{ID: "a", Lat: 40, Lng: -74},
		{ID: "b", Lat: 40, Lng: -74},
	}
	e := NewEngine(Options{}, NewMemoryResultCache(10, time.Minute), nil)

	for _, zoom := range []float64{14.95, 15.04} {
		results := e.ClusterPoints(points, zoom, nil)
		if len(results) != 2 {
			t.Fatalf("zoom %.2f: expected 2 singletons, got %d results", zoom, len(results))
		}
		for _, r := range results {
			if r.Size > 1 {
				t.Errorf("zoom %.2f: marker above disable threshold has size %d", zoom, r.Size)
			}
		}
	}
	if e.CacheHits() != 1 {
		t.Errorf("Expected the second bucketed call to hit, hits=%d", e.CacheHits())
	}

	// Just below the bucket boundary clustering still runs.
	below := e.ClusterPoints(points, 14.94, nil)
	if len(below) != 1 || below[0].Kind != KindCluster || below[0].Size != 2 {
		t.Errorf("zoom 14.94: expected one cluster of 2, got %+v", below)
	}
}

func TestSingletonResultCopiesPoint(t *testing.T) {
	p := Point{ID: "a", Lat: 1, Lng: 2}
	r := singletonResult(p)
	p.Lat = 99
	if r.Point.Lat != 1 {
		t.Error("Singleton result must not alias the caller's point")
	}
}

func pointID(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i/26)) + string(rune('a'+i%26))
}
