package cluster

import (
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
)

// Options controls the engine. Zero values are replaced with
// defaults, mirroring how the zoom curve constants in geo.go are
// only a starting point.
type Options struct {
	// BaseRadius, MinRadius and MaxRadius shape the zoom radius
	// curve, in degrees. See ClusterRadius.
	BaseRadius float64
	MinRadius  float64
	MaxRadius  float64

	// DisableZoom is the zoom level at or above which no grouping
	// happens and every point renders as its own marker.
	DisableZoom float64

	// MaxMarkers caps the singleton count on the DisableZoom path.
	// When the input exceeds it, in-viewport points win the budget
	// and the rest fill up in input order. Deliberately lossy.
	MaxMarkers int
}

const (
	DefaultDisableZoom = 15.0
	DefaultMaxMarkers  = 100
)

func (o Options) withDefaults() Options {
	if o.BaseRadius <= 0 {
		o.BaseRadius = DefaultBaseRadius
	}
	if o.MinRadius <= 0 {
		o.MinRadius = DefaultMinRadius
	}
	if o.MaxRadius <= 0 {
		o.MaxRadius = DefaultMaxRadius
	}
	if o.MinRadius > o.MaxRadius {
		o.MinRadius = o.MaxRadius
	}
	if o.DisableZoom <= 0 {
		o.DisableZoom = DefaultDisableZoom
	}
	if o.MaxMarkers <= 0 {
		o.MaxMarkers = DefaultMaxMarkers
	}
	return o
}

// Engine groups points into clusters or singletons based on the
// zoom-derived radius. Output is deterministic for an identical
// point set and zoom bucket, which is what makes the cache keys and
// downstream reconciliation keys stable.
type Engine struct {
	opts  Options
	cache ResultCache
	log   *zap.Logger

	computes  atomic.Uint64
	cacheHits atomic.Uint64
}

// NewEngine creates an engine. A nil cache disables memoization and
// a nil logger disables logging.
func NewEngine(opts Options, cache ResultCache, log *zap.Logger) *Engine {
	if cache == nil {
		cache = NewNoopResultCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		opts:  opts.withDefaults(),
		cache: cache,
		log:   log,
	}
}

// Options returns the effective (defaulted) options.
func (e *Engine) Options() Options { return e.opts }

// Computes reports how many times the engine ran a full clustering
// pass, and CacheHits how many calls were served from the cache.
// Together they are the instrumentation hook for cache verification.
func (e *Engine) Computes() uint64  { return e.computes.Load() }
func (e *Engine) CacheHits() uint64 { return e.cacheHits.Load() }

// ClusterPoints groups points for the given zoom. Malformed points
// are dropped silently at the boundary. The optional viewport only
// influences the truncation order on the disable-clustering path;
// grouping itself never depends on it.
func (e *Engine) ClusterPoints(points []Point, zoom float64, viewport Bounds) []Result {
	pts := SanitizePoints(points)
	if dropped := len(points) - len(pts); dropped > 0 {
		e.log.Debug("Dropped malformed points", zap.Int("count", dropped))
	}

	// Compute with the bucketed zoom the cache keys on. Raw zoom
	// here would let two zooms in one bucket straddle DisableZoom
	// and serve each other's results.
	zoom = ZoomBucket(zoom)
	key := CacheKey(pts, zoom)
	if cached, ok := e.cache.Get(key); ok {
		e.cacheHits.Add(1)
		return cached
	}
	e.computes.Add(1)

	var results []Result
	if zoom >= e.opts.DisableZoom {
		results = e.singletons(pts, viewport)
	} else {
		radius := clusterRadiusWith(zoom, e.opts.BaseRadius, e.opts.MinRadius, e.opts.MaxRadius)
		results = e.sweep(pts, radius)
	}

	e.log.Debug("Clustered points",
		zap.Int("points", len(pts)),
		zap.Float64("zoom", zoom),
		zap.Int("results", len(results)))

	e.cache.Set(key, results)
	return results
}

// singletons is the DisableZoom path: no grouping, but the marker
// budget still applies. On-screen points are kept first; the
// remaining budget fills with off-screen points in input order.
func (e *Engine) singletons(points []Point, viewport Bounds) []Result {
	budget := e.opts.MaxMarkers
	if len(points) <= budget {
		results := make([]Result, len(points))
		for i, p := range points {
			results[i] = singletonResult(p)
		}
		return results
	}

	e.log.Debug("Truncating singleton markers",
		zap.Int("points", len(points)), zap.Int("budget", budget))

	results := make([]Result, 0, budget)
	taken := make(map[int]bool, budget)
	for i, p := range points {
		if len(results) >= budget {
			break
		}
		if InBounds(p.Lat, p.Lng, viewport) {
			results = append(results, singletonResult(p))
			taken[i] = true
		}
	}
	for i, p := range points {
		if len(results) >= budget {
			break
		}
		if !taken[i] {
			results = append(results, singletonResult(p))
		}
	}
	return results
}

// sweep is the greedy clustering pass. Points are sorted by
// (lat, lng) first so the partition depends only on the point set,
// not on input order; each unprocessed point then absorbs every
// later unprocessed point strictly inside the radius.
func (e *Engine) sweep(points []Point, radius float64) []Result {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Lat != sorted[j].Lat {
			return sorted[i].Lat < sorted[j].Lat
		}
		if sorted[i].Lng != sorted[j].Lng {
			return sorted[i].Lng < sorted[j].Lng
		}
		return sorted[i].ID < sorted[j].ID
	})

	r2 := radius * radius
	used := make([]bool, len(sorted))
	results := make([]Result, 0, len(sorted))

	for i := range sorted {
		if used[i] {
			continue
		}
		used[i] = true
		members := []Point{sorted[i]}

		for j := i + 1; j < len(sorted); j++ {
			if used[j] {
				continue
			}
			// Sorted by latitude: once the latitude gap alone
			// exceeds the radius, nothing further can match.
			if sorted[j].Lat-sorted[i].Lat >= radius {
				break
			}
			if DistanceSquared(sorted[i].Lat, sorted[i].Lng, sorted[j].Lat, sorted[j].Lng) < r2 {
				used[j] = true
				members = append(members, sorted[j])
			}
		}

		if len(members) == 1 {
			results = append(results, singletonResult(members[0]))
		} else {
			results = append(results, clusterResult(members))
		}
	}

	return results
}
