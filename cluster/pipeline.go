package cluster

import "go.uber.org/zap"

// Pipeline is the full render path: cluster the current points,
// spread coincident markers at high zoom, partition by viewport,
// then hand the partition to the incremental renderer. One call per
// input change; each call supersedes the previous cycle.
type Pipeline struct {
	engine   *Engine
	resolver *OffsetResolver
	renderer *Renderer
	log      *zap.Logger
}

func NewPipeline(engine *Engine, resolver *OffsetResolver, renderer *Renderer, log *zap.Logger) *Pipeline {
	if resolver == nil {
		resolver = NewOffsetResolver(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		engine:   engine,
		resolver: resolver,
		renderer: renderer,
		log:      log,
	}
}

// Update recomputes markers for the new input and starts a render
// cycle delivering them to sink. The returned handle cancels the
// cycle; Update itself cancels whatever cycle was still streaming.
func (p *Pipeline) Update(points []Point, zoom float64, viewport Bounds, sink Sink) *Cycle {
	results := p.engine.ClusterPoints(points, zoom, viewport)

	// Coincidences only matter once clustering is off; below the
	// threshold the cluster radius keeps markers apart.
	if zoom >= p.engine.Options().DisableZoom {
		results = p.resolver.Spread(results)
	}

	part := PartitionViewport(results, viewport)
	return p.renderer.Render(part, sink)
}

// Results runs the synchronous part of the pipeline only: cluster
// and spread, no partitioning or scheduling. Used by callers that
// want the full marker list at once.
func (p *Pipeline) Results(points []Point, zoom float64, viewport Bounds) []Result {
	results := p.engine.ClusterPoints(points, zoom, viewport)
	if zoom >= p.engine.Options().DisableZoom {
		results = p.resolver.Spread(results)
	}
	return results
}
