package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"web/markercluster/cluster"
	"web/markercluster/internal/config"
	"web/markercluster/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// rectBounds is the lat/lng rectangle the map client reports.
type rectBounds struct {
	North float64
	South float64
	East  float64
	West  float64
}

func (b rectBounds) Contains(lat, lng float64) bool {
	return lat >= b.South && lat <= b.North && lng >= b.West && lng <= b.East
}

// MarkerServer holds the current point set and the clustering stack.
type MarkerServer struct {
	mu     sync.RWMutex
	points []cluster.Point

	engine   *cluster.Engine
	resolver *cluster.OffsetResolver
	offload  *cluster.Offloader
	cfg      *config.Config
	log      *zap.Logger
}

func NewMarkerServer(cfg *config.Config, log *zap.Logger) (*MarkerServer, error) {
	cache, err := cluster.NewResultCache(cfg.CacheType, cfg.CacheEntries, cfg.CacheTTL, log)
	if err != nil {
		return nil, err
	}

	opts := cluster.Options{
		BaseRadius:  cfg.BaseRadius,
		DisableZoom: cfg.DisableZoom,
		MaxMarkers:  cfg.MaxMarkers,
	}

	return &MarkerServer{
		engine:   cluster.NewEngine(opts, cache, log),
		resolver: cluster.NewOffsetResolver(0),
		offload:  cluster.NewOffloader(cfg.OffloadTimeout, log),
		cfg:      cfg,
		log:      log,
	}, nil
}

func (s *MarkerServer) snapshotPoints() []cluster.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.points
}

func (s *MarkerServer) setPoints(points []cluster.Point) {
	s.mu.Lock()
	s.points = cluster.SanitizePoints(points)
	s.mu.Unlock()
}

// markers runs the synchronous clustering path for one request.
func (s *MarkerServer) markers(zoom float64, viewport cluster.Bounds) []cluster.Result {
	results := s.engine.ClusterPoints(s.snapshotPoints(), zoom, viewport)
	if zoom >= s.engine.Options().DisableZoom {
		results = s.resolver.Spread(results)
	}
	return results
}

// parseView reads zoom and the optional viewport rectangle. A request
// without all four edges gets a nil viewport, which means unbounded.
func parseView(c *gin.Context) (float64, cluster.Bounds, error) {
	zoom, err := strconv.ParseFloat(c.Query("zoom"), 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid zoom parameter")
	}

	if c.Query("north") == "" && c.Query("south") == "" &&
		c.Query("east") == "" && c.Query("west") == "" {
		return zoom, nil, nil
	}

	var b rectBounds
	for _, edge := range []struct {
		name string
		dst  *float64
	}{
		{"north", &b.North},
		{"south", &b.South},
		{"east", &b.East},
		{"west", &b.West},
	} {
		v, err := strconv.ParseFloat(c.Query(edge.name), 64)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid %s parameter", edge.name)
		}
		*edge.dst = v
	}
	return zoom, b, nil
}

func toGeoJSON(results []cluster.Result) map[string]interface{} {
	features := make([]map[string]interface{}, len(results))
	for i, r := range results {
		properties := map[string]interface{}{
			"cluster":     r.Kind == cluster.KindCluster,
			"point_count": r.Size,
			"id":          r.ID,
		}
		if r.Kind == cluster.KindCluster {
			properties["member_ids"] = r.MemberIDs
		} else if r.Point != nil && r.Point.Payload != nil {
			properties["payload"] = r.Point.Payload
		}

		features[i] = map[string]interface{}{
			"type": "Feature",
			"geometry": map[string]interface{}{
				"type":        "Point",
				"coordinates": []float64{r.Lng, r.Lat},
			},
			"properties": properties,
		}
	}

	return map[string]interface{}{
		"type":     "FeatureCollection",
		"features": features,
	}
}

func newRouter(server *MarkerServer, cfg *config.Config, log *zap.Logger) *gin.Engine {
	r := gin.Default()

	// Enable CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Replace the point set
	r.POST("/api/points", func(c *gin.Context) {
		var points []cluster.Point
		if err := c.BindJSON(&points); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid point list"})
			return
		}

		server.setPoints(points)
		kept := len(server.snapshotPoints())
		if dropped := len(points) - kept; dropped > 0 {
			log.Warn("Dropped malformed points on ingest",
				zap.Int("dropped", dropped), zap.Int("kept", kept))
		}
		c.JSON(http.StatusOK, gin.H{"accepted": kept})
	})

	// Get markers for zoom and optional viewport
	r.GET("/api/markers", func(c *gin.Context) {
		zoom, viewport, err := parseView(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, toGeoJSON(server.markers(zoom, viewport)))
	})

	// Stream markers incrementally via Server-Sent Events: the
	// in-viewport batch arrives first, the rest in chunked frames.
	r.GET("/api/markers/stream", func(c *gin.Context) {
		zoom, viewport, err := parseView(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		results := server.markers(zoom, viewport)
		part := cluster.PartitionViewport(results, viewport)

		renderer := cluster.NewRenderer(cluster.RendererOptions{
			MinChunk:  cfg.ChunkMin,
			MaxChunk:  cfg.ChunkMax,
			Scheduler: cluster.FrameScheduler{Interval: cfg.FrameInterval},
		}, log)

		// The sink runs on scheduler goroutines. After a disconnect
		// nobody reads batches, so the send must give up with the
		// request context instead of blocking a timer goroutine.
		ctx := c.Request.Context()
		batches := make(chan []cluster.Result, 8)
		cycle := renderer.Render(part, func(batch []cluster.Result) {
			select {
			case batches <- batch:
			case <-ctx.Done():
			}
		})

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			renderer.Cancel()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming unsupported"})
			return
		}

		writeBatch := func(batch []cluster.Result) {
			b, err := json.Marshal(toGeoJSON(batch))
			if err != nil {
				log.Warn("Failed to encode stream batch", zap.Error(err))
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", b)
			flusher.Flush()
		}

		for {
			select {
			case batch := <-batches:
				writeBatch(batch)
			case <-cycle.Done():
				// Drain batches delivered before Done closed.
				for {
					select {
					case batch := <-batches:
						writeBatch(batch)
					default:
						fmt.Fprint(c.Writer, "event: done\ndata: end\n\n")
						flusher.Flush()
						return
					}
				}
			case <-ctx.Done():
				renderer.Cancel()
				return
			}
		}
	})

	// Aggregate view of the current clustering
	r.GET("/api/markers/summary", func(c *gin.Context) {
		zoom, viewport, err := parseView(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, cluster.Summarize(server.markers(zoom, viewport)))
	})

	// Filter points by category on the worker
	r.POST("/api/filter", func(c *gin.Context) {
		var req struct {
			FilterConfig cluster.FilterConfig `json:"filterConfig"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter request"})
			return
		}

		res, err := server.offload.Process(c.Request.Context(), server.snapshotPoints(), req.FilterConfig)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	// Save the current point set
	r.POST("/api/snapshots", func(c *gin.Context) {
		points := server.snapshotPoints()
		filename := cluster.SnapshotFilename(cfg.SnapshotDir, len(points))

		start := time.Now()
		if err := cluster.SavePoints(filename, points); err != nil {
			log.Error("Failed to save snapshot", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Info("Saved snapshot",
			zap.String("file", filename),
			zap.Int("points", len(points)),
			zap.Duration("took", time.Since(start)))
		c.JSON(http.StatusOK, gin.H{"file": filename, "points": len(points)})
	})

	// List saved snapshots
	r.GET("/api/snapshots", func(c *gin.Context) {
		snapshots, err := cluster.ListSnapshots(cfg.SnapshotDir)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snapshots)
	})

	// Load a snapshot as the current point set
	r.POST("/api/snapshots/:id/load", func(c *gin.Context) {
		filename, err := cluster.FindSnapshotFile(cfg.SnapshotDir, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		points, err := cluster.LoadPoints(filename)
		if err != nil {
			log.Error("Failed to load snapshot",
				zap.String("file", filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		server.setPoints(points)
		log.Info("Loaded snapshot",
			zap.String("file", filename),
			zap.Int("points", len(points)),
			zap.Duration("took", time.Since(start)))
		c.JSON(http.StatusOK, gin.H{"file": filename, "points": len(points)})
	})

	return r
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.SnapshotDir, 0755); err != nil {
		log.Fatal("Failed to create snapshot directory",
			zap.String("dir", cfg.SnapshotDir), zap.Error(err))
	}

	server, err := NewMarkerServer(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize server", zap.Error(err))
	}
	defer server.offload.Close()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: newRouter(server, cfg, log),
	}

	go func() {
		log.Info("Server listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
}
