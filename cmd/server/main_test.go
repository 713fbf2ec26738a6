package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"web/markercluster/cluster"
	"web/markercluster/internal/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*gin.Engine, *MarkerServer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		CacheType:      "memory",
		CacheEntries:   10,
		CacheTTL:       time.Minute,
		SnapshotDir:    t.TempDir(),
		ChunkMin:       10,
		ChunkMax:       50,
		FrameInterval:  time.Millisecond,
		OffloadTimeout: time.Second,
	}

	server, err := NewMarkerServer(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMarkerServer failed: %v", err)
	}
	t.Cleanup(server.offload.Close)

	return newRouter(server, cfg, zap.NewNop()), server
}

func TestMarkersEndpoint(t *testing.T) {
	router, server := newTestRouter(t)
	server.setPoints(cluster.GenerateTestPoints(50, 40.0, 41.0, -74.0, -73.0))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/markers?zoom=16", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status %d, body %s", w.Code, w.Body.String())
	}

	var geojson struct {
		Type     string           `json:"type"`
		Features []map[string]any `json:"features"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &geojson); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if geojson.Type != "FeatureCollection" {
		t.Errorf("Type: want FeatureCollection got %s", geojson.Type)
	}
	if len(geojson.Features) != 50 {
		t.Errorf("Expected 50 features, got %d", len(geojson.Features))
	}
}

func TestMarkersEndpointBadZoom(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/markers?zoom=nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status %d, want 400", w.Code)
	}
}

func TestStreamEndpointCompletes(t *testing.T) {
	router, server := newTestRouter(t)
	server.setPoints(cluster.GenerateTestPoints(500, 40.0, 41.0, -74.0, -73.0))

	// A viewport away from every point forces the chunked path.
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET",
		"/api/markers/stream?zoom=8&north=1&south=0&east=1&west=0", nil)
	router.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "data: ") {
		t.Error("Stream produced no data events")
	}
	if !strings.Contains(body, "event: done") {
		t.Error("Stream did not finish with a done event")
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type: %s", ct)
	}
}

func TestStreamEndpointClientDisconnect(t *testing.T) {
	router, server := newTestRouter(t)
	server.setPoints(cluster.GenerateTestPoints(5000, 40.0, 41.0, -74.0, -73.0))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET",
		"/api/markers/stream?zoom=8&north=1&south=0&east=1&west=0", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}()

	// Disconnect mid-stream. The handler and its render cycle must
	// wind down instead of blocking on an unread batch channel.
	time.Sleep(3 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stream handler did not return after client disconnect")
	}
}

func TestSummaryEndpoint(t *testing.T) {
	router, server := newTestRouter(t)
	server.setPoints(cluster.GenerateTestPoints(30, 40.0, 41.0, -74.0, -73.0))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/markers/summary?zoom=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Status %d", w.Code)
	}

	var s cluster.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("Bad summary body: %v", err)
	}
	if s.TotalPoints != 30 {
		t.Errorf("TotalPoints: want 30 got %d", s.TotalPoints)
	}
}
