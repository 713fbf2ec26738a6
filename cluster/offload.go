package cluster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message types for the worker envelope protocol. Everything that
// crosses the worker boundary is JSON so the worker could move to a
// separate process without changing the contract.
const (
	msgTypeReady   = "ready"
	msgTypeProcess = "process"
	msgTypeResult  = "result"
	msgTypeError   = "error"
)

// DefaultOffloadTimeout bounds how long a caller waits for the
// worker before computing the same result on its own goroutine.
const DefaultOffloadTimeout = 5 * time.Second

// FilterConfig toggles payload categories on or off. An empty
// config passes every point.
type FilterConfig map[string]bool

// FilterResult is the filtered point list plus aggregate counts.
type FilterResult struct {
	Points  []Point        `json:"points"`
	Total   int            `json:"total"`
	Matched int            `json:"matched"`
	Counts  map[string]int `json:"counts"`
}

// FilterPoints applies the category toggles synchronously. It is
// both the worker's implementation and the fallback path, so the
// two always agree.
func FilterPoints(points []Point, cfg FilterConfig) FilterResult {
	res := FilterResult{
		Total:  len(points),
		Counts: make(map[string]int),
	}
	for _, p := range points {
		cat := pointCategory(p)
		if len(cfg) > 0 && !cfg[cat] {
			continue
		}
		res.Points = append(res.Points, p)
		res.Matched++
		if cat != "" {
			res.Counts[cat]++
		}
	}
	return res
}

func pointCategory(p Point) string {
	if p.Payload == nil {
		return ""
	}
	if cat, ok := p.Payload["category"].(string); ok {
		return cat
	}
	return ""
}

type envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type processPayload struct {
	Points       []Point      `json:"points"`
	FilterConfig FilterConfig `json:"filterConfig"`
}

// Offloader runs the filter/statistics step on a worker goroutine
// behind asynchronous message passing. Each request carries a uuid
// correlation id; a response for an unknown id is discarded, and a
// request that sees no response within the timeout falls back to
// the synchronous computation.
type Offloader struct {
	timeout time.Duration
	log     *zap.Logger
	handler func([]Point, FilterConfig) FilterResult

	requests  chan []byte
	responses chan []byte

	mu      sync.Mutex
	pending map[string]chan envelope

	ready     chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

// NewOffloader starts the worker. A non-positive timeout uses
// DefaultOffloadTimeout.
func NewOffloader(timeout time.Duration, log *zap.Logger) *Offloader {
	return newOffloader(timeout, log, FilterPoints)
}

func newOffloader(timeout time.Duration, log *zap.Logger, handler func([]Point, FilterConfig) FilterResult) *Offloader {
	if timeout <= 0 {
		timeout = DefaultOffloadTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	o := &Offloader{
		timeout:   timeout,
		log:       log,
		handler:   handler,
		requests:  make(chan []byte, 1),
		responses: make(chan []byte, 1),
		pending:   make(map[string]chan envelope),
		ready:     make(chan struct{}),
		quit:      make(chan struct{}),
	}
	go o.worker()
	go o.dispatch()
	return o
}

// Ready is closed once the worker has announced itself.
func (o *Offloader) Ready() <-chan struct{} { return o.ready }

// Close stops the worker. In-flight callers fall back on timeout.
func (o *Offloader) Close() {
	o.closeOnce.Do(func() { close(o.quit) })
}

// Process filters points on the worker. On timeout or worker error
// it logs a warning and computes the same result synchronously;
// only context cancellation surfaces as an error.
func (o *Offloader) Process(ctx context.Context, points []Point, cfg FilterConfig) (FilterResult, error) {
	id := uuid.New().String()
	reply := make(chan envelope, 1)

	o.mu.Lock()
	o.pending[id] = reply
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.pending, id)
		o.mu.Unlock()
	}()

	payload, err := json.Marshal(processPayload{Points: points, FilterConfig: cfg})
	if err != nil {
		o.log.Warn("Failed to encode offload request, computing inline", zap.Error(err))
		return o.handler(points, cfg), nil
	}
	req, _ := json.Marshal(envelope{Type: msgTypeProcess, RequestID: id, Payload: payload})

	select {
	case o.requests <- req:
	case <-o.quit:
		o.log.Warn("Worker is shut down, computing inline", zap.String("request_id", id))
		return o.handler(points, cfg), nil
	case <-ctx.Done():
		return FilterResult{}, ctx.Err()
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case resp := <-reply:
		if resp.Type == msgTypeError {
			o.log.Warn("Worker reported an error, computing inline",
				zap.String("request_id", id), zap.String("error", resp.Error))
			return o.handler(points, cfg), nil
		}
		var res FilterResult
		if err := json.Unmarshal(resp.Payload, &res); err != nil {
			o.log.Warn("Malformed worker response, computing inline",
				zap.String("request_id", id), zap.Error(err))
			return o.handler(points, cfg), nil
		}
		return res, nil
	case <-timer.C:
		o.log.Warn("Worker timed out, computing inline",
			zap.String("request_id", id), zap.Duration("timeout", o.timeout))
		return o.handler(points, cfg), nil
	case <-ctx.Done():
		return FilterResult{}, ctx.Err()
	}
}

func (o *Offloader) worker() {
	defer close(o.responses)

	ready, _ := json.Marshal(envelope{Type: msgTypeReady})
	o.responses <- ready

	for {
		select {
		case <-o.quit:
			return
		case raw := <-o.requests:
			var req envelope
			if err := json.Unmarshal(raw, &req); err != nil || req.Type != msgTypeProcess {
				continue
			}

			var in processPayload
			if err := json.Unmarshal(req.Payload, &in); err != nil {
				resp, _ := json.Marshal(envelope{
					Type:      msgTypeError,
					RequestID: req.RequestID,
					Error:     err.Error(),
				})
				o.responses <- resp
				continue
			}

			out, _ := json.Marshal(o.handler(in.Points, in.FilterConfig))
			resp, _ := json.Marshal(envelope{
				Type:      msgTypeResult,
				RequestID: req.RequestID,
				Payload:   out,
			})
			o.responses <- resp
		}
	}
}

func (o *Offloader) dispatch() {
	for raw := range o.responses {
		var resp envelope
		if err := json.Unmarshal(raw, &resp); err != nil {
			o.log.Warn("Discarding undecodable worker message", zap.Error(err))
			continue
		}

		if resp.Type == msgTypeReady {
			close(o.ready)
			continue
		}

		o.mu.Lock()
		reply, ok := o.pending[resp.RequestID]
		if ok {
			// One response per id: later duplicates miss here.
			delete(o.pending, resp.RequestID)
		}
		o.mu.Unlock()

		if !ok {
			o.log.Debug("Discarding response for unknown request",
				zap.String("request_id", resp.RequestID))
			continue
		}
		reply <- resp
	}
}
