package cluster

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler defers a function to the host's next frame or tick. The
// returned cancel stops the callback if it has not fired yet.
// Injectable so tests can step delivery synchronously.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// FrameScheduler schedules on a timer, approximating one animation
// frame per chunk.
type FrameScheduler struct {
	Interval time.Duration
}

func (s FrameScheduler) Schedule(fn func()) func() {
	d := s.Interval
	if d <= 0 {
		d = 16 * time.Millisecond
	}
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Sink consumes delivered marker batches. Batches are additive:
// each call appends to what is already rendered.
type Sink func(batch []Result)

// CycleState is the renderer's per-cycle state machine.
type CycleState int32

const (
	// CycleIdle is the zero value and the terminal success state.
	CycleIdle CycleState = iota
	CycleStreaming
	CycleCancelled
)

func (s CycleState) String() string {
	switch s {
	case CycleStreaming:
		return "streaming"
	case CycleCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

const (
	DefaultMinChunk = 10
	DefaultMaxChunk = 50
)

// RendererOptions configures chunking and scheduling.
type RendererOptions struct {
	MinChunk  int
	MaxChunk  int
	Scheduler Scheduler
}

func (o RendererOptions) withDefaults() RendererOptions {
	if o.MinChunk <= 0 {
		o.MinChunk = DefaultMinChunk
	}
	if o.MaxChunk < o.MinChunk {
		o.MaxChunk = DefaultMaxChunk
		if o.MaxChunk < o.MinChunk {
			o.MaxChunk = o.MinChunk
		}
	}
	if o.Scheduler == nil {
		o.Scheduler = FrameScheduler{}
	}
	return o
}

// Renderer delivers a partition incrementally: the in-viewport slice
// synchronously for zero-latency first paint, then the out-of-
// viewport slice in adaptive chunks across frames. Starting a new
// render cancels the in-flight cycle first.
type Renderer struct {
	opts RendererOptions
	log  *zap.Logger

	mu      sync.Mutex
	current *Cycle
}

func NewRenderer(opts RendererOptions, log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{opts: opts.withDefaults(), log: log}
}

// Render starts a new cycle for the partition and returns its
// handle. Any previous cycle is cancelled before the synchronous
// in-viewport delivery.
func (r *Renderer) Render(p Partition, sink Sink) *Cycle {
	r.mu.Lock()
	if r.current != nil {
		r.current.Cancel()
	}
	// The cycle is Streaming before it is published as current, so a
	// superseding Render can cancel it at any point after this lock
	// is released.
	c := &Cycle{
		state:    CycleStreaming,
		pending:  p.OutOfViewport,
		sink:     sink,
		sched:    r.opts.Scheduler,
		minChunk: r.opts.MinChunk,
		maxChunk: r.opts.MaxChunk,
		done:     make(chan struct{}),
	}
	r.current = c
	r.mu.Unlock()

	r.log.Debug("Render cycle started",
		zap.Int("in_viewport", len(p.InViewport)),
		zap.Int("deferred", len(p.OutOfViewport)))

	c.start(p.InViewport)
	return c
}

// Cancel stops the in-flight cycle, if any.
func (r *Renderer) Cancel() {
	r.mu.Lock()
	c := r.current
	r.mu.Unlock()
	if c != nil {
		c.Cancel()
	}
}

// Cycle is one render cycle's scheduling state. It owns its chunk
// cursor; delivery order follows the partition's order, and
// cancellation simply prevents the next chunk from firing.
type Cycle struct {
	mu         sync.Mutex
	state      CycleState
	pending    []Result
	cursor     int
	sink       Sink
	sched      Scheduler
	minChunk   int
	maxChunk   int
	cancelFire func()
	done       chan struct{}
}

func (c *Cycle) start(inViewport []Result) {
	c.mu.Lock()
	cancelled := c.state != CycleStreaming
	c.mu.Unlock()

	if !cancelled && len(inViewport) > 0 {
		c.sink(inViewport)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CycleStreaming {
		return
	}
	if len(c.pending) == 0 {
		c.finishLocked()
		return
	}
	c.scheduleLocked()
}

// State reports the cycle's current state.
func (c *Cycle) State() CycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the cycle finishes or is cancelled.
func (c *Cycle) Done() <-chan struct{} { return c.done }

// Cancel stops in-flight delivery. Not an error: it is the normal
// terminal state whenever new input supersedes this cycle.
func (c *Cycle) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CycleStreaming {
		return
	}
	c.state = CycleCancelled
	if c.cancelFire != nil {
		c.cancelFire()
	}
	close(c.done)
}

func (c *Cycle) scheduleLocked() {
	c.cancelFire = c.sched.Schedule(c.deliverChunk)
}

func (c *Cycle) finishLocked() {
	c.state = CycleIdle
	close(c.done)
}

func (c *Cycle) deliverChunk() {
	c.mu.Lock()
	if c.state != CycleStreaming {
		c.mu.Unlock()
		return
	}
	size := c.chunkSize(len(c.pending) - c.cursor)
	batch := c.pending[c.cursor : c.cursor+size]
	c.cursor += size
	sink := c.sink
	c.mu.Unlock()

	sink(batch)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CycleStreaming {
		return
	}
	if c.cursor >= len(c.pending) {
		c.finishLocked()
		return
	}
	c.scheduleLocked()
}

// chunkSize scales with the remaining backlog so large result sets
// drain quickly while each chunk stays under a frame budget.
func (c *Cycle) chunkSize(remaining int) int {
	size := remaining / 4
	if size < c.minChunk {
		size = c.minChunk
	}
	if size > c.maxChunk {
		size = c.maxChunk
	}
	if size > remaining {
		size = remaining
	}
	return size
}
