package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fishdbc/emit"
	"github.com/hupe1980/fishdbc/internal/hnsw"
	"github.com/hupe1980/fishdbc/internal/mst"
	"github.com/hupe1980/fishdbc/internal/reach"
	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/oracle"
)

// closeFlushTimeout bounds the last outbox delivery attempt on Close.
const closeFlushTimeout = 5 * time.Second

type point struct {
	id     string
	ref    string
	coarse []float32
	seq    uint64 // sequence of the current version
	first  uint64 // sequence of the first insertion
	state  model.PointState
}

type job struct {
	ctx  context.Context
	recs []model.SequencedRecord
	fn   func(ctx context.Context) error
	done chan error
}

type flight struct {
	seq    uint64
	cancel context.CancelFunc
}

// View is the committed state published to readers after each cycle.
// A View is immutable.
type View struct {
	// Seq is the last insertion sequence reflected in the view.
	Seq         uint64
	Points      int
	Assignments map[string]model.Assignment
	Clusters    []model.Cluster
	Dendrogram  []model.Merge
	Degraded    int
	Rebuilds    uint64
	Cycles      uint64
	Pending     int

	ids []string
}

// Ack reports the outcome of Insert per record.
type Ack struct {
	// Seqs holds the assigned insertion sequence, or 0 for rejected records.
	Seqs []uint64
	// Errors holds a *MalformedInputError for rejected records.
	Errors   []error
	Accepted int
}

// Engine is the incremental update manager. A single writer goroutine owns
// the index, the reachability table, the spanning forest and the outbox;
// readers use the published View and the last committed index graph.
type Engine struct {
	opts    Options
	oracle  oracle.Oracle
	logger  *slog.Logger
	metrics MetricsObserver

	mu       sync.Mutex
	seq      uint64
	queue    []*job
	latest   map[string]uint64
	inflight map[string]flight
	closed   bool

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	stopErr error
	ctx     context.Context
	cancel  context.CancelFunc

	// Writer state.
	index      *hnsw.HNSW
	reach      *reach.Table
	forest     *mst.Forest
	points     []point
	handles    map[string]model.Handle
	ids        []string
	touched    *roaring.Bitmap
	degraded   *roaring.Bitmap
	outbox     *emit.Outbox
	flushed    map[string]model.Assignment
	merges     []model.Merge
	applied    uint64
	cycles     uint64
	rebuilds   uint64
	healthy    bool
	recovering bool

	view atomic.Pointer[View]
}

// New creates an engine around the given oracle and starts its writer.
func New(orc oracle.Oracle, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if orc == nil {
		return nil, errors.New("engine: oracle is required")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("engine: invalid dimension %d", opts.Dimension)
	}
	opts.normalize()

	index, err := hnsw.New(func(o *hnsw.Options) {
		o.Dimension = opts.Dimension
		o.M = opts.M
		o.EF = opts.EF
		o.DistanceType = opts.Metric
		o.RandomSeed = opts.Seed
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:     opts,
		oracle:   orc,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		latest:   make(map[string]uint64),
		inflight: make(map[string]flight),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		index:    index,
		outbox:   emit.NewOutbox(),
	}
	e.reset()
	e.flushed = make(map[string]model.Assignment)
	e.healthy = e.available()
	if opts.PointLog != nil {
		e.seq = opts.PointLog.LastSeq()
	}
	e.publish(map[string]model.Assignment{}, nil)

	go e.run()
	return e, nil
}

// reset drops all derived state. The outbox and the flushed set survive.
func (e *Engine) reset() {
	e.index.Reset()
	e.reach = reach.New(func(o *reach.Options) {
		o.MinSamples = e.opts.MinSamples
		o.Capacity = e.opts.KRescale
	})
	e.forest = mst.New(0)
	e.points = nil
	e.handles = make(map[string]model.Handle)
	e.ids = nil
	e.touched = roaring.New()
	e.degraded = roaring.New()
	e.merges = nil
	e.applied = 0
}

// Options returns the normalized options.
func (e *Engine) Options() Options { return e.opts }

// LastSeq returns the highest acknowledged insertion sequence.
func (e *Engine) LastSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Insert validates, sequences and logs recs, then waits until the cycle
// processing them has committed. Malformed records are rejected individually
// and reported in the Ack; they never fail the batch.
func (e *Engine) Insert(ctx context.Context, recs []model.Record) (Ack, error) {
	ack := Ack{Seqs: make([]uint64, len(recs)), Errors: make([]error, len(recs))}
	accepted := make([]int, 0, len(recs))
	for i, r := range recs {
		if err := validateRecord(r, e.opts.Dimension); err != nil {
			ack.Errors[i] = err
			continue
		}
		accepted = append(accepted, i)
	}
	if len(accepted) == 0 {
		return ack, nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ack, ErrClosed
	}
	batch := make([]model.SequencedRecord, len(accepted))
	for j, i := range accepted {
		r := recs[i]
		r.Coarse = slices.Clone(r.Coarse)
		batch[j] = model.SequencedRecord{Seq: e.seq + uint64(j) + 1, Record: r}
	}
	if e.opts.PointLog != nil {
		if err := e.opts.PointLog.Append(ctx, batch); err != nil {
			e.mu.Unlock()
			return ack, fmt.Errorf("engine: append point log: %w", err)
		}
	}
	e.seq += uint64(len(batch))
	for j, i := range accepted {
		rec := batch[j]
		if f, ok := e.inflight[rec.Record.ID]; ok && f.seq < rec.Seq {
			f.cancel()
		}
		e.latest[rec.Record.ID] = rec.Seq
		ack.Seqs[i] = rec.Seq
	}
	ack.Accepted = len(batch)
	j := &job{ctx: e.ctx, recs: batch, done: make(chan error, 1)}
	e.queue = append(e.queue, j)
	e.mu.Unlock()
	e.signal()

	select {
	case err := <-j.done:
		return ack, err
	case <-ctx.Done():
		return ack, ctx.Err()
	}
}

// do runs fn on the writer goroutine and waits for its result.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.queue = append(e.queue, j)
	e.mu.Unlock()
	e.signal()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.stopped)

	var tick <-chan time.Time
	if e.opts.MaintenanceInterval > 0 {
		t := time.NewTicker(e.opts.MaintenanceInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-e.wake:
			e.drain()
		case <-tick:
			if err := e.maintain(e.ctx); err != nil {
				e.logger.Warn("maintenance failed", "error", err)
			}
		case <-e.stop:
			e.drain()
			e.stopErr = e.shutdown()
			return
		}
	}
}

func (e *Engine) next() []*job {
	e.mu.Lock()
	defer e.mu.Unlock()
	jobs := e.queue
	e.queue = nil
	return jobs
}

// drain processes queued jobs in submission order. Consecutive insert jobs
// are coalesced into one cycle of at most MaxBatch records.
func (e *Engine) drain() {
	for jobs := e.next(); len(jobs) > 0; jobs = e.next() {
		for len(jobs) > 0 {
			if j := jobs[0]; j.fn != nil {
				jobs = jobs[1:]
				j.done <- j.fn(j.ctx)
				continue
			}

			var (
				batch []model.SequencedRecord
				group []*job
			)
			for len(jobs) > 0 && jobs[0].fn == nil {
				if len(batch) > 0 && len(batch)+len(jobs[0].recs) > e.opts.MaxBatch {
					break
				}
				batch = append(batch, jobs[0].recs...)
				group = append(group, jobs[0])
				jobs = jobs[1:]
			}
			err := e.cycle(e.ctx, batch)
			for _, j := range group {
				j.done <- err
			}
		}
	}
}

// shutdown makes a last delivery attempt for assignments still in the
// outbox.
func (e *Engine) shutdown() error {
	if e.outbox.Len() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(e.ctx, closeFlushTimeout)
	defer cancel()
	e.retry(ctx)
	if n := e.outbox.Len(); n > 0 {
		e.logger.Error("closing with undelivered assignments", "pending", n)
		return fmt.Errorf("%w: %d assignments not emitted", ErrEmitPending, n)
	}
	return nil
}

// Close stops the writer after the queued jobs have been processed and the
// outbox has been flushed. Assignments that still cannot be delivered are
// reported as ErrEmitPending. The collaborators passed in Options are not
// closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stop)
	<-e.stopped
	e.cancel()
	return e.stopErr
}

// View returns the last committed view.
func (e *Engine) View() *View { return e.view.Load() }

// Assignment returns the committed assignment of a point.
func (e *Engine) Assignment(id string) (model.Assignment, bool) {
	a, ok := e.view.Load().Assignments[id]
	return a, ok
}

// Health returns a point-in-time health summary.
func (e *Engine) Health() model.Health {
	v := e.view.Load()
	return model.Health{
		OracleAvailable: e.available(),
		DegradedPoints:  v.Degraded,
		Points:          v.Points,
		Clusters:        len(v.Clusters),
		Rebuilds:        v.Rebuilds,
		LastSeq:         v.Seq,
		PendingEmits:    v.Pending,
	}
}

// Search returns the approximate coarse nearest neighbors of q from the last
// committed index graph. It never blocks the writer.
func (e *Engine) Search(ctx context.Context, q []float32, k int) ([]model.Neighbor, error) {
	res, err := e.index.Search(ctx, q, k, 0)
	if err != nil {
		return nil, err
	}
	ids := e.view.Load().ids
	out := make([]model.Neighbor, 0, len(res))
	for _, r := range res {
		if int(r.ID) >= len(ids) {
			continue
		}
		out = append(out, model.Neighbor{ID: ids[r.ID], Distance: float64(r.Distance)})
	}
	return out, nil
}

// Neighbors returns the precise neighbor list and core distance of a point.
func (e *Engine) Neighbors(ctx context.Context, id string) ([]model.Neighbor, float64, error) {
	var (
		out  []model.Neighbor
		core float64
	)
	err := e.do(ctx, func(context.Context) error {
		h, ok := e.handles[id]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		for _, n := range e.reach.Neighbors(h) {
			out = append(out, model.Neighbor{ID: e.points[n.ID].id, Distance: n.Distance, Degraded: n.Degraded})
		}
		core = e.reach.Core(h)
		return nil
	})
	return out, core, err
}

// State returns the processing state of a point.
func (e *Engine) State(ctx context.Context, id string) (model.PointState, error) {
	var st model.PointState
	err := e.do(ctx, func(context.Context) error {
		h, ok := e.handles[id]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		st = e.points[h].state
		return nil
	})
	return st, err
}

// Rebuild forces a full rebuild of the spanning forest and re-derives the
// clustering.
func (e *Engine) Rebuild(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		e.rebuild(ctx, "requested")
		e.assign(ctx)
		return nil
	})
}

// Recompute rescores degraded points and rebuilds if any recovered.
func (e *Engine) Recompute(ctx context.Context) error {
	return e.do(ctx, e.maintain)
}

// Verify checks the structural invariants of the spanning forest.
func (e *Engine) Verify(ctx context.Context) error {
	return e.do(ctx, func(context.Context) error {
		if err := e.forest.Verify(); err != nil {
			return &InvariantViolationError{Reason: err.Error()}
		}
		return nil
	})
}

// ForestEdges returns the current spanning forest edges.
func (e *Engine) ForestEdges(ctx context.Context) ([]mst.Edge, error) {
	var edges []mst.Edge
	err := e.do(ctx, func(context.Context) error {
		edges = e.forest.Edges()
		return nil
	})
	return edges, err
}

func (e *Engine) available() bool {
	if hr, ok := e.oracle.(oracle.HealthReporter); ok {
		return hr.Healthy()
	}
	return true
}
