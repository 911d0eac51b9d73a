// Package orchestrator runs an engine on a dedicated worker goroutine.
//
// Requests are last-wins: submitting a board cancels whatever is in flight
// and replaces anything still queued. Every request carries a generation
// number and only the newest generation is ever delivered.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/game"
)

var ErrClosed = errors.New("orchestrator closed")

// settleHook runs between settling a result and delivering it. Tests use it
// to land a request in that window.
var settleHook func(gen uint64)

// State of the most recent request.
type State int32

const (
	Idle State = iota
	Queued
	Running
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Delivery is a result tagged with the generation that produced it.
type Delivery struct {
	Generation uint64
	Result     search.Result
}

type request struct {
	board    game.Board
	budget   search.Budget
	gen      uint64
	future   *Future
	callback func(Delivery)
}

// Orchestrator owns one worker goroutine.
type Orchestrator struct {
	engine search.Engine
	logger *slog.Logger

	generation atomic.Uint64
	state      atomic.Int32

	mu       sync.Mutex
	pending  *request
	inflight *request
	cancel   context.CancelFunc
	closed   bool

	wake     chan struct{}
	life     context.Context
	shutdown context.CancelFunc
	done     chan struct{}
}

// New starts the worker. logger may be nil.
func New(engine search.Engine, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	life, shutdown := context.WithCancel(context.Background())
	o := &Orchestrator{
		engine:   engine,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		life:     life,
		shutdown: shutdown,
		done:     make(chan struct{}),
	}
	go o.loop()
	return o
}

// State reports where the latest request is.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Generation is the id of the latest request, 0 before the first.
func (o *Orchestrator) Generation() uint64 { return o.generation.Load() }

// Submit queues a search and returns its future.
func (o *Orchestrator) Submit(b game.Board, budget search.Budget) *Future {
	f := newFuture()
	o.enqueue(&request{board: b, budget: budget, future: f})
	return f
}

// SubmitFunc queues a search whose result is passed to fn, unless a newer
// request supersedes it first. It returns the request's generation.
func (o *Orchestrator) SubmitFunc(b game.Board, budget search.Budget, fn func(Delivery)) uint64 {
	f := newFuture()
	o.enqueue(&request{board: b, budget: budget, future: f, callback: fn})
	return f.Generation()
}

// BestMove submits b and waits for it. If ctx ends first the request is
// cancelled.
func (o *Orchestrator) BestMove(ctx context.Context, b game.Board, budget search.Budget) (search.Result, error) {
	f := o.Submit(b, budget)
	d, err := f.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			o.Cancel(f.Generation())
		}
		return search.NoMove(), err
	}
	return d.Result, nil
}

func (o *Orchestrator) enqueue(req *request) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		req.future.resolve(Delivery{}, ErrClosed)
		return
	}
	req.gen = o.generation.Add(1)
	req.future.gen = req.gen
	superseded := o.pending
	o.pending = req
	if o.cancel != nil {
		o.cancel()
	}
	o.state.Store(int32(Queued))
	o.mu.Unlock()

	if superseded != nil {
		superseded.future.resolve(Delivery{Generation: superseded.gen}, search.ErrStopped)
	}
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Cancel abandons generation gen if it is still queued or running. Newer
// requests are unaffected.
func (o *Orchestrator) Cancel(gen uint64) {
	o.mu.Lock()
	var dropped *request
	if o.pending != nil && o.pending.gen == gen {
		dropped = o.pending
		o.pending = nil
		o.state.Store(int32(Cancelled))
	}
	if o.inflight != nil && o.inflight.gen == gen && o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
	if dropped != nil {
		dropped.future.resolve(Delivery{Generation: gen}, context.Canceled)
	}
}

// Close stops the worker, cancelling any running search and resolving
// every outstanding future with ErrClosed. It is safe to call twice.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return nil
	}
	o.closed = true
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	if pending != nil {
		pending.future.resolve(Delivery{Generation: pending.gen}, ErrClosed)
	}
	o.shutdown()
	<-o.done
	o.state.Store(int32(Cancelled))
	return nil
}

func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.life.Done():
			return
		case <-o.wake:
		}
		for o.runNext() {
		}
	}
}

// runNext runs the pending request, if any, and reports whether it did.
func (o *Orchestrator) runNext() bool {
	o.mu.Lock()
	req := o.pending
	if req == nil || o.closed {
		o.mu.Unlock()
		return false
	}
	o.pending = nil
	ctx, cancel := context.WithCancel(o.life)
	o.inflight, o.cancel = req, cancel
	o.state.Store(int32(Running))
	o.mu.Unlock()

	res, err := o.engine.BestMove(ctx, req.board, req.budget)
	ctxErr := ctx.Err()
	cancel()

	o.mu.Lock()
	o.inflight, o.cancel = nil, nil
	stale := req.gen != o.generation.Load()
	closed := o.closed
	switch {
	case closed:
		err = ErrClosed
	case stale:
		err = search.ErrStopped
	case err == nil && ctxErr != nil:
		err = ctxErr
	}
	if err == nil {
		o.state.Store(int32(Done))
	} else if o.pending == nil {
		o.state.Store(int32(Cancelled))
	}
	o.mu.Unlock()

	if settleHook != nil {
		settleHook(req.gen)
	}
	// A newer request may have arrived since the check above.
	if err == nil && req.gen != o.generation.Load() {
		err = search.ErrStopped
	}
	if err != nil {
		o.logger.Debug("search discarded", "generation", req.gen, "error", err)
		req.future.resolve(Delivery{Generation: req.gen}, err)
		return true
	}
	d := Delivery{Generation: req.gen, Result: res}
	req.future.resolve(d, nil)
	if req.callback != nil && req.gen == o.generation.Load() {
		req.callback(d)
	}
	return true
}

// Future is the pending result of one request.
type Future struct {
	gen  uint64
	once sync.Once
	done chan struct{}
	d    Delivery
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Generation is the request's id.
func (f *Future) Generation() uint64 { return f.gen }

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends. A superseded request
// resolves with search.ErrStopped; a closed orchestrator with ErrClosed.
func (f *Future) Wait(ctx context.Context) (Delivery, error) {
	select {
	case <-f.done:
		return f.d, f.err
	case <-ctx.Done():
		return Delivery{Generation: f.gen}, ctx.Err()
	}
}

func (f *Future) resolve(d Delivery, err error) {
	f.once.Do(func() {
		f.d, f.err = d, err
		close(f.done)
	})
}

var _ search.Engine = (*Orchestrator)(nil)
