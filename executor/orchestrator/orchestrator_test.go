package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/twenty48/eval"
	"github.com/brensch/twenty48/executor/expectimax"
	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/game"
)

// gated answers with the board's row 0 as the score once released, or
// unwinds when its context ends.
type gated struct {
	release chan struct{}
	started chan uint64
}

func newGated() *gated {
	return &gated{release: make(chan struct{}), started: make(chan uint64, 16)}
}

func (g *gated) BestMove(ctx context.Context, b game.Board, budget search.Budget) (search.Result, error) {
	g.started <- uint64(b)
	select {
	case <-g.release:
		return search.Result{Direction: game.Left, Score: float64(b.Row(0)), Valid: true}, nil
	case <-ctx.Done():
		return search.Result{}, ctx.Err()
	}
}

func instant() search.Engine {
	return search.EngineFunc(func(ctx context.Context, b game.Board, budget search.Budget) (search.Result, error) {
		return search.Result{Direction: game.Down, Score: float64(b), Valid: true}, nil
	})
}

func wait(t *testing.T, f *Future) (Delivery, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

func TestSubmitDelivers(t *testing.T) {
	o := New(instant(), nil)
	defer o.Close()

	assert.Equal(t, Idle, o.State())
	f := o.Submit(game.Board(7), search.Budget{})
	d, err := wait(t, f)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Generation)
	assert.Equal(t, f.Generation(), d.Generation)
	assert.Equal(t, game.Down, d.Result.Direction)
	assert.Equal(t, 7.0, d.Result.Score)
	require.Eventually(t, func() bool { return o.State() == Done }, time.Second, time.Millisecond)
}

func TestNewRequestSupersedesInflight(t *testing.T) {
	g := newGated()
	o := New(g, nil)
	defer o.Close()

	var mu sync.Mutex
	var delivered []uint64
	first := o.SubmitFunc(game.Board(1), search.Budget{}, func(d Delivery) {
		mu.Lock()
		delivered = append(delivered, d.Generation)
		mu.Unlock()
	})
	<-g.started
	require.Equal(t, Running, o.State())

	second := o.Submit(game.Board(2), search.Budget{})
	<-g.started
	close(g.release)

	d, err := wait(t, second)
	require.NoError(t, err)
	assert.Equal(t, second.Generation(), d.Generation)
	assert.Greater(t, second.Generation(), first)
	assert.Equal(t, 2.0, d.Result.Score)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, delivered, "stale generation was delivered")
	mu.Unlock()
}

func TestQueuedRequestIsReplaced(t *testing.T) {
	g := newGated()
	o := New(g, nil)
	defer o.Close()

	running := o.Submit(game.Board(1), search.Budget{})
	<-g.started

	// Both land while the first unwinds; only the last one runs.
	queued := o.Submit(game.Board(2), search.Budget{})
	last := o.Submit(game.Board(3), search.Budget{})

	_, err := wait(t, running)
	assert.ErrorIs(t, err, search.ErrStopped)
	_, err = wait(t, queued)
	assert.ErrorIs(t, err, search.ErrStopped)

	close(g.release)
	d, err := wait(t, last)
	require.NoError(t, err)
	assert.Equal(t, 3.0, d.Result.Score)
}

func TestRapidSubmissionsDeliverOnlyCurrent(t *testing.T) {
	engine := expectimax.New(eval.Default(), nil, expectimax.Options{Depth: 3, Pruning: true})
	o := New(engine, nil)
	defer o.Close()

	var mu sync.Mutex
	var gens []uint64
	var lastGen uint64
	board := game.MustFromGrid(game.Grid{{2, 4, 8, 16}, {0, 2, 4, 64}, {0, 0, 2, 128}, {0, 0, 0, 256}})
	for i := 0; i < 50; i++ {
		lastGen = o.SubmitFunc(board, search.Budget{}, func(d Delivery) {
			mu.Lock()
			gens = append(gens, d.Generation)
			mu.Unlock()
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gens) > 0 && gens[len(gens)-1] == lastGen
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(gens); i++ {
		assert.Greater(t, gens[i], gens[i-1])
	}
}

func TestCloseCancelsOutstanding(t *testing.T) {
	g := newGated()
	o := New(g, nil)

	f := o.Submit(game.Board(1), search.Budget{})
	<-g.started
	require.NoError(t, o.Close())

	_, err := wait(t, f)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, Cancelled, o.State())

	_, err = wait(t, o.Submit(game.Board(2), search.Budget{}))
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, o.Close())
}

func TestCancelGeneration(t *testing.T) {
	g := newGated()
	o := New(g, nil)
	defer o.Close()

	f := o.Submit(game.Board(1), search.Budget{})
	<-g.started
	o.Cancel(f.Generation())

	_, err := wait(t, f)
	assert.ErrorIs(t, err, context.Canceled)
	require.Eventually(t, func() bool { return o.State() == Cancelled }, time.Second, time.Millisecond)
}

func TestBestMoveSynchronous(t *testing.T) {
	o := New(instant(), nil)
	defer o.Close()
	res, err := o.BestMove(context.Background(), game.Board(9), search.Budget{})
	require.NoError(t, err)
	assert.Equal(t, game.Down, res.Direction)

	g := newGated()
	slow := New(g, nil)
	defer slow.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = slow.BestMove(ctx, game.Board(1), search.Budget{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUncontendedRequestReachesCallback(t *testing.T) {
	o := New(instant(), nil)
	defer o.Close()

	got := make(chan Delivery, 1)
	gen := o.SubmitFunc(game.Board(5), search.Budget{}, func(d Delivery) { got <- d })

	select {
	case d := <-got:
		assert.Equal(t, gen, d.Generation)
		assert.Equal(t, 5.0, d.Result.Score)
		assert.True(t, d.Result.Valid)
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
	require.Eventually(t, func() bool { return o.State() == Done }, time.Second, time.Millisecond)

	res, err := o.BestMove(context.Background(), game.Board(5), search.Budget{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Score)
	assert.Equal(t, Done, o.State())
}

func TestRequestLandingBeforeDeliveryWins(t *testing.T) {
	o := New(instant(), nil)
	defer o.Close()

	var mu sync.Mutex
	var delivered []uint64
	record := func(d Delivery) {
		mu.Lock()
		delivered = append(delivered, d.Generation)
		mu.Unlock()
	}

	var once sync.Once
	var newer uint64
	settleHook = func(gen uint64) {
		once.Do(func() { newer = o.SubmitFunc(game.Board(2), search.Budget{}, record) })
	}
	defer func() { settleHook = nil }()

	first := o.Submit(game.Board(1), search.Budget{})
	_, err := wait(t, first)
	assert.ErrorIs(t, err, search.ErrStopped)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	}, 5*time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []uint64{newer}, delivered)
	mu.Unlock()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "cancelled", Cancelled.String())
}
