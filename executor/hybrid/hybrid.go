// Package hybrid runs expectimax and MCTS side by side and arbitrates
// between their answers.
package hybrid

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"lukechampine.com/frand"

	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/game"
)

const (
	// DefaultMctsWeight is the base probability of siding with MCTS when
	// the engines disagree.
	DefaultMctsWeight = 0.3
	// PinnedWeight disables board-dependent adjustment for a weight at or
	// above it.
	PinnedWeight         = 0.99
	DefaultCacheCapacity = 1 << 16
)

// Config holds arbiter configuration
type Config struct {
	MctsWeight    float64
	CacheCapacity int
	Logger        *slog.Logger
}

// Arbiter is a search.Engine.
type Arbiter struct {
	expectimax search.Engine
	mcts       search.Engine
	cfg        Config

	mu    sync.RWMutex
	cache map[game.Board]game.Direction

	rngMu sync.Mutex
	rng   *frand.RNG
}

// New builds an Arbiter over the two engines. cfg.MctsWeight is taken as
// given, so zero means "never side with MCTS".
func New(expectimax, mcts search.Engine, cfg Config) *Arbiter {
	cfg.MctsWeight = search.Clamp(cfg.MctsWeight, 0, 1)
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Arbiter{
		expectimax: expectimax,
		mcts:       mcts,
		cfg:        cfg,
		cache:      make(map[game.Board]game.Direction),
		rng:        frand.New(),
	}
}

// DynamicWeights shifts the base MCTS weight by board state: open boards
// favour MCTS, crowded boards and big tiles favour expectimax. Each step
// scales one weight, clamps it to 1 and gives the other the complement. A
// pinned weight is returned unchanged.
func DynamicWeights(base float64, b game.Board) (mcts, expectimax float64) {
	mcts = search.Clamp(base, 0, 1)
	expectimax = 1 - mcts
	if mcts >= PinnedWeight || expectimax >= PinnedWeight {
		return mcts, expectimax
	}

	empties := b.EmptyCount()
	if empties >= 10 {
		mcts = min(mcts*1.5, 1)
		expectimax = 1 - mcts
	}
	if empties <= 4 {
		expectimax = min(expectimax*1.5, 1)
		mcts = 1 - expectimax
	}
	if b.MaxTile() >= 1024 {
		expectimax = min(expectimax*1.2, 1)
		mcts = 1 - expectimax
	}
	return mcts, expectimax
}

// Greedy picks the legal direction that leaves the most empty cells, ties
// in enumeration order.
func Greedy(b game.Board) (game.Direction, bool) {
	valid := lo.Filter(game.Directions[:], func(d game.Direction, _ int) bool {
		return b.CanMove(d)
	})
	if len(valid) == 0 {
		return game.DefaultDirection, false
	}
	return lo.MaxBy(valid, func(a, c game.Direction) bool {
		return b.Move(a).EmptyCount() > b.Move(c).EmptyCount()
	}), true
}

type answer struct {
	engine string
	res    search.Result
	err    error
}

// BestMove implements search.Engine.
func (a *Arbiter) BestMove(ctx context.Context, b game.Board, budget search.Budget) (search.Result, error) {
	if d, ok := a.cached(b); ok {
		return search.Result{Direction: d, Valid: true}, nil
	}
	if !lo.SomeBy(game.Directions[:], b.CanMove) {
		return search.NoMove(), nil
	}

	sub, cancel := context.WithCancel(ctx)
	defer cancel()

	answers := make(chan answer, 2)
	run := func(name string, e search.Engine) {
		res, err := e.BestMove(sub, b, budget)
		answers <- answer{engine: name, res: res, err: err}
	}
	go run("expectimax", a.expectimax)
	go run("mcts", a.mcts)

	// Both engines watch the time budget themselves. The timer only
	// guards against one that overruns badly.
	var overrun <-chan time.Time
	if budget.Time > 0 {
		t := time.NewTimer(2 * budget.Time)
		defer t.Stop()
		overrun = t.C
	}

	var exp, mc *search.Result
wait:
	for pending := 2; pending > 0; {
		select {
		case ans := <-answers:
			pending--
			if ans.err != nil || !ans.res.Valid {
				if ans.err != nil && ctx.Err() == nil {
					a.cfg.Logger.Debug("hybrid engine failed", "engine", ans.engine, "error", ans.err)
				}
				continue
			}
			res := ans.res
			if ans.engine == "mcts" {
				mc = &res
			} else {
				exp = &res
			}
		case <-overrun:
			break wait
		case <-ctx.Done():
			return search.NoMove(), ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return search.NoMove(), err
	}

	res, source := a.arbitrate(b, exp, mc)
	a.cfg.Logger.Debug("hybrid move", "move", res.Direction, "source", source)
	if exp != nil || mc != nil {
		a.remember(b, res.Direction)
	}
	return res, nil
}

func (a *Arbiter) arbitrate(b game.Board, exp, mc *search.Result) (search.Result, string) {
	switch {
	case exp != nil && mc != nil:
		if exp.Direction == mc.Direction {
			return *exp, "agree"
		}
		mctsWeight, _ := DynamicWeights(a.cfg.MctsWeight, b)
		if a.coin(mctsWeight) {
			return *mc, "mcts"
		}
		return *exp, "expectimax"
	case exp != nil:
		return *exp, "expectimax"
	case mc != nil:
		return *mc, "mcts"
	}
	if d, ok := Greedy(b); ok {
		return search.Result{Direction: d, Depth: 1, Valid: true}, "greedy"
	}
	for _, d := range game.Directions {
		if b.CanMove(d) {
			return search.Result{Direction: d, Valid: true}, "first"
		}
	}
	return search.NoMove(), "default"
}

// coin returns true with probability p.
func (a *Arbiter) coin(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	a.rngMu.Lock()
	x := a.rng.Uint64n(1 << 53)
	a.rngMu.Unlock()
	return float64(x)/(1<<53) < p
}

func (a *Arbiter) cached(b game.Board) (game.Direction, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.cache[b]
	return d, ok
}

func (a *Arbiter) remember(b game.Board, d game.Direction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.cache) >= a.cfg.CacheCapacity {
		clear(a.cache)
	}
	a.cache[b] = d
}

// CacheLen is the number of cached boards.
func (a *Arbiter) CacheLen() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

// ClearCache drops every cached move.
func (a *Arbiter) ClearCache() {
	a.mu.Lock()
	clear(a.cache)
	a.mu.Unlock()
}

var _ search.Engine = (*Arbiter)(nil)
