// Package expectimax implements expectation search over the 2048 game tree.
//
// Decision nodes take the best slide, chance nodes average over every empty
// cell receiving a 2 (0.9) or a 4 (0.1). With pruning enabled decision nodes
// run alpha-beta and chance nodes cut off once the evaluator's bounds prove
// the average cannot re-enter the window.
package expectimax

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/brensch/twenty48/eval"
	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/executor/transposition"
	"github.com/brensch/twenty48/game"
	"github.com/brensch/twenty48/rules"
)

type outcome struct {
	rank int
	prob float64
}

var spawnOutcomes = [2]outcome{
	{rank: 1, prob: rules.TwoProbability},
	{rank: 2, prob: rules.FourProbability},
}

// Stats are cumulative counters over every search a Searcher ran.
type Stats struct {
	Nodes     int64
	CacheHits int64
	Cutoffs   int64
	MaxDepth  int64
}

// Searcher runs serial expectimax. It is safe for concurrent use; the only
// shared mutable state is the transposition table and the stats counters.
type Searcher struct {
	opts   Options
	scorer eval.Scorer
	table  *transposition.Table
	logger *slog.Logger

	// Evaluator bounds used by chance-node cutoffs.
	lo, hi    float64
	hasBounds bool

	nodes     atomic.Int64
	cacheHits atomic.Int64
	cutoffs   atomic.Int64
	maxDepth  atomic.Int64
}

// New builds a Searcher. A nil table with Cache enabled allocates a private
// table of opts.CacheCapacity entries.
func New(scorer eval.Scorer, table *transposition.Table, opts Options) *Searcher {
	if opts.Depth <= 0 {
		opts.Depth = DefaultOptions().Depth
	}
	if opts.Cache && table == nil {
		table = transposition.New(opts.CacheCapacity)
	}
	if !opts.Cache {
		table = nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Searcher{
		opts:   opts,
		scorer: scorer,
		table:  table,
		logger: logger,
	}
	if b, ok := scorer.(eval.Bounded); ok {
		s.lo, s.hi = b.Bounds()
		s.hasBounds = !math.IsInf(s.lo, 0) && !math.IsInf(s.hi, 0) && s.lo <= s.hi
	}
	return s
}

// Table returns the transposition table, nil when caching is off.
func (s *Searcher) Table() *transposition.Table { return s.table }

// Options returns the options the Searcher was built with.
func (s *Searcher) Options() Options { return s.opts }

// Stats snapshots the cumulative counters.
func (s *Searcher) Stats() Stats {
	return Stats{
		Nodes:     s.nodes.Load(),
		CacheHits: s.cacheHits.Load(),
		Cutoffs:   s.cutoffs.Load(),
		MaxDepth:  s.maxDepth.Load(),
	}
}

// BestMove implements search.Engine.
func (s *Searcher) BestMove(ctx context.Context, b game.Board, budget search.Budget) (search.Result, error) {
	return s.drive(ctx, b, budget, s.SearchDepth)
}

// SearchDepth runs one fixed-depth search from the root.
func (s *Searcher) SearchDepth(stop *search.Stopper, b game.Board, depth int) (search.Result, error) {
	r := s.newRun(stop)
	res := r.root(b, depth)
	s.finish(r, depth)
	if stop.Stopped() {
		return search.Result{}, stop.Err()
	}
	return res, nil
}

// Value is the expectimax value of b at depth, for a decision node when
// isMax is true and a chance node otherwise.
func (s *Searcher) Value(ctx context.Context, b game.Board, depth int, isMax bool) (float64, error) {
	stop := search.NewStopper(ctx)
	defer stop.Release()
	r := s.newRun(stop)
	var v float64
	if isMax {
		v = r.decision(b, depth, math.Inf(-1), math.Inf(1), 1)
	} else {
		v = r.chance(b, depth, math.Inf(-1), math.Inf(1), 1)
	}
	s.finish(r, depth)
	if err := stop.Err(); err != nil {
		return 0, err
	}
	return v, nil
}

type depthSearch func(stop *search.Stopper, b game.Board, depth int) (search.Result, error)

// drive resolves the budget: a single fixed-depth search, or iterative
// deepening under a time limit that keeps the deepest completed iteration.
func (s *Searcher) drive(ctx context.Context, b game.Board, budget search.Budget, fn depthSearch) (search.Result, error) {
	depth := budget.Depth
	if depth <= 0 {
		depth = s.opts.Depth
	}
	if s.opts.AdaptiveDepth {
		depth = AdaptDepth(depth, b.EmptyCount())
	}

	start := time.Now()
	if budget.Time <= 0 {
		stop := search.NewStopper(ctx)
		defer stop.Release()
		res, err := fn(stop, b, depth)
		if err != nil {
			return search.NoMove(), err
		}
		s.logger.Debug("expectimax search", "depth", depth, "move", res.Direction, "score", res.Score, "nodes", res.Nodes, "elapsed", time.Since(start))
		return res, nil
	}

	maxDepth := MaxIterativeDepth
	if budget.Depth > 0 {
		maxDepth = depth
	}

	timed, cancel := context.WithTimeout(ctx, budget.Time)
	defer cancel()
	stop := search.NewStopper(timed)
	defer stop.Release()

	var (
		best      search.Result
		completed bool
		nodes     int64
	)
	for d := 1; d <= maxDepth; d++ {
		res, err := fn(stop, b, d)
		if err != nil {
			break
		}
		nodes += res.Nodes
		best, completed = res, true
		if !res.Valid {
			break
		}
	}

	if !completed {
		if err := ctx.Err(); err != nil {
			return search.NoMove(), err
		}
		// The budget ran out before depth 1 finished. Depth 1 is four
		// static evaluations per empty cell, so finish it untimed.
		full := search.NewStopper(ctx)
		defer full.Release()
		res, err := fn(full, b, 1)
		if err != nil {
			return search.NoMove(), err
		}
		best, nodes = res, res.Nodes
	}
	best.Nodes = nodes
	s.logger.Debug("expectimax deepening", "depth", best.Depth, "move", best.Direction, "score", best.Score, "nodes", nodes, "elapsed", time.Since(start))
	return best, nil
}

func (s *Searcher) newRun(stop *search.Stopper) *run {
	table := s.table
	if s.opts.ProbabilityCutoff > 0 {
		// A cut node's value depends on the path that reached it, so a
		// cached copy would leak one path's cut into another.
		table = nil
	}
	return &run{
		s:        s,
		stop:     stop,
		table:    table,
		prune:    s.opts.Pruning,
		star1:    s.opts.Pruning && s.hasBounds,
		cutoffP:  s.opts.ProbabilityCutoff,
		lo:       s.lo,
		hi:       s.hi,
		evaluate: s.scorer.Score,
	}
}

func (s *Searcher) finish(r *run, depth int) {
	s.nodes.Add(r.nodes)
	s.cacheHits.Add(r.hits)
	s.cutoffs.Add(r.cutoffs)
	for {
		cur := s.maxDepth.Load()
		if int64(depth) <= cur || s.maxDepth.CompareAndSwap(cur, int64(depth)) {
			break
		}
	}
}

// run is the per-search state. It is owned by one goroutine.
type run struct {
	s     *Searcher
	stop  *search.Stopper
	table *transposition.Table

	prune   bool
	star1   bool
	cutoffP float64
	lo, hi  float64

	evaluate func(game.Board) float64

	nodes   int64
	hits    int64
	cutoffs int64
}

func (r *run) root(b game.Board, depth int) search.Result {
	if depth < 1 {
		depth = 1
	}
	best := math.Inf(-1)
	res := search.NoMove()
	for _, d := range game.Directions {
		next := b.Move(d)
		if next == b {
			continue
		}
		alpha := math.Inf(-1)
		if r.prune && res.Valid {
			alpha = best
		}
		v := r.chance(next, depth-1, alpha, math.Inf(1), 1)
		if r.stop.Stopped() {
			return search.NoMove()
		}
		if !res.Valid || v > best {
			best = v
			res.Direction = d
			res.Valid = true
		}
	}
	r.nodes++
	if !res.Valid {
		res.Score = r.evaluate(b)
	} else {
		res.Score = best
	}
	res.Depth = depth
	res.Nodes = r.nodes
	return res
}

func (r *run) lookup(b game.Board, depth int, isMax bool, alpha, beta float64) (uint64, float64, bool) {
	if r.table == nil {
		return 0, 0, false
	}
	h := transposition.Hash(b)
	e, ok := r.table.Lookup(h, depth, isMax)
	if !ok {
		return h, 0, false
	}
	switch e.Bound {
	case transposition.Exact:
	case transposition.LowerBound:
		if e.Score < beta {
			return h, 0, false
		}
	case transposition.UpperBound:
		if e.Score > alpha {
			return h, 0, false
		}
	}
	r.hits++
	return h, e.Score, true
}

func (r *run) store(h uint64, depth int, isMax bool, score float64, bound transposition.Bound) {
	if r.table == nil {
		return
	}
	r.table.Store(h, depth, isMax, transposition.Entry{Score: score, Bound: bound})
}

// decision returns the best value over the valid slides of b.
func (r *run) decision(b game.Board, depth int, alpha, beta, prob float64) float64 {
	r.nodes++
	if r.stop.Stopped() {
		return 0
	}
	if depth <= 0 {
		return r.evaluate(b)
	}
	h, v, ok := r.lookup(b, depth, true, alpha, beta)
	if ok {
		return v
	}

	best := math.Inf(-1)
	moved := false
	for _, d := range game.Directions {
		next := b.Move(d)
		if next == b {
			continue
		}
		ca, cb := math.Inf(-1), math.Inf(1)
		if r.prune {
			ca, cb = max(alpha, best), beta
		}
		v := r.chance(next, depth-1, ca, cb, prob)
		if r.stop.Stopped() {
			return 0
		}
		if !moved || v > best {
			best = v
			moved = true
		}
		if r.prune && best >= beta {
			r.cutoffs++
			r.store(h, depth, true, best, transposition.LowerBound)
			return best
		}
	}
	if !moved {
		v := r.evaluate(b)
		r.store(h, depth, true, v, transposition.Exact)
		return v
	}
	bound := transposition.Exact
	if r.prune && best <= alpha {
		bound = transposition.UpperBound
	}
	r.store(h, depth, true, best, bound)
	return best
}

// horizon scores a chance node the search will not expand: the value of
// its most damaging spawn, so a slide is never credited for a tile that has
// not arrived yet.
func (r *run) horizon(b game.Board) float64 {
	worst := math.Inf(1)
	for idx := 0; idx < game.Cells; idx++ {
		if b.CellAt(idx) != 0 {
			continue
		}
		for _, o := range spawnOutcomes {
			worst = min(worst, r.evaluate(b.WithCellAt(idx, o.rank)))
		}
	}
	if math.IsInf(worst, 1) {
		return r.evaluate(b)
	}
	return worst
}

// chance returns the spawn-weighted average over the empty cells of b.
func (r *run) chance(b game.Board, depth int, alpha, beta, prob float64) float64 {
	r.nodes++
	if r.stop.Stopped() {
		return 0
	}
	if depth <= 0 || (r.cutoffP > 0 && prob < r.cutoffP) {
		return r.horizon(b)
	}
	empties := b.EmptyCount()
	if empties == 0 {
		return r.evaluate(b)
	}
	h, v, ok := r.lookup(b, depth, false, alpha, beta)
	if ok {
		return v
	}

	cellProb := 1 / float64(empties)
	remaining := 1.0
	sum := 0.0
	for idx := 0; idx < game.Cells; idx++ {
		if b.CellAt(idx) != 0 {
			continue
		}
		for _, o := range spawnOutcomes {
			p := o.prob * cellProb
			remaining = max(remaining-p, 0)

			ca, cb := math.Inf(-1), math.Inf(1)
			if r.star1 {
				ca = (alpha - sum - remaining*r.hi) / p
				cb = (beta - sum - remaining*r.lo) / p
			}
			v := r.decision(b.WithCellAt(idx, o.rank), depth-1, ca, cb, prob*p)
			if r.stop.Stopped() {
				return 0
			}
			if r.star1 {
				if v <= ca {
					r.cutoffs++
					upper := min(sum+p*v+remaining*r.hi, alpha)
					r.store(h, depth, false, upper, transposition.UpperBound)
					return upper
				}
				if v >= cb {
					r.cutoffs++
					lower := max(sum+p*v+remaining*r.lo, beta)
					r.store(h, depth, false, lower, transposition.LowerBound)
					return lower
				}
			}
			sum += p * v
		}
	}
	r.store(h, depth, false, sum, transposition.Exact)
	return sum
}

func (s *Searcher) String() string {
	return fmt.Sprintf("expectimax(depth=%d pruning=%t cache=%t)", s.opts.Depth, s.opts.Pruning, s.table != nil)
}
