package expectimax

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/game"
)

// Parallel fans the root directions of a Searcher out over a bounded set of
// goroutines. All of them share the Searcher's transposition table.
type Parallel struct {
	*Searcher
	workers int
}

// NewParallel wraps s. workers <= 0 uses s's Workers option, and failing
// that one goroutine per direction.
func NewParallel(s *Searcher, workers int) *Parallel {
	if workers <= 0 {
		workers = s.opts.Workers
	}
	if workers <= 0 || workers > len(game.Directions) {
		workers = len(game.Directions)
	}
	return &Parallel{Searcher: s, workers: workers}
}

// BestMove implements search.Engine.
func (p *Parallel) BestMove(ctx context.Context, b game.Board, budget search.Budget) (search.Result, error) {
	return p.drive(ctx, b, budget, p.SearchDepth)
}

type rootValue struct {
	valid bool
	score float64
	nodes int64
}

// SearchDepth evaluates every root direction concurrently at a fixed depth.
// It returns only once every direction has finished, or with the stop error
// when the search was abandoned.
func (p *Parallel) SearchDepth(stop *search.Stopper, b game.Board, depth int) (search.Result, error) {
	if depth < 1 {
		depth = 1
	}
	var values [len(game.Directions)]rootValue

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for i, d := range game.Directions {
		next := b.Move(d)
		if next == b {
			continue
		}
		g.Go(func() error {
			r := p.newRun(stop)
			v := r.chance(next, depth-1, math.Inf(-1), math.Inf(1), 1)
			p.finish(r, depth)
			if stop.Stopped() {
				return stop.Err()
			}
			values[i] = rootValue{valid: true, score: v, nodes: r.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return search.Result{}, err
	}
	if stop.Stopped() {
		return search.Result{}, stop.Err()
	}

	res := search.NoMove()
	res.Depth = depth
	for i, v := range values {
		res.Nodes += v.nodes
		if !v.valid {
			continue
		}
		if !res.Valid || v.score > res.Score {
			res.Direction = game.Directions[i]
			res.Score = v.score
			res.Valid = true
		}
	}
	if !res.Valid {
		res.Score = p.scorer.Score(b)
	}
	return res, nil
}

var _ search.Engine = (*Parallel)(nil)
var _ search.Engine = (*Searcher)(nil)
