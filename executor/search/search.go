// Package search holds the types shared by every move-search engine: the
// budget a request runs under, the result it produces and the cooperative
// stop signal threaded through the recursion.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brensch/twenty48/game"
)

// ErrStopped is returned by a search that was superseded or cancelled
// before it produced a result.
var ErrStopped = errors.New("search stopped")

// Budget bounds a single request. Zero fields mean "engine default".
type Budget struct {
	// Depth is the fixed search depth for expectimax. With a Time budget it
	// is the deepest iteration attempted.
	Depth int
	// Time caps wall clock. Expectimax deepens iteratively inside it and
	// MCTS stops drawing iterations when it expires.
	Time time.Duration
	// Iterations is the total MCTS iteration budget shared by all workers.
	Iterations int
}

func (b Budget) String() string {
	return fmt.Sprintf("depth=%d time=%s iterations=%d", b.Depth, b.Time, b.Iterations)
}

// Result is what an engine reports for one board.
type Result struct {
	Direction game.Direction
	Score     float64
	// Depth is the deepest completed expectimax iteration, or the deepest
	// tree level reached by MCTS.
	Depth int
	Nodes int64
	// Valid is false when the board had no legal move. Direction is then
	// game.DefaultDirection.
	Valid bool
}

// NoMove is the result for a board with no legal move.
func NoMove() Result {
	return Result{Direction: game.DefaultDirection}
}

func (r Result) String() string {
	if !r.Valid {
		return "no move"
	}
	return fmt.Sprintf("%s score=%.3f depth=%d nodes=%d", r.Direction, r.Score, r.Depth, r.Nodes)
}

// Engine picks a move for a board.
type Engine interface {
	BestMove(ctx context.Context, b game.Board, budget Budget) (Result, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, b game.Board, budget Budget) (Result, error)

func (f EngineFunc) BestMove(ctx context.Context, b game.Board, budget Budget) (Result, error) {
	return f(ctx, b, budget)
}
