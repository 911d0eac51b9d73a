// Package eval scores boards for the search engines.
//
// Evaluate is pure and deterministic. All terms are finite for every valid
// board, and Bounds reports the range Evaluate can produce so pruning code
// can reason about unexplored branches.
package eval

import (
	"math"

	"github.com/brensch/twenty48/game"
)

// Scorer is anything that can score a leaf board.
type Scorer interface {
	Score(b game.Board) float64
}

// Bounded scorers report the finite interval their scores fall into.
type Bounded interface {
	Bounds() (lo, hi float64)
}

// Evaluator is the default CPU scorer.
type Evaluator struct {
	Weights Weights
	// Enhanced adds merge potential and corner placement to the basic
	// monotonicity, smoothness and free-cell terms.
	Enhanced bool
}

// New returns an Evaluator with the given weights.
func New(w Weights, enhanced bool) Evaluator {
	return Evaluator{Weights: w, Enhanced: enhanced}
}

// Default returns the enhanced evaluator with default weights.
func Default() Evaluator {
	return New(DefaultWeights(), true)
}

// Score implements Scorer.
func (e Evaluator) Score(b game.Board) float64 {
	return e.Terms(b).Total(e.Weights, e.Enhanced)
}

// Evaluate scores a board with the enhanced heuristic.
func Evaluate(b game.Board, w Weights) float64 {
	return New(w, true).Score(b)
}

// Terms is the unweighted breakdown of a board's heuristic.
type Terms struct {
	Monotonicity float64
	Smoothness   float64
	FreeCells    float64
	Merges       float64
	Placement    float64
}

// Total combines the terms with weights.
func (t Terms) Total(w Weights, enhanced bool) float64 {
	s := w.Monotonicity*t.Monotonicity + w.Smoothness*t.Smoothness + w.FreeCells*t.FreeCells
	if enhanced {
		s += w.Merges*t.Merges + w.Placement*t.Placement
	}
	return s
}

// Terms computes every heuristic term for b.
func (e Evaluator) Terms(b game.Board) Terms {
	ensureFeatures()
	t := b.Transpose()

	var rowL, rowR, colU, colD, rough, merges int
	for i := 0; i < game.Size; i++ {
		fr := features[b.Row(i)]
		fc := features[t.Row(i)]
		rowL += int(fr.riseLeft)
		rowR += int(fr.riseRight)
		colU += int(fc.riseLeft)
		colD += int(fc.riseRight)
		rough += int(fr.roughness) + int(fc.roughness)
		merges += int(fr.merges) + int(fc.merges)
	}

	// The four corner orientations are separable, so the best of the four
	// is the best row orientation plus the best column orientation.
	mono := -(min(rowL, rowR) + min(colU, colD))

	return Terms{
		Monotonicity: float64(mono),
		Smoothness:   -float64(rough),
		FreeCells:    math.Log1p(float64(b.EmptyCount())),
		Merges:       float64(merges),
		Placement:    placement(b),
	}
}

// snake is the placement pattern anchored in the top-left corner. The other
// three corners are mirror images.
var snake = [game.Size][game.Size]float64{
	{15, 14, 13, 12},
	{8, 9, 10, 11},
	{7, 6, 5, 4},
	{0, 1, 2, 3},
}

const placementScale = 1.0 / 16

func placement(b game.Board) float64 {
	var tl, tr, bl, br float64
	for r := 0; r < game.Size; r++ {
		for c := 0; c < game.Size; c++ {
			rank := float64(b.Cell(r, c))
			if rank == 0 {
				continue
			}
			tl += snake[r][c] * rank
			tr += snake[r][game.Size-1-c] * rank
			bl += snake[game.Size-1-r][c] * rank
			br += snake[game.Size-1-r][game.Size-1-c] * rank
		}
	}
	return max(tl, tr, bl, br) * placementScale
}

// Term ranges over every valid board.
const (
	adjacentPairs = 2 * game.Size * (game.Size - 1)
	maxPairTerm   = adjacentPairs * game.MaxRank
	snakeSum      = 120
)

var (
	monoRange   = [2]float64{-maxPairTerm, 0}
	smoothRange = [2]float64{-maxPairTerm, 0}
	freeRange   = [2]float64{0, math.Log1p(game.Cells)}
	mergeRange  = [2]float64{0, maxPairTerm}
	placeRange  = [2]float64{0, snakeSum * game.MaxRank * placementScale}
)

// Bounds implements Bounded.
func (e Evaluator) Bounds() (lo, hi float64) {
	add := func(w float64, r [2]float64) {
		a, b := w*r[0], w*r[1]
		lo += min(a, b)
		hi += max(a, b)
	}
	add(e.Weights.Monotonicity, monoRange)
	add(e.Weights.Smoothness, smoothRange)
	add(e.Weights.FreeCells, freeRange)
	if e.Enhanced {
		add(e.Weights.Merges, mergeRange)
		add(e.Weights.Placement, placeRange)
	}
	return lo, hi
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(b game.Board) float64

func (f ScorerFunc) Score(b game.Board) float64 { return f(b) }
