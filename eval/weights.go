package eval

import (
	"errors"
	"fmt"
	"math"
)

// Weights scales each heuristic term. The order of fields is the order of
// the flat vector exchanged with the tuning loop.
type Weights struct {
	Monotonicity float64 `json:"monotonicity"`
	Smoothness   float64 `json:"smoothness"`
	FreeCells    float64 `json:"free_cells"`
	Merges       float64 `json:"merges"`
	Placement    float64 `json:"placement"`
}

// VectorLen is the number of entries in Weights.Vector.
const VectorLen = 5

var ErrBadVector = errors.New("bad weight vector")

// DefaultWeights are hand-tuned starting values.
func DefaultWeights() Weights {
	return Weights{
		Monotonicity: 1.0,
		Smoothness:   0.1,
		FreeCells:    2.7,
		Merges:       1.0,
		Placement:    1.0,
	}
}

// Vector flattens the weights for the tuning loop.
func (w Weights) Vector() []float64 {
	return []float64{w.Monotonicity, w.Smoothness, w.FreeCells, w.Merges, w.Placement}
}

// FromVector is the inverse of Vector. Shorter vectors leave the remaining
// weights at their defaults; longer vectors and non-finite values are
// rejected.
func FromVector(v []float64) (Weights, error) {
	if len(v) > VectorLen {
		return Weights{}, fmt.Errorf("%w: %d entries, want at most %d", ErrBadVector, len(v), VectorLen)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Weights{}, fmt.Errorf("%w: entry %d is not finite", ErrBadVector, i)
		}
	}
	w := DefaultWeights()
	fields := []*float64{&w.Monotonicity, &w.Smoothness, &w.FreeCells, &w.Merges, &w.Placement}
	for i, x := range v {
		*fields[i] = x
	}
	return w, nil
}
