package eval

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/twenty48/game"
)

func randomBoard(r *rand.Rand) game.Board {
	var b game.Board
	for i := 0; i < game.Cells; i++ {
		if r.Intn(3) == 0 {
			continue
		}
		b = b.WithCellAt(i, 1+r.Intn(game.MaxRank))
	}
	return b
}

func TestEvaluateFiniteAndWithinBounds(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, enhanced := range []bool{false, true} {
		e := New(DefaultWeights(), enhanced)
		lo, hi := e.Bounds()
		require.False(t, math.IsInf(lo, 0) || math.IsNaN(lo))
		require.False(t, math.IsInf(hi, 0) || math.IsNaN(hi))
		require.Less(t, lo, hi)

		for i := 0; i < 5000; i++ {
			b := randomBoard(r)
			v := e.Score(b)
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "board\n%s", b)
			require.GreaterOrEqual(t, v, lo)
			require.LessOrEqual(t, v, hi)
		}

		// Extremes.
		full := game.Board(0xFFFFFFFFFFFFFFFF)
		assert.GreaterOrEqual(t, e.Score(full), lo)
		assert.LessOrEqual(t, e.Score(full), hi)
		assert.GreaterOrEqual(t, e.Score(0), lo)
		assert.LessOrEqual(t, e.Score(0), hi)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		b := randomBoard(r)
		assert.Equal(t, Evaluate(b, DefaultWeights()), Evaluate(b, DefaultWeights()))
	}
}

func TestTermSigns(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	e := Default()
	for i := 0; i < 2000; i++ {
		terms := e.Terms(randomBoard(r))
		require.LessOrEqual(t, terms.Monotonicity, 0.0)
		require.LessOrEqual(t, terms.Smoothness, 0.0)
		require.GreaterOrEqual(t, terms.FreeCells, 0.0)
		require.GreaterOrEqual(t, terms.Merges, 0.0)
		require.GreaterOrEqual(t, terms.Placement, 0.0)
	}
}

func TestFreeCellsStrictlyIncreasing(t *testing.T) {
	e := New(Weights{FreeCells: 1}, false)
	prev := math.Inf(-1)
	var b game.Board
	for i := 0; i < game.Cells; i++ {
		b = b.WithCellAt(i, 1)
	}
	// Clearing one cell at a time adds an empty cell; with only the free
	// cell weight set the score must climb every step.
	for i := 0; i <= game.Cells; i++ {
		v := e.Terms(b).FreeCells
		assert.Greater(t, v, prev)
		prev = v
		if i < game.Cells {
			b = b.WithCellAt(i, 0)
		}
	}
}

func TestMonotonicityPrefersSortedCorner(t *testing.T) {
	sorted := game.MustFromGrid(game.Grid{
		{1024, 512, 256, 128},
		{64, 32, 16, 8},
		{4, 2, 0, 0},
		{2, 0, 0, 0},
	})
	e := Default()
	assert.Equal(t, 0.0, e.Terms(sorted).Monotonicity)

	mixed := game.MustFromGrid(game.Grid{
		{2, 1024, 4, 512},
		{64, 8, 32, 16},
		{0, 2, 0, 4},
		{2, 0, 0, 0},
	})
	assert.Less(t, e.Terms(mixed).Monotonicity, 0.0)
	assert.Greater(t, e.Score(sorted), e.Score(mixed))
}

func TestMergesAndSmoothness(t *testing.T) {
	b := game.MustFromGrid(game.Grid{
		{2, 2, 0, 0},
		{2, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 8},
	})
	terms := Default().Terms(b)
	// Two adjacent equal pairs of rank 1.
	assert.Equal(t, 2.0, terms.Merges)
	assert.Equal(t, 0.0, terms.Smoothness)
	assert.InDelta(t, math.Log(13), terms.FreeCells, 1e-12)
}

func TestPlacementIsSymmetric(t *testing.T) {
	var corners []game.Board
	for _, idx := range []int{0, 3, 12, 15} {
		corners = append(corners, game.Board(0).WithCellAt(idx, 10))
	}
	want := Default().Terms(corners[0]).Placement
	assert.InDelta(t, 15*10.0/16, want, 1e-12)
	for _, b := range corners[1:] {
		assert.InDelta(t, want, Default().Terms(b).Placement, 1e-12)
	}
}

func TestBasicIgnoresEnhancedTerms(t *testing.T) {
	b := game.MustFromGrid(game.Grid{{2, 2, 4, 4}})
	w := DefaultWeights()
	basic := New(w, false).Score(b)
	w.Merges, w.Placement = 100, 100
	assert.Equal(t, basic, New(w, false).Score(b))
	assert.NotEqual(t, basic, New(w, true).Score(b))
}

func TestVectorRoundTrip(t *testing.T) {
	w := Weights{Monotonicity: 1, Smoothness: 2, FreeCells: 3, Merges: 4, Placement: 5}
	v := w.Vector()
	require.Len(t, v, VectorLen)
	got, err := FromVector(v)
	require.NoError(t, err)
	assert.Equal(t, w, got)

	partial, err := FromVector([]float64{9})
	require.NoError(t, err)
	assert.Equal(t, 9.0, partial.Monotonicity)
	assert.Equal(t, DefaultWeights().Placement, partial.Placement)

	_, err = FromVector(make([]float64, VectorLen+1))
	assert.ErrorIs(t, err, ErrBadVector)
	_, err = FromVector([]float64{math.NaN()})
	assert.ErrorIs(t, err, ErrBadVector)
}

func BenchmarkEvaluate(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	boards := make([]game.Board, 256)
	for i := range boards {
		boards[i] = randomBoard(r)
	}
	e := Default()
	e.Score(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.Score(boards[i&255])
	}
}
