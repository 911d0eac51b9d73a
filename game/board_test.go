package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceSlide merges a line of real tile values toward index 0.
func referenceSlide(line []int) ([]int, int) {
	compact := make([]int, 0, len(line))
	for _, v := range line {
		if v != 0 {
			compact = append(compact, v)
		}
	}
	out := make([]int, 0, len(line))
	score := 0
	for i := 0; i < len(compact); i++ {
		if i+1 < len(compact) && compact[i] == compact[i+1] && compact[i] < 1<<MaxRank {
			out = append(out, compact[i]*2)
			score += compact[i] * 2
			i++
			continue
		}
		out = append(out, compact[i])
	}
	for len(out) < len(line) {
		out = append(out, 0)
	}
	return out, score
}

func referenceMove(g Grid, d Direction) (Grid, int) {
	var out Grid
	total := 0
	for i := 0; i < Size; i++ {
		line := make([]int, Size)
		for j := 0; j < Size; j++ {
			switch d {
			case Left:
				line[j] = g[i][j]
			case Right:
				line[j] = g[i][Size-1-j]
			case Up:
				line[j] = g[j][i]
			case Down:
				line[j] = g[Size-1-j][i]
			}
		}
		merged, score := referenceSlide(line)
		total += score
		for j := 0; j < Size; j++ {
			switch d {
			case Left:
				out[i][j] = merged[j]
			case Right:
				out[i][Size-1-j] = merged[j]
			case Up:
				out[j][i] = merged[j]
			case Down:
				out[Size-1-j][i] = merged[j]
			}
		}
	}
	return out, total
}

func rowValues(r uint16) []int {
	out := make([]int, Size)
	for i := 0; i < Size; i++ {
		if rank := int((r >> (uint(i) * 4)) & 0xF); rank != 0 {
			out[i] = 1 << rank
		}
	}
	return out
}

func randomBoard(r *rand.Rand, maxRank int) Board {
	var b Board
	for i := 0; i < Cells; i++ {
		if r.Intn(4) == 0 {
			continue
		}
		b = b.WithCellAt(i, 1+r.Intn(maxRank))
	}
	return b
}

func TestRowTablesMatchReference(t *testing.T) {
	for r := 0; r < 1<<16; r++ {
		row := uint16(r)
		vals := rowValues(row)

		wantLeft, wantScore := referenceSlide(vals)
		require.Equal(t, wantLeft, rowValues(LeftRow(row)), "left row %04x", row)
		require.Equal(t, uint32(wantScore), RowScore(row), "score row %04x", row)

		rev := []int{vals[3], vals[2], vals[1], vals[0]}
		merged, _ := referenceSlide(rev)
		wantRight := []int{merged[3], merged[2], merged[1], merged[0]}
		require.Equal(t, wantRight, rowValues(RightRow(row)), "right row %04x", row)
	}
}

func TestRowMergeCases(t *testing.T) {
	tests := []struct {
		name  string
		row   [4]int
		want  [4]int
		score int
	}{
		{"four equal merge pairwise", [4]int{2, 2, 2, 2}, [4]int{4, 4, 0, 0}, 8},
		{"each pair merges once", [4]int{2, 2, 4, 4}, [4]int{4, 8, 0, 0}, 12},
		{"gap compacts", [4]int{0, 2, 0, 2}, [4]int{4, 0, 0, 0}, 4},
		{"no merge", [4]int{2, 4, 8, 16}, [4]int{2, 4, 8, 16}, 0},
		{"leftmost pair first", [4]int{4, 4, 4, 0}, [4]int{8, 4, 0, 0}, 8},
		{"max tiles stay", [4]int{32768, 32768, 0, 0}, [4]int{32768, 32768, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Grid
			g[0] = tt.row
			b := MustFromGrid(g)
			next, score := b.MoveWithScore(Left)
			assert.Equal(t, tt.want, next.Grid()[0])
			assert.Equal(t, tt.score, score)
		})
	}
}

func TestGridRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		var g Grid
		for row := 0; row < Size; row++ {
			for col := 0; col < Size; col++ {
				if rank := r.Intn(MaxRank + 1); rank > 0 {
					g[row][col] = 1 << rank
				}
			}
		}
		b, err := FromGrid(g)
		require.NoError(t, err)
		require.Equal(t, g, b.Grid())
	}
}

func TestFromGridRejectsInvalidTiles(t *testing.T) {
	for _, v := range []int{1, 3, 6, -2, 65536} {
		var g Grid
		g[1][2] = v
		_, err := FromGrid(g)
		assert.ErrorIs(t, err, ErrInvalidTile, "value %d", v)
	}
}

func TestMoveMatchesReferenceAllDirections(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		b := randomBoard(r, 12)
		for _, d := range Directions {
			wantGrid, wantScore := referenceMove(b.Grid(), d)
			got, score := b.MoveWithScore(d)
			require.Equal(t, wantGrid, got.Grid(), "board\n%s\ndir %s", b, d)
			require.Equal(t, wantScore, score)
		}
	}
}

func TestMoveIsPure(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		b := randomBoard(r, 10)
		for _, d := range Directions {
			first := b.Move(d)
			require.Equal(t, first, b.Move(d))
		}
	}
}

func TestNoOpCompletenessMatchesGameOver(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 20000; i++ {
		// Dense boards with small ranks produce plenty of stuck positions.
		var b Board
		for idx := 0; idx < Cells; idx++ {
			if r.Intn(40) == 0 {
				continue
			}
			b = b.WithCellAt(idx, 1+r.Intn(4))
		}
		allNoOp := true
		for _, d := range Directions {
			if b.Move(d) != b {
				allNoOp = false
			}
		}
		require.Equal(t, allNoOp, b.IsGameOver(), "board\n%s", b)
	}
}

func TestFullBoardGameOver(t *testing.T) {
	b := MustFromGrid(Grid{
		{2, 4, 2, 4},
		{4, 2, 4, 2},
		{2, 4, 2, 4},
		{4, 2, 4, 2},
	})
	assert.Equal(t, 0, b.EmptyCount())
	assert.True(t, b.IsGameOver())
	for _, d := range Directions {
		assert.False(t, b.CanMove(d))
	}
}

func TestTransposeInvolution(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	for i := 0; i < 1000; i++ {
		b := randomBoard(r, 15)
		tb := b.Transpose()
		require.Equal(t, b, tb.Transpose())
		for row := 0; row < Size; row++ {
			for col := 0; col < Size; col++ {
				require.Equal(t, b.Cell(row, col), tb.Cell(col, row))
			}
		}
	}
}

func TestAccessors(t *testing.T) {
	b := MustFromGrid(Grid{
		{0, 2, 0, 0},
		{0, 0, 1024, 0},
		{0, 0, 0, 0},
		{8, 0, 0, 0},
	})
	assert.Equal(t, 13, b.EmptyCount())
	assert.Len(t, b.EmptyCells(), 13)
	assert.Equal(t, 10, b.MaxRank())
	assert.Equal(t, 1024, b.MaxTile())
	assert.Equal(t, 2, b.Tile(0, 1))
	assert.Equal(t, 3, b.Cell(3, 0))
	assert.Equal(t, Position{Row: 1, Col: 2}, PositionOf(6))
	assert.Equal(t, 6, Position{Row: 1, Col: 2}.Index())

	assert.Equal(t, 16, Board(0).EmptyCount())
	assert.Equal(t, 0, Board(0).MaxTile())
}

func TestParseDirection(t *testing.T) {
	for _, d := range Directions {
		got, err := ParseDirection(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	_, err := ParseDirection("sideways")
	assert.Error(t, err)
	assert.Equal(t, 0, int(Up))
	assert.Equal(t, 1, int(Right))
	assert.Equal(t, 2, int(Down))
	assert.Equal(t, 3, int(Left))
}

func BenchmarkMove(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	boards := make([]Board, 1024)
	for i := range boards {
		boards[i] = randomBoard(r, 11)
	}
	Warm()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bd := boards[i&1023]
		for _, d := range Directions {
			_ = bd.Move(d)
		}
	}
}
