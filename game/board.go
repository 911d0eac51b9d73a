// Package game defines the packed board representation for the 2048 engine.
//
// A Board is a 64-bit word holding sixteen 4-bit cells. Each cell stores the
// base-2 logarithm of its tile (0 = empty), so a cell value of 11 is the 2048
// tile. Cell (row, col) lives in nibble row*4+col: row 0 occupies the low 16
// bits and column 0 is the low nibble of each row.
//
// Boards are values. Every operation returns a new Board; nothing is mutated
// in place, which makes boards safe to share between search workers.
package game

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

const (
	Size      = 4
	Cells     = Size * Size
	MaxRank   = 15
	rowMask   = 0xFFFF
	colMask   = 0x000F000F000F000F
	cellMask  = 0xF
	cellWidth = 4
)

// Board is a 4x4 grid packed into 16 nibbles.
type Board uint64

// Position is a (row, col) coordinate in [0,3]x[0,3].
type Position struct {
	Row int
	Col int
}

// Index returns the nibble index of the position.
func (p Position) Index() int { return p.Row*Size + p.Col }

// PositionOf converts a nibble index back into a Position.
func PositionOf(idx int) Position { return Position{Row: idx / Size, Col: idx % Size} }

// Grid is the plain row-major board used by callers outside the engine.
// Cells hold 0 or the real tile value.
type Grid [Size][Size]int

var ErrInvalidTile = errors.New("invalid tile value")

// FromGrid packs a row-major tile grid into a Board.
func FromGrid(g Grid) (Board, error) {
	var b Board
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			v := g[r][c]
			if v == 0 {
				continue
			}
			if v < 2 || v&(v-1) != 0 || v > 1<<MaxRank {
				return 0, fmt.Errorf("cell (%d,%d)=%d: %w", r, c, v, ErrInvalidTile)
			}
			b = b.WithCell(r, c, bits.TrailingZeros(uint(v)))
		}
	}
	return b, nil
}

// MustFromGrid is FromGrid for literals in tests and fixtures.
func MustFromGrid(g Grid) Board {
	b, err := FromGrid(g)
	if err != nil {
		panic(err)
	}
	return b
}

// Grid expands the board back to real tile values.
func (b Board) Grid() Grid {
	var g Grid
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if rank := b.Cell(r, c); rank != 0 {
				g[r][c] = 1 << rank
			}
		}
	}
	return g
}

// Cell returns the log2 rank stored at (row, col).
func (b Board) Cell(row, col int) int {
	return int((uint64(b) >> (uint(row*Size+col) * cellWidth)) & cellMask)
}

// CellAt returns the rank stored at nibble index idx.
func (b Board) CellAt(idx int) int {
	return int((uint64(b) >> (uint(idx) * cellWidth)) & cellMask)
}

// Tile returns the real tile value at (row, col), 0 when empty.
func (b Board) Tile(row, col int) int {
	rank := b.Cell(row, col)
	if rank == 0 {
		return 0
	}
	return 1 << rank
}

// WithCell returns a copy of the board with (row, col) set to rank.
func (b Board) WithCell(row, col, rank int) Board {
	return b.WithCellAt(row*Size+col, rank)
}

// WithCellAt returns a copy of the board with nibble idx set to rank.
func (b Board) WithCellAt(idx, rank int) Board {
	shift := uint(idx) * cellWidth
	cleared := uint64(b) &^ (uint64(cellMask) << shift)
	return Board(cleared | (uint64(rank&cellMask) << shift))
}

// Row returns the 16-bit encoding of row r.
func (b Board) Row(r int) uint16 {
	return uint16((uint64(b) >> (uint(r) * 16)) & rowMask)
}

// EmptyCount returns the number of empty cells.
func (b Board) EmptyCount() int {
	x := uint64(b)
	x |= (x >> 2) & 0x3333333333333333
	x |= x >> 1
	x = ^x & 0x1111111111111111
	return bits.OnesCount64(x)
}

// EmptyCells lists the nibble indexes of empty cells in ascending order.
func (b Board) EmptyCells() []int {
	out := make([]int, 0, Cells)
	for i := 0; i < Cells; i++ {
		if b.CellAt(i) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// MaxRank returns the highest rank on the board.
func (b Board) MaxRank() int {
	best := 0
	for x := uint64(b); x != 0; x >>= cellWidth {
		if r := int(x & cellMask); r > best {
			best = r
		}
	}
	return best
}

// MaxTile returns the largest real tile value on the board.
func (b Board) MaxTile() int {
	if r := b.MaxRank(); r > 0 {
		return 1 << r
	}
	return 0
}

// Transpose mirrors the board across its main diagonal.
func (b Board) Transpose() Board {
	x := uint64(b)
	a1 := x & 0xF0F00F0FF0F00F0F
	a2 := x & 0x0000F0F00000F0F0
	a3 := x & 0x0F0F00000F0F0000
	a := a1 | (a2 << 12) | (a3 >> 12)
	b1 := a & 0xFF00FF0000FF00FF
	b2 := a & 0x00FF00FF00000000
	b3 := a & 0x00000000FF00FF00
	return Board(b1 | (b2 >> 24) | (b3 << 24))
}

// Move applies a slide in direction d. A move that changes nothing returns
// the board unchanged.
func (b Board) Move(d Direction) Board {
	next, _ := b.MoveWithScore(d)
	return next
}

// MoveWithScore applies a slide and also returns the points it earned, the
// sum of the values of every tile created by a merge.
func (b Board) MoveWithScore(d Direction) (Board, int) {
	ensureTables()
	switch d {
	case Left:
		return b.slideRows(&tables.left)
	case Right:
		return b.slideRows(&tables.right)
	case Up:
		return b.Transpose().slideCols(&tables.left)
	case Down:
		return b.Transpose().slideCols(&tables.right)
	default:
		return b, 0
	}
}

func (b Board) slideRows(table *[1 << 16]uint16) (Board, int) {
	var out uint64
	score := 0
	for r := 0; r < Size; r++ {
		row := b.Row(r)
		out |= uint64(table[row]) << (uint(r) * 16)
		score += int(tables.score[scoreKey(table, row)])
	}
	return Board(out), score
}

// slideCols slides the rows of an already transposed board and writes each
// resulting row back as a column of the original orientation.
func (t Board) slideCols(table *[1 << 16]uint16) (Board, int) {
	var out uint64
	score := 0
	for r := 0; r < Size; r++ {
		row := t.Row(r)
		out |= unpackCol(table[row]) << (uint(r) * cellWidth)
		score += int(tables.score[scoreKey(table, row)])
	}
	return Board(out), score
}

// scoreKey maps a row to the index of its score in the left-move score
// table. Right moves score the mirrored row.
func scoreKey(table *[1 << 16]uint16, row uint16) uint16 {
	if table == &tables.right {
		return ReverseRow(row)
	}
	return row
}

func unpackCol(row uint16) uint64 {
	x := uint64(row)
	return (x | (x << 12) | (x << 24) | (x << 36)) & colMask
}

// CanMove reports whether direction d changes the board.
func (b Board) CanMove(d Direction) bool {
	return b.Move(d) != b
}

// IsGameOver holds when the board is full and no direction changes it.
func (b Board) IsGameOver() bool {
	if b.EmptyCount() > 0 {
		return false
	}
	for _, d := range Directions {
		if b.CanMove(d) {
			return false
		}
	}
	return true
}

// String renders the board as four lines of right-aligned tile values.
func (b Board) String() string {
	var sb strings.Builder
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if c > 0 {
				sb.WriteByte(' ')
			}
			if v := b.Tile(r, c); v == 0 {
				sb.WriteString("    .")
			} else {
				fmt.Fprintf(&sb, "%5d", v)
			}
		}
		if r < Size-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
