package game

import "sync"

// Row transition tables, indexed by the 16-bit encoding of a row. They are
// built once on first use and are read-only afterwards.
type moveTables struct {
	left  [1 << 16]uint16
	right [1 << 16]uint16
	score [1 << 16]uint32
}

var (
	tables     moveTables
	tablesOnce sync.Once
)

func ensureTables() {
	tablesOnce.Do(buildTables)
}

// Warm builds the move tables eagerly. Calling it before starting workers is
// optional; every accessor builds the tables on demand.
func Warm() { ensureTables() }

func buildTables() {
	for r := 0; r < 1<<16; r++ {
		row := uint16(r)
		result, score := slideRowLeft(row)
		tables.left[row] = result
		tables.score[row] = score
		tables.right[ReverseRow(row)] = ReverseRow(result)
	}
}

// LeftRow returns row r after sliding it toward column 0.
func LeftRow(r uint16) uint16 {
	ensureTables()
	return tables.left[r]
}

// RightRow returns row r after sliding it toward column 3.
func RightRow(r uint16) uint16 {
	ensureTables()
	return tables.right[r]
}

// RowScore returns the points earned by sliding row r left.
func RowScore(r uint16) uint32 {
	ensureTables()
	return tables.score[r]
}

// ReverseRow mirrors the four nibbles of a row.
func ReverseRow(r uint16) uint16 {
	return (r >> 12) | ((r >> 4) & 0x00F0) | ((r << 4) & 0x0F00) | (r << 12)
}

// slideRowLeft compacts the row toward column 0, merges each equal adjacent
// pair once from left to right and compacts again. Rank 15 tiles never merge.
func slideRowLeft(row uint16) (uint16, uint32) {
	var line [Size]int
	n := 0
	for i := 0; i < Size; i++ {
		if v := int((row >> (uint(i) * cellWidth)) & cellMask); v != 0 {
			line[n] = v
			n++
		}
	}

	var out [Size]int
	var score uint32
	w := 0
	for i := 0; i < n; i++ {
		if i+1 < n && line[i] == line[i+1] && line[i] < MaxRank {
			merged := line[i] + 1
			out[w] = merged
			score += 1 << uint(merged)
			i++
		} else {
			out[w] = line[i]
		}
		w++
	}

	var result uint16
	for i := 0; i < Size; i++ {
		result |= uint16(out[i]) << (uint(i) * cellWidth)
	}
	return result, score
}
