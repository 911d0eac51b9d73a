package eval

import (
	"sync"

	"github.com/brensch/twenty48/game"
)

// rowFeatures holds the per-row pieces of the heuristic. Board level terms
// are sums over the four rows and the four rows of the transposed board.
type rowFeatures struct {
	riseLeft  int16 // penalty when the row should decrease left to right
	riseRight int16 // penalty when the row should decrease right to left
	roughness int16 // sum of |a-b| over adjacent non-empty cells
	merges    int16 // sum of ranks over adjacent equal non-empty cells
}

var (
	features     [1 << 16]rowFeatures
	featuresOnce sync.Once
)

func ensureFeatures() {
	featuresOnce.Do(func() {
		for r := 0; r < 1<<16; r++ {
			features[r] = computeRowFeatures(uint16(r))
		}
	})
}

func computeRowFeatures(row uint16) rowFeatures {
	var line [game.Size]int
	for i := 0; i < game.Size; i++ {
		line[i] = int((row >> (uint(i) * 4)) & 0xF)
	}
	var f rowFeatures
	for i := 0; i < game.Size-1; i++ {
		a, b := line[i], line[i+1]
		if b > a {
			f.riseLeft += int16(b - a)
		} else {
			f.riseRight += int16(a - b)
		}
		if a != 0 && b != 0 {
			if a > b {
				f.roughness += int16(a - b)
			} else {
				f.roughness += int16(b - a)
			}
			if a == b {
				f.merges += int16(a)
			}
		}
	}
	return f
}
