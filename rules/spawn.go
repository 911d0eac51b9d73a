package rules

import "github.com/brensch/twenty48/game"

// SpawnSettings controls new tile generation. FourChance is the percentage
// (0-100) of spawns that produce a 4 instead of a 2.
//
// The rules take a Rand parameter so callers can choose true randomness for
// self-play or a seeded source for tests and reproducible searches.
type SpawnSettings struct {
	FourChance int
}

var DefaultSpawnSettings = SpawnSettings{FourChance: 10}

const (
	// TwoProbability and FourProbability are the chance-node weights used by
	// exhaustive search.
	TwoProbability  = 0.9
	FourProbability = 0.1
)

// Spawn places a random tile using the default 90/10 split.
func Spawn(b game.Board, rng Rand) (game.Board, bool) {
	return SpawnWithSettings(b, rng, DefaultSpawnSettings)
}

// SpawnWithSettings places a 2 or 4 on a uniformly chosen empty cell.
// It returns false when the board is full.
func SpawnWithSettings(b game.Board, rng Rand, settings SpawnSettings) (game.Board, bool) {
	empty := b.EmptyCount()
	if empty == 0 {
		return b, false
	}
	target := rng.Intn(empty)
	return b.WithCellAt(nthEmpty(b, target), SpawnRank(rng, settings)), true
}

// SpawnRank draws the rank of a new tile: 1 (a 2) or 2 (a 4).
func SpawnRank(rng Rand, settings SpawnSettings) int {
	chance := settings.FourChance
	if chance < 0 {
		chance = 0
	}
	if chance > 100 {
		chance = 100
	}
	if rng.Intn(100) < chance {
		return 2
	}
	return 1
}

// NewGame returns a board with two spawned tiles.
func NewGame(rng Rand) game.Board {
	var b game.Board
	b, _ = Spawn(b, rng)
	b, _ = Spawn(b, rng)
	return b
}

func nthEmpty(b game.Board, n int) int {
	for i := 0; i < game.Cells; i++ {
		if b.CellAt(i) != 0 {
			continue
		}
		if n == 0 {
			return i
		}
		n--
	}
	return -1
}
