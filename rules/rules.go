// Package rules implements the 2048 turn structure on top of game.Board:
// legal moves, random tile spawns and terminal scoring.
package rules

import (
	"github.com/samber/lo"

	"github.com/brensch/twenty48/game"
)

// Rand is the subset of a random source the rules need. Both *rand.Rand and
// *frand.RNG satisfy it.
type Rand interface {
	Intn(n int) int
}

// LegalMoves returns the directions that change the board, in
// enumeration order Up, Right, Down, Left.
func LegalMoves(b game.Board) []game.Direction {
	return lo.Filter(game.Directions[:], func(d game.Direction, _ int) bool {
		return b.CanMove(d)
	})
}

// HasLegalMove reports whether any direction changes the board.
func HasLegalMove(b game.Board) bool {
	for _, d := range game.Directions {
		if b.CanMove(d) {
			return true
		}
	}
	return false
}

// NextState plays one full turn: slide in direction d, then spawn a tile.
// moved is false when the slide changed nothing, in which case no tile is
// spawned and the board is returned unchanged.
func NextState(b game.Board, d game.Direction, rng Rand, settings SpawnSettings) (next game.Board, points int, moved bool) {
	slid, points := b.MoveWithScore(d)
	if slid == b {
		return b, 0, false
	}
	next, _ = SpawnWithSettings(slid, rng, settings)
	return next, points, true
}

// IsTerminal reports whether the game has ended.
func IsTerminal(b game.Board) bool {
	return b.IsGameOver()
}

// Score reconstructs the running game score from the tiles on the board,
// assuming every tile above 2 was built from 2s. Spawned 4s make this an
// overestimate by 4 per spawn; callers tracking exact score should sum the
// points returned by NextState instead.
func Score(b game.Board) int {
	score := 0
	for i := 0; i < game.Cells; i++ {
		if rank := b.CellAt(i); rank >= 2 {
			score += (rank - 1) * (1 << uint(rank))
		}
	}
	return score
}

// GetResult maps a finished or in-progress board to the rollout reward used
// by the Monte-Carlo engine: the largest tile, halved when the game is over.
func GetResult(b game.Board) float64 {
	r := float64(b.MaxTile())
	if b.IsGameOver() {
		r /= 2
	}
	return r
}
