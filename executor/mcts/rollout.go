package mcts

import (
	"github.com/brensch/twenty48/game"
	"github.com/brensch/twenty48/rules"
)

// rollout plays uniformly random slides, each followed by a random spawn,
// for up to plies slides or until the game ends. A chance board starts with
// its pending spawn. The reward is the largest tile reached, halved when the
// playout ended the game.
func rollout(b game.Board, pendingSpawn bool, rng rules.Rand, plies int) float64 {
	if pendingSpawn {
		if next, ok := rules.Spawn(b, rng); ok {
			b = next
		}
	}
	var valid [len(game.Directions)]game.Board
	for ply := 0; ply < plies; ply++ {
		n := 0
		for _, d := range game.Directions {
			if next := b.Move(d); next != b {
				valid[n] = next
				n++
			}
		}
		if n == 0 {
			break
		}
		b = valid[rng.Intn(n)]
		if next, ok := rules.Spawn(b, rng); ok {
			b = next
		}
	}
	return rules.GetResult(b)
}
