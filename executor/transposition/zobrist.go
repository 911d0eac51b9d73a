package transposition

import (
	"lukechampine.com/frand"

	"github.com/brensch/twenty48/game"
)

// zobristSeed fixes the key stream so hashes are identical across runs and
// processes.
var zobristSeed = [32]byte{
	0x32, 0x30, 0x34, 0x38, 0x74, 0x77, 0x65, 0x6e,
	0x74, 0x79, 0x34, 0x38, 0x7a, 0x6f, 0x62, 0x72,
	0x69, 0x73, 0x74, 0x6b, 0x65, 0x79, 0x73, 0x00,
	0x9e, 0x37, 0x79, 0xb9, 0x7f, 0x4a, 0x7c, 0x15,
}

// zobrist[cell][rank] for rank 1..15. Rank 0 (empty) contributes nothing.
var zobrist [game.Cells][game.MaxRank + 1]uint64

func init() {
	rng := frand.NewCustom(zobristSeed[:], 1024, 20)
	for cell := 0; cell < game.Cells; cell++ {
		for rank := 1; rank <= game.MaxRank; rank++ {
			zobrist[cell][rank] = rng.Uint64n(^uint64(0))
		}
	}
}

// Hash returns the Zobrist hash of b.
func Hash(b game.Board) uint64 {
	var h uint64
	x := uint64(b)
	for cell := 0; cell < game.Cells; cell++ {
		if rank := x & 0xF; rank != 0 {
			h ^= zobrist[cell][rank]
		}
		x >>= 4
	}
	return h
}
