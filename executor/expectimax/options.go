package expectimax

import "log/slog"

// Options configures a Searcher.
type Options struct {
	// Depth is the default search depth when a budget names none.
	Depth int
	// Pruning enables alpha-beta at decision nodes and bound-based cutoffs
	// at chance nodes.
	Pruning bool
	// Cache enables the transposition table.
	Cache         bool
	CacheCapacity int
	// AdaptiveDepth searches deeper on crowded boards and shallower on
	// open ones.
	AdaptiveDepth bool
	// ProbabilityCutoff scores chance nodes at the horizon once the
	// probability of reaching them falls below it. Zero disables it. A
	// non-zero cutoff bypasses the transposition table.
	ProbabilityCutoff float64
	// Workers bounds the root fan-out of Parallel.
	Workers int
	Logger  *slog.Logger
}

// DefaultOptions are the settings used by the self-play runner and the move
// server when nothing is overridden.
func DefaultOptions() Options {
	return Options{
		Depth:         3,
		Pruning:       true,
		Cache:         true,
		AdaptiveDepth: true,
		Workers:       4,
	}
}

// MaxIterativeDepth caps iterative deepening when a budget gives only a
// time limit.
const MaxIterativeDepth = 16

// AdaptDepth adjusts a nominal depth by the number of empty cells. Fewer
// empties means fewer chance branches, so the search can afford to go
// deeper.
func AdaptDepth(depth, empties int) int {
	switch {
	case empties <= 2:
		depth += 2
	case empties <= 4:
		depth++
	case empties >= 10:
		depth--
	}
	if depth < 1 {
		depth = 1
	}
	return depth
}
