// Command searchbench times the configured engine on a fixed set of
// positions and, optionally, over a few seeded games.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/pkg/profile"

	"github.com/brensch/twenty48/config"
	"github.com/brensch/twenty48/executor/selfplay"
	"github.com/brensch/twenty48/game"
)

var positions = []struct {
	name string
	grid game.Grid
}{
	{"opening", game.Grid{
		{0, 0, 0, 0},
		{0, 2, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 2, 0},
	}},
	{"midgame", game.Grid{
		{2, 4, 8, 16},
		{0, 2, 0, 4},
		{0, 0, 0, 0},
		{0, 0, 2, 0},
	}},
	{"corner snake", game.Grid{
		{1024, 512, 256, 128},
		{8, 16, 32, 64},
		{4, 2, 0, 0},
		{0, 0, 0, 2},
	}},
	{"crowded", game.Grid{
		{2, 8, 2, 4},
		{4, 16, 32, 8},
		{2, 64, 128, 2},
		{0, 4, 2, 0},
	}},
}

func main() {
	cfg := config.Default()
	engineKind := flag.String("engine", string(cfg.Kind), "Search engine: expectimax, parallel, mcts or hybrid")
	flag.IntVar(&cfg.Depth, "depth", cfg.Depth, "Expectimax depth")
	flag.IntVar(&cfg.TimeMs, "time-ms", 0, "Per-move time budget in ms; 0 searches to -depth")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Search goroutines")
	flag.BoolVar(&cfg.Pruning, "pruning", cfg.Pruning, "Enable pruning")
	flag.BoolVar(&cfg.Cache, "cache", cfg.Cache, "Enable the transposition table")
	repeat := flag.Int("repeat", 1, "Searches per position")
	games := flag.Int("games", 0, "Seeded games to play after the positions")
	prof := flag.String("profile", "", "Profile to record: cpu or mem")
	profDir := flag.String("profile-dir", ".", "Directory for profile output")
	flag.Parse()
	cfg.Kind = config.Kind(*engineKind)
	cfg.Seed = 1

	switch *prof {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*profDir)).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(*profDir)).Stop()
	default:
		log.Fatalf("unknown profile %q", *prof)
	}

	built, err := cfg.Build(nil)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer built.Close()

	budget := cfg.Budget()
	fmt.Printf("searchbench: engine=%s budget=%s repeat=%d\n", cfg.Kind, budget, *repeat)

	ctx := context.Background()
	startAll := time.Now()
	for _, p := range positions {
		b := game.MustFromGrid(p.grid)
		for i := 0; i < *repeat; i++ {
			start := time.Now()
			res, err := built.Engine.BestMove(ctx, b, budget)
			if err != nil {
				log.Fatalf("%s: %v", p.name, err)
			}
			elapsed := time.Since(start)
			nps := float64(res.Nodes) / max(elapsed.Seconds(), 1e-9)
			fmt.Printf("%-13s run %d: %s time=%v nps=%.0f\n", p.name, i+1, res, elapsed.Round(time.Microsecond), nps)
		}
	}
	fmt.Printf("positions total: %v\n", time.Since(startAll))

	if built.Expectimax != nil {
		st := built.Expectimax.Stats()
		tt := built.Expectimax.Table()
		line := fmt.Sprintf("expectimax: nodes=%d cutoffs=%d max depth=%d", st.Nodes, st.Cutoffs, st.MaxDepth)
		if tt != nil {
			line += fmt.Sprintf(" tt entries=%d hit rate=%.3f", tt.Len(), tt.Stats().HitRate())
		}
		fmt.Println(line)
	}

	if *games <= 0 {
		return
	}
	opts := selfplay.DefaultOptions()
	opts.Budget = budget
	opts.EngineName = string(cfg.Kind)
	total, best := 0, 0
	for g := 0; g < *games; g++ {
		opts.Seed = uint64(g + 1)
		start := time.Now()
		out, err := selfplay.PlayGame(ctx, built.Engine, opts)
		if err != nil {
			log.Fatalf("game %d: %v", g+1, err)
		}
		total += out.Result.Score
		best = max(best, out.Result.MaxTile)
		fmt.Printf("game %d: score=%d max tile=%d moves=%d time=%v\n", g+1, out.Result.Score, out.Result.MaxTile, out.Result.Moves, time.Since(start).Round(time.Millisecond))
	}
	fmt.Printf("games: mean score=%.0f best tile=%d\n", float64(total)/float64(*games), best)
}
