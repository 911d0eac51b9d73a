package selfplay

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/twenty48/executor/search"
)

// RunConfig drives a pool of self-play workers.
type RunConfig struct {
	Workers int
	// Games caps the number of games started. Zero runs until ctx is
	// cancelled.
	Games   int
	Options Options
	// Resume holds checkpoints from a previous run, handed out before any
	// fresh game starts.
	Resume []*InProgressGame
}

type claim struct {
	index  int
	resume *InProgressGame
}

// Run plays games on cfg.Workers goroutines and sends every outcome,
// complete or checkpointed, to out. The caller must keep receiving from out
// until Run returns. newEngine is called once per worker so engines with
// per-worker state are never shared.
//
// With a non-zero Options.Seed, game i is seeded with Seed+i, so a run is
// reproducible regardless of which worker picks up which game.
func Run(ctx context.Context, cfg RunConfig, newEngine func(worker int) search.Engine, out chan<- PlayGameOutcome) error {
	workers := max(cfg.Workers, 1)

	g, gctx := errgroup.WithContext(ctx)
	claimCtx, stopClaims := context.WithCancel(gctx)
	defer stopClaims()

	claims := make(chan claim)
	g.Go(func() error {
		defer close(claims)
		for i := 0; cfg.Games == 0 || i < cfg.Games; i++ {
			c := claim{index: i}
			if i < len(cfg.Resume) {
				c.resume = cfg.Resume[i]
			}
			select {
			case claims <- c:
			case <-claimCtx.Done():
				return nil
			}
		}
		return nil
	})

	for w := range workers {
		engine := newEngine(w)
		g.Go(func() error {
			for c := range claims {
				if claimCtx.Err() != nil && c.resume == nil {
					return nil
				}
				opts := cfg.Options
				opts.Resume = c.resume
				if opts.Seed != 0 {
					opts.Seed += uint64(c.index)
				}
				outcome, err := PlayGame(gctx, engine, opts)
				if err != nil {
					return err
				}
				out <- outcome
				if !outcome.Completed {
					stopClaims()
					return nil
				}
			}
			return nil
		})
	}
	return g.Wait()
}
