package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/brensch/twenty48/eval"
	"github.com/brensch/twenty48/executor/expectimax"
	"github.com/brensch/twenty48/executor/hybrid"
	"github.com/brensch/twenty48/executor/inference"
	"github.com/brensch/twenty48/executor/mcts"
	"github.com/brensch/twenty48/executor/search"
)

// Built is an engine plus the resources it holds.
type Built struct {
	Engine search.Engine
	// Expectimax is the underlying searcher when the engine uses one, for
	// callers that want its cache statistics.
	Expectimax *expectimax.Searcher
	// Accelerator is nil unless an ONNX model was loaded.
	Accelerator inference.Batch

	closers []func() error
}

func (b *Built) Close() error {
	var errs []error
	for _, fn := range b.closers {
		errs = append(errs, fn())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Build validates c and assembles the configured engine. A model that fails
// to load is logged and the CPU evaluator is used instead.
func (c Engine) Build(logger *slog.Logger) (*Built, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	ev, err := c.Evaluator()
	if err != nil {
		return nil, fmt.Errorf("evaluator: %w", err)
	}

	out := &Built{}
	cpu := inference.NewCPU(ev)
	var backend inference.Batch = cpu
	if c.OnnxModel != "" {
		pool, err := inference.NewOnnxClientPoolWithConfig(c.OnnxModel, c.OnnxSessions, inference.OnnxClientConfig{Logger: logger})
		if err != nil {
			logger.Warn("onnx model unavailable, using cpu evaluator", "model", c.OnnxModel, "error", err)
		} else {
			out.closers = append(out.closers, pool.Close)
			out.Accelerator = pool
			backend = inference.NewFallback(pool, cpu, logger)
		}
	}

	var searcher *expectimax.Searcher
	needsExpectimax := c.Kind != KindMCTS
	if needsExpectimax {
		searcher = expectimax.New(c.leafScorer(backend, ev), nil, c.ExpectimaxOptions(logger))
		out.Expectimax = searcher
	}

	switch c.Kind {
	case KindExpectimax:
		out.Engine = searcher
	case KindParallel:
		out.Engine = expectimax.NewParallel(searcher, c.Workers)
	case KindMCTS:
		out.Engine = mcts.New(c.MCTSConfig(logger))
	case KindHybrid:
		out.Engine = hybrid.New(
			expectimax.NewParallel(searcher, c.Workers),
			mcts.New(c.MCTSConfig(logger)),
			c.HybridConfig(logger),
		)
	}
	logger.Debug("engine built", "kind", c.Kind, "depth", c.Depth, "workers", c.Workers, "cache", c.Cache, "accelerated", out.Accelerator != nil, "onnx_leaves", c.OnnxLeaves)
	return out, nil
}

// leafScorer is what expectimax scores its leaves with. The heuristic
// unless OnnxLeaves routes them through backend.
func (c Engine) leafScorer(backend inference.Batch, ev eval.Evaluator) eval.Scorer {
	if c.OnnxLeaves {
		return inference.NewScorer(backend, ev)
	}
	return ev
}
