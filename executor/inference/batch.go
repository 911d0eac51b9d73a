// Package inference is the batched evaluation path. CPU is always
// available; the ONNX clients run a value network and fall back to the CPU
// for anything they cannot serve.
package inference

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"

	"github.com/brensch/twenty48/eval"
	"github.com/brensch/twenty48/game"
	"github.com/brensch/twenty48/rules"
)

// ErrUnsupported is returned by backends that do not offer an operation.
var ErrUnsupported = errors.New("operation not supported by backend")

// DefaultMaxMoves caps simulated games.
const DefaultMaxMoves = 100_000

// Batch evaluates, moves and simulates many boards per call.
type Batch interface {
	Evaluate(ctx context.Context, boards []game.Board) ([]float64, error)
	// Move slides every board in direction d and returns the new boards
	// with the points each slide earned.
	Move(ctx context.Context, boards []game.Board, d game.Direction) ([]game.Board, []int, error)
	// Simulate plays count games from fresh boards, each move greedily
	// maximising the evaluator under weights.
	Simulate(ctx context.Context, weights eval.Weights, count int) ([]GameOutcome, error)
}

// GameOutcome summarises one simulated game.
type GameOutcome struct {
	Score   int
	MaxTile int
	Moves   int
}

// CPU implements Batch with the lookup tables and the CPU evaluator.
type CPU struct {
	Evaluator eval.Evaluator
	Workers   int
	MaxMoves  int
	// Seed makes Simulate reproducible. Zero draws fresh entropy.
	Seed uint64
}

// NewCPU returns a CPU backend using all cores.
func NewCPU(e eval.Evaluator) *CPU {
	return &CPU{Evaluator: e, Workers: runtime.NumCPU(), MaxMoves: DefaultMaxMoves}
}

func (c *CPU) Evaluate(ctx context.Context, boards []game.Board) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, len(boards))
	for i, b := range boards {
		out[i] = c.Evaluator.Score(b)
	}
	return out, nil
}

func (c *CPU) Move(ctx context.Context, boards []game.Board, d game.Direction) ([]game.Board, []int, error) {
	return cpuMove(ctx, boards, d)
}

func cpuMove(ctx context.Context, boards []game.Board, d game.Direction) ([]game.Board, []int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	next := make([]game.Board, len(boards))
	points := make([]int, len(boards))
	for i, b := range boards {
		next[i], points[i] = b.MoveWithScore(d)
	}
	return next, points, nil
}

func (c *CPU) Simulate(ctx context.Context, weights eval.Weights, count int) ([]GameOutcome, error) {
	e := eval.New(weights, c.Evaluator.Enhanced)
	maxMoves := c.MaxMoves
	if maxMoves <= 0 {
		maxMoves = DefaultMaxMoves
	}
	out := make([]GameOutcome, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Workers, 1))
	for i := 0; i < count; i++ {
		g.Go(func() error {
			rng := c.gameRNG(i)
			b := rules.NewGame(rng)
			var res GameOutcome
			for res.Moves < maxMoves {
				if err := gctx.Err(); err != nil {
					return err
				}
				d, ok := greedy(e, b)
				if !ok {
					break
				}
				next, points, _ := rules.NextState(b, d, rng, rules.DefaultSpawnSettings)
				b = next
				res.Score += points
				res.Moves++
			}
			res.MaxTile = b.MaxTile()
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CPU) gameRNG(idx int) *frand.RNG {
	if c.Seed == 0 {
		return frand.New()
	}
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[0:], c.Seed)
	binary.LittleEndian.PutUint64(seed[8:], uint64(idx))
	return frand.NewCustom(seed[:], 1024, 12)
}

// greedy picks the legal slide whose result scores best, ties in
// enumeration order.
func greedy(e eval.Evaluator, b game.Board) (game.Direction, bool) {
	best := game.DefaultDirection
	bestScore := 0.0
	found := false
	for _, d := range game.Directions {
		next := b.Move(d)
		if next == b {
			continue
		}
		if v := e.Score(next); !found || v > bestScore {
			best, bestScore, found = d, v, true
		}
	}
	return best, found
}

// Fallback serves from Primary and degrades to CPU on any error. The first
// failure is logged; later ones are silent.
type Fallback struct {
	Primary Batch
	CPU     *CPU
	Logger  *slog.Logger

	warned    atomic.Bool
	fallbacks atomic.Int64
}

// NewFallback wraps primary, which may be nil.
func NewFallback(primary Batch, cpu *CPU, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{Primary: primary, CPU: cpu, Logger: logger}
}

// Fallbacks counts calls served by the CPU after a primary failure.
func (f *Fallback) Fallbacks() int64 { return f.fallbacks.Load() }

func (f *Fallback) degrade(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !errors.Is(err, ErrUnsupported) && f.warned.CompareAndSwap(false, true) {
		f.Logger.Warn("accelerator failed, using cpu", "op", op, "error", err)
	}
	f.fallbacks.Add(1)
	return nil
}

func (f *Fallback) Evaluate(ctx context.Context, boards []game.Board) ([]float64, error) {
	if f.Primary != nil {
		out, err := f.Primary.Evaluate(ctx, boards)
		if err == nil {
			return out, nil
		}
		if err := f.degrade(ctx, "evaluate", err); err != nil {
			return nil, err
		}
	}
	return f.CPU.Evaluate(ctx, boards)
}

func (f *Fallback) Move(ctx context.Context, boards []game.Board, d game.Direction) ([]game.Board, []int, error) {
	if f.Primary != nil {
		next, points, err := f.Primary.Move(ctx, boards, d)
		if err == nil {
			return next, points, nil
		}
		if err := f.degrade(ctx, "move", err); err != nil {
			return nil, nil, err
		}
	}
	return f.CPU.Move(ctx, boards, d)
}

func (f *Fallback) Simulate(ctx context.Context, weights eval.Weights, count int) ([]GameOutcome, error) {
	if f.Primary != nil {
		out, err := f.Primary.Simulate(ctx, weights, count)
		if err == nil {
			return out, nil
		}
		if err := f.degrade(ctx, "simulate", err); err != nil {
			return nil, err
		}
	}
	return f.CPU.Simulate(ctx, weights, count)
}

// Scorer lets expectimax score leaves through a Batch, one board per call.
// Boards the backend fails on are scored by the fallback evaluator.
type Scorer struct {
	batch    Batch
	fallback eval.Evaluator
}

// NewScorer adapts b for expectimax. A plain CPU backend is unwrapped to its
// evaluator, which keeps results identical to the CPU path and keeps the
// evaluator bounds available for pruning.
func NewScorer(b Batch, fallback eval.Evaluator) eval.Scorer {
	if cpu, ok := b.(*CPU); ok {
		return cpu.Evaluator
	}
	return &Scorer{batch: b, fallback: fallback}
}

func (s *Scorer) Score(b game.Board) float64 {
	v, err := s.batch.Evaluate(context.Background(), []game.Board{b})
	if err != nil || len(v) != 1 {
		return s.fallback.Score(b)
	}
	return v[0]
}

var (
	_ Batch = (*CPU)(nil)
	_ Batch = (*Fallback)(nil)
	_ Batch = (*OnnxClient)(nil)
	_ Batch = (*OnnxPool)(nil)
)
