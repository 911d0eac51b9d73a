package inference

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/twenty48/eval"
	"github.com/brensch/twenty48/game"
)

// OnnxPool spreads evaluation over several OnnxClient sessions, each with its
// own batching loop. Large slices are split so every session runs a share.
type OnnxPool struct {
	clients []*OnnxClient
	rr      atomic.Uint64
}

// add folds o into s. Averages are recomputed by withAverages.
func (s RuntimeStats) add(o RuntimeStats) RuntimeStats {
	s.TotalBatches += o.TotalBatches
	s.TotalItems += o.TotalItems
	s.TotalRunNanos += o.TotalRunNanos
	s.QueueLen += o.QueueLen
	s.LastBatchSize = max(s.LastBatchSize, o.LastBatchSize)
	return s
}

func (s RuntimeStats) withAverages() RuntimeStats {
	if s.TotalBatches > 0 {
		s.AvgBatchSize = float64(s.TotalItems) / float64(s.TotalBatches)
		s.AvgRunMs = float64(s.TotalRunNanos) / 1e6 / float64(s.TotalBatches)
	}
	return s
}

// Stats sums the counters of every session.
func (p *OnnxPool) Stats() RuntimeStats {
	var total RuntimeStats
	for _, c := range p.clients {
		total = total.add(c.Stats())
	}
	return total.withAverages()
}

// Sessions is the number of ORT sessions in the pool.
func (p *OnnxPool) Sessions() int { return len(p.clients) }

func NewOnnxClientPool(modelPath string, sessions int) (*OnnxPool, error) {
	return NewOnnxClientPoolWithConfig(modelPath, sessions, OnnxClientConfig{})
}

func NewOnnxClientPoolWithConfig(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	sessions = max(sessions, 1)
	p := &OnnxPool{clients: make([]*OnnxClient, 0, sessions)}
	for i := range sessions {
		c, err := NewOnnxClientWithConfig(modelPath, cfg)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("create onnx session %d of %d: %w", i+1, sessions, err)
		}
		p.clients = append(p.clients, c)
	}
	return p, nil
}

func (p *OnnxPool) Close() error {
	errs := make([]error, 0, len(p.clients))
	for _, c := range p.clients {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (p *OnnxPool) next() (*OnnxClient, error) {
	if len(p.clients) == 0 {
		return nil, errors.New("onnx pool has no sessions")
	}
	return p.clients[p.rr.Add(1)%uint64(len(p.clients))], nil
}

// Evaluate implements Batch. Slices larger than one session batch are cut
// into contiguous shares evaluated concurrently.
func (p *OnnxPool) Evaluate(ctx context.Context, boards []game.Board) ([]float64, error) {
	if len(p.clients) <= 1 || len(boards) <= DefaultBatchSize {
		c, err := p.next()
		if err != nil {
			return nil, err
		}
		return c.Evaluate(ctx, boards)
	}

	out := make([]float64, len(boards))
	share := (len(boards) + len(p.clients) - 1) / len(p.clients)
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(boards); start += share {
		end := min(start+share, len(boards))
		c, err := p.next()
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			vals, err := c.Evaluate(gctx, boards[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vals)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *OnnxPool) Move(ctx context.Context, boards []game.Board, d game.Direction) ([]game.Board, []int, error) {
	return cpuMove(ctx, boards, d)
}

func (p *OnnxPool) Simulate(ctx context.Context, weights eval.Weights, count int) ([]GameOutcome, error) {
	return nil, ErrUnsupported
}
