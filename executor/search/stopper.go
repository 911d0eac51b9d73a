package search

import (
	"context"
	"sync/atomic"
)

// Stopper is the flag checked at every recursive call. It flips once when
// its context is done or Stop is called and never flips back.
//
// Reading an atomic bool is far cheaper than selecting on ctx.Done() in the
// innermost loop of the search.
type Stopper struct {
	stopped atomic.Bool
	ctx     context.Context
	release func() bool
}

// NewStopper ties a Stopper to ctx. Call Release when the search returns.
func NewStopper(ctx context.Context) *Stopper {
	s := &Stopper{ctx: ctx}
	s.release = context.AfterFunc(ctx, s.Stop)
	if ctx.Err() != nil {
		s.Stop()
	}
	return s
}

// Stop raises the flag.
func (s *Stopper) Stop() { s.stopped.Store(true) }

// Stopped reports whether the search should unwind.
func (s *Stopper) Stopped() bool { return s.stopped.Load() }

// Release detaches the Stopper from its context.
func (s *Stopper) Release() {
	if s.release != nil {
		s.release()
	}
}

// Err explains why the search stopped: the context's error when it is done,
// ErrStopped otherwise. It is nil while the flag is down.
func (s *Stopper) Err() error {
	if !s.Stopped() {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return ErrStopped
}
