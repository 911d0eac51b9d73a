package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/twenty48/game"
)

func TestStopperFollowsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStopper(ctx)
	defer s.Release()

	assert.False(t, s.Stopped())
	assert.NoError(t, s.Err())

	cancel()
	require.Eventually(t, s.Stopped, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestStopperAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewStopper(ctx)
	defer s.Release()
	assert.True(t, s.Stopped())
}

func TestStopperManualStop(t *testing.T) {
	s := NewStopper(context.Background())
	defer s.Release()
	s.Stop()
	assert.True(t, s.Stopped())
	assert.True(t, errors.Is(s.Err(), ErrStopped))
}

func TestStopperReleaseDetaches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStopper(ctx)
	s.Release()
	cancel()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, s.Stopped())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(3.0, 0, 1))
	assert.Equal(t, 0, Clamp(-4, 0, 10))
	assert.Equal(t, 5, Clamp(5, 0, 10))
	assert.Equal(t, 1, AtLeast(-3, 1))
	assert.Equal(t, 7, AtLeast(7, 1))
}

func TestNoMove(t *testing.T) {
	r := NoMove()
	assert.False(t, r.Valid)
	assert.Equal(t, game.DefaultDirection, r.Direction)
	assert.Equal(t, "no move", r.String())
}

func TestEngineFunc(t *testing.T) {
	var e Engine = EngineFunc(func(ctx context.Context, b game.Board, budget Budget) (Result, error) {
		return Result{Direction: game.Left, Valid: true, Depth: budget.Depth}, nil
	})
	r, err := e.BestMove(context.Background(), 0, Budget{Depth: 3})
	require.NoError(t, err)
	assert.Equal(t, game.Left, r.Direction)
	assert.Equal(t, 3, r.Depth)
}
