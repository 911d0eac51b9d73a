package selfplay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/twenty48/eval"
	"github.com/brensch/twenty48/executor/expectimax"
	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/game"
	"github.com/brensch/twenty48/rules"
)

func firstLegal() search.Engine {
	return search.EngineFunc(func(ctx context.Context, b game.Board, _ search.Budget) (search.Result, error) {
		moves := rules.LegalMoves(b)
		if len(moves) == 0 {
			return search.NoMove(), nil
		}
		return search.Result{Direction: moves[0], Valid: true, Depth: 1, Nodes: 1}, nil
	})
}

func seeded(seed uint64) Options {
	opts := DefaultOptions()
	opts.Seed = seed
	opts.EngineName = "first-legal"
	return opts
}

func TestPlayGameRecordsEveryMove(t *testing.T) {
	out, err := PlayGame(context.Background(), firstLegal(), seeded(42))
	require.NoError(t, err)
	require.True(t, out.Completed)
	require.Nil(t, out.Checkpoint)
	require.NotEmpty(t, out.Rows)

	total := 0
	for i, row := range out.Rows {
		assert.Equal(t, int32(i), row.Move)
		assert.Equal(t, out.Result.GameID, row.GameID)
		assert.Equal(t, "first-legal", row.Engine)

		_, points := row.PackedBoard().MoveWithScore(game.Direction(row.Direction))
		assert.Equal(t, int32(points), row.Points)
		total += points
		assert.Equal(t, int64(total), row.Score)
		assert.Equal(t, i == len(out.Rows)-1, row.Final)
	}
	assert.Equal(t, total, out.Result.Score)
	assert.Equal(t, len(out.Rows), out.Result.Moves)
	assert.False(t, out.Result.Truncated)
	assert.Equal(t, int32(out.Result.MaxTile), out.Rows[len(out.Rows)-1].MaxTile)
}

func TestPlayGameSeedIsReproducible(t *testing.T) {
	a, err := PlayGame(context.Background(), firstLegal(), seeded(7))
	require.NoError(t, err)
	b, err := PlayGame(context.Background(), firstLegal(), seeded(7))
	require.NoError(t, err)

	require.Equal(t, len(a.Rows), len(b.Rows))
	for i := range a.Rows {
		assert.Equal(t, a.Rows[i].Board, b.Rows[i].Board)
	}
	assert.Equal(t, a.Result.Score, b.Result.Score)
	assert.NotEqual(t, a.Result.GameID, b.Result.GameID)
}

func TestPlayGameCheckpointsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := PlayGame(ctx, firstLegal(), seeded(1))
	require.NoError(t, err)
	assert.False(t, out.Completed)
	require.NotNil(t, out.Checkpoint)
	assert.Empty(t, out.Checkpoint.Rows)
	assert.Equal(t, 2, 16-out.Checkpoint.Board.EmptyCount())
}

func TestPlayGameStopAndResume(t *testing.T) {
	const stopAfter = 25
	moves := 0
	opts := seeded(3)
	opts.OnMove = func(game.Board, search.Result) { moves++ }
	opts.StopRequested = func() bool { return moves >= stopAfter }

	first, err := PlayGame(context.Background(), firstLegal(), opts)
	require.NoError(t, err)
	require.False(t, first.Completed)
	cp := first.Checkpoint
	require.NotNil(t, cp)
	require.Len(t, cp.Rows, stopAfter)
	assert.Equal(t, cp.Rows[stopAfter-1].Score, int64(cp.Score))

	opts.StopRequested = nil
	opts.Resume = cp
	second, err := PlayGame(context.Background(), firstLegal(), opts)
	require.NoError(t, err)
	require.True(t, second.Completed)
	assert.Equal(t, cp.GameID, second.Result.GameID)
	require.Greater(t, len(second.Rows), stopAfter)
	assert.Equal(t, cp.Rows, second.Rows[:stopAfter])
	assert.Equal(t, store64(cp.Board), second.Rows[stopAfter].Board)
	for i, row := range second.Rows {
		assert.Equal(t, int32(i), row.Move)
		assert.Equal(t, cp.StartedNs, row.StartedNs)
	}
}

func store64(b game.Board) int64 { return int64(uint64(b)) }

func TestPlayGameEngineError(t *testing.T) {
	boom := errors.New("boom")
	engine := search.EngineFunc(func(context.Context, game.Board, search.Budget) (search.Result, error) {
		return search.Result{}, boom
	})
	_, err := PlayGame(context.Background(), engine, seeded(1))
	assert.ErrorIs(t, err, boom)
}

func TestPlayGameRejectsNoOpMove(t *testing.T) {
	engine := search.EngineFunc(func(ctx context.Context, b game.Board, budget search.Budget) (search.Result, error) {
		for _, d := range game.Directions {
			if !b.CanMove(d) {
				return search.Result{Direction: d, Valid: true}, nil
			}
		}
		return firstLegal().BestMove(ctx, b, budget)
	})
	opts := seeded(5)
	_, err := PlayGame(context.Background(), engine, opts)
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestPlayGameMaxMoves(t *testing.T) {
	opts := seeded(9)
	opts.MaxMoves = 10
	out, err := PlayGame(context.Background(), firstLegal(), opts)
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.True(t, out.Result.Truncated)
	assert.Len(t, out.Rows, 10)
	assert.True(t, out.Rows[9].Final)
}

func TestPlayGameWithExpectimax(t *testing.T) {
	opts := expectimax.DefaultOptions()
	opts.Depth = 1
	opts.AdaptiveDepth = false
	engine := expectimax.New(eval.Default(), nil, opts)

	po := seeded(11)
	po.Budget = search.Budget{Depth: 1}
	po.MaxMoves = 40
	out, err := PlayGame(context.Background(), engine, po)
	require.NoError(t, err)
	require.Len(t, out.Rows, 40)
	for _, row := range out.Rows {
		assert.Equal(t, int32(1), row.Depth)
		assert.Positive(t, row.Nodes)
	}
}

func collect(t *testing.T, cfg RunConfig) []PlayGameOutcome {
	t.Helper()
	out := make(chan PlayGameOutcome)
	var got []PlayGameOutcome
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for o := range out {
			got = append(got, o)
		}
	}()
	err := Run(context.Background(), cfg, func(int) search.Engine { return firstLegal() }, out)
	close(out)
	wg.Wait()
	require.NoError(t, err)
	return got
}

func TestRunPlaysRequestedGames(t *testing.T) {
	cfg := RunConfig{Workers: 3, Games: 7, Options: seeded(100)}
	got := collect(t, cfg)
	require.Len(t, got, 7)

	ids := map[string]bool{}
	for _, o := range got {
		assert.True(t, o.Completed)
		ids[o.Result.GameID] = true
	}
	assert.Len(t, ids, 7)
}

func TestRunSeededIsReproducible(t *testing.T) {
	scores := func() []int {
		var s []int
		for _, o := range collect(t, RunConfig{Workers: 4, Games: 6, Options: seeded(500)}) {
			s = append(s, o.Result.Score)
		}
		sort.Ints(s)
		return s
	}
	assert.Equal(t, scores(), scores())
}

func TestRunResumesCheckpointsFirst(t *testing.T) {
	moves := 0
	opts := seeded(8)
	opts.OnMove = func(game.Board, search.Result) { moves++ }
	opts.StopRequested = func() bool { return moves >= 5 }
	first, err := PlayGame(context.Background(), firstLegal(), opts)
	require.NoError(t, err)
	require.NotNil(t, first.Checkpoint)

	got := collect(t, RunConfig{Workers: 1, Games: 2, Options: seeded(8), Resume: []*InProgressGame{first.Checkpoint}})
	require.Len(t, got, 2)
	assert.Equal(t, first.Checkpoint.GameID, got[0].Result.GameID)
	assert.NotEqual(t, first.Checkpoint.GameID, got[1].Result.GameID)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan PlayGameOutcome, 16)
	engine := search.EngineFunc(func(ctx context.Context, b game.Board, budget search.Budget) (search.Result, error) {
		cancel()
		return firstLegal().BestMove(ctx, b, budget)
	})
	err := Run(ctx, RunConfig{Workers: 2, Options: seeded(1)}, func(int) search.Engine { return engine }, out)
	require.NoError(t, err)
	close(out)
	for o := range out {
		assert.False(t, o.Completed)
		assert.NotNil(t, o.Checkpoint)
	}
}

func TestRenderBoard(t *testing.T) {
	b := game.MustFromGrid(game.Grid{
		{2048, 0, 0, 0},
		{0, 4, 0, 0},
	})
	out := RenderBoard(b)
	assert.Contains(t, out, "2048")
	assert.Contains(t, out, "4")
	assert.Contains(t, out, ".")
}
