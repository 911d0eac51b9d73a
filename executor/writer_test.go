package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/executor/selfplay"
	"github.com/brensch/twenty48/game"
	"github.com/brensch/twenty48/rules"
	"github.com/brensch/twenty48/store"
)

func firstLegal() search.Engine {
	return search.EngineFunc(func(_ context.Context, b game.Board, _ search.Budget) (search.Result, error) {
		moves := rules.LegalMoves(b)
		if len(moves) == 0 {
			return search.NoMove(), nil
		}
		return search.Result{Direction: moves[0], Valid: true}, nil
	})
}

func play(t *testing.T, seed uint64, maxMoves int) selfplay.PlayGameOutcome {
	t.Helper()
	opts := selfplay.DefaultOptions()
	opts.Seed = seed
	opts.MaxMoves = maxMoves
	out, err := selfplay.PlayGame(context.Background(), firstLegal(), opts)
	require.NoError(t, err)
	return out
}

func TestParquetWriterLoop(t *testing.T) {
	dir := t.TempDir()
	gameLog, err := store.OpenGameLog(filepath.Join(dir, "written.log"))
	require.NoError(t, err)
	defer gameLog.Close()

	outcomes := make(chan selfplay.PlayGameOutcome, 8)
	updates := make(chan selfplay.GameResult, 8)

	var finished []selfplay.PlayGameOutcome
	for i := range 3 {
		o := play(t, uint64(i+1), 20)
		finished = append(finished, o)
		outcomes <- o
	}
	outcomes <- selfplay.PlayGameOutcome{Checkpoint: &selfplay.InProgressGame{GameID: "paused", Rows: finished[0].Rows[:1]}}
	outcomes <- selfplay.PlayGameOutcome{Checkpoint: &selfplay.InProgressGame{GameID: "empty"}}
	close(outcomes)

	checkpoints := parquetWriterLoop(dir, 2, gameLog, outcomes, updates)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, "paused", checkpoints[0].GameID)

	n := 0
	for range updates {
		n++
	}
	assert.Equal(t, 3, n)

	batches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	assert.Len(t, batches, 2)
	for _, o := range finished {
		assert.True(t, gameLog.Has(o.Result.GameID))
	}

	s, err := store.Summarize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Games)
	assert.Equal(t, int64(60), s.Moves)
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cp.json")
	gameLog, err := store.OpenGameLog(filepath.Join(dir, "written.log"))
	require.NoError(t, err)
	defer gameLog.Close()

	none, err := loadCheckpoints(path, gameLog)
	require.NoError(t, err)
	assert.Empty(t, none)

	a := play(t, 4, 5)
	b := play(t, 5, 5)
	cps := []*selfplay.InProgressGame{
		{GameID: a.Result.GameID, Board: a.Rows[4].PackedBoard(), Rows: a.Rows, RNGSeed: 9},
		{GameID: b.Result.GameID, Board: b.Rows[4].PackedBoard(), Rows: b.Rows, RNGSeed: 10},
	}
	require.NoError(t, saveCheckpoints(path, cps))
	require.NoError(t, gameLog.Add(b.Result.GameID))

	got, err := loadCheckpoints(path, gameLog)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, cps[0].GameID, got[0].GameID)
	assert.Equal(t, cps[0].Board, got[0].Board)
	assert.Equal(t, cps[0].Rows, got[0].Rows)

	require.NoError(t, saveCheckpoints(path, nil))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, saveCheckpoints(path, nil))
}
