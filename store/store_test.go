package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/twenty48/game"
)

func fakeGame(id string, moves int, maxTile int) []MoveRow {
	rows := make([]MoveRow, moves)
	b := game.MustFromGrid(game.Grid{{maxTile, 2, 0, 0}})
	for i := range rows {
		rows[i] = MoveRow{
			GameID:    id,
			Move:      int32(i),
			Board:     BoardBits(b),
			Direction: int32(game.Left),
			Points:    4,
			Score:     int64(4 * (i + 1)),
			MaxTile:   int32(maxTile),
			Engine:    "expectimax",
		}
	}
	rows[len(rows)-1].Final = true
	return rows
}

func TestBoardBitsRoundTrip(t *testing.T) {
	b := game.MustFromGrid(game.Grid{
		{32768, 2, 4, 8},
		{0, 0, 0, 0},
		{16, 0, 0, 0},
		{0, 0, 0, 32768},
	})
	row := MoveRow{Board: BoardBits(b)}
	assert.Equal(t, b, row.PackedBoard())
	assert.Less(t, row.Board, int64(0), "high nibble set must survive the sign bit")
}

func TestWriteBatchParquetAtomic(t *testing.T) {
	dir := t.TempDir()
	rows := append(fakeGame("a", 3, 64), fakeGame("b", 2, 128)...)

	path, err := WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	leftovers, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	got, err := ReadRows(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	_, err = WriteBatchParquetAtomic(dir, nil)
	assert.Error(t, err)
}

func TestBatchWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.WriteGame(fakeGame("a", 4, 256)))
	require.NoError(t, w.WriteGame(nil))
	require.NoError(t, w.WriteGame(fakeGame("b", 1, 512)))
	assert.Equal(t, 2, w.Games())
	assert.Equal(t, 5, w.Rows())

	path, rows, games, err := w.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 5, rows)
	assert.Equal(t, 2, games)

	got, err := ReadRows(path)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	assert.ErrorIs(t, w.WriteGame(fakeGame("c", 1, 2)), ErrWriterClosed)
}

func TestBatchWriterEmptyIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	require.NoError(t, err)

	path, _, _, err := w.Finalize()
	require.NoError(t, err)
	assert.Empty(t, path)

	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestGameLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "written.log")
	l, err := OpenGameLog(path)
	require.NoError(t, err)

	require.NoError(t, l.Add("g1", "", "g2", "g1"))
	assert.True(t, l.Has("g1"))
	assert.False(t, l.Has("g3"))
	assert.Equal(t, 2, l.Len())
	require.NoError(t, l.Close())
	assert.Error(t, l.Add("g3"))

	reopened, err := OpenGameLog(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Len())
	assert.True(t, reopened.Has("g2"))
}

func TestSummarize(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteBatchParquetAtomic(dir, append(fakeGame("a", 3, 1024), fakeGame("b", 5, 2048)...))
	require.NoError(t, err)
	_, err = WriteBatchParquetAtomic(dir, fakeGame("c", 1, 2048))
	require.NoError(t, err)

	s, err := Summarize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Games)
	assert.Equal(t, int64(9), s.Moves)
	assert.Equal(t, int64(20), s.BestScore)
	assert.InDelta(t, 12.0, s.MeanScore, 1e-9)
	assert.InDelta(t, 12.0, s.P50Score, 1e-9)
	assert.Equal(t, []TileCount{{Tile: 1024, Games: 1}, {Tile: 2048, Games: 2}}, s.MaxTiles)
	assert.InDelta(t, 2.0/3.0, s.Share(2048), 1e-9)
	assert.InDelta(t, 1.0, s.Share(1024), 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	_, err := Summarize(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoBatches)
}
