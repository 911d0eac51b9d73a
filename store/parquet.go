// Package store persists self-play games as Parquet batches and answers
// summary queries over them with DuckDB.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/brensch/twenty48/game"
)

const schemaName = "move_row_v1"

// MoveRow is one decision in an archived game.
//
// Board holds the packed game.Board bits before the move. Parquet has no
// unsigned 64-bit column that DuckDB reads cleanly, so the bits are stored
// reinterpreted as int64.
type MoveRow struct {
	GameID string `parquet:"game_id,dict"`
	Move   int32  `parquet:"move"`
	Board  int64  `parquet:"board"`

	Direction int32   `parquet:"direction"`
	Points    int32   `parquet:"points"`
	Score     int64   `parquet:"score"`
	MaxTile   int32   `parquet:"max_tile"`
	Value     float64 `parquet:"value"`
	Depth     int32   `parquet:"depth"`
	Nodes     int64   `parquet:"nodes"`

	// Final is set on the last row of a finished game.
	Final bool `parquet:"final"`

	// Engine names the search strategy that chose the move.
	Engine    string `parquet:"engine,dict"`
	StartedNs int64  `parquet:"started_ns"`
}

// PackedBoard converts the stored bits back into a board.
func (r MoveRow) PackedBoard() game.Board { return game.Board(uint64(r.Board)) }

// BoardBits is the inverse of PackedBoard.
func BoardBits(b game.Board) int64 { return int64(uint64(b)) }

// WriteBatchParquetAtomic writes rows into outDir/tmp and renames the file
// into outDir, so readers globbing outDir never see a partial file.
func WriteBatchParquetAtomic(outDir string, rows []MoveRow) (string, error) {
	if len(rows) == 0 {
		return "", errors.New("no rows to write")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", schemaName),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadRows loads every row of a batch file.
func ReadRows(path string) ([]MoveRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := parquet.NewGenericReader[MoveRow](f)
	defer r.Close()

	out := make([]MoveRow, 0, r.NumRows())
	buf := make([]MoveRow, 256)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet: %w", err)
		}
	}
	return out, nil
}
