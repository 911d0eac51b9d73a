package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/brensch/twenty48/executor/convert"
	"github.com/brensch/twenty48/store"
)

// TrainingXRow is one value-network example: the encoded board before a
// move and the points the game went on to earn from that position.
type TrainingXRow struct {
	GameID string `parquet:"game_id,dict"`
	Move   int32  `parquet:"move"`

	X []byte `parquet:"x"`

	Direction int32 `parquet:"direction"`
	// Value is the score earned from this move until the end of the game.
	Value float32 `parquet:"value"`
	// Search is the engine's own estimate when it chose the move.
	Search float32 `parquet:"search"`

	XC int32 `parquet:"x_c"`
	XH int32 `parquet:"x_h"`
	XW int32 `parquet:"x_w"`

	Engine string `parquet:"engine,dict"`
}

func main() {
	inDir := flag.String("in-dir", "", "Directory containing archive parquet batches")
	outDir := flag.String("out-dir", "", "Output directory for training parquet shards")
	includeTruncated := flag.Bool("include-truncated", false, "Also export games that never reached a final row")
	flag.Parse()

	if *inDir == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "-in-dir and -out-dir are required")
		os.Exit(2)
	}

	absIn, _ := filepath.Abs(*inDir)
	absOut, _ := filepath.Abs(*outDir)
	if absIn == absOut {
		fmt.Fprintln(os.Stderr, "out-dir must be different from in-dir")
		os.Exit(2)
	}

	if err := os.MkdirAll(absOut, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create out-dir: %v\n", err)
		os.Exit(2)
	}

	inputs := make([]string, 0, 1024)
	_ = filepath.WalkDir(absIn, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".parquet") {
			inputs = append(inputs, path)
		}
		return nil
	})

	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "no parquet inputs found")
		os.Exit(1)
	}

	convertedFiles, totalRows := 0, 0
	for _, inPath := range inputs {
		base := filepath.Base(inPath)
		outPath := filepath.Join(absOut, strings.TrimSuffix(base, filepath.Ext(base))+".train.parquet")
		n, err := convertOne(inPath, outPath, *includeTruncated)
		if err != nil {
			fmt.Fprintf(os.Stderr, "convert %s: %v\n", inPath, err)
			continue
		}
		if n > 0 {
			convertedFiles++
			totalRows += n
		}
	}

	if convertedFiles == 0 {
		fmt.Fprintln(os.Stderr, "no output written (no convertible rows)")
		os.Exit(1)
	}
	fmt.Printf("wrote %d rows across %d files\n", totalRows, convertedFiles)
}

// trainingRows turns archived moves into training examples. Games without a
// final row are skipped unless includeTruncated is set, because their
// remaining score is unknown.
func trainingRows(rows []store.MoveRow, includeTruncated bool) []TrainingXRow {
	finalScore := make(map[string]int64)
	finished := make(map[string]bool)
	for _, r := range rows {
		if r.Score > finalScore[r.GameID] {
			finalScore[r.GameID] = r.Score
		}
		if r.Final {
			finished[r.GameID] = true
		}
	}

	out := make([]TrainingXRow, 0, len(rows))
	for _, r := range rows {
		if !finished[r.GameID] && !includeTruncated {
			continue
		}
		before := r.Score - int64(r.Points)

		xPtr := convert.BoardToFloat32(r.PackedBoard())
		x := make([]byte, 0, convert.Channels*convert.Height*convert.Width)
		for _, v := range *xPtr {
			x = append(x, byte(v))
		}
		convert.PutFloatBuffer(xPtr)

		out = append(out, TrainingXRow{
			GameID:    r.GameID,
			Move:      r.Move,
			X:         x,
			Direction: r.Direction,
			Value:     float32(finalScore[r.GameID] - before),
			Search:    float32(r.Value),
			XC:        int32(convert.Channels),
			XH:        int32(convert.Height),
			XW:        int32(convert.Width),
			Engine:    r.Engine,
		})
	}
	return out
}

func convertOne(inPath, outPath string, includeTruncated bool) (int, error) {
	rows, err := store.ReadRows(inPath)
	if err != nil {
		return 0, err
	}
	out := trainingRows(rows, includeTruncated)
	if len(out) == 0 {
		return 0, nil
	}

	outTmp := outPath + ".tmp"
	_ = os.Remove(outTmp)
	outF, err := os.OpenFile(outTmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}

	writer := parquet.NewGenericWriter[TrainingXRow](
		outF,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	writer.SetKeyValueMetadata("schema", "training_x_row_v1")

	fail := func(err error) (int, error) {
		_ = outF.Close()
		_ = os.Remove(outTmp)
		return 0, err
	}

	const chunk = 2048
	for start := 0; start < len(out); start += chunk {
		end := min(start+chunk, len(out))
		if _, err := writer.Write(out[start:end]); err != nil {
			return fail(err)
		}
	}
	if err := writer.Close(); err != nil {
		return fail(err)
	}
	if err := outF.Sync(); err != nil {
		return fail(err)
	}
	if err := outF.Close(); err != nil {
		_ = os.Remove(outTmp)
		return 0, err
	}

	if err := os.Rename(outTmp, outPath); err != nil {
		_ = os.Remove(outTmp)
		return 0, err
	}
	return len(out), nil
}
