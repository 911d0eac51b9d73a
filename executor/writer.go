package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/brensch/twenty48/executor/selfplay"
	"github.com/brensch/twenty48/store"
)

// parquetWriterLoop archives completed games in batches of gamesPerFlush and
// collects the checkpoints of unfinished ones, which it returns once
// outcomes is closed. Every completed game is also offered to updates
// without blocking.
func parquetWriterLoop(outDir string, gamesPerFlush int, gameLog *store.GameLog, outcomes <-chan selfplay.PlayGameOutcome, updates chan<- selfplay.GameResult) []*selfplay.InProgressGame {
	defer close(updates)
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	var (
		checkpoints []*selfplay.InProgressGame
		writer      *store.BatchWriter
		pendingIDs  []string
	)

	flush := func(reason string) {
		if writer == nil {
			return
		}
		outPath, rows, games, err := writer.Finalize()
		writer = nil
		if err != nil {
			log.Printf("Parquet flush failed (%s, games=%d): %v", reason, len(pendingIDs), err)
			pendingIDs = pendingIDs[:0]
			return
		}
		if err := gameLog.Add(pendingIDs...); err != nil {
			log.Printf("Game log append failed: %v", err)
		}
		pendingIDs = pendingIDs[:0]
		if outPath != "" {
			log.Printf("Parquet flush ok (%s): %s (games=%d rows=%d)", reason, outPath, games, rows)
		}
	}

	for out := range outcomes {
		if !out.Completed {
			if out.Checkpoint != nil && len(out.Checkpoint.Rows) > 0 {
				checkpoints = append(checkpoints, out.Checkpoint)
			}
			continue
		}
		totalGames.Add(1)

		if writer == nil {
			w, err := store.NewBatchWriter(outDir)
			if err != nil {
				log.Printf("Opening batch writer failed, dropping game %s: %v", out.Result.GameID, err)
				continue
			}
			writer = w
		}
		if err := writer.WriteGame(out.Rows); err != nil {
			log.Printf("Writing game %s failed: %v", out.Result.GameID, err)
			continue
		}
		pendingIDs = append(pendingIDs, out.Result.GameID)

		select {
		case updates <- out.Result:
		default:
		}

		if writer.Games() >= gamesPerFlush {
			flush("count")
		}
	}
	flush("final")
	return checkpoints
}

func loadCheckpoints(path string, gameLog *store.GameLog) ([]*selfplay.InProgressGame, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var all []*selfplay.InProgressGame
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out := all[:0]
	for _, cp := range all {
		if cp == nil || cp.GameID == "" || gameLog.Has(cp.GameID) {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

// saveCheckpoints replaces the checkpoint file. With nothing to save the
// file is removed so the next run starts fresh.
func saveCheckpoints(path string, checkpoints []*selfplay.InProgressGame) error {
	if len(checkpoints) == 0 {
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(checkpoints)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
