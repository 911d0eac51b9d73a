// Package selfplay plays complete games with any search engine and records
// every decision as an archive row.
package selfplay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/frand"

	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/game"
	"github.com/brensch/twenty48/rules"
	"github.com/brensch/twenty48/store"
)

// ErrIllegalMove is returned when an engine answers with a direction that
// does not change the board.
var ErrIllegalMove = errors.New("engine chose a move that changes nothing")

type GameResult struct {
	GameID  string
	Score   int
	MaxTile int
	Moves   int
	// Truncated is set when the game hit Options.MaxMoves before it ended.
	Truncated bool
}

// InProgressGame is a resumable snapshot of an unfinished game, including
// the rows recorded so far.
type InProgressGame struct {
	GameID    string          `json:"game_id"`
	Board     game.Board      `json:"board"`
	Score     int             `json:"score"`
	Rows      []store.MoveRow `json:"rows"`
	RNGSeed   uint64          `json:"rng_seed"`
	StartedNs int64           `json:"started_ns"`
}

type PlayGameOutcome struct {
	Completed  bool
	Rows       []store.MoveRow
	Result     GameResult
	Checkpoint *InProgressGame
}

type Options struct {
	Budget search.Budget
	// EngineName is written to every row.
	EngineName string
	Spawn      rules.SpawnSettings
	// Seed fixes the tile spawns. Zero draws a random seed.
	Seed     uint64
	MaxMoves int

	Resume        *InProgressGame
	StopRequested func() bool
	OnMove        func(b game.Board, r search.Result)
	Logger        *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Budget:     search.Budget{Depth: 3},
		EngineName: "expectimax",
		Spawn:      rules.DefaultSpawnSettings,
	}
}

func newRNG(seed uint64) *frand.RNG {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return frand.NewCustom(s[:], 1024, 12)
}

// PlayGame runs one game to the end. When ctx is cancelled or StopRequested
// reports true between moves, the game is returned incomplete with a
// checkpoint instead of an error. Errors come only from the engine.
func PlayGame(ctx context.Context, engine search.Engine, opts Options) (PlayGameOutcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stopRequested := opts.StopRequested
	if stopRequested == nil {
		stopRequested = func() bool { return false }
	}

	var (
		gameID    string
		board     game.Board
		score     int
		seed      uint64
		startedNs int64
		rows      = make([]store.MoveRow, 0, 1024)
	)

	if r := opts.Resume; r != nil && r.GameID != "" {
		gameID = r.GameID
		board = r.Board
		score = r.Score
		seed = r.RNGSeed
		startedNs = r.StartedNs
		rows = append(rows, r.Rows...)
	} else {
		gameID = uuid.NewString()
		seed = opts.Seed
		startedNs = time.Now().UnixNano()
	}
	if seed == 0 {
		seed = frand.Uint64n(^uint64(0)) + 1
	}
	rng := newRNG(seed)
	if opts.Resume == nil || opts.Resume.GameID == "" {
		board = rules.NewGame(rng)
	}

	checkpoint := func() PlayGameOutcome {
		logger.Debug("checkpointing game", "game_id", gameID, "moves", len(rows), "score", score)
		return PlayGameOutcome{
			Result: GameResult{GameID: gameID, Score: score, MaxTile: board.MaxTile(), Moves: len(rows)},
			Checkpoint: &InProgressGame{
				GameID:    gameID,
				Board:     board,
				Score:     score,
				Rows:      append([]store.MoveRow(nil), rows...),
				RNGSeed:   rng.Uint64n(^uint64(0)) + 1,
				StartedNs: startedNs,
			},
		}
	}

	truncated := false
	for !rules.IsTerminal(board) {
		if opts.MaxMoves > 0 && len(rows) >= opts.MaxMoves {
			truncated = true
			break
		}
		if ctx.Err() != nil || stopRequested() {
			return checkpoint(), nil
		}

		res, err := engine.BestMove(ctx, board, opts.Budget)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, search.ErrStopped) {
				return checkpoint(), nil
			}
			return PlayGameOutcome{}, fmt.Errorf("move %d of %s: %w", len(rows), gameID, err)
		}
		if !res.Valid {
			break
		}

		next, points, moved := rules.NextState(board, res.Direction, rng, opts.Spawn)
		if !moved {
			return PlayGameOutcome{}, fmt.Errorf("move %d of %s (%s): %w", len(rows), gameID, res.Direction, ErrIllegalMove)
		}
		score += points

		rows = append(rows, store.MoveRow{
			GameID:    gameID,
			Move:      int32(len(rows)),
			Board:     store.BoardBits(board),
			Direction: int32(res.Direction),
			Points:    int32(points),
			Score:     int64(score),
			MaxTile:   int32(next.MaxTile()),
			Value:     res.Score,
			Depth:     int32(res.Depth),
			Nodes:     res.Nodes,
			Engine:    opts.EngineName,
			StartedNs: startedNs,
		})
		if opts.OnMove != nil {
			opts.OnMove(board, res)
		}
		board = next
	}

	if len(rows) > 0 {
		rows[len(rows)-1].Final = true
	}
	result := GameResult{
		GameID:    gameID,
		Score:     score,
		MaxTile:   board.MaxTile(),
		Moves:     len(rows),
		Truncated: truncated,
	}
	logger.Debug("game finished", "game_id", gameID, "score", score, "max_tile", result.MaxTile, "moves", result.Moves)
	return PlayGameOutcome{Completed: true, Rows: rows, Result: result}, nil
}
