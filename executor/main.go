package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/twenty48/config"
	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/executor/selfplay"
	"github.com/brensch/twenty48/game"
	"github.com/brensch/twenty48/logging"
	"github.com/brensch/twenty48/store"
)

var (
	totalMoves atomic.Int64
	totalGames atomic.Int64
	// lastBoard is the most recent position any worker searched.
	lastBoard atomic.Uint64
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	engineKind := flag.String("engine", string(cfg.Kind), "Search engine: expectimax, parallel, mcts or hybrid")
	flag.IntVar(&cfg.Depth, "depth", cfg.Depth, "Expectimax search depth")
	flag.IntVar(&cfg.Workers, "search-workers", cfg.Workers, "Goroutines per search (root fan-out or MCTS workers)")
	flag.IntVar(&cfg.TimeMs, "time-ms", cfg.TimeMs, "Per-move time budget in ms; 0 searches to -depth")
	flag.IntVar(&cfg.MctsIterations, "mcts-iterations", cfg.MctsIterations, "MCTS iterations per move")
	flag.Float64Var(&cfg.MctsWeight, "mcts-weight", cfg.MctsWeight, "Hybrid: probability of siding with MCTS on disagreement")
	flag.BoolVar(&cfg.Cache, "cache", cfg.Cache, "Enable the transposition table")
	flag.BoolVar(&cfg.Pruning, "pruning", cfg.Pruning, "Enable alpha-beta and chance-node pruning")
	flag.BoolVar(&cfg.Enhanced, "enhanced", cfg.Enhanced, "Use the merge and placement evaluation terms")
	flag.StringVar(&cfg.WeightsPath, "weights", cfg.WeightsPath, "Weight document to evaluate with")
	flag.StringVar(&cfg.OnnxModel, "onnx-model", cfg.OnnxModel, "ONNX value model; empty evaluates on the CPU")
	seed := flag.Uint64("seed", cfg.Seed, "Seed for tile spawns and MCTS; 0 is random")

	outDir := flag.String("out-dir", "data/generated", "Output directory for parquet game batches")
	gameWorkers := flag.Int("workers", 4, "Number of concurrent self-play games")
	maxGames := flag.Int("max-games", 0, "If > 0, stop after starting this many games")
	gamesPerFlush := flag.Int("games-per-flush", 50, "Number of games to buffer per parquet flush")
	checkpointPath := flag.String("checkpoint", "data/checkpoint.json", "Where unfinished games are saved on shutdown")
	gameLogPath := flag.String("game-log", "data/written_games.log", "Append-only log of game IDs already written")
	useTUI := flag.Bool("tui", false, "Show a live dashboard instead of log lines")
	logFormat := flag.String("log-format", logging.FormatText, "Log format: pretty, json or text")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	cfg.Kind = config.Kind(*engineKind)
	cfg.Seed = *seed

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(os.Stderr, *logFormat, level)
	slog.SetDefault(logger)

	built, err := cfg.Build(logger)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer built.Close()

	gameLog, err := store.OpenGameLog(*gameLogPath)
	if err != nil {
		log.Fatalf("game log: %v", err)
	}
	defer gameLog.Close()

	resume, err := loadCheckpoints(*checkpointPath, gameLog)
	if err != nil {
		log.Fatalf("checkpoint: %v", err)
	}
	if *maxGames > 0 && *maxGames < len(resume) {
		*maxGames = len(resume)
	}
	if len(resume) > 0 {
		log.Printf("Resuming %d unfinished games from %s", len(resume), *checkpointPath)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	opts := selfplay.DefaultOptions()
	opts.Budget = cfg.Budget()
	opts.EngineName = string(cfg.Kind)
	opts.Seed = cfg.Seed
	opts.Logger = logger
	opts.OnMove = func(b game.Board, _ search.Result) {
		totalMoves.Add(1)
		lastBoard.Store(uint64(b))
	}

	outcomes := make(chan selfplay.PlayGameOutcome, *gameWorkers)
	updates := make(chan selfplay.GameResult, *gameWorkers)

	writerDone := make(chan []*selfplay.InProgressGame, 1)
	go func() {
		writerDone <- parquetWriterLoop(*outDir, *gamesPerFlush, gameLog, outcomes, updates)
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- selfplay.Run(ctx, selfplay.RunConfig{
			Workers: *gameWorkers,
			Games:   *maxGames,
			Options: opts,
			Resume:  resume,
		}, func(int) search.Engine { return built.Engine }, outcomes)
		close(outcomes)
	}()

	log.Printf("Starting self-play: engine=%s budget=%s workers=%d", cfg.Kind, opts.Budget, *gameWorkers)

	if *useTUI {
		p := tea.NewProgram(newModel(updates, cfg), tea.WithAltScreen())
		go func() {
			<-ctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			log.Printf("tui: %v", err)
		}
		cancel()
	} else {
		logProgress(ctx, updates, built)
	}

	if err := <-runErr; err != nil {
		log.Printf("Self-play stopped with error: %v", err)
	}
	checkpoints := <-writerDone
	if err := saveCheckpoints(*checkpointPath, checkpoints); err != nil {
		log.Printf("Saving checkpoints failed: %v", err)
	}
	log.Printf("Shutdown complete: games=%d moves=%d checkpointed=%d", totalGames.Load(), totalMoves.Load(), len(checkpoints))
}

// logProgress prints finished games and a throughput line every second until
// ctx ends or the run finishes on its own.
func logProgress(ctx context.Context, updates <-chan selfplay.GameResult, built *config.Built) {
	start := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("Shutdown requested; checkpointing games in progress...")
			for range updates {
			}
			return
		case res, ok := <-updates:
			if !ok {
				return
			}
			log.Printf("Game %s: score %d, max tile %d, moves %d", res.GameID, res.Score, res.MaxTile, res.Moves)
		case <-ticker.C:
			elapsed := time.Since(start).Seconds()
			line := fmt.Sprintf("Stats: games=%d moves/s=%.1f", totalGames.Load(), float64(totalMoves.Load())/elapsed)
			if built.Expectimax != nil {
				st := built.Expectimax.Stats()
				line += fmt.Sprintf(" | nodes=%d cache hits=%d cutoffs=%d", st.Nodes, st.CacheHits, st.Cutoffs)
			}
			log.Print(line)
		}
	}
}
