// Package config gathers the engine settings shared by the self-play runner,
// the move server and the benchmark tool, and turns them into a ready
// search.Engine.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/brensch/twenty48/eval"
	"github.com/brensch/twenty48/executor/expectimax"
	"github.com/brensch/twenty48/executor/hybrid"
	"github.com/brensch/twenty48/executor/mcts"
	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/executor/transposition"
	"github.com/brensch/twenty48/weights"
)

type Kind string

const (
	KindExpectimax Kind = "expectimax"
	KindParallel   Kind = "parallel"
	KindMCTS       Kind = "mcts"
	KindHybrid     Kind = "hybrid"
)

var Kinds = []Kind{KindExpectimax, KindParallel, KindMCTS, KindHybrid}

var ErrInvalid = errors.New("invalid engine config")

// Engine is the full set of knobs. The zero value is not useful; start from
// Default or FromEnv.
type Engine struct {
	Kind Kind

	Depth             int
	Workers           int
	Cache             bool
	CacheCapacity     int
	Pruning           bool
	Enhanced          bool
	AdaptiveDepth     bool
	ProbabilityCutoff float64

	MctsWeight       float64
	MctsIterations   int
	RolloutDepth     int
	NormalizeRewards bool
	Seed             uint64

	// TimeMs is the per-move wall clock budget. Zero searches to Depth.
	TimeMs int

	// WeightsPath points at a weight document. Empty uses the defaults.
	WeightsPath string
	// OnnxModel loads the batched accelerator evaluator. On its own it
	// only backs Built.Accelerator; search keeps the heuristic.
	OnnxModel    string
	OnnxSessions int
	// OnnxLeaves scores expectimax leaves with the network instead of the
	// heuristic. Network values are not the heuristic, so moves and scores
	// differ from the CPU path; runs are only comparable with each other.
	OnnxLeaves bool
}

func Default() Engine {
	return Engine{
		Kind:             KindParallel,
		Depth:            3,
		Workers:          runtime.NumCPU(),
		Cache:            true,
		CacheCapacity:    transposition.DefaultCapacity,
		Pruning:          true,
		Enhanced:         true,
		AdaptiveDepth:    true,
		MctsWeight:       hybrid.DefaultMctsWeight,
		MctsIterations:   mcts.DefaultIterations,
		RolloutDepth:     mcts.DefaultRolloutDepth,
		NormalizeRewards: true,
		OnnxSessions:     1,
	}
}

// FromEnv loads the given env files (".env" when none are named; missing
// files are skipped) and overlays TWENTY48_* variables on Default. Variables
// that fail to parse keep their defaults.
func FromEnv(files ...string) (Engine, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Engine{}, fmt.Errorf("load env: %w", err)
	}

	c := Default()
	c.Kind = Kind(strings.ToLower(getEnvOrDefault("TWENTY48_ENGINE", string(c.Kind))))
	c.Depth = getEnvIntOrDefault("TWENTY48_DEPTH", c.Depth)
	c.Workers = getEnvIntOrDefault("TWENTY48_WORKERS", c.Workers)
	c.Cache = getEnvBoolOrDefault("TWENTY48_CACHE", c.Cache)
	c.CacheCapacity = getEnvIntOrDefault("TWENTY48_CACHE_CAPACITY", c.CacheCapacity)
	c.Pruning = getEnvBoolOrDefault("TWENTY48_PRUNING", c.Pruning)
	c.Enhanced = getEnvBoolOrDefault("TWENTY48_ENHANCED", c.Enhanced)
	c.AdaptiveDepth = getEnvBoolOrDefault("TWENTY48_ADAPTIVE_DEPTH", c.AdaptiveDepth)
	c.ProbabilityCutoff = getEnvFloatOrDefault("TWENTY48_PROB_CUTOFF", c.ProbabilityCutoff)
	c.MctsWeight = getEnvFloatOrDefault("TWENTY48_MCTS_WEIGHT", c.MctsWeight)
	c.MctsIterations = getEnvIntOrDefault("TWENTY48_MCTS_ITERATIONS", c.MctsIterations)
	c.RolloutDepth = getEnvIntOrDefault("TWENTY48_ROLLOUT_DEPTH", c.RolloutDepth)
	c.NormalizeRewards = getEnvBoolOrDefault("TWENTY48_NORMALIZE_REWARDS", c.NormalizeRewards)
	c.Seed = uint64(getEnvIntOrDefault("TWENTY48_SEED", int(c.Seed)))
	c.TimeMs = getEnvIntOrDefault("TWENTY48_TIME_MS", c.TimeMs)
	c.WeightsPath = getEnvOrDefault("TWENTY48_WEIGHTS", c.WeightsPath)
	c.OnnxModel = getEnvOrDefault("TWENTY48_ONNX_MODEL", c.OnnxModel)
	c.OnnxSessions = getEnvIntOrDefault("TWENTY48_ONNX_SESSIONS", c.OnnxSessions)
	c.OnnxLeaves = getEnvBoolOrDefault("TWENTY48_ONNX_LEAVES", c.OnnxLeaves)
	return c, nil
}

func (c Engine) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	known := false
	for _, k := range Kinds {
		known = known || k == c.Kind
	}
	if !known {
		bad("unknown engine %q", c.Kind)
	}
	if c.Depth < 1 || c.Depth > expectimax.MaxIterativeDepth {
		bad("depth %d outside [1,%d]", c.Depth, expectimax.MaxIterativeDepth)
	}
	if c.Workers < 1 {
		bad("workers %d < 1", c.Workers)
	}
	if c.Cache && c.CacheCapacity < 1 {
		bad("cache capacity %d < 1", c.CacheCapacity)
	}
	if c.ProbabilityCutoff < 0 || c.ProbabilityCutoff >= 1 {
		bad("probability cutoff %g outside [0,1)", c.ProbabilityCutoff)
	}
	if c.MctsWeight < 0 || c.MctsWeight > 1 {
		bad("mcts weight %g outside [0,1]", c.MctsWeight)
	}
	if c.MctsIterations < 1 {
		bad("mcts iterations %d < 1", c.MctsIterations)
	}
	if c.RolloutDepth < 1 {
		bad("rollout depth %d < 1", c.RolloutDepth)
	}
	if c.TimeMs < 0 {
		bad("time budget %dms < 0", c.TimeMs)
	}
	if c.OnnxModel != "" && c.OnnxSessions < 1 {
		bad("onnx sessions %d < 1", c.OnnxSessions)
	}
	if c.OnnxLeaves && c.OnnxModel == "" {
		bad("onnx leaves without a model")
	}
	return errors.Join(errs...)
}

// Budget is the per-move budget implied by the config.
func (c Engine) Budget() search.Budget {
	b := search.Budget{Iterations: c.MctsIterations}
	if c.TimeMs > 0 {
		b.Time = time.Duration(c.TimeMs) * time.Millisecond
	} else {
		b.Depth = c.Depth
	}
	return b
}

func (c Engine) ExpectimaxOptions(logger *slog.Logger) expectimax.Options {
	return expectimax.Options{
		Depth:             c.Depth,
		Pruning:           c.Pruning,
		Cache:             c.Cache,
		CacheCapacity:     c.CacheCapacity,
		AdaptiveDepth:     c.AdaptiveDepth,
		ProbabilityCutoff: c.ProbabilityCutoff,
		Workers:           c.Workers,
		Logger:            logger,
	}
}

func (c Engine) MCTSConfig(logger *slog.Logger) mcts.Config {
	return mcts.Config{
		Workers:          c.Workers,
		Iterations:       c.MctsIterations,
		Exploration:      mcts.Exploration,
		RolloutDepth:     c.RolloutDepth,
		NormalizeRewards: c.NormalizeRewards,
		Seed:             c.Seed,
		Logger:           logger,
	}
}

func (c Engine) HybridConfig(logger *slog.Logger) hybrid.Config {
	return hybrid.Config{MctsWeight: c.MctsWeight, Logger: logger}
}

// Environment variable helpers
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

// Evaluator resolves the weight document and the enhanced flag.
func (c Engine) Evaluator() (eval.Evaluator, error) {
	w, err := weights.LoadEval(c.WeightsPath)
	if err != nil {
		return eval.Evaluator{}, err
	}
	return eval.New(w, c.Enhanced), nil
}
