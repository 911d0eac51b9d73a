// Package mcts implements Monte-Carlo tree search for 2048.
//
// Decision nodes pick a slide with UCB1. Chance nodes sample a spawn and
// grow one outcome at a time, so their children are visited in proportion
// to how likely each spawn is. Several workers share one tree.
package mcts

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"lukechampine.com/frand"

	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/game"
	"github.com/brensch/twenty48/rules"
)

const (
	DefaultIterations   = 2000
	DefaultRolloutDepth = 100
)

// Exploration is the UCB1 constant C.
var Exploration = math.Sqrt2

// Config holds MCTS configuration
type Config struct {
	Workers      int
	Iterations   int
	Exploration  float64
	RolloutDepth int
	// NormalizeRewards divides average rewards by the largest reward seen
	// so the exploitation term stays in [0,1] next to the exploration term.
	NormalizeRewards bool
	// Seed makes worker RNG streams reproducible. Zero draws fresh entropy.
	Seed   uint64
	Logger *slog.Logger
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Workers:          runtime.NumCPU(),
		Iterations:       DefaultIterations,
		Exploration:      Exploration,
		RolloutDepth:     DefaultRolloutDepth,
		NormalizeRewards: true,
	}
}

// MCTS is a search.Engine.
type MCTS struct {
	Config Config
}

// New fills unset fields of cfg from DefaultConfig.
func New(cfg Config) *MCTS {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.Exploration <= 0 {
		cfg.Exploration = def.Exploration
	}
	if cfg.RolloutDepth <= 0 {
		cfg.RolloutDepth = def.RolloutDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MCTS{Config: cfg}
}

// Tree is the result of one search. It is discarded with its arena.
type Tree struct {
	Arena *Arena
	Root  NodeID

	cfg       Config
	maxReward atomic.Uint64 // float64 bits
	claimed   atomic.Int64
	completed atomic.Int64
	maxDepth  atomic.Int32
}

func newTree(b game.Board, cfg Config) *Tree {
	t := &Tree{Arena: NewArena(), cfg: cfg}
	t.Root = t.Arena.Alloc(b, NoNode, game.DefaultDirection, false)
	return t
}

// Stats snapshots node id.
func (t *Tree) Stats(id NodeID) NodeStats { return t.Arena.Get(id).stats() }

// Iterations is the number of completed iterations.
func (t *Tree) Iterations() int64 { return t.completed.Load() }

// MaxDepth is the longest selection path seen.
func (t *Tree) MaxDepth() int { return int(t.maxDepth.Load()) }

// BestChild is the most visited root child. Children are created in
// enumeration order and only a strictly larger count replaces the leader,
// so ties go to the earlier direction.
func (t *Tree) BestChild() (NodeID, bool) {
	best := NoNode
	var bestVisits int64 = -1
	for _, c := range t.Stats(t.Root).Children {
		if v, _ := t.Arena.Get(c).counters(); v > bestVisits {
			best, bestVisits = c, v
		}
	}
	return best, best != NoNode
}

// BestMove implements search.Engine.
func (m *MCTS) BestMove(ctx context.Context, b game.Board, budget search.Budget) (search.Result, error) {
	start := time.Now()
	t, err := m.Search(ctx, b, budget)
	if err != nil {
		return search.NoMove(), err
	}
	child, ok := t.BestChild()
	if !ok {
		res := search.NoMove()
		res.Nodes = int64(t.Arena.Len())
		return res, nil
	}
	cs := t.Stats(child)
	res := search.Result{
		Direction: t.Arena.Get(child).Move,
		Score:     cs.Average(),
		Depth:     t.MaxDepth(),
		Nodes:     int64(t.Arena.Len()),
		Valid:     true,
	}
	m.Config.Logger.Debug("mcts search", "move", res.Direction, "visits", cs.Visits, "iterations", t.Iterations(), "nodes", res.Nodes, "elapsed", time.Since(start))
	return res, nil
}

// Search grows a tree from b until the iteration budget is spent, the time
// budget expires or ctx is cancelled. Cancellation is an error; running out
// of time is not.
func (m *MCTS) Search(ctx context.Context, b game.Board, budget search.Budget) (*Tree, error) {
	limit := int64(budget.Iterations)
	if limit <= 0 {
		if budget.Time > 0 {
			limit = math.MaxInt64
		} else {
			limit = int64(m.Config.Iterations)
		}
	}

	runCtx := ctx
	if budget.Time > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, budget.Time)
		defer cancel()
	}
	stop := search.NewStopper(runCtx)
	defer stop.Release()

	t := newTree(b, m.Config)
	var wg sync.WaitGroup
	for w := 0; w < m.Config.Workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := m.workerRNG(w)
			path := make([]NodeID, 0, 64)
			for !stop.Stopped() && t.claimed.Add(1) <= limit {
				path = t.iterate(rng, path)
			}
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *MCTS) workerRNG(worker int) *frand.RNG {
	if m.Config.Seed == 0 {
		return frand.New()
	}
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[0:], m.Config.Seed)
	binary.LittleEndian.PutUint64(seed[8:], uint64(worker))
	return frand.NewCustom(seed[:], 1024, 12)
}

// iterate runs one select, expand, rollout and backprop pass and returns the
// selection path, reusing path's storage.
func (t *Tree) iterate(rng *frand.RNG, path []NodeID) []NodeID {
	path = path[:0]
	id := t.Root
	path = append(path, id)

	for {
		n := t.Arena.Get(id)
		var next NodeID
		var leaf bool
		if n.Chance {
			next, leaf = t.stepChance(n, id, rng)
		} else {
			next, leaf = t.stepDecision(n, id)
			if next == NoNode {
				break
			}
		}
		id = next
		path = append(path, id)
		if leaf {
			break
		}
	}

	if d := int32(len(path) - 1); d > t.maxDepth.Load() {
		for {
			cur := t.maxDepth.Load()
			if d <= cur || t.maxDepth.CompareAndSwap(cur, d) {
				break
			}
		}
	}

	last := t.Arena.Get(id)
	reward := rollout(last.Board, last.Chance, rng, t.cfg.RolloutDepth)
	t.observeReward(reward)
	for _, p := range path {
		t.Arena.Get(p).update(reward)
	}
	t.completed.Add(1)
	return path
}

// stepDecision expands n on first visit and picks a child by UCB1. It
// returns NoNode when n has no legal move. leaf is true when the chosen
// child has never been visited.
func (t *Tree) stepDecision(n *Node, id NodeID) (NodeID, bool) {
	n.mu.Lock()
	if !n.expanded {
		for _, d := range game.Directions {
			next := n.Board.Move(d)
			if next == n.Board {
				continue
			}
			n.children = append(n.children, t.Arena.Alloc(next, id, d, true))
		}
		n.expanded = true
	}
	children := n.children
	parentVisits := n.visits
	n.mu.Unlock()

	if len(children) == 0 {
		return NoNode, true
	}

	norm := 1.0
	if t.cfg.NormalizeRewards {
		if m := math.Float64frombits(t.maxReward.Load()); m > 0 {
			norm = m
		}
	}
	logN := math.Log(float64(max(parentVisits, 1)))

	best := children[0]
	bestScore := math.Inf(-1)
	bestVisits := int64(0)
	for _, c := range children {
		visits, sum := t.Arena.Get(c).counters()
		score := math.Inf(1)
		if visits > 0 {
			score = sum/float64(visits)/norm + t.cfg.Exploration*math.Sqrt(logN/float64(visits))
		}
		if score > bestScore {
			best, bestScore, bestVisits = c, score, visits
		}
	}
	return best, bestVisits == 0
}

// stepChance samples one spawn. A spawn seen before descends into its
// existing child; a new one becomes a leaf.
func (t *Tree) stepChance(n *Node, id NodeID, rng *frand.RNG) (NodeID, bool) {
	spawned, ok := rules.Spawn(n.Board, rng)
	if !ok {
		// Unreachable for boards produced by a slide, which always leave a
		// hole, but a full board simply has no spawn.
		spawned = n.Board
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.children {
		if t.Arena.Get(c).Board == spawned {
			return c, false
		}
	}
	child := t.Arena.Alloc(spawned, id, n.Move, false)
	n.children = append(n.children, child)
	return child, true
}

func (t *Tree) observeReward(r float64) {
	for {
		cur := t.maxReward.Load()
		if r <= math.Float64frombits(cur) || t.maxReward.CompareAndSwap(cur, math.Float64bits(r)) {
			return
		}
	}
}

var _ search.Engine = (*MCTS)(nil)
