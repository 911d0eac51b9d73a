package mcts

import (
	"sync"
	"sync/atomic"

	"github.com/brensch/twenty48/game"
)

// NodeID addresses a node in an Arena.
type NodeID int32

// NoNode is the parent of the root.
const NoNode NodeID = -1

const (
	chunkBits = 12
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

// Node is one position in the tree. Decision nodes hold the board before a
// slide, chance nodes the board after it and before the spawn.
//
// Board, Parent, Move and Chance never change after the node is published.
// Everything else is guarded by mu.
type Node struct {
	Board  game.Board
	Parent NodeID
	Move   game.Direction
	Chance bool

	mu        sync.Mutex
	children  []NodeID
	expanded  bool
	visits    int64
	rewardSum float64
}

// NodeStats is a consistent snapshot of a node's counters.
type NodeStats struct {
	Visits    int64
	RewardSum float64
	Children  []NodeID
}

// Average is the mean reward, 0 for an unvisited node.
func (s NodeStats) Average() float64 {
	if s.Visits == 0 {
		return 0
	}
	return s.RewardSum / float64(s.Visits)
}

func (n *Node) stats() NodeStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NodeStats{
		Visits:    n.visits,
		RewardSum: n.rewardSum,
		Children:  append([]NodeID(nil), n.children...),
	}
}

func (n *Node) counters() (int64, float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visits, n.rewardSum
}

func (n *Node) update(reward float64) {
	n.mu.Lock()
	n.visits++
	n.rewardSum += reward
	n.mu.Unlock()
}

// Arena owns every node of one search. Nodes live in fixed-size chunks so
// their addresses never move; the chunk table is swapped atomically when it
// grows. The whole arena is dropped when the search ends.
type Arena struct {
	chunks atomic.Pointer[[]*[chunkSize]Node]
	size   atomic.Int32
	grow   sync.Mutex
}

// NewArena returns an empty arena with its first chunk allocated.
func NewArena() *Arena {
	a := &Arena{}
	first := []*[chunkSize]Node{new([chunkSize]Node)}
	a.chunks.Store(&first)
	return a
}

// Len is the number of allocated nodes.
func (a *Arena) Len() int { return int(a.size.Load()) }

// Get returns the node at id. id must come from Alloc.
func (a *Arena) Get(id NodeID) *Node {
	chunks := *a.chunks.Load()
	return &chunks[id>>chunkBits][id&chunkMask]
}

// Alloc reserves a node and initialises its immutable fields. The caller
// publishes the id (by linking it into a parent under the parent's lock)
// only after Alloc returns.
func (a *Arena) Alloc(b game.Board, parent NodeID, move game.Direction, chance bool) NodeID {
	id := NodeID(a.size.Add(1) - 1)
	a.ensure(int(id>>chunkBits) + 1)
	n := a.Get(id)
	n.Board = b
	n.Parent = parent
	n.Move = move
	n.Chance = chance
	return id
}

func (a *Arena) ensure(chunks int) {
	if len(*a.chunks.Load()) >= chunks {
		return
	}
	a.grow.Lock()
	defer a.grow.Unlock()
	cur := *a.chunks.Load()
	if len(cur) >= chunks {
		return
	}
	next := make([]*[chunkSize]Node, len(cur), chunks)
	copy(next, cur)
	for len(next) < chunks {
		next = append(next, new([chunkSize]Node))
	}
	a.chunks.Store(&next)
}
