package search

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hailam/zugzwang/internal/board"
)

// ErrArenaExhausted is returned by NewNode when the slab is full. The driver
// treats it as a stop signal: unwind the in-flight iteration and end the
// search with the best move found so far.
var ErrArenaExhausted = errors.New("search: node arena exhausted")

// NodePosition is the state shared by every node that reaches the same chess
// position through different move orders. The policy priors and the static
// value are computed once, on first evaluation, no matter how many nodes
// point here.
type NodePosition struct {
	mu        sync.Mutex
	hash      uint64
	pos       *board.Position
	moves     []*board.Move
	priors    []float32
	value     float32
	evaluated bool
	nodes     []*Node // transposition back-set; non-owning
}

// Initialize binds the canonical position value and registers the first node.
func (np *NodePosition) Initialize(n *Node, pos *board.Position) {
	np.mu.Lock()
	defer np.mu.Unlock()
	if np.pos == nil {
		np.pos = pos
	}
	np.nodes = append(np.nodes, n)
}

// Position returns the canonical position for this entry.
func (np *NodePosition) Position() *board.Position {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.pos
}

// Hash returns the position key.
func (np *NodePosition) Hash() uint64 {
	return np.hash
}

// Transpositions returns how many live nodes share this entry.
func (np *NodePosition) Transpositions() int {
	np.mu.Lock()
	defer np.mu.Unlock()
	return len(np.nodes)
}

// SetEvaluation stores the network output. First writer wins; a transposition
// racing to evaluate the same position keeps the earlier result.
func (np *NodePosition) SetEvaluation(moves []*board.Move, priors []float32, value float32) {
	np.mu.Lock()
	defer np.mu.Unlock()
	if np.evaluated {
		return
	}
	np.moves = moves
	np.priors = priors
	np.value = value
	np.evaluated = true
}

// Evaluation returns the cached network output, if any.
func (np *NodePosition) Evaluation() (moves []*board.Move, priors []float32, value float32, ok bool) {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.moves, np.priors, np.value, np.evaluated
}

func (np *NodePosition) addNode(n *Node) {
	np.mu.Lock()
	np.nodes = append(np.nodes, n)
	np.mu.Unlock()
}

func (np *NodePosition) removeNode(n *Node) {
	np.mu.Lock()
	for i, other := range np.nodes {
		if other == n {
			np.nodes[i] = np.nodes[len(np.nodes)-1]
			np.nodes = np.nodes[:len(np.nodes)-1]
			break
		}
	}
	np.mu.Unlock()
}

// Cache owns every Node and NodePosition of the search tree. Nodes live in a
// fixed-capacity slab with a monotone bump allocator; positions live in a
// hash-keyed map with insert-or-get semantics. Neither side owns the other:
// Node -> NodePosition is a non-owning pointer and the back-set is consulted
// only during unlink and reset.
type Cache struct {
	slab []Node
	used atomic.Int64

	posMu     sync.RWMutex
	positions map[uint64]*NodePosition
}

// NewCache creates a cache whose node slab holds capacity nodes.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		slab:      make([]Node, capacity),
		positions: make(map[uint64]*NodePosition),
	}
}

// Capacity returns the slab size.
func (c *Cache) Capacity() int {
	return len(c.slab)
}

// Used returns the number of allocated node slots.
func (c *Cache) Used() int {
	return int(c.used.Load())
}

// NewNode returns the next free node slot, or ErrArenaExhausted.
func (c *Cache) NewNode() (*Node, error) {
	idx := c.used.Add(1) - 1
	if idx >= int64(len(c.slab)) {
		c.used.Add(-1)
		return nil, ErrArenaExhausted
	}
	return &c.slab[idx], nil
}

// NewNodePosition inserts an entry for hash and returns it. If another worker
// inserted the same hash first, the existing entry is returned instead, which
// is what makes transpositions share a single entry.
func (c *Cache) NewNodePosition(hash uint64) *NodePosition {
	c.posMu.Lock()
	defer c.posMu.Unlock()
	if np, ok := c.positions[hash]; ok {
		return np
	}
	np := &NodePosition{hash: hash}
	c.positions[hash] = np
	return np
}

// ContainsNodePosition reports whether an entry exists for hash.
func (c *Cache) ContainsNodePosition(hash uint64) bool {
	c.posMu.RLock()
	defer c.posMu.RUnlock()
	_, ok := c.positions[hash]
	return ok
}

// NodePosition returns the entry for hash, or nil.
func (c *Cache) NodePosition(hash uint64) *NodePosition {
	c.posMu.RLock()
	defer c.posMu.RUnlock()
	return c.positions[hash]
}

// PositionCount returns the number of live NodePosition entries.
func (c *Cache) PositionCount() int {
	c.posMu.RLock()
	defer c.posMu.RUnlock()
	return len(c.positions)
}

// UnlinkNode removes n and every descendant from their transposition sets.
// An entry whose set drains becomes collectable at the next ResetNodes.
func (c *Cache) UnlinkNode(n *Node) {
	if n == nil {
		return
	}
	if n.position != nil {
		n.position.removeNode(n)
	}
	for _, child := range n.children {
		c.UnlinkNode(child)
	}
}

// nodeState is a node snapshot used while compacting the slab. Parent and
// children are recorded as slab-relative indices because the nodes move.
type nodeState struct {
	parentIdx   int
	childrenIdx []int
	move        *board.Move
	position    *NodePosition
	prior       float32
	visits      int64
	valueSum    uint64
	terminal    bool
	exact       bool
	exactValue  float32
	expanded    bool
}

// ResetNodes compacts the slab. Nodes reachable from retained are moved to
// the front of the slab and rewired; everything else, including NodePositions
// no longer referenced by any surviving node, is dropped. Returns the
// relocated retained node (nil when retained was nil).
//
// Must only be called between searches: no worker may hold node pointers
// across a reset.
func (c *Cache) ResetNodes(retained *Node) *Node {
	if retained == nil {
		prev := int(c.used.Load())
		for i := 0; i < prev; i++ {
			c.slab[i] = Node{}
		}
		c.used.Store(0)
		c.posMu.Lock()
		c.positions = make(map[uint64]*NodePosition)
		c.posMu.Unlock()
		return nil
	}

	// Snapshot the reachable set in preorder.
	var reach []*Node
	index := make(map[*Node]int)
	var collect func(n *Node)
	collect = func(n *Node) {
		index[n] = len(reach)
		reach = append(reach, n)
		for _, child := range n.children {
			collect(child)
		}
	}
	collect(retained)

	states := make([]nodeState, len(reach))
	for i, n := range reach {
		st := nodeState{
			parentIdx:  -1,
			move:       n.move,
			position:   n.position,
			prior:      n.prior,
			visits:     atomic.LoadInt64(&n.visits),
			valueSum:   atomic.LoadUint64(&n.valueSum),
			terminal:   n.terminal,
			exact:      n.exact,
			exactValue: n.exactValue,
			expanded:   n.expanded,
		}
		if n.parent != nil {
			st.parentIdx = index[n.parent]
		}
		for _, child := range n.children {
			st.childrenIdx = append(st.childrenIdx, index[child])
		}
		states[i] = st
	}

	prev := int(c.used.Load())
	for i, st := range states {
		dst := &c.slab[i]
		*dst = Node{}
		dst.move = st.move
		dst.position = st.position
		dst.prior = st.prior
		dst.visits = st.visits
		dst.valueSum = st.valueSum
		dst.terminal = st.terminal
		dst.exact = st.exact
		dst.exactValue = st.exactValue
		dst.expanded = st.expanded
		if st.parentIdx >= 0 {
			dst.parent = &c.slab[st.parentIdx]
		}
		if len(st.childrenIdx) > 0 {
			dst.children = make([]*Node, len(st.childrenIdx))
			for j, ci := range st.childrenIdx {
				dst.children[j] = &c.slab[ci]
			}
		}
	}
	for i := len(states); i < prev; i++ {
		c.slab[i] = Node{}
	}
	c.used.Store(int64(len(states)))

	// Rebuild the position map and back-sets from survivors only.
	c.posMu.Lock()
	c.positions = make(map[uint64]*NodePosition)
	for i := range states {
		n := &c.slab[i]
		if n.position == nil {
			continue
		}
		np := n.position
		if _, ok := c.positions[np.hash]; !ok {
			np.nodes = np.nodes[:0]
			c.positions[np.hash] = np
		}
		np.nodes = append(np.nodes, n)
	}
	c.posMu.Unlock()

	return &c.slab[0]
}
