package search

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/hailam/zugzwang/internal/board"
)

func TestCacheArenaExhaustion(t *testing.T) {
	c := NewCache(3)
	for i := 0; i < 3; i++ {
		if _, err := c.NewNode(); err != nil {
			t.Fatalf("node %d: %v", i, err)
		}
	}
	if _, err := c.NewNode(); !errors.Is(err, ErrArenaExhausted) {
		t.Errorf("expected ErrArenaExhausted, got %v", err)
	}
	if c.Used() != 3 {
		t.Errorf("used = %d after failed allocation, want 3", c.Used())
	}
}

func TestCacheNodePositionInsertOrGet(t *testing.T) {
	c := NewCache(8)
	a := c.NewNodePosition(42)
	b := c.NewNodePosition(42)
	if a != b {
		t.Error("same hash produced two entries")
	}
	if !c.ContainsNodePosition(42) {
		t.Error("entry not found after insert")
	}
	if c.NodePosition(7) != nil {
		t.Error("lookup of absent hash returned an entry")
	}
	if c.PositionCount() != 1 {
		t.Errorf("position count = %d, want 1", c.PositionCount())
	}
}

func TestNodePositionEvaluationFirstWriterWins(t *testing.T) {
	np := &NodePosition{hash: 1}
	np.SetEvaluation(nil, []float32{0.5, 0.5}, 0.25)
	np.SetEvaluation(nil, []float32{1}, -0.9)
	_, priors, value, ok := np.Evaluation()
	if !ok {
		t.Fatal("evaluation not recorded")
	}
	if len(priors) != 2 || value != 0.25 {
		t.Errorf("second writer overwrote the evaluation: %v %v", priors, value)
	}
}

// link allocates a child of parent in the cache and wires both directions.
func link(t *testing.T, c *Cache, parent *Node) *Node {
	t.Helper()
	n, err := c.NewNode()
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if parent != nil {
		n.parent = parent
		parent.children = append(parent.children, n)
		parent.expanded = true
	}
	return n
}

func bind(c *Cache, n *Node, pos *board.Position) {
	np := c.NewNodePosition(pos.Hash())
	np.Initialize(n, pos)
	n.position = np
}

func TestCacheResetNodesFullClear(t *testing.T) {
	c := NewCache(8)
	root := link(t, c, nil)
	bind(c, root, board.StartingPosition())
	link(t, c, root)
	if got := c.ResetNodes(nil); got != nil {
		t.Errorf("reset without retained root returned %v", got)
	}
	if c.Used() != 0 || c.PositionCount() != 0 {
		t.Errorf("cache not empty after full reset: used=%d positions=%d", c.Used(), c.PositionCount())
	}
}

func TestCacheResetNodesCompaction(t *testing.T) {
	c := NewCache(16)
	start := board.StartingPosition()

	root := link(t, c, nil)
	bind(c, root, start)
	keep := link(t, c, root)
	drop := link(t, c, root)
	link(t, c, keep) // grandchild under keep

	moves := start.LegalMoves()
	keep.move = moves[0]
	drop.move = moves[1]
	bind(c, keep, start.MakeMove(moves[0]))
	bind(c, drop, start.MakeMove(moves[1]))

	atomic.AddInt64(&keep.visits, 7)
	keep.prior = 0.6

	// Re-root onto keep: detach it, discard the rest.
	root.children = []*Node{drop}
	keep.parent = nil
	c.UnlinkNode(root)
	newRoot := c.ResetNodes(keep)

	if newRoot == nil {
		t.Fatal("reset returned nil root")
	}
	if c.Used() != 2 {
		t.Errorf("used = %d after compaction, want 2 (keep + grandchild)", c.Used())
	}
	if newRoot.Visits() != 7 || newRoot.prior != 0.6 {
		t.Errorf("statistics lost in compaction: visits=%d prior=%v", newRoot.Visits(), newRoot.prior)
	}
	if len(newRoot.children) != 1 || newRoot.children[0].parent != newRoot {
		t.Error("child links not rewired to relocated nodes")
	}

	// Only keep's position survives; root's and drop's entries are gone.
	if c.PositionCount() != 1 {
		t.Errorf("position count = %d after compaction, want 1", c.PositionCount())
	}
	if np := newRoot.position; np == nil || np.Transpositions() != 1 {
		t.Error("surviving position entry not rebuilt from survivors")
	}
}

func TestUnlinkNodeDrainsTranspositionSet(t *testing.T) {
	c := NewCache(8)
	start := board.StartingPosition()
	root := link(t, c, nil)
	child := link(t, c, root)
	bind(c, root, start)
	bind(c, child, start.MakeMove(start.LegalMoves()[0]))

	c.UnlinkNode(root)
	if got := root.position.Transpositions(); got != 0 {
		t.Errorf("root entry still has %d nodes after unlink", got)
	}
	if got := child.position.Transpositions(); got != 0 {
		t.Errorf("child entry still has %d nodes after unlink", got)
	}
}
