package search

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hailam/zugzwang/internal/board"
)

// Tree owns the search root and its cache. One tree serves one game: between
// moves the root advances, optionally keeping the relevant subtree alive.
type Tree struct {
	cache *Cache
	root  *Node
	log   zerolog.Logger
}

// NewTree creates a tree backed by a node arena of the given capacity.
func NewTree(arenaSize int, log zerolog.Logger) *Tree {
	return &Tree{
		cache: NewCache(arenaSize),
		log:   log,
	}
}

// Cache exposes the node cache for statistics reporting.
func (t *Tree) Cache() *Cache {
	return t.cache
}

// Root returns the current root node, nil before the first SetPosition.
func (t *Tree) Root() *Node {
	return t.root
}

// SetPosition points the root at pos. With resume enabled, the tree looks for
// the node matching pos among the grandchildren of the previous root (the
// usual case: our move plus the opponent's reply) and, failing that, among
// the direct children (a takeback or an externally forced move). A match is
// detached and becomes the new root with its whole subtree intact; otherwise
// the tree starts fresh.
func (t *Tree) SetPosition(pos *board.Position, resume bool) {
	if t.root != nil && resume {
		if n := t.findResumeNode(pos); n != nil {
			old := t.root
			// Detach first so unlinking the old root cannot reach the
			// survivor subtree.
			if n.parent != nil {
				n.parent.mu.Lock()
				children := n.parent.children
				for i, c := range children {
					if c == n {
						n.parent.children = append(children[:i], children[i+1:]...)
						break
					}
				}
				n.parent.mu.Unlock()
				n.parent = nil
			}
			n.move = nil
			t.cache.UnlinkNode(old)
			t.root = t.cache.ResetNodes(n)
			t.log.Debug().
				Int64("visits", t.root.Visits()).
				Int("nodes", t.cache.Used()).
				Msg("resumed search tree")
			return
		}
		t.log.Debug().Msg("no subtree matches position, starting fresh")
	}

	if t.root != nil {
		t.cache.UnlinkNode(t.root)
	}
	t.root = t.cache.ResetNodes(nil)
	root, err := t.cache.NewNode()
	if err != nil {
		// Arena capacity is at least 1 and the slab was just cleared.
		panic(fmt.Sprintf("search: empty arena rejected root: %v", err))
	}
	np := t.cache.NewNodePosition(pos.Hash())
	np.Initialize(root, pos)
	root.position = np
	t.root = root
}

// findResumeNode scans grandchildren, then children, of the current root for
// a node whose position matches pos. A proven-terminal node is never a
// resume candidate; searching from one is pointless.
func (t *Tree) findResumeNode(pos *board.Position) *Node {
	for _, child := range t.root.Children() {
		for _, grandchild := range child.Children() {
			if nodeMatches(grandchild, pos) {
				return grandchild
			}
		}
	}
	for _, child := range t.root.Children() {
		if nodeMatches(child, pos) {
			return child
		}
	}
	return nil
}

func nodeMatches(n *Node, pos *board.Position) bool {
	if n.position == nil {
		return false
	}
	if _, exact := n.Exact(); exact {
		return false
	}
	np := n.position.Position()
	return np != nil && np.Same(pos)
}

// RootPosition returns the position at the root, nil before SetPosition.
func (t *Tree) RootPosition() *board.Position {
	if t.root == nil || t.root.position == nil {
		return nil
	}
	return t.root.position.Position()
}

// Validate walks the tree from the root and cross-checks it against the
// cache: every reachable node must sit inside the slab's used prefix, parent
// and child links must agree, and the reachable count must equal the
// allocation count. Intended for tests and debugging after a resume.
func (t *Tree) Validate() error {
	if t.root == nil {
		if used := t.cache.Used(); used != 0 {
			return fmt.Errorf("no root but %d nodes allocated", used)
		}
		return nil
	}
	allocated := t.cache.Used()
	inPrefix := make(map[*Node]bool, allocated)
	for i := 0; i < allocated; i++ {
		inPrefix[&t.cache.slab[i]] = true
	}
	count := 0
	var walk func(n *Node) error
	walk = func(n *Node) error {
		if !inPrefix[n] {
			return fmt.Errorf("node %v lies outside the allocated slab prefix", n.move)
		}
		count++
		for _, c := range n.children {
			if c.parent != n {
				return fmt.Errorf("child %v does not point back at its parent", c.move)
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t.root); err != nil {
		return err
	}
	if used := t.cache.Used(); count != used {
		return fmt.Errorf("reachable nodes %d != allocated nodes %d", count, used)
	}
	return nil
}
