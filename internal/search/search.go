package search

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/notnil/chess"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hailam/zugzwang/internal/board"
	"github.com/hailam/zugzwang/internal/config"
	"github.com/hailam/zugzwang/internal/eval"
)

// ErrNoLegalMoves is returned when a search is started from a finished game.
var ErrNoLegalMoves = errors.New("search: no legal moves in root position")

// Params are the search tunables, normally derived from the option store.
type Params struct {
	CPuct          float64
	VirtualLoss    int32
	Threads        int
	ResumePosition bool
	// MinIterations completed before any time-based stop is honoured.
	MinIterations int64
}

// ParamsFromOptions reads the search tunables out of the option store.
func ParamsFromOptions(o *config.Options) Params {
	threads := o.Int(config.Threads)
	if threads < 1 {
		threads = 1
	}
	vloss := int32(o.Int(config.VirtualLoss))
	if vloss < 1 {
		vloss = 1
	}
	return Params{
		CPuct:          o.Float(config.CPuct),
		VirtualLoss:    vloss,
		Threads:        threads,
		ResumePosition: o.Bool(config.ResumePreviousPosition),
		MinIterations:  3,
	}
}

// Limits are the per-move search bounds from the protocol's go command.
// Times are ms; -1 means unset.
type Limits struct {
	WhiteTimeMS int64
	BlackTimeMS int64
	WhiteIncMS  int64
	BlackIncMS  int64
	MoveTimeMS  int64
	MaxNodes    int64
	Infinite    bool
}

// NoLimits returns a Limits value with every field unset.
func NoLimits() Limits {
	return Limits{
		WhiteTimeMS: -1, BlackTimeMS: -1,
		WhiteIncMS: -1, BlackIncMS: -1,
		MoveTimeMS: -1,
	}
}

// Result summarises a completed search.
type Result struct {
	BestMove  *board.Move
	Value     float64 // root evaluation in [-1,1], side to move perspective
	Visits    int64   // visits on the best root child
	Depth     int     // deepest selection path reached
	Nodes     int     // allocated tree nodes
	PV        []*board.Move
	ElapsedMS int64
	Exact     bool // root value is proven
}

// Driver runs the playout loop with a pool of workers sharing one tree.
type Driver struct {
	tree   *Tree
	eval   eval.Evaluator
	clock  *Clock
	params Params
	log    zerolog.Logger

	// Progress, when set, receives a snapshot roughly every 500ms while a
	// search runs.
	Progress func(Result)

	stopFlag   atomic.Bool
	iterations atomic.Int64
	maxDepth   atomic.Int64
}

// NewDriver wires a driver to its tree, evaluator and clock.
func NewDriver(tree *Tree, evaluator eval.Evaluator, clock *Clock, params Params, log zerolog.Logger) *Driver {
	return &Driver{
		tree:   tree,
		eval:   evaluator,
		clock:  clock,
		params: params,
		log:    log,
	}
}

// SetParams replaces the tunables between searches.
func (d *Driver) SetParams(p Params) {
	d.params = p
}

// Stop requests the current search to end after the in-flight iterations.
func (d *Driver) Stop() {
	d.stopFlag.Store(true)
}

// Search finds the best move from pos within limits. Blocks until the search
// terminates; Stop or ctx cancellation end it early with the best move found
// so far.
func (d *Driver) Search(ctx context.Context, pos *board.Position, limits Limits) (Result, error) {
	if len(pos.LegalMoves()) == 0 {
		return Result{}, ErrNoLegalMoves
	}

	d.stopFlag.Store(false)
	d.iterations.Store(0)
	d.maxDepth.Store(0)

	root := d.prepareRoot(pos)

	d.clock.SetTime(chess.White, limits.WhiteTimeMS)
	d.clock.SetTime(chess.Black, limits.BlackTimeMS)
	d.clock.SetIncrement(chess.White, limits.WhiteIncMS)
	d.clock.SetIncrement(chess.Black, limits.BlackIncMS)
	d.clock.SetMoveTime(limits.MoveTimeMS)
	d.clock.SetInfinite(limits.Infinite)
	d.clock.SetMaterialScore(pos.MaterialScore())
	d.clock.StartDeadline(pos.SideToMove())
	defer d.clock.Stop()

	// One synchronous playout so the root is evaluated and expanded before
	// the workers pile on.
	if err := d.playout(ctx, root, pos); err != nil && !errors.Is(err, ErrArenaExhausted) {
		return Result{}, err
	}

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitorDone := make(chan struct{})
	go d.monitor(searchCtx, root, limits, monitorDone)

	g, workerCtx := errgroup.WithContext(searchCtx)
	for i := 0; i < d.params.Threads; i++ {
		g.Go(func() error {
			return d.workerLoop(workerCtx, root, pos, limits)
		})
	}
	err := g.Wait()
	cancel()
	<-monitorDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return Result{}, err
	}

	res := d.snapshot(root)
	d.log.Info().
		Str("bestmove", moveString(res.BestMove)).
		Float64("value", res.Value).
		Int64("visits", res.Visits).
		Int("depth", res.Depth).
		Int("nodes", res.Nodes).
		Int64("elapsed_ms", res.ElapsedMS).
		Msg("search finished")
	return res, nil
}

// prepareRoot points the tree at pos, reusing the previous subtree when the
// position matches a known continuation.
func (d *Driver) prepareRoot(pos *board.Position) *Node {
	current := d.tree.RootPosition()
	if current == nil || !current.Same(pos) {
		d.tree.SetPosition(pos, d.params.ResumePosition)
	}
	return d.tree.Root()
}

func (d *Driver) workerLoop(ctx context.Context, root *Node, rootPos *board.Position, limits Limits) error {
	for {
		if d.shouldStop(ctx, root, limits) {
			return nil
		}
		err := d.playout(ctx, root, rootPos)
		switch {
		case err == nil:
			d.iterations.Add(1)
		case errors.Is(err, ErrArenaExhausted):
			d.stopFlag.Store(true)
			d.log.Debug().Int("nodes", d.tree.Cache().Used()).Msg("node arena exhausted, stopping")
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return err
		}
	}
}

func (d *Driver) shouldStop(ctx context.Context, root *Node, limits Limits) bool {
	if d.stopFlag.Load() || ctx.Err() != nil {
		return true
	}
	if _, exact := root.Exact(); exact {
		return true
	}
	iters := d.iterations.Load()
	if limits.MaxNodes > 0 && iters >= limits.MaxNodes {
		return true
	}
	if iters >= d.params.MinIterations && d.clock.HasExpired() {
		return true
	}
	return false
}

// monitor watches the clock and pushes progress and trend telemetry while
// the workers run.
func (d *Driver) monitor(ctx context.Context, root *Node, limits Limits, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastQ := math.NaN()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.Done():
			for d.iterations.Load() < d.params.MinIterations {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
			}
			d.stopFlag.Store(true)
			return
		case <-ticker.C:
			q := d.rootValue(root)
			info := SearchInfo{
				Depth: int(d.maxDepth.Load()),
			}
			if !math.IsNaN(lastQ) {
				delta := q - lastQ
				switch {
				case delta > 0.01:
					info.Trend = TrendBetter
				case delta < -0.01:
					info.Trend = TrendWorse
				default:
					info.Trend = TrendSteady
				}
				info.TrendDegree = math.Min(1, math.Abs(delta))
			}
			lastQ = q
			if !limits.Infinite {
				d.clock.UpdateDeadline(info)
			}
			if d.Progress != nil {
				d.Progress(d.snapshot(root))
			}
		}
	}
}

// rootValue is the root evaluation from the side to move's perspective: the
// best child's Q, which is already stored from the root mover's view.
func (d *Driver) rootValue(root *Node) float64 {
	if best := root.mostVisitedChild(); best != nil {
		return best.Q()
	}
	return 0
}

func (d *Driver) snapshot(root *Node) Result {
	res := Result{
		Depth:     int(d.maxDepth.Load()),
		Nodes:     d.tree.Cache().Used(),
		ElapsedMS: d.clock.Elapsed(),
	}
	if v, exact := root.Exact(); exact {
		res.Exact = true
		res.Value = float64(v)
	}
	if best := root.mostVisitedChild(); best != nil {
		res.BestMove = best.move
		res.Visits = best.Visits()
		if !res.Exact {
			res.Value = best.Q()
		}
		res.PV = root.principalVariation()
	}
	return res
}

// playout runs one iteration: descend by PUCT to a leaf, evaluate or expand
// it, and back the value up to the root.
func (d *Driver) playout(ctx context.Context, root *Node, rootPos *board.Position) error {
	n := root
	pos := rootPos
	depth := 0
	for n.Expanded() && !n.terminal {
		if _, exact := n.Exact(); exact && n != root {
			break
		}
		child := n.selectChild(d.params.CPuct, d.params.VirtualLoss)
		if child == nil {
			break
		}
		pos = pos.MakeMove(child.move)
		n = child
		depth++
	}
	d.observeDepth(depth)

	if n.position == nil {
		d.bindPosition(n, pos)
	}

	// Terminal leaves are covered here too: binding proves them exact.
	if v, exact := n.Exact(); exact {
		backup(n, v)
		d.propagateProof(n.parent)
		return nil
	}

	moves, priors, value, err := d.evaluate(ctx, n, pos)
	if err != nil {
		undoVirtualLoss(n, root)
		return err
	}

	if n.Visits() == 0 && n != root {
		// First visit only records the evaluation; expansion waits for
		// the next selection of this leaf.
		backup(n, value)
		return nil
	}

	if err := d.expand(n, moves, priors); err != nil {
		undoVirtualLoss(n, root)
		return err
	}
	backup(n, value)
	return nil
}

func (d *Driver) observeDepth(depth int) {
	for {
		cur := d.maxDepth.Load()
		if int64(depth) <= cur || d.maxDepth.CompareAndSwap(cur, int64(depth)) {
			return
		}
	}
}

// bindPosition attaches n to the shared entry for pos, creating it when this
// is the first node to reach the position. Terminal positions are proven on
// the spot.
func (d *Driver) bindPosition(n *Node, pos *board.Position) {
	cache := d.tree.Cache()
	np := cache.NewNodePosition(pos.Hash())
	if existing := np.Position(); existing != nil && !existing.Same(pos) {
		// Genuine hash collision: keep a private entry so the two
		// positions never share an evaluation.
		np = &NodePosition{hash: pos.Hash()}
	}
	n.mu.Lock()
	if n.position != nil {
		// Another worker reached this leaf first and already bound it.
		n.mu.Unlock()
		return
	}
	n.position = np
	n.mu.Unlock()
	np.Initialize(n, pos)

	switch pos.Terminal() {
	case board.TerminationCheckmate:
		n.setExact(-1)
		n.terminal = true
		d.propagateProof(n.parent)
	case board.TerminationDraw:
		n.setExact(0)
		n.terminal = true
		d.propagateProof(n.parent)
	}
}

// propagateProof walks toward the root converting nodes whose children are
// all proven.
func (d *Driver) propagateProof(n *Node) {
	for n != nil && tryProveParent(n) {
		n = n.parent
	}
}

// evaluate returns the legal moves, priors and value for n's position, using
// the shared entry's cached result when a transposition already paid for the
// network call.
func (d *Driver) evaluate(ctx context.Context, n *Node, pos *board.Position) ([]*board.Move, []float32, float32, error) {
	if moves, priors, value, ok := n.position.Evaluation(); ok {
		return moves, priors, value, nil
	}
	moves := pos.LegalMoves()
	ev, err := d.eval.Evaluate(ctx, pos, moves)
	if err != nil {
		return nil, nil, 0, err
	}
	n.position.SetEvaluation(moves, ev.Priors, ev.Value)
	moves, priors, value, _ := n.position.Evaluation()
	return moves, priors, value, nil
}

// expand allocates one child per legal move and publishes them. Allocation
// happens under the node lock so a racing worker cannot burn arena slots on
// a duplicate child set. On arena exhaustion nothing is attached and the
// error propagates to the driver.
func (d *Driver) expand(n *Node, moves []*board.Move, priors []float32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.expanded {
		return nil
	}
	cache := d.tree.Cache()
	children := make([]*Node, 0, len(moves))
	for i, mv := range moves {
		child, err := cache.NewNode()
		if err != nil {
			return err
		}
		child.parent = n
		child.move = mv
		if i < len(priors) {
			child.prior = priors[i]
		}
		children = append(children, child)
	}
	n.children = children
	n.expanded = true
	return nil
}

func moveString(m *board.Move) string {
	if m == nil {
		return "(none)"
	}
	return m.String()
}
