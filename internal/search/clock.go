package search

import (
	"math"
	"sync"
	"time"

	"github.com/notnil/chess"

	"github.com/hailam/zugzwang/internal/board"
)

// Trend describes how the root evaluation has been moving across recent
// iterations, as reported by the driver.
type Trend int

const (
	TrendSteady Trend = iota
	TrendBetter
	TrendWorse
)

// SearchInfo is the per-iteration telemetry the clock consumes when
// recomputing the deadline mid-search.
type SearchInfo struct {
	Depth       int
	Trend       Trend
	TrendDegree float64 // in [0,1], how sharply the trend is moving
}

// EasingCurve shapes the ideal-time computation.
type EasingCurve int

const (
	// EasingLinear spends time proportionally to the naive budget.
	EasingLinear EasingCurve = iota
	// EasingSine biases spend toward the middle game.
	EasingSine
)

// ParseEasingCurve maps an option string onto a curve, defaulting to linear.
func ParseEasingCurve(s string) EasingCurve {
	if s == "sine" {
		return EasingSine
	}
	return EasingLinear
}

func (e EasingCurve) apply(x float64) float64 {
	if e == EasingSine {
		return math.Sin(math.Pi*x)*0.5 + 0.5
	}
	return x
}

// ClockConfig carries the tunables the deadline computation depends on.
type ClockConfig struct {
	// MoveOverheadMS is subtracted from every allotment to absorb
	// protocol and process latency.
	MoveOverheadMS int64
	// Easing shapes the ideal-time curve.
	Easing EasingCurve
	// EnableTrendFactor adds the accumulated trend budget into the
	// deadline. The budget is tracked either way.
	EnableTrendFactor bool
}

// Clock computes and enforces the per-move deadline. One clock serves one
// game; StartDeadline arms it for a move and Done fires when the allotted
// time runs out.
type Clock struct {
	cfg ClockConfig

	mu             sync.Mutex
	active         bool
	whiteTime      int64 // ms, -1 unset
	whiteIncrement int64
	blackTime      int64
	blackIncrement int64
	moveTime       int64 // ms, -1 unused
	infinite       bool
	deadline       int64 // ms from start of move, -1 for no deadline
	trendFactor    int64
	materialScore  int
	halfMoveNumber int
	onTheClock     board.Color
	info           SearchInfo

	start   time.Time
	timer   *time.Timer
	expired chan struct{}
}

// NewClock returns an idle clock.
func NewClock(cfg ClockConfig) *Clock {
	return &Clock{
		cfg:       cfg,
		whiteTime: -1, whiteIncrement: -1,
		blackTime: -1, blackIncrement: -1,
		moveTime: -1,
		expired:  make(chan struct{}),
	}
}

// SetTime sets the remaining time in ms for one side.
func (c *Clock) SetTime(side board.Color, ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if side == chess.White {
		c.whiteTime = ms
	} else {
		c.blackTime = ms
	}
}

// SetIncrement sets the per-move increment in ms for one side.
func (c *Clock) SetIncrement(side board.Color, ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if side == chess.White {
		c.whiteIncrement = ms
	} else {
		c.blackIncrement = ms
	}
}

// SetMoveTime fixes the time for this move, overriding the time controls.
// Pass -1 to clear.
func (c *Clock) SetMoveTime(ms int64) {
	c.mu.Lock()
	c.moveTime = ms
	c.mu.Unlock()
}

// SetInfinite disables the deadline entirely.
func (c *Clock) SetInfinite(infinite bool) {
	c.mu.Lock()
	c.infinite = infinite
	c.mu.Unlock()
}

// SetMaterialScore feeds the non-pawn material count used to estimate the
// remaining game length.
func (c *Clock) SetMaterialScore(score int) {
	c.mu.Lock()
	c.materialScore = score
	c.mu.Unlock()
}

// SetHalfMoveNumber records the game's half-move counter.
func (c *Clock) SetHalfMoveNumber(n int) {
	c.mu.Lock()
	c.halfMoveNumber = n
	c.mu.Unlock()
}

func (c *Clock) timeFor(side board.Color) int64 {
	if side == chess.White {
		return c.whiteTime
	}
	return c.blackTime
}

func (c *Clock) incrementFor(side board.Color) int64 {
	if side == chess.White {
		return c.whiteIncrement
	}
	return c.blackIncrement
}

// StartDeadline arms the clock for one move by side. Telemetry from the
// previous move is discarded; the trend budget persists across moves.
func (c *Clock) StartDeadline(side board.Color) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.onTheClock = side
	c.info = SearchInfo{}
	c.start = time.Now()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.expired = make(chan struct{})
	c.recalculateLocked()
}

// UpdateDeadline replaces the stored telemetry and recomputes the deadline
// while the search is running.
func (c *Clock) UpdateDeadline(info SearchInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info = info
	c.recalculateLocked()
}

// Stop disarms the timer at the end of a move.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Done returns a channel closed when the deadline passes. Never fires for an
// infinite search.
func (c *Clock) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Elapsed returns ms since StartDeadline.
func (c *Clock) Elapsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

func (c *Clock) elapsedLocked() int64 {
	return time.Since(c.start).Milliseconds()
}

// HasExpired reports whether the deadline has passed. Always false for an
// infinite search.
func (c *Clock) HasExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline >= 0 && c.elapsedLocked() >= c.deadline
}

// TimeToDeadline returns the ms remaining, or -1 for an infinite search.
func (c *Clock) TimeToDeadline() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.infinite {
		return -1
	}
	return c.deadline - c.elapsedLocked()
}

// Deadline returns the current deadline in ms from start of move, -1 when
// none applies.
func (c *Clock) Deadline() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// TrendFactor returns the accumulated trend budget in ms.
func (c *Clock) TrendFactor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trendFactor
}

// expectedHalfMovesTillEOG estimates the remaining half-moves from the
// non-pawn material on the board. Piecewise fit from "Time Management
// Procedure in Computer Chess" (Vuckovic & Solak, 2009).
func expectedHalfMovesTillEOG(materialScore int) int {
	m := materialScore
	switch {
	case m < 20:
		return m + 10
	case m <= 60:
		return int(math.Round(0.375*float64(m))) + 22
	default:
		return int(math.Round(1.25*float64(m))) - 30
	}
}

// recalculateLocked computes the deadline from the current controls and
// telemetry, and rearms the one-shot timer. Caller holds mu.
func (c *Clock) recalculateLocked() {
	if c.infinite {
		c.deadline = -1
		if c.timer != nil {
			c.timer.Stop()
		}
		return
	}

	const minimumDepth = 3
	overhead := c.cfg.MoveOverheadMS
	t := c.timeFor(c.onTheClock)
	inc := c.incrementFor(c.onTheClock)
	if inc < 0 {
		inc = 0
	}
	maximum := t - overhead
	var ideal int64
	if t >= 0 {
		budget := float64(t)/float64(expectedHalfMovesTillEOG(c.materialScore)) + float64(inc)
		ideal = int64(math.Round(c.cfg.Easing.apply(budget)))
	}

	// The trend budget grows while the evaluation is flat or sinking and
	// halves as soon as it improves. Capped below at zero; a single update
	// can add at most a quarter of the remaining time.
	raw := int64(math.Round(float64(maximum) / 4 * c.info.TrendDegree))
	if c.info.Trend != TrendBetter {
		c.trendFactor += raw
	} else {
		c.trendFactor /= 2
	}
	if c.trendFactor < 0 {
		c.trendFactor = 0
	}

	deadline := int64(5000)
	switch {
	case c.moveTime != -1:
		deadline = c.moveTime - overhead
	case t != -1 && c.info.Depth >= minimumDepth:
		bound := ideal
		if c.cfg.EnableTrendFactor {
			bound += c.trendFactor
		}
		if maximum < bound {
			bound = maximum
		}
		deadline = bound
	case t != -1:
		deadline = maximum
	}
	if deadline < 0 {
		deadline = 0
	}
	c.deadline = deadline

	remaining := c.deadline - c.elapsedLocked()
	if remaining < 0 {
		remaining = 0
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	expired := c.expired
	c.timer = time.AfterFunc(time.Duration(remaining)*time.Millisecond, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// A recalculation may have pushed the deadline out after this
		// timer was armed; only fire if the deadline truly passed.
		if expired != c.expired || c.deadline < 0 || c.elapsedLocked() < c.deadline {
			return
		}
		select {
		case <-expired:
		default:
			close(expired)
		}
	})
}
