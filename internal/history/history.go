// Package history tracks the moves of the game in progress and produces the
// records the storage layer persists.
package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/hailam/zugzwang/internal/board"
)

// Game is the move history of one game, from a starting position through the
// moves played by both sides.
type Game struct {
	id        uuid.UUID
	startedAt time.Time
	start     *board.Position
	current   *board.Position
	moves     []*board.Move
	result    string
}

// NewGame starts a fresh history from start.
func NewGame(start *board.Position) *Game {
	return &Game{
		id:        uuid.New(),
		startedAt: time.Now(),
		start:     start,
		current:   start,
	}
}

// ID returns the game's identifier.
func (g *Game) ID() uuid.UUID {
	return g.id
}

// Start returns the starting position.
func (g *Game) Start() *board.Position {
	return g.start
}

// Current returns the position after all recorded moves.
func (g *Game) Current() *board.Position {
	return g.current
}

// HalfMoveNumber returns the number of half-moves played.
func (g *Game) HalfMoveNumber() int {
	return len(g.moves)
}

// Moves returns the recorded moves in play order.
func (g *Game) Moves() []*board.Move {
	return g.moves
}

// Apply records m and advances the current position.
func (g *Game) Apply(m *board.Move) {
	g.current = g.current.MakeMove(m)
	g.moves = append(g.moves, m)
}

// SetResult records the game outcome, e.g. "1-0", "0-1", "1/2-1/2".
func (g *Game) SetResult(result string) {
	g.result = result
}

// Record converts the history into its persistent form.
func (g *Game) Record() Record {
	moves := make([]string, len(g.moves))
	for i, m := range g.moves {
		moves[i] = m.String()
	}
	return Record{
		ID:        g.id.String(),
		StartedAt: g.startedAt,
		StartFEN:  g.start.FEN(),
		Moves:     moves,
		Result:    g.result,
	}
}

// Record is the serialisable form of a game history.
type Record struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	StartFEN  string    `json:"start_fen"`
	Moves     []string  `json:"moves"`
	Result    string    `json:"result"`
}
