package history

import (
	"testing"

	"github.com/notnil/chess"

	"github.com/hailam/zugzwang/internal/board"
)

func playMove(t *testing.T, g *Game, text string) {
	t.Helper()
	mv, err := chess.UCINotation{}.Decode(g.Current().Inner(), text)
	if err != nil {
		t.Fatalf("decode %q: %v", text, err)
	}
	g.Apply(mv)
}

func TestGameTracksMoves(t *testing.T) {
	g := NewGame(board.StartingPosition())
	if g.HalfMoveNumber() != 0 {
		t.Errorf("fresh game half-moves = %d, want 0", g.HalfMoveNumber())
	}

	playMove(t, g, "e2e4")
	playMove(t, g, "e7e5")

	if g.HalfMoveNumber() != 2 {
		t.Errorf("half-moves = %d, want 2", g.HalfMoveNumber())
	}
	want := "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq"
	if fen := g.Current().FEN(); len(fen) < len(want) || fen[:len(want)] != want {
		t.Errorf("current position = %s", fen)
	}
	if !g.Start().Same(board.StartingPosition()) {
		t.Error("starting position changed")
	}
}

func TestGameIDsAreUnique(t *testing.T) {
	a := NewGame(board.StartingPosition())
	b := NewGame(board.StartingPosition())
	if a.ID() == b.ID() {
		t.Error("two games share an ID")
	}
}

func TestGameRecord(t *testing.T) {
	g := NewGame(board.StartingPosition())
	playMove(t, g, "g1f3")
	playMove(t, g, "g8f6")
	g.SetResult("1/2-1/2")

	rec := g.Record()
	if rec.ID != g.ID().String() {
		t.Error("record ID mismatch")
	}
	if len(rec.Moves) != 2 || rec.Moves[0] != "g1f3" || rec.Moves[1] != "g8f6" {
		t.Errorf("record moves = %v", rec.Moves)
	}
	if rec.Result != "1/2-1/2" {
		t.Errorf("record result = %q", rec.Result)
	}
	if rec.StartFEN != board.StartingPosition().FEN() {
		t.Errorf("record start fen = %q", rec.StartFEN)
	}
}
