package board

import (
	"testing"

	"github.com/notnil/chess"
)

// playUCI applies a sequence of UCI moves to pos.
func playUCI(t *testing.T, pos *Position, moves ...string) *Position {
	t.Helper()
	notation := chess.UCINotation{}
	for _, text := range moves {
		mv, err := notation.Decode(pos.Inner(), text)
		if err != nil {
			t.Fatalf("decode %q in %s: %v", text, pos.FEN(), err)
		}
		pos = pos.MakeMove(mv)
	}
	return pos
}

func TestStartingPosition(t *testing.T) {
	pos := StartingPosition()
	if got := len(pos.LegalMoves()); got != 20 {
		t.Errorf("legal moves at start = %d, want 20", got)
	}
	if pos.SideToMove() != chess.White {
		t.Errorf("side to move = %v, want white", pos.SideToMove())
	}
	if pos.Terminal() != TerminationNone {
		t.Errorf("starting position reported terminal")
	}
}

func TestFromFENRejectsGarbage(t *testing.T) {
	if _, err := FromFEN("not a fen"); err == nil {
		t.Error("expected error for invalid fen")
	}
}

func TestTerminalCheckmate(t *testing.T) {
	pos, err := FromFEN("6k1/5ppp/8/8/8/8/5PPP/R5K1 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	mated := playUCI(t, pos, "a1a8")
	if mated.Terminal() != TerminationCheckmate {
		t.Errorf("back-rank mate not detected: %s", mated.FEN())
	}
	if got := len(mated.LegalMoves()); got != 0 {
		t.Errorf("checkmated side has %d legal moves", got)
	}
}

func TestTerminalStalemate(t *testing.T) {
	pos, err := FromFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if pos.Terminal() != TerminationDraw {
		t.Errorf("stalemate not detected: %s", pos.FEN())
	}
}

func TestTerminalFiftyMoveClock(t *testing.T) {
	pos, err := FromFEN("4k3/8/8/8/8/8/3R4/4K3 b - - 100 80")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if pos.Terminal() != TerminationDraw {
		t.Errorf("half-move clock at 100 not drawn: %s", pos.FEN())
	}

	near, err := FromFEN("4k3/8/8/8/8/8/3R4/4K3 b - - 99 80")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if near.Terminal() != TerminationNone {
		t.Errorf("half-move clock at 99 reported terminal: %s", near.FEN())
	}
}

func TestTerminalInsufficientMaterial(t *testing.T) {
	draws := []string{
		"4k3/8/8/8/8/8/8/4K3 w - - 0 1",   // bare kings
		"4k3/8/8/8/8/8/8/4KN2 w - - 0 1",  // lone knight
		"4k3/8/8/8/8/8/8/4KB2 w - - 0 1",  // lone bishop
		"2b1k3/8/8/8/8/8/8/4KB2 w - - 0 1", // bishops on one color
	}
	for _, fen := range draws {
		pos, err := FromFEN(fen)
		if err != nil {
			t.Fatalf("FromFEN %q: %v", fen, err)
		}
		if pos.Terminal() != TerminationDraw {
			t.Errorf("dead position not drawn: %s", fen)
		}
	}

	alive := []string{
		"4k3/8/8/8/8/8/8/4KR2 w - - 0 1",   // rook mates
		"4k3/8/8/8/8/8/8/2B1KB2 w - - 0 1", // opposite-color bishops
		"4k3/8/8/8/8/8/8/3NKN2 w - - 0 1",  // two knights can still mate
	}
	for _, fen := range alive {
		pos, err := FromFEN(fen)
		if err != nil {
			t.Fatalf("FromFEN %q: %v", fen, err)
		}
		if pos.Terminal() != TerminationNone {
			t.Errorf("winnable position reported terminal: %s", fen)
		}
	}
}

func TestMaterialScore(t *testing.T) {
	// Per side: queen 9 + two rooks 10 + two bishops 6 + two knights 6.
	if got := StartingPosition().MaterialScore(); got != 62 {
		t.Errorf("starting material = %d, want 62", got)
	}

	kk, err := FromFEN("4k3/8/8/8/8/8/8/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if got := kk.MaterialScore(); got != 0 {
		t.Errorf("bare kings material = %d, want 0", got)
	}

	// Pawns do not count.
	pawns, err := FromFEN("4k3/pppppppp/8/8/8/8/PPPPPPPP/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if got := pawns.MaterialScore(); got != 0 {
		t.Errorf("pawn-only material = %d, want 0", got)
	}
}

func TestSame(t *testing.T) {
	a := StartingPosition()
	b := StartingPosition()
	if !a.Same(b) {
		t.Error("identical positions reported different")
	}
	c := playUCI(t, a, "e2e4")
	if a.Same(c) {
		t.Error("different positions reported same")
	}
	if a.Same(nil) {
		t.Error("nil comparison should be false")
	}
}

func TestMakeMoveImmutability(t *testing.T) {
	pos := StartingPosition()
	before := pos.FEN()
	playUCI(t, pos, "e2e4")
	if pos.FEN() != before {
		t.Error("MakeMove mutated the receiver")
	}
}
