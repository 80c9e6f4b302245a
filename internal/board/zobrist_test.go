package board

import "testing"

func TestZobristDeterministic(t *testing.T) {
	a := StartingPosition()
	b := StartingPosition()
	if a.Hash() != b.Hash() {
		t.Errorf("starting position hashed differently: %x vs %x", a.Hash(), b.Hash())
	}

	const fen = "r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3"
	p1, err := FromFEN(fen)
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	p2, err := FromFEN(fen)
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if p1.Hash() != p2.Hash() {
		t.Errorf("same fen hashed differently: %x vs %x", p1.Hash(), p2.Hash())
	}
}

func TestZobristDistinguishesPositions(t *testing.T) {
	start := StartingPosition()
	hashes := make(map[uint64]string)
	hashes[start.Hash()] = start.FEN()
	for _, mv := range start.LegalMoves() {
		next := start.MakeMove(mv)
		if prev, ok := hashes[next.Hash()]; ok {
			t.Errorf("hash collision between %q and %q", prev, next.FEN())
		}
		hashes[next.Hash()] = next.FEN()
	}
}

func TestZobristSideToMove(t *testing.T) {
	white, err := FromFEN("4k3/8/8/8/8/8/8/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	black, err := FromFEN("4k3/8/8/8/8/8/8/4K3 b - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if white.Hash() == black.Hash() {
		t.Error("side to move not part of the hash")
	}
}

// A pawn double-push only changes the hash when an en passant capture is
// actually available to the opponent.
func TestZobristEnPassantOnlyWhenCapturable(t *testing.T) {
	// After 1.e4 there is an ep square (e3) but no black pawn can take.
	afterE4, err := FromFEN("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	noEP, err := FromFEN("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if afterE4.Hash() != noEP.Hash() {
		t.Error("uncapturable ep square should not affect the hash")
	}

	// White pawn on d5, black just played c7c5: dxc6 e.p. is legal, so the
	// ep square must distinguish the positions.
	capturable, err := FromFEN("rnbqkbnr/pp1ppppp/8/2pP4/8/8/PPP1PPPP/RNBQKBNR w KQkq c6 0 2")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	plain, err := FromFEN("rnbqkbnr/pp1ppppp/8/2pP4/8/8/PPP1PPPP/RNBQKBNR w KQkq - 0 2")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if capturable.Hash() == plain.Hash() {
		t.Error("capturable ep square must affect the hash")
	}
}

// Knight development in either order reaches the same position and must
// produce the same hash.
func TestZobristTransposition(t *testing.T) {
	viaNf3 := playUCI(t, StartingPosition(), "g1f3", "g8f6", "b1c3")
	viaNc3 := playUCI(t, StartingPosition(), "b1c3", "g8f6", "g1f3")
	if viaNf3.Hash() != viaNc3.Hash() {
		t.Errorf("transposed positions hash differently: %x vs %x", viaNf3.Hash(), viaNc3.Hash())
	}
	if !viaNf3.Same(viaNc3) {
		t.Error("transposed positions should compare equal")
	}
}

func TestZobristCastlingRights(t *testing.T) {
	full, err := FromFEN("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	none, err := FromFEN("r3k2r/8/8/8/8/8/8/R3K2R w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if full.Hash() == none.Hash() {
		t.Error("castling rights not part of the hash")
	}
}
