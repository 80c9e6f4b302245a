package eval

import (
	"testing"

	"github.com/hailam/zugzwang/internal/board"
)

func TestEncodePlanesStartingPosition(t *testing.T) {
	dst := make([]float32, numPlanes*boardSize*boardSize)
	encodePlanes(board.StartingPosition(), dst)

	const planeLen = boardSize * boardSize
	plane := func(i int) []float32 { return dst[i*planeLen : (i+1)*planeLen] }

	// White pawns occupy a2..h2 (squares 8..15) on plane 5.
	for sq := 8; sq < 16; sq++ {
		if plane(5)[sq] != 1 {
			t.Errorf("white pawn missing at square %d", sq)
		}
	}
	// Black pawns occupy a7..h7 (squares 48..55) on plane 11.
	for sq := 48; sq < 56; sq++ {
		if plane(11)[sq] != 1 {
			t.Errorf("black pawn missing at square %d", sq)
		}
	}
	// White king on e1 (square 4), plane 0.
	if plane(0)[4] != 1 {
		t.Error("white king missing from e1")
	}
	// Side to move and all four castling planes are set.
	for p := 12; p <= 16; p++ {
		if plane(p)[0] != 1 {
			t.Errorf("flag plane %d not filled", p)
		}
	}
	// No en passant square at the start.
	for sq, v := range plane(17) {
		if v != 0 {
			t.Errorf("spurious en passant bit at square %d", sq)
		}
	}
}

func TestEncodePlanesBlackToMove(t *testing.T) {
	pos, err := board.FromFEN("4k3/8/8/8/8/8/8/4K3 b - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	dst := make([]float32, numPlanes*boardSize*boardSize)
	encodePlanes(pos, dst)

	const planeLen = boardSize * boardSize
	for i := 12 * planeLen; i < 17*planeLen; i++ {
		if dst[i] != 0 {
			t.Fatalf("flag planes should be empty with black to move and no castling, index %d set", i)
		}
	}
	// Black king on e8 = square 60, plane 6.
	if dst[6*planeLen+60] != 1 {
		t.Error("black king missing from e8")
	}
}
