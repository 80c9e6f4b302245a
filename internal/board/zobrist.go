package board

import (
	"github.com/notnil/chess"
)

// Zobrist key tables. Filled once at package load from a deterministic
// stream, so every process hashing the same position gets the same key.
// The piece table is indexed [color][piece type][square]; index 0 of the
// piece-type axis is unused padding for chess.NoPieceType.
var (
	pieceKeys    [2][7][64]uint64
	epFileKeys   [8]uint64
	castleKeys   [16]uint64
	blackMoveKey uint64
)

// keyStream yields the key material: splitmix64 over a fixed starting
// state. Seeded rather than crypto/rand so hashes survive restarts.
type keyStream struct {
	x uint64
}

func (s *keyStream) next() uint64 {
	s.x += 0x9E3779B97F4A7C15
	z := s.x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func init() {
	s := keyStream{x: 0x6A09E667F3BCC908}
	for c := range pieceKeys {
		for pt := chess.King; pt <= chess.Pawn; pt++ {
			for sq := range pieceKeys[c][pt] {
				pieceKeys[c][pt][sq] = s.next()
			}
		}
	}
	for i := range epFileKeys {
		epFileKeys[i] = s.next()
	}
	for i := range castleKeys {
		castleKeys[i] = s.next()
	}
	blackMoveKey = s.next()
}

func colorIndex(c chess.Color) int {
	if c == chess.White {
		return 0
	}
	return 1
}

// castlingIndex packs the active castling rights into a 4-bit key index.
func castlingIndex(pos *chess.Position) int {
	rights := pos.CastleRights()
	idx := 0
	if rights.CanCastle(chess.White, chess.KingSide) {
		idx |= 1
	}
	if rights.CanCastle(chess.White, chess.QueenSide) {
		idx |= 2
	}
	if rights.CanCastle(chess.Black, chess.KingSide) {
		idx |= 4
	}
	if rights.CanCastle(chess.Black, chess.QueenSide) {
		idx |= 8
	}
	return idx
}

// epCaptureLegal reports whether a pawn of the side to move sits beside the
// pawn that just double-pushed, so that the en passant square can be taken.
// Pins are not checked: a pinned pawn in that spot still counts. Positions
// that differ only in an ep square with no such pawn hash identically.
func epCaptureLegal(pos *chess.Position) bool {
	ep := pos.EnPassantSquare()
	if ep == chess.NoSquare {
		return false
	}
	b := pos.Board()
	mover := pos.Turn()
	file := int(ep.File())

	// Rank holding the pawn that just double-pushed.
	var rank chess.Rank
	if mover == chess.White {
		rank = chess.Rank5
	} else {
		rank = chess.Rank4
	}

	for _, df := range [2]int{-1, 1} {
		f := file + df
		if f < 0 || f > 7 {
			continue
		}
		sq := chess.Square(int(rank)*8 + f)
		piece := b.Piece(sq)
		if piece.Type() == chess.Pawn && piece.Color() == mover {
			return true
		}
	}
	return false
}

// ZobristHash maps a position to its 64-bit key: the XOR of the keys for every
// occupied square, the side-to-move key when black moves, the active castling
// keys and the en passant key when epCaptureLegal finds a capturing pawn.
func ZobristHash(pos *chess.Position) uint64 {
	var h uint64
	b := pos.Board()
	for sq := 0; sq < 64; sq++ {
		piece := b.Piece(chess.Square(sq))
		if piece == chess.NoPiece {
			continue
		}
		h ^= pieceKeys[colorIndex(piece.Color())][piece.Type()][sq]
	}
	if pos.Turn() == chess.Black {
		h ^= blackMoveKey
	}
	h ^= castleKeys[castlingIndex(pos)]
	if epCaptureLegal(pos) {
		h ^= epFileKeys[int(pos.EnPassantSquare().File())]
	}
	return h
}
