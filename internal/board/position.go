package board

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

// Move is a single chess move. It is the notnil/chess move type; the engine
// passes moves around by pointer and never mutates them.
type Move = chess.Move

// Color of the side to move.
type Color = chess.Color

// Termination describes whether a position ends the game.
type Termination int

const (
	TerminationNone Termination = iota
	TerminationCheckmate
	TerminationDraw
)

// Position is an immutable chess position with the derived quantities the
// search core needs: a Zobrist key and a material score. Wraps the rules
// engine, which owns move generation and legality.
type Position struct {
	inner *chess.Position
	hash  uint64
}

// StartingPosition returns the standard initial position.
func StartingPosition() *Position {
	return wrap(chess.StartingPosition())
}

// FromFEN parses a FEN string into a position.
func FromFEN(fen string) (*Position, error) {
	fn, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	game := chess.NewGame(fn)
	return wrap(game.Position()), nil
}

func wrap(inner *chess.Position) *Position {
	return &Position{inner: inner, hash: ZobristHash(inner)}
}

// Hash returns the position's Zobrist key.
func (p *Position) Hash() uint64 {
	return p.hash
}

// SideToMove returns the color to move.
func (p *Position) SideToMove() Color {
	return p.inner.Turn()
}

// LegalMoves returns all legal moves in a stable order.
func (p *Position) LegalMoves() []*Move {
	return p.inner.ValidMoves()
}

// MakeMove returns the position after the given move. The receiver is
// unchanged.
func (p *Position) MakeMove(m *Move) *Position {
	return wrap(p.inner.Update(m))
}

// Terminal reports whether the game is over in this position. Every automatic
// draw counts, not just stalemate: whatever the rules engine reports, plus the
// two draws a lone position always decides itself, the half-move clock and
// insufficient mating material.
func (p *Position) Terminal() Termination {
	status := p.inner.Status()
	if status == chess.Stalemate {
		// Update takes the check flag from the move's tags, and a move decoded
		// from text carries no check tag, so a mate reached that way reads as
		// stalemate. Re-reading the FEN recomputes the check.
		if fen, err := chess.FEN(p.inner.String()); err == nil {
			status = chess.NewGame(fen).Position().Status()
		}
	}
	switch status {
	case chess.Checkmate:
		return TerminationCheckmate
	case chess.Stalemate,
		chess.ThreefoldRepetition, chess.FivefoldRepetition,
		chess.FiftyMoveRule, chess.SeventyFiveMoveRule,
		chess.InsufficientMaterial:
		return TerminationDraw
	}
	if p.halfMoveClock() >= 100 {
		return TerminationDraw
	}
	if insufficientMaterial(p.inner.Board()) {
		return TerminationDraw
	}
	return TerminationNone
}

// halfMoveClock reads the 50-move counter from the FEN clock field.
func (p *Position) halfMoveClock() int {
	fields := strings.Fields(p.inner.String())
	if len(fields) != 6 {
		return 0
	}
	n, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0
	}
	return n
}

// insufficientMaterial reports positions no sequence of legal moves can win:
// bare kings, a lone minor piece, or bishops confined to one square color.
func insufficientMaterial(b *chess.Board) bool {
	knights, bishops := 0, 0
	bishopShade := -1
	sameShade := true
	for sq := 0; sq < 64; sq++ {
		piece := b.Piece(chess.Square(sq))
		switch piece.Type() {
		case chess.NoPieceType, chess.King:
		case chess.Knight:
			knights++
		case chess.Bishop:
			bishops++
			shade := (sq + sq/8) % 2
			if bishopShade == -1 {
				bishopShade = shade
			} else if shade != bishopShade {
				sameShade = false
			}
		default:
			// A pawn, rook or queen on the board can always mate.
			return false
		}
	}
	switch {
	case knights == 0 && bishops == 0:
		return true
	case knights == 1 && bishops == 0:
		return true
	case knights == 0 && bishops > 0:
		return sameShade
	}
	return false
}

// Material piece values used for the end-of-game half-move estimate.
// Pawns are deliberately excluded.
var materialValue = [7]int{
	chess.Queen:  9,
	chess.Rook:   5,
	chess.Bishop: 3,
	chess.Knight: 3,
}

// MaterialScore returns the summed non-pawn material of both sides.
func (p *Position) MaterialScore() int {
	score := 0
	b := p.inner.Board()
	for sq := 0; sq < 64; sq++ {
		piece := b.Piece(chess.Square(sq))
		if piece == chess.NoPiece {
			continue
		}
		score += materialValue[piece.Type()]
	}
	return score
}

// Same reports whether two positions are identical for transposition
// purposes: same placement, side to move, castling rights and usable en
// passant square. Hash equality alone is not trusted.
func (p *Position) Same(o *Position) bool {
	if p == o {
		return true
	}
	if o == nil || p.hash != o.hash {
		return false
	}
	if p.inner.Turn() != o.inner.Turn() {
		return false
	}
	if castlingIndex(p.inner) != castlingIndex(o.inner) {
		return false
	}
	pb, ob := p.inner.Board(), o.inner.Board()
	for sq := 0; sq < 64; sq++ {
		if pb.Piece(chess.Square(sq)) != ob.Piece(chess.Square(sq)) {
			return false
		}
	}
	pep, oep := chess.NoSquare, chess.NoSquare
	if epCaptureLegal(p.inner) {
		pep = p.inner.EnPassantSquare()
	}
	if epCaptureLegal(o.inner) {
		oep = o.inner.EnPassantSquare()
	}
	return pep == oep
}

// FEN returns the position in Forsyth-Edwards notation.
func (p *Position) FEN() string {
	return p.inner.String()
}

// String returns the FEN.
func (p *Position) String() string {
	return p.FEN()
}

// Inner exposes the underlying rules-engine position for protocol code that
// needs move decoding.
func (p *Position) Inner() *chess.Position {
	return p.inner
}
