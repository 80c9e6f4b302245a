package eval

import (
	"context"
	"math"

	"github.com/notnil/chess"

	"github.com/hailam/zugzwang/internal/board"
)

// Evaluation is the output of the policy/value network for one position.
type Evaluation struct {
	// Priors holds one probability per legal move, aligned with the moves
	// slice passed to Evaluate. Sums to 1 over the legal moves.
	Priors []float32
	// Value is the position estimate in [-1, +1] from the perspective of
	// the side to move.
	Value float32
}

// Evaluator produces policy priors and a value estimate for a position.
// Implementations may batch internally and block the calling goroutine.
type Evaluator interface {
	Evaluate(ctx context.Context, pos *board.Position, moves []*board.Move) (Evaluation, error)
}

// Material is a toy evaluator used when no network is available and in
// deterministic tests: uniform priors and a squashed material balance.
type Material struct{}

var pieceValue = [7]int{
	chess.Queen:  9,
	chess.Rook:   5,
	chess.Bishop: 3,
	chess.Knight: 3,
	chess.Pawn:   1,
}

// Evaluate implements Evaluator.
func (Material) Evaluate(_ context.Context, pos *board.Position, moves []*board.Move) (Evaluation, error) {
	priors := make([]float32, len(moves))
	if len(moves) > 0 {
		uniform := float32(1) / float32(len(moves))
		for i := range priors {
			priors[i] = uniform
		}
	}

	balance := 0
	b := pos.Inner().Board()
	for sq := 0; sq < 64; sq++ {
		piece := b.Piece(chess.Square(sq))
		if piece == chess.NoPiece {
			continue
		}
		v := pieceValue[piece.Type()]
		if piece.Color() == pos.SideToMove() {
			balance += v
		} else {
			balance -= v
		}
	}

	return Evaluation{
		Priors: priors,
		Value:  float32(math.Tanh(float64(balance) / 10.0)),
	}, nil
}
