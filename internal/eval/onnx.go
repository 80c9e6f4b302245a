package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/notnil/chess"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/hailam/zugzwang/internal/board"
)

// Network geometry. The model takes a stack of 8x8 feature planes and emits a
// from-to policy plus a scalar value for the side to move.
const (
	numPlanes    = 18 // 12 piece planes, side to move, 4 castling, en passant square
	boardSize    = 8
	policySize   = 64 * 64 // from-square x to-square; promotions fold onto the pawn move
	maxBatchSize = 64
	batchTimeout = 2 * time.Millisecond
)

type evalRequest struct {
	pos    *board.Position
	moves  []*board.Move
	result chan evalResponse
}

type evalResponse struct {
	eval Evaluation
	err  error
}

// ONNX evaluates positions with an ONNX policy/value network. Requests from
// concurrent search workers are collected into batches before each inference
// run.
type ONNX struct {
	session *ort.AdvancedSession
	queue   chan evalRequest
	done    chan struct{}
	log     zerolog.Logger

	// Reused tensor buffers
	planes []float32
	policy []float32
	value  []float32

	inputs  []ort.Value
	outputs []ort.Value
}

// NewONNX loads the model at modelPath and starts the batching loop. libPath
// points at the onnxruntime shared library; pass "" to use a library already
// loaded into the process.
func NewONNX(modelPath, libPath string, log zerolog.Logger) (*ONNX, error) {
	if !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	planes := make([]float32, maxBatchSize*numPlanes*boardSize*boardSize)
	policy := make([]float32, maxBatchSize*policySize)
	value := make([]float32, maxBatchSize)

	planeShape := ort.NewShape(maxBatchSize, numPlanes, boardSize, boardSize)
	policyShape := ort.NewShape(maxBatchSize, policySize)
	valueShape := ort.NewShape(maxBatchSize, 1)

	inputTensor, err := ort.NewTensor(planeShape, planes)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	policyTensor, err := ort.NewTensor(policyShape, policy)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create policy tensor: %w", err)
	}
	valueTensor, err := ort.NewTensor(valueShape, value)
	if err != nil {
		inputTensor.Destroy()
		policyTensor.Destroy()
		return nil, fmt.Errorf("create value tensor: %w", err)
	}

	inputs := []ort.Value{inputTensor}
	outputs := []ort.Value{policyTensor, valueTensor}

	session, err := newSession(modelPath, inputs, outputs, log)
	if err != nil {
		for _, v := range inputs {
			v.Destroy()
		}
		for _, v := range outputs {
			v.Destroy()
		}
		return nil, err
	}

	e := &ONNX{
		session: session,
		queue:   make(chan evalRequest, maxBatchSize*4),
		done:    make(chan struct{}),
		log:     log,
		planes:  planes,
		policy:  policy,
		value:   value,
		inputs:  inputs,
		outputs: outputs,
	}
	go e.batchLoop()
	return e, nil
}

// newSession tries execution providers from fastest to most portable.
func newSession(modelPath string, inputs, outputs []ort.Value, log zerolog.Logger) (*ort.AdvancedSession, error) {
	inputNames := []string{"planes"}
	outputNames := []string{"policy", "value"}

	providers := []struct {
		name  string
		setup func(*ort.SessionOptions) error
	}{
		{"CUDA", func(so *ort.SessionOptions) error {
			cudaOpts, err := ort.NewCUDAProviderOptions()
			if err != nil {
				return err
			}
			defer cudaOpts.Destroy()
			return so.AppendExecutionProviderCUDA(cudaOpts)
		}},
		{"CPU", func(*ort.SessionOptions) error { return nil }},
	}

	for _, p := range providers {
		so, err := ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("create session options: %w", err)
		}
		if err := p.setup(so); err != nil {
			log.Debug().Str("provider", p.name).Err(err).Msg("provider setup failed")
			so.Destroy()
			continue
		}
		session, err := ort.NewAdvancedSession(modelPath, inputNames, outputNames, inputs, outputs, so)
		so.Destroy()
		if err != nil {
			log.Debug().Str("provider", p.name).Err(err).Msg("session creation failed")
			continue
		}
		log.Info().Str("provider", p.name).Str("model", modelPath).Msg("network loaded")
		return session, nil
	}
	return nil, fmt.Errorf("no usable onnxruntime execution provider for %s", modelPath)
}

// Close stops the batch loop and releases the session and tensors.
func (e *ONNX) Close() {
	close(e.done)
	if e.session != nil {
		e.session.Destroy()
	}
	for _, v := range e.inputs {
		v.Destroy()
	}
	for _, v := range e.outputs {
		v.Destroy()
	}
}

// Evaluate implements Evaluator. Blocks until the batch containing this
// request has been run.
func (e *ONNX) Evaluate(ctx context.Context, pos *board.Position, moves []*board.Move) (Evaluation, error) {
	result := make(chan evalResponse, 1)
	select {
	case e.queue <- evalRequest{pos: pos, moves: moves, result: result}:
	case <-ctx.Done():
		return Evaluation{}, ctx.Err()
	}
	select {
	case resp := <-result:
		return resp.eval, resp.err
	case <-ctx.Done():
		return Evaluation{}, ctx.Err()
	}
}

func (e *ONNX) batchLoop() {
	requests := make([]evalRequest, 0, maxBatchSize)
	for {
		requests = requests[:0]
		select {
		case req := <-e.queue:
			requests = append(requests, req)
		case <-e.done:
			return
		}

		timeout := time.After(batchTimeout)
	collect:
		for len(requests) < maxBatchSize {
			select {
			case req := <-e.queue:
				requests = append(requests, req)
			case <-timeout:
				break collect
			case <-e.done:
				return
			}
		}

		e.runBatch(requests)
	}
}

func (e *ONNX) runBatch(requests []evalRequest) {
	for i := range e.planes {
		e.planes[i] = 0
	}
	for i, req := range requests {
		encodePlanes(req.pos, e.planes[i*numPlanes*boardSize*boardSize:])
	}

	if err := e.session.Run(); err != nil {
		for _, req := range requests {
			req.result <- evalResponse{err: fmt.Errorf("network inference: %w", err)}
		}
		return
	}

	for i, req := range requests {
		policy := e.policy[i*policySize : (i+1)*policySize]
		priors := make([]float32, len(req.moves))
		var sum float32
		for j, mv := range req.moves {
			p := policy[int(mv.S1())*64+int(mv.S2())]
			if p < 0 {
				p = 0
			}
			priors[j] = p
			sum += p
		}
		if sum > 0 {
			for j := range priors {
				priors[j] /= sum
			}
		} else if len(priors) > 0 {
			uniform := float32(1) / float32(len(priors))
			for j := range priors {
				priors[j] = uniform
			}
		}

		v := e.value[i]
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		req.result <- evalResponse{eval: Evaluation{Priors: priors, Value: v}}
	}
}

// encodePlanes writes the feature planes for one position into dst.
// Plane order: white K Q R B N P, black K Q R B N P, side to move, white
// king-side castle, white queen-side, black king-side, black queen-side,
// en passant square.
func encodePlanes(pos *board.Position, dst []float32) {
	inner := pos.Inner()
	b := inner.Board()
	const planeLen = boardSize * boardSize

	for sq := 0; sq < 64; sq++ {
		piece := b.Piece(chess.Square(sq))
		if piece == chess.NoPiece {
			continue
		}
		plane := int(piece.Type()) - 1
		if piece.Color() == chess.Black {
			plane += 6
		}
		dst[plane*planeLen+sq] = 1
	}

	fill := func(plane int, v float32) {
		for i := 0; i < planeLen; i++ {
			dst[plane*planeLen+i] = v
		}
	}

	if inner.Turn() == chess.White {
		fill(12, 1)
	}
	rights := inner.CastleRights()
	if rights.CanCastle(chess.White, chess.KingSide) {
		fill(13, 1)
	}
	if rights.CanCastle(chess.White, chess.QueenSide) {
		fill(14, 1)
	}
	if rights.CanCastle(chess.Black, chess.KingSide) {
		fill(15, 1)
	}
	if rights.CanCastle(chess.Black, chess.QueenSide) {
		fill(16, 1)
	}
	if ep := inner.EnPassantSquare(); ep != chess.NoSquare {
		dst[17*planeLen+int(ep)] = 1
	}
}
