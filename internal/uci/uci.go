// Package uci implements the Universal Chess Interface protocol front-end.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/notnil/chess"
	"github.com/rs/zerolog"

	"github.com/hailam/zugzwang/internal/board"
	"github.com/hailam/zugzwang/internal/config"
	"github.com/hailam/zugzwang/internal/eval"
	"github.com/hailam/zugzwang/internal/history"
	"github.com/hailam/zugzwang/internal/search"
	"github.com/hailam/zugzwang/internal/storage"
)

// UCI drives the engine over the text protocol: stdin in, stdout out.
type UCI struct {
	in  io.Reader
	out io.Writer
	log zerolog.Logger

	opts      *config.Options
	store     *storage.Storage // nil disables persistence
	evaluator eval.Evaluator

	tree      *search.Tree
	clock     *search.Clock
	driver    *search.Driver
	arenaSize int

	game *history.Game

	searchDone   chan struct{}
	searchCancel context.CancelFunc
}

// New creates a protocol handler. store may be nil.
func New(opts *config.Options, evaluator eval.Evaluator, store *storage.Storage, log zerolog.Logger) *UCI {
	return &UCI{
		in:        nil,
		out:       nil,
		log:       log,
		opts:      opts,
		store:     store,
		evaluator: evaluator,
		game:      history.NewGame(board.StartingPosition()),
	}
}

// Run reads commands from in and writes responses to out until quit or EOF.
func (u *UCI) Run(in io.Reader, out io.Writer) error {
	u.in = in
	u.out = out
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "uci":
			u.handleUCI()
		case "isready":
			u.println("readyok")
		case "ucinewgame":
			u.handleNewGame()
		case "position":
			u.handlePosition(args)
		case "go":
			u.handleGo(args)
		case "stop":
			u.handleStop()
		case "setoption":
			u.handleSetOption(args)
		case "d":
			u.println(u.game.Current().FEN())
		case "quit":
			u.handleQuit()
			return nil
		default:
			u.log.Debug().Str("command", cmd).Msg("ignoring unknown command")
		}
	}
	u.handleQuit()
	return scanner.Err()
}

func (u *UCI) println(a ...any) {
	fmt.Fprintln(u.out, a...)
}

func (u *UCI) printf(format string, a ...any) {
	fmt.Fprintf(u.out, format, a...)
}

func (u *UCI) handleUCI() {
	u.println("id name Zugzwang")
	u.println("id author Zugzwang developers")
	u.println()
	u.printf("option name MoveOverhead type spin default %s min 0 max 10000\n", u.opts.String(config.MoveOverhead))
	u.printf("option name CPuct type string default %s\n", u.opts.String(config.CPuct))
	u.printf("option name VirtualLoss type spin default %s min 1 max 64\n", u.opts.String(config.VirtualLoss))
	u.printf("option name ResumePreviousPosition type check default %s\n", u.opts.String(config.ResumePreviousPosition))
	u.printf("option name EnableTrendFactor type check default %s\n", u.opts.String(config.EnableTrendFactor))
	u.printf("option name EasingCurve type combo default %s var linear var sine\n", u.opts.String(config.EasingCurve))
	u.printf("option name Threads type spin default %s min 1 max 256\n", u.opts.String(config.Threads))
	u.printf("option name NodeArenaSize type spin default %s min 1000 max 100000000\n", u.opts.String(config.NodeArenaSize))
	u.println("option name ModelPath type string default <empty>")
	u.println("option name OnnxLibPath type string default <empty>")
	u.println("uciok")
}

func (u *UCI) handleNewGame() {
	u.waitSearch()
	u.tree = nil
	u.game = history.NewGame(board.StartingPosition())
	if u.store != nil {
		if err := u.store.RecordGamePlayed(); err != nil {
			u.log.Warn().Err(err).Msg("record game")
		}
	}
}

// handlePosition parses "position [startpos | fen <fen>] [moves ...]".
func (u *UCI) handlePosition(args []string) {
	u.waitSearch()
	if len(args) == 0 {
		return
	}

	var start *board.Position
	moveStart := len(args)

	switch args[0] {
	case "startpos":
		start = board.StartingPosition()
		for i, arg := range args {
			if arg == "moves" {
				moveStart = i + 1
				break
			}
		}
	case "fen":
		fenEnd := len(args)
		for i, arg := range args {
			if arg == "moves" {
				fenEnd = i
				moveStart = i + 1
				break
			}
		}
		pos, err := board.FromFEN(strings.Join(args[1:fenEnd], " "))
		if err != nil {
			u.log.Error().Err(err).Msg("invalid fen")
			return
		}
		start = pos
	default:
		return
	}

	game := history.NewGame(start)
	notation := chess.UCINotation{}
	for _, text := range args[moveStart:] {
		mv, err := notation.Decode(game.Current().Inner(), text)
		if err == nil {
			// Decode only parses the squares; play the matching legal move.
			var legal *board.Move
			for _, m := range game.Current().LegalMoves() {
				if m.S1() == mv.S1() && m.S2() == mv.S2() && m.Promo() == mv.Promo() {
					legal = m
					break
				}
			}
			if legal == nil {
				err = errors.New("move is not legal in this position")
			}
			mv = legal
		}
		if err != nil {
			u.log.Error().Str("move", text).Err(err).Msg("illegal move in position command")
			return
		}
		game.Apply(mv)
	}
	u.game = game
}

// handleGo parses the limits and starts a search in the background.
func (u *UCI) handleGo(args []string) {
	u.waitSearch()
	u.ensureSearch()

	limits := search.NoLimits()
	for i := 0; i < len(args); i++ {
		next := func() int64 {
			if i+1 >= len(args) {
				return -1
			}
			i++
			v, err := strconv.ParseInt(args[i], 10, 64)
			if err != nil {
				return -1
			}
			return v
		}
		switch args[i] {
		case "wtime":
			limits.WhiteTimeMS = next()
		case "btime":
			limits.BlackTimeMS = next()
		case "winc":
			limits.WhiteIncMS = next()
		case "binc":
			limits.BlackIncMS = next()
		case "movetime":
			limits.MoveTimeMS = next()
		case "nodes":
			limits.MaxNodes = next()
		case "infinite":
			limits.Infinite = true
		}
	}

	pos := u.game.Current()
	u.clock.SetHalfMoveNumber(u.game.HalfMoveNumber())

	ctx, cancel := context.WithCancel(context.Background())
	u.searchCancel = cancel
	done := make(chan struct{})
	u.searchDone = done

	go func() {
		defer close(done)
		defer cancel()
		res, err := u.driver.Search(ctx, pos, limits)
		if err != nil {
			if errors.Is(err, search.ErrNoLegalMoves) {
				u.println("bestmove (none)")
				return
			}
			u.log.Error().Err(err).Msg("search failed")
			u.println("bestmove (none)")
			return
		}
		if u.store != nil {
			if err := u.store.RecordSearch(res.Nodes, res.Depth, res.ElapsedMS); err != nil {
				u.log.Warn().Err(err).Msg("record search")
			}
		}
		u.printInfo(res)
		if res.BestMove == nil {
			u.println("bestmove (none)")
			return
		}
		u.printf("bestmove %s\n", res.BestMove.String())
	}()
}

func (u *UCI) printInfo(res search.Result) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "info depth %d nodes %d time %d", res.Depth, res.Nodes, res.ElapsedMS)
	if res.ElapsedMS > 0 {
		fmt.Fprintf(&sb, " nps %d", int64(res.Nodes)*1000/res.ElapsedMS)
	}
	fmt.Fprintf(&sb, " score cp %d", int(math.Round(res.Value*100)))
	if len(res.PV) > 0 {
		sb.WriteString(" pv")
		for _, m := range res.PV {
			sb.WriteByte(' ')
			sb.WriteString(m.String())
		}
	}
	u.println(sb.String())
}

func (u *UCI) handleStop() {
	if u.driver != nil {
		u.driver.Stop()
	}
	u.waitSearch()
}

func (u *UCI) handleQuit() {
	if u.searchCancel != nil {
		u.searchCancel()
	}
	u.waitSearch()
	if u.store != nil {
		if err := u.store.SaveOptions(u.opts.Snapshot()); err != nil {
			u.log.Warn().Err(err).Msg("persist options")
		}
		if err := u.store.SaveGame(u.game.Record()); err != nil {
			u.log.Warn().Err(err).Msg("persist game")
		}
	}
}

func (u *UCI) waitSearch() {
	if u.searchDone != nil {
		<-u.searchDone
		u.searchDone = nil
	}
}

// handleSetOption parses "setoption name <name> [value <value>]".
func (u *UCI) handleSetOption(args []string) {
	var name, value string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "name":
			j := i + 1
			for ; j < len(args) && args[j] != "value"; j++ {
			}
			name = strings.Join(args[i+1:j], " ")
			i = j - 1
		case "value":
			value = strings.Join(args[i+1:], " ")
			i = len(args)
		}
	}
	if name == "" {
		return
	}
	if value == "<empty>" {
		value = ""
	}
	if err := u.opts.Set(name, value); err != nil {
		u.log.Warn().Str("option", name).Err(err).Msg("setoption rejected")
		return
	}

	switch {
	case strings.EqualFold(name, config.ModelPath), strings.EqualFold(name, config.OnnxLibPath):
		u.rebuildEvaluator()
	default:
		// Search tunables are re-read at the next go.
		u.driver = nil
	}
}

func (u *UCI) rebuildEvaluator() {
	model := u.opts.String(config.ModelPath)
	if model == "" {
		u.evaluator = eval.Material{}
		u.driver = nil
		return
	}
	network, err := eval.NewONNX(model, u.opts.String(config.OnnxLibPath), u.log)
	if err != nil {
		u.log.Error().Err(err).Str("model", model).Msg("failed to load network, keeping current evaluator")
		return
	}
	if closer, ok := u.evaluator.(*eval.ONNX); ok {
		closer.Close()
	}
	u.evaluator = network
	u.driver = nil
}

// ensureSearch (re)builds the tree, clock and driver from current options.
// The tree survives across moves so the previous subtree can be resumed; it
// is rebuilt only when its arena size changes or after ucinewgame.
func (u *UCI) ensureSearch() {
	arena := u.opts.Int(config.NodeArenaSize)
	if arena < 1 {
		arena = 1
	}
	if u.tree == nil || arena != u.arenaSize {
		u.tree = search.NewTree(arena, u.log)
		u.arenaSize = arena
		u.driver = nil
	}
	if u.driver == nil || u.clock == nil {
		u.clock = search.NewClock(search.ClockConfig{
			MoveOverheadMS:    int64(u.opts.Int(config.MoveOverhead)),
			Easing:            search.ParseEasingCurve(u.opts.String(config.EasingCurve)),
			EnableTrendFactor: u.opts.Bool(config.EnableTrendFactor),
		})
		u.driver = search.NewDriver(u.tree, u.evaluator, u.clock, search.ParamsFromOptions(u.opts), u.log)
		u.driver.Progress = u.printInfo
	}
}
