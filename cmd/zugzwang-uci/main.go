package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/hailam/zugzwang/internal/config"
	"github.com/hailam/zugzwang/internal/eval"
	"github.com/hailam/zugzwang/internal/storage"
	"github.com/hailam/zugzwang/internal/uci"
)

// defaultModelName is the network file looked for when no -model flag or
// persisted ModelPath is given.
const defaultModelName = "zugzwang-policy-value.onnx"

var (
	modelPath = flag.String("model", "", "path to the ONNX policy/value network")
	ortLib    = flag.String("ort-lib", "", "path to the onnxruntime shared library")
	logLevel  = flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	noPersist = flag.Bool("no-persist", false, "disable the options/statistics database")
)

func main() {
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	opts := config.NewOptions()

	var store *storage.Storage
	if !*noPersist {
		store, err = storage.OpenDefault()
		if err != nil {
			log.Warn().Err(err).Msg("persistence disabled")
		} else {
			defer store.Close()
			saved, err := store.LoadOptions()
			if err != nil {
				log.Warn().Err(err).Msg("could not load saved options")
			} else {
				opts.Restore(saved)
			}
		}
	}

	if *modelPath != "" {
		_ = opts.Set(config.ModelPath, *modelPath)
	}
	if *ortLib != "" {
		_ = opts.Set(config.OnnxLibPath, *ortLib)
	}
	if opts.String(config.ModelPath) == "" {
		if found := findDefaultModel(); found != "" {
			_ = opts.Set(config.ModelPath, found)
		}
	}

	evaluator := buildEvaluator(opts, log)
	if closer, ok := evaluator.(*eval.ONNX); ok {
		defer closer.Close()
	}

	protocol := uci.New(opts, evaluator, store, log)
	if err := protocol.Run(os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("protocol loop failed")
		os.Exit(1)
	}
}

// buildEvaluator loads the configured network, falling back to the material
// evaluator so the engine still answers without a model.
func buildEvaluator(opts *config.Options, log zerolog.Logger) eval.Evaluator {
	model := opts.String(config.ModelPath)
	if model == "" {
		log.Warn().Msg("no network configured, using material evaluation")
		return eval.Material{}
	}
	network, err := eval.NewONNX(model, opts.String(config.OnnxLibPath), log)
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("network unavailable, using material evaluation")
		return eval.Material{}
	}
	return network
}

// findDefaultModel checks the standard locations for the bundled network.
func findDefaultModel() string {
	var dirs []string
	if modelDir, err := storage.ModelDir(); err == nil {
		dirs = append(dirs, modelDir)
	}
	dirs = append(dirs, "./models", ".")
	for _, dir := range dirs {
		path := filepath.Join(dir, defaultModelName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
