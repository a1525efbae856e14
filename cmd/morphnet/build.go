package main

import (
	"flag"
	"fmt"

	"github.com/qrv0/morphnet/internal/checkpoint"
	"github.com/qrv0/morphnet/internal/config"
	"github.com/qrv0/morphnet/internal/logger"
	"github.com/qrv0/morphnet/internal/metrics"
	"github.com/qrv0/morphnet/internal/nmn"
	"github.com/qrv0/morphnet/internal/safetensors"
)

func cmdBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	weights := fs.String("weights", "", "trained checkpoint (.safetensors)")
	statsPath := fs.String("stats", "", "input statistics (.safetensors); defaults to the checkpoint's own")
	cfgPath := fs.String("config", "", "export config (.json)")
	out := fs.String("out", "", "output .nmn")
	mode := fs.String("mode", "", "override the config mode (local, global)")
	compress := fs.Bool("compress", false, "store global layers as 8-bit codes")
	metricsFile := fs.String("metrics-file", "", "write metrics in textfile format")
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	lf.apply()
	if err := requireFlags("weights", *weights, "config", *cfgPath, "out", *out); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	cfg.CompressGlobal = cfg.CompressGlobal || *compress
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", *cfgPath, err)
	}

	ck, err := checkpoint.Load(*weights)
	if err != nil {
		return err
	}
	mean, std := ck.InputMean, ck.InputStd
	if *statsPath != "" {
		st, err := safetensors.Open(*statsPath)
		if err != nil {
			return fmt.Errorf("open stats: %w", err)
		}
		if mean, std, err = checkpoint.ReadStats(st); err != nil {
			return fmt.Errorf("stats %s: %w", *statsPath, err)
		}
	}
	if mean == nil {
		return fmt.Errorf("no input statistics: pass --stats or include %s/%s in the checkpoint", checkpoint.InputMean, checkpoint.InputStd)
	}

	f, err := assemble(&cfg, ck, mean, std)
	if err != nil {
		return err
	}
	if err := nmn.Save(*out, f); err != nil {
		return err
	}
	if *metricsFile != "" {
		if err := metrics.WriteTextfile(*metricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	fmt.Fprintf(stdout, "wrote %s (%s, %d inputs, %d outputs)\n", *out, f.Header.Mode, f.Header.NumInputs(), f.Main.OutputSize())
	return nil
}

// assemble turns a checkpoint into a network file under cfg.
func assemble(cfg *config.Config, ck *checkpoint.Checkpoint, mean, std []float32) (*nmn.File, error) {
	h, err := cfg.Header()
	if err != nil {
		return nil, err
	}
	opts := nmn.ExtractOptions{Mode: h.Mode, Compress: cfg.CompressGlobal}
	if h.Mode == nmn.ModeLocal && cfg.CompressGlobal {
		logger.Log.Warn("compression applies to global mode only, ignoring")
	}
	if want := cfg.HiddenLayers + 1; len(ck.Main) != want {
		logger.Log.Warn("checkpoint layer count differs from config", "layers", len(ck.Main), "hidden_layers", cfg.HiddenLayers)
	}
	main, err := nmn.Extract(ck.Main, opts)
	if err != nil {
		return nil, fmt.Errorf("main network: %w", err)
	}
	if got := main.OutputSize(); got != cfg.NumOutputs() {
		return nil, &nmn.ShapeError{Field: "main.outputs", Want: cfg.NumOutputs(), Got: got}
	}
	f := &nmn.File{
		Header:    h,
		InputMean: mean,
		InputStd:  std,
		Runtime:   nmn.RuntimeName,
		Main:      main,
	}
	switch {
	case h.HasGroups() && ck.Groups == nil:
		return nil, fmt.Errorf("%w: config declares %d feature groups but the checkpoint has no groups network", nmn.ErrShape, h.NumGroups)
	case !h.HasGroups() && ck.Groups != nil:
		return nil, fmt.Errorf("%w: checkpoint has a groups network but the config declares no feature groups", nmn.ErrShape)
	case h.HasGroups():
		if f.Groups, err = nmn.Extract(ck.Groups, opts); err != nil {
			return nil, fmt.Errorf("groups network: %w", err)
		}
		want := int(h.NumGroups * h.ItemsPerGroup * nmn.FloatsPerBone)
		if got := f.Groups.InputSize(); got != want {
			return nil, &nmn.ShapeError{Field: "groups.inputs", Want: want, Got: got}
		}
	}
	return f, nil
}
