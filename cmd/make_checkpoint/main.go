package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/qrv0/morphnet/internal/checkpoint"
	"github.com/qrv0/morphnet/internal/config"
	"github.com/qrv0/morphnet/internal/logger"
)

// Writes a randomly initialized checkpoint and its export config, for running
// the build pipeline without a trainer.
func main() {
	out := flag.String("out", "toy.safetensors", "output checkpoint path")
	cfgOut := flag.String("config-out", "toy.json", "output export config path")
	mode := flag.String("mode", "local", "local or global")
	bones := flag.Int("bones", 4, "bones")
	curves := flag.Int("curves", 0, "curves")
	morphs := flag.Int("morphs", 6, "morphs per bone (local) or global morph targets (global)")
	hidden := flag.Int("hidden", 2, "hidden layers")
	units := flag.Int("units", 16, "units per hidden layer")
	boneGroups := flag.Int("bone-groups", 0, "split the bones into this many feature groups (local)")
	seed := flag.Int64("seed", checkpoint.DefaultSeed, "random seed")
	noStats := flag.Bool("no-stats", false, "omit input_mean and input_std")
	flag.Parse()

	cfg := config.Default()
	cfg.Mode = *mode
	cfg.NumBones = *bones
	cfg.NumCurves = *curves
	cfg.HiddenLayers = *hidden
	cfg.UnitsPerLayer = *units
	if *mode == "global" {
		cfg.GlobalMorphs = *morphs
		cfg.MorphsPerBone = 0
	} else {
		cfg.MorphsPerBone = *morphs
	}
	if *boneGroups > 0 {
		cfg.NumBoneGroups = *boneGroups
		cfg.BoneGroupIndices = make([]int, *bones)
		for i := range cfg.BoneGroupIndices {
			cfg.BoneGroupIndices[i] = i
		}
	}

	ck, err := checkpoint.Synthesize(&cfg, *seed)
	if err != nil {
		fmt.Fprintln(os.Stderr, "make_checkpoint:", err)
		os.Exit(1)
	}
	if *noStats {
		ck.InputMean, ck.InputStd = nil, nil
	}
	if err := checkpoint.Save(*out, ck); err != nil {
		fmt.Fprintln(os.Stderr, "make_checkpoint: write checkpoint:", err)
		os.Exit(1)
	}
	if err := cfg.Save(*cfgOut); err != nil {
		fmt.Fprintln(os.Stderr, "make_checkpoint: write config:", err)
		os.Exit(1)
	}
	logger.Log.Info("wrote toy checkpoint", "path", *out, "config", *cfgOut, "mode", cfg.Mode,
		"inputs", cfg.NumInputs(), "outputs", cfg.NumOutputs(), "layers", len(ck.Main), "groups_layers", len(ck.Groups))
}
