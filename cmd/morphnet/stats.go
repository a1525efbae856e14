package main

import (
	"flag"
	"fmt"

	"github.com/qrv0/morphnet/internal/checkpoint"
	"github.com/qrv0/morphnet/internal/logger"
	"github.com/qrv0/morphnet/internal/nmn"
	"github.com/qrv0/morphnet/internal/safetensors"
	"github.com/qrv0/morphnet/internal/stats"
)

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	inputs := fs.String("inputs", "", "raw float32 sample matrix (inputs.bin)")
	bones := fs.Int("bones", 0, "number of bones")
	curves := fs.Int("curves", 0, "number of curves")
	floatsPerCurve := fs.Int("floats-per-curve", 1, "floats per curve")
	includeCurves := fs.Bool("include-curves", true, "curves are part of the input vector")
	out := fs.String("out", "", "output statistics (.safetensors)")
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	lf.apply()
	if err := requireFlags("inputs", *inputs, "out", *out); err != nil {
		return err
	}

	boneValues := nmn.FloatsPerBone * *bones
	numInputs := boneValues
	if *includeCurves {
		numInputs += *curves * *floatsPerCurve
	}
	samples, err := stats.ReadSamples(*inputs, numInputs)
	if err != nil {
		return err
	}
	mean, std, err := stats.Compute(samples, boneValues)
	if err != nil {
		return err
	}
	w := safetensors.NewWriter()
	if err := checkpoint.SaveStatsTo(w, mean, std); err != nil {
		return err
	}
	if err := w.Save(*out); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	logger.Log.Info("computed input statistics", "samples", len(samples), "inputs", numInputs, "out", *out)
	fmt.Fprintf(stdout, "wrote %s (%d samples, %d inputs)\n", *out, len(samples), numInputs)
	return nil
}
