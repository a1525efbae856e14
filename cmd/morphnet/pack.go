package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/qrv0/morphnet/internal/bundle"
	"github.com/qrv0/morphnet/internal/logger"
)

func cmdPack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	in := fs.String("in", "", "input .nmn")
	out := fs.String("out", "", "output .nmb")
	cfgPath := fs.String("config", "", "export config to embed (.json)")
	comp := fs.String("comp", "zstd", "section compression (zstd, lz4, none)")
	chunk := fs.Int("chunk", bundle.DefaultChunkSize, "checksum chunk size in bytes")
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	lf.apply()
	if err := requireFlags("in", *in, "out", *out); err != nil {
		return err
	}
	model, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	var cfg []byte
	if *cfgPath != "" {
		if cfg, err = os.ReadFile(*cfgPath); err != nil {
			return err
		}
	}
	m, err := bundle.PackFile(*out, model, cfg, bundle.PackOptions{Compression: *comp, ChunkSize: *chunk})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "packed %s -> %s (%s, %d model bytes)\n", *in, *out, m.Compression, m.ModelBytes)
	return nil
}

func cmdUnpack(args []string) error {
	fs := flag.NewFlagSet("unpack", flag.ContinueOnError)
	in := fs.String("in", "", "input .nmb")
	out := fs.String("out", "", "output .nmn")
	cfgOut := fs.String("config-out", "", "write the embedded export config here")
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	lf.apply()
	if err := requireFlags("in", *in, "out", *out); err != nil {
		return err
	}
	r, err := bundle.Open(*in)
	if err != nil {
		return err
	}
	if _, err := bundle.Verify(r); err != nil {
		return err
	}
	model, err := r.Model()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, model, 0o644); err != nil {
		return err
	}
	if *cfgOut != "" {
		cfg, err := r.Config()
		if err != nil {
			return err
		}
		if cfg == nil {
			return fmt.Errorf("%s has no config section", *in)
		}
		if err := os.WriteFile(*cfgOut, cfg, 0o644); err != nil {
			return err
		}
	}
	logger.Log.Info("unpacked bundle", "in", *in, "out", *out, "bytes", len(model))
	fmt.Fprintf(stdout, "unpacked %s -> %s\n", *in, *out)
	return nil
}

func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	in := fs.String("in", "", "input .nmb")
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	lf.apply()
	if err := requireFlags("in", *in); err != nil {
		return err
	}
	r, err := bundle.Open(*in)
	if err != nil {
		return err
	}
	rep, err := bundle.Verify(r)
	if rep != nil {
		for _, s := range rep.Sections {
			switch {
			case s.Err != nil:
				fmt.Fprintf(stdout, "section %s: %v\n", s.Name, s.Err)
			case len(s.Mismatched) > 0:
				fmt.Fprintf(stdout, "section %s: chunks %v mismatch\n", s.Name, s.Mismatched)
			default:
				fmt.Fprintf(stdout, "section %s: %d chunks OK\n", s.Name, s.Chunks)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("checksum verify: FAILED: %w", err)
	}
	fmt.Fprintln(stdout, "checksum verify: OK")
	return nil
}
