package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/qrv0/morphnet/internal/logger"
)

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "build":
		err = cmdBuild(args)
	case "stats":
		err = cmdStats(args)
	case "inspect":
		err = cmdInspect(args)
	case "eval":
		err = cmdEval(args)
	case "pack":
		err = cmdPack(args)
	case "unpack":
		err = cmdUnpack(args)
	case "verify":
		err = cmdVerify(args)
	case "pull":
		err = cmdPull(args)
	default:
		usage()
		os.Exit(1)
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("morphnet - neural morph network export toolkit")
	fmt.Println("usage: morphnet <command> [args]")
	fmt.Println("  build   --weights <ckpt.safetensors> --config <cfg.json> --out <file.nmn> [--stats <stats.safetensors>] [--compress]")
	fmt.Println("  stats   --inputs <inputs.bin> --bones N [--curves C --floats-per-curve F --include-curves] --out <stats.safetensors>")
	fmt.Println("  inspect <file.{nmn,nmb}>        print header, layout and layers")
	fmt.Println("  eval    --in <file.nmn> [--x v1,v2,...] [--net main|groups]")
	fmt.Println("  pack    --in <file.nmn> --out <file.nmb> [--config cfg.json] [--comp zstd|lz4|none] [--chunk N]")
	fmt.Println("  unpack  --in <file.nmb> --out <file.nmn> [--config-out cfg.json]")
	fmt.Println("  verify  --in <file.nmb>          verify checksums and decode the model")
	fmt.Println("  pull    <url> [--out path]       download a checkpoint or bundle (.nmb downloads are verified)")
}

type logFlags struct {
	level  *string
	format *string
}

func addLogFlags(fs *flag.FlagSet) logFlags {
	return logFlags{
		level:  fs.String("log-level", "info", "log level (debug, info, warn, error)"),
		format: fs.String("log-format", "console", "log format (console, json)"),
	}
}

func (l logFlags) apply() { logger.Setup(*l.level, *l.format) }

// requireFlags takes name, value pairs and reports the first empty value.
func requireFlags(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("missing --%s", pairs[i])
		}
	}
	return nil
}

// parseFloats parses a comma separated list.
func parseFloats(s string) ([]float32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
