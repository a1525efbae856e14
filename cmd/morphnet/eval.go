package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/qrv0/morphnet/internal/nmn"
	"github.com/qrv0/morphnet/internal/runtime"
)

func cmdEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	in := fs.String("in", "", "input .nmn")
	xs := fs.String("x", "", "comma separated input vector (defaults to the input mean for main, zeros for groups)")
	net := fs.String("net", "main", "network to run (main, groups)")
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	lf.apply()
	if err := requireFlags("in", *in); err != nil {
		return err
	}
	f, err := nmn.Load(*in)
	if err != nil {
		return err
	}
	m, err := runtime.New(f)
	if err != nil {
		return err
	}
	x, err := parseFloats(*xs)
	if err != nil {
		return fmt.Errorf("--x: %w", err)
	}

	var y []float32
	switch *net {
	case "main":
		if x == nil {
			x = append([]float32(nil), f.InputMean...)
		}
		y, err = m.Main(x)
	case "groups":
		if x == nil && f.Groups != nil {
			x = make([]float32, f.Groups.InputSize())
		}
		y, err = m.Groups(x)
	default:
		return fmt.Errorf("unknown network %q", *net)
	}
	if err != nil {
		return err
	}
	parts := make([]string, len(y))
	for i, v := range y {
		parts[i] = fmt.Sprintf("%.6g", v)
	}
	fmt.Fprintln(stdout, strings.Join(parts, ","))
	return nil
}
