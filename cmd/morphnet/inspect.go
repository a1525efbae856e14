package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/qrv0/morphnet/internal/bundle"
	"github.com/qrv0/morphnet/internal/nmn"
)

func cmdInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	lf.apply()
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: morphnet inspect <file.{nmn,nmb}>")
	}
	path := fs.Arg(0)
	switch filepath.Ext(path) {
	case ".nmn":
		return inspectNMN(stdout, path)
	case ".nmb":
		return inspectBundle(stdout, path)
	default:
		return fmt.Errorf("unknown extension %q", filepath.Ext(path))
	}
}

func inspectNMN(w io.Writer, path string) error {
	f, err := nmn.Load(path)
	if err != nil {
		return err
	}
	plan, err := nmn.Plan(f)
	if err != nil {
		return err
	}
	h := f.Header
	fmt.Fprintf(w, "NMN: mode=%s version=%d inputs=%d outputs=%d\n", h.Mode, nmn.Version, h.NumInputs(), f.Main.OutputSize())
	fmt.Fprintf(w, "  bones=%d curves=%d floats_per_curve=%d morphs_per_bone=%d global_outputs=%d groups=%d items_per_group=%d\n",
		h.NumBones, h.NumCurves, h.FloatsPerCurve, h.MorphsPerBone, h.NumOutputs, h.NumGroups, h.ItemsPerGroup)
	fmt.Fprintf(w, "  runtime: %s\n", f.Runtime)

	fmt.Fprintf(w, "Layout (%d bytes):\n", plan.Total)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, fd := range plan.Fields {
		fmt.Fprintf(tw, "  %s\t%d\t%d\n", fd.Name, fd.Offset, fd.Size)
	}
	tw.Flush()

	printNetwork(w, "Main network", f.Main)
	if f.Groups != nil {
		printNetwork(w, "Groups network", f.Groups)
	}
	return nil
}

func printNetwork(w io.Writer, title string, n *nmn.Network) {
	fmt.Fprintf(w, "%s (%d layers, %d bytes):\n", title, len(n.Layers), nmn.NetworkSize(n))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, l := range n.Layers {
		extra := ""
		if ml, ok := l.(*nmn.MultiLinear); ok {
			extra = fmt.Sprintf("groups=%d", ml.Groups)
		}
		fmt.Fprintf(tw, "  %d\t%s\t%d -> %d\t%s\n", i, l.Kind(), l.InputSize(), l.OutputSize(), extra)
	}
	tw.Flush()
}

func inspectBundle(w io.Writer, path string) error {
	r, err := bundle.Open(path)
	if err != nil {
		return err
	}
	m, err := r.Manifest()
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "META:")
	fmt.Fprintln(w, string(b))
	fmt.Fprintln(w, "Sections:")
	for _, e := range r.TOC {
		fmt.Fprintf(w, "  %s: offset=%d size=%d flags=%d\n", bundle.SectionName(e.TypeID), e.Offset, e.Size, e.Flags)
	}
	return nil
}
