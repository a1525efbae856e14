package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/qrv0/morphnet/internal/bundle"
	"github.com/qrv0/morphnet/internal/downloader"
)

func cmdPull(args []string) error {
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	out := fs.String("out", "", "destination path (defaults to the last URL path element)")
	noVerify := fs.Bool("no-verify", false, "skip bundle verification for .nmb downloads")
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	lf.apply()
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: morphnet pull <url> [--out path]")
	}
	src := fs.Arg(0)
	dst := *out
	if dst == "" {
		u, err := url.Parse(src)
		if err != nil {
			return err
		}
		dst = path.Base(u.Path)
		if dst == "/" || dst == "." {
			return fmt.Errorf("cannot derive a file name from %q, pass --out", src)
		}
	}
	n, err := downloader.Download(context.Background(), src, dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d bytes\n", dst, n)
	if *noVerify || !strings.HasSuffix(dst, ".nmb") {
		return nil
	}
	r, err := bundle.Open(dst)
	if err != nil {
		return err
	}
	if _, err := bundle.Verify(r); err != nil {
		return fmt.Errorf("%s: %w", dst, err)
	}
	fmt.Fprintln(stdout, "bundle verified")
	return nil
}
