// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command stenciltrace summarizes a bigstencil trace file, as written
// by a session configured with a trace path. For each phase it prints
// the number of ranks that ran it, when it started, how long it took
// from the first rank entering it to the last rank leaving it, and the
// distribution of per-rank durations.
//
// Usage:
//
//	stenciltrace trace.json
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigstencil/internal/trace"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: stenciltrace tracefile\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	log.AddFlags()
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
	}
	ctx := context.Background()
	t, err := readTrace(ctx, flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	if err := writePhaseStats(os.Stdout, buildPhaseStats(t.Events)); err != nil {
		log.Fatal(err)
	}
}

func readTrace(ctx context.Context, path string) (t *trace.T, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	t = new(trace.T)
	if err := t.Decode(f.Reader(ctx)); err != nil {
		return nil, fmt.Errorf("decode %s: %v", path, err)
	}
	return t, nil
}
