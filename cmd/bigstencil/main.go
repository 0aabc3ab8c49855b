// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command bigstencil relaxes an image over a group of ranks.
//
// Usage:
//
//	bigstencil [flags] [reconstruct|smooth|checkerboard]
//
// The job parameters are fixed: reconstruct and smooth read
// mpi_image_640x480.pgm, run 200 iterations over a one-dimensional
// process grid, and write 200_mpi_image_640x480.pgm; checkerboard
// writes chessy_struct.pgm from a periodic two-dimensional process
// grid. The number of ranks and the system that runs them come from
// the bigstencil configuration profile (see package stencilconfig).
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
	"github.com/grailbio/bigstencil"
	"github.com/grailbio/bigstencil/stencilconfig"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: bigstencil [flags] [reconstruct|smooth|checkerboard]\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	sess, shutdown := stencilconfig.Parse()
	defer shutdown()

	mode := bigstencil.Reconstruct
	switch flag.NArg() {
	case 0:
	case 1:
		var err error
		if mode, err = bigstencil.ParseMode(flag.Arg(0)); err != nil {
			log.Error.Print(err)
			flag.Usage()
		}
	default:
		flag.Usage()
	}
	job := bigstencil.DefaultJob(mode)
	res, err := sess.Run(context.Background(), job)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("%d ranks: %dx%d grid, digest %016x", sess.Procs(), res.Grid.Rows, res.Grid.Cols, res.Digest)
}
