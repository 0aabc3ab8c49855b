// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigstencil implements distributed relaxation of a 2D grid.

	A grid (typically a grayscale image) is decomposed over a fixed set
	of ranks arranged in a one- or two-dimensional process grid
	(package topology). The coordinator, rank 0, reads the grid and
	scatters each rank's sub-block to it (package layout). Each rank then
	repeatedly applies a 5-point stencil to its block (package stencil),
	synchronizing the one-cell halo around the block with its neighbors
	after every sweep (package halo). Finally the blocks are gathered
	back on the coordinator, which writes the result (package pgm).

	Ranks share no memory: they communicate only through blocking
	messages (package comm). Ranks may be goroutines in a single process
	or bigmachine machines; package exec provides both executors behind
	a common Session.

	A job is described by a Job. RunRank runs one rank of a job; it is
	called by the executors and need not be called directly:

		sess := exec.Start(exec.Local, exec.Procs(4))
		defer sess.Shutdown()
		res, err := sess.Run(ctx, bigstencil.DefaultJob(bigstencil.Smooth))

	Every rank runs the same Job, and every rank fails if any rank fails.
*/
package bigstencil
