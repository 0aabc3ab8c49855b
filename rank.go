// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigstencil

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigstencil/comm"
	"github.com/grailbio/bigstencil/grid"
	"github.com/grailbio/bigstencil/halo"
	"github.com/grailbio/bigstencil/internal/trace"
	"github.com/grailbio/bigstencil/layout"
	"github.com/grailbio/bigstencil/pgm"
	"github.com/grailbio/bigstencil/stats"
	"github.com/grailbio/bigstencil/stencil"
	"github.com/grailbio/bigstencil/topology"
)

// Coordinator is the rank that reads the input, distributes it, and
// collects and writes the result.
const Coordinator = 0

// RunRank runs one rank of job over c. Every rank of c's group must
// call RunRank with the same job. Counters are recorded into st and
// phases into rec; both may be nil.
//
// On the coordinator, RunRank returns the gathered grid after writing
// it to job.Output (unless Output is empty). Other ranks return a nil
// grid. Any error is fatal to the whole group: the caller must abort
// the group so that peers do not wait forever.
func RunRank(ctx context.Context, c comm.Comm, job Job, st *stats.Rank, rec *trace.Recorder) (*grid.Grid, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	rank := c.Rank()

	// The coordinator determines the grid shape and tells everyone
	// else.
	var (
		global *grid.Grid
		shape  = make([]float64, 2)
		err    error
	)
	if rank == Coordinator {
		end := rec.Begin("load")
		global, err = load(ctx, job)
		end()
		if err != nil {
			return nil, err
		}
		if global != nil {
			shape[0], shape[1] = float64(global.Rows), float64(global.Cols)
		} else {
			shape[0], shape[1] = float64(job.Rows), float64(job.Cols)
		}
	}
	if err = comm.Bcast(ctx, c, Coordinator, shape); err != nil {
		return nil, errors.E(errors.Fatal, "bigstencil: broadcast shape", err)
	}
	rows, cols := int(shape[0]), int(shape[1])

	topo, err := topology.New(rank, c.Size(), job.NDims, job.Periodic)
	if err != nil {
		return nil, err
	}
	d, err := layout.New(rows, cols, topo.Dims)
	if err != nil {
		return nil, err
	}
	if rank == Coordinator {
		log.Printf("%s: %d ranks, %s", job, c.Size(), d)
	}
	log.Debug.Printf("rank %d: %s", rank, topo)

	b := grid.NewBlock(d.BlockRows, d.BlockCols, job.Sentinel)
	mask := make([]float64, d.BlockSize())
	end := rec.Begin("scatter")
	switch job.Mode {
	case Reconstruct:
		mask, err = scatter(ctx, c, topo, d, global)
	case Smooth:
		var interior []float64
		interior, err = scatter(ctx, c, topo, d, global)
		if err == nil {
			b.SetInterior(interior)
		}
	case Checkerboard:
		b.SetInterior(grid.Checkerboard(topo.Coords, d.BlockRows, d.BlockCols, job.Contrast))
	}
	end()
	if err != nil {
		return nil, err
	}

	x := halo.New(c, topo, d.BlockRows, d.BlockCols, st)
	engine, err := stencil.New(x, b, mask)
	if err != nil {
		return nil, err
	}
	engine.ReportEvery = job.ReportEvery
	end = rec.Begin("relax")
	err = engine.Run(ctx, job.Iterations)
	end()
	if err != nil {
		return nil, errors.E(errors.Fatal, fmt.Sprintf("bigstencil: rank %d", rank), err)
	}

	end = rec.Begin("gather")
	var out []float64
	if rank == Coordinator {
		global = grid.New(rows, cols)
		out = global.Data
	}
	err = layout.Gather(ctx, c, topo, d, Coordinator, b.Interior(nil), out)
	end()
	if err != nil {
		return nil, errors.E(errors.Fatal, "bigstencil: gather", err)
	}
	if rank != Coordinator {
		return nil, nil
	}
	log.Printf("result digest %016x", global.Digest())
	if job.Output == "" {
		return global, nil
	}
	end = rec.Begin("write")
	err = pgm.Write(ctx, job.Output, global)
	end()
	if err != nil {
		return nil, err
	}
	log.Printf("wrote %dx%d image to %s", global.Rows, global.Cols, job.Output)
	return global, nil
}

// load reads the job's input image. It returns a nil grid for jobs that
// take no input.
func load(ctx context.Context, job Job) (*grid.Grid, error) {
	if job.Mode == Checkerboard {
		return nil, nil
	}
	width, height, err := pgm.Size(ctx, job.Input)
	if err != nil {
		return nil, err
	}
	log.Printf("reading %dx%d image %s", width, height, job.Input)
	return pgm.Read(ctx, job.Input, width, height)
}

func scatter(ctx context.Context, c comm.Comm, t *topology.Topology, d *layout.Decomposition, global *grid.Grid) ([]float64, error) {
	var data []float64
	if global != nil {
		data = global.Data
	}
	local, err := layout.Scatter(ctx, c, t, d, Coordinator, data)
	if err != nil {
		return nil, errors.E(errors.Fatal, "bigstencil: scatter", err)
	}
	return local, nil
}
