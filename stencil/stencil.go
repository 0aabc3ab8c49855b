// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stencil implements the local relaxation sweep. An Engine owns
// one rank's block, its boundary field, and a scratch buffer; each
// sweep computes every interior cell from the previous sweep's values
// and is followed by a halo exchange.
package stencil

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigstencil/comm"
	"github.com/grailbio/bigstencil/grid"
	"github.com/grailbio/bigstencil/halo"
)

// Update is the 5-point relaxation rule: the average of the four
// neighbors, less a quarter of the boundary field value.
func Update(up, down, left, right, mask float64) float64 {
	return 0.25 * (up + down + left + right - mask)
}

// An Engine runs relaxation sweeps over one rank's block.
type Engine struct {
	// ReportEvery, if positive, is the number of sweeps between
	// progress reports. A report reduces the largest per-cell change
	// of the last sweep across all ranks, and rank 0 logs it. Every
	// rank must use the same value.
	ReportEvery int

	x       *halo.Exchanger
	block   *grid.Block
	mask    []float64
	scratch []float64
}

// New returns an engine that relaxes block b against the row-major
// boundary field mask, exchanging halos through x. The mask must have
// the shape of b's interior; it is not copied and must not be modified
// while the engine runs.
func New(x *halo.Exchanger, b *grid.Block, mask []float64) (*Engine, error) {
	if len(mask) != b.Rows*b.Cols {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("stencil.New: mask has %d values, block interior has %d", len(mask), b.Rows*b.Cols))
	}
	return &Engine{
		x:       x,
		block:   b,
		mask:    mask,
		scratch: make([]float64, b.Rows*b.Cols),
	}, nil
}

// Block returns the engine's block.
func (e *Engine) Block() *grid.Block { return e.block }

// Sweep applies Update to every interior cell. All cells read the
// values from before the sweep. Sweep returns the largest absolute
// change of any cell.
func (e *Engine) Sweep() float64 {
	var (
		b     = e.block
		delta float64
		k     int
	)
	stride := b.Stride()
	for i := 1; i <= b.Rows; i++ {
		off := b.Index(i, 1)
		for j := 0; j < b.Cols; j, off = j+1, off+1 {
			v := Update(b.Data[off-stride], b.Data[off+stride], b.Data[off-1], b.Data[off+1], e.mask[k])
			delta = math.Max(delta, math.Abs(v-b.Data[off]))
			e.scratch[k] = v
			k++
		}
	}
	b.SetInterior(e.scratch)
	e.x.Stats().Sweep()
	return delta
}

// Run performs an initial halo exchange and then the given number of
// iterations, each a sweep followed by a halo exchange. Every rank of
// the group must call Run with the same number of iterations.
func (e *Engine) Run(ctx context.Context, iterations int) error {
	if err := e.x.Exchange(ctx, e.block); err != nil {
		return err
	}
	for iter := 1; iter <= iterations; iter++ {
		delta := e.Sweep()
		if err := e.x.Exchange(ctx, e.block); err != nil {
			return errors.E(fmt.Sprintf("stencil: iteration %d", iter), err)
		}
		if e.ReportEvery <= 0 || iter%e.ReportEvery != 0 {
			continue
		}
		c := e.x.Comm()
		max, err := comm.Allreduce(ctx, c, comm.Max, delta)
		if err != nil {
			return errors.E(fmt.Sprintf("stencil: iteration %d: report", iter), err)
		}
		if c.Rank() == 0 {
			log.Printf("iteration %d/%d: max change %g", iter, iterations, max)
		}
	}
	return nil
}
