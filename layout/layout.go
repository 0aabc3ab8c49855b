// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package layout maps the ranks of a Cartesian topology onto regular
// sub-blocks of a global row-major grid, and implements the scatter
// and gather collectives that move sub-blocks between the coordinator
// and the ranks.
//
// A sub-block's rows are not contiguous in the global grid, so each
// placement is described by a strided Block: Count runs of Len
// contiguous values, Stride values apart.
package layout

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigstencil/topology"
)

// A Block describes a strided region of a row-major buffer: Count runs
// of Len contiguous values, run i starting at Offset + i*Stride.
type Block struct {
	Offset int
	Stride int
	Count  int
	Len    int
}

// Size returns the number of values in the region.
func (b Block) Size() int { return b.Count * b.Len }

// Index returns the offset in the global buffer of the i'th value of
// the region, counted in row-major order.
func (b Block) Index(i int) int {
	return b.Offset + (i/b.Len)*b.Stride + i%b.Len
}

// Extract copies the region of global into the contiguous buffer dst.
func (b Block) Extract(dst, global []float64) {
	for i := 0; i < b.Count; i++ {
		off := b.Offset + i*b.Stride
		copy(dst[i*b.Len:(i+1)*b.Len], global[off:off+b.Len])
	}
}

// Insert copies the contiguous buffer src into the region of global.
func (b Block) Insert(global, src []float64) {
	for i := 0; i < b.Count; i++ {
		off := b.Offset + i*b.Stride
		copy(global[off:off+b.Len], src[i*b.Len:(i+1)*b.Len])
	}
}

func (b Block) String() string {
	return fmt.Sprintf("block(offset %d stride %d count %d len %d)", b.Offset, b.Stride, b.Count, b.Len)
}

// A Decomposition splits a Rows x Cols grid into equal sub-blocks, one
// per rank of a topology with the provided dimensions.
type Decomposition struct {
	// Rows and Cols are the shape of the global grid.
	Rows, Cols int
	// Dims are the topology dimensions: Dims[0] process columns and
	// Dims[1] process rows.
	Dims [2]int
	// BlockRows and BlockCols are the interior shape of each rank's
	// sub-block.
	BlockRows, BlockCols int
}

// New returns the decomposition of a rows x cols grid over a topology
// with the provided dimensions. New fails if the grid cannot be split
// evenly.
func New(rows, cols int, dims [2]int) (*Decomposition, error) {
	if rows < 1 || cols < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("layout: invalid grid shape %dx%d", rows, cols))
	}
	if dims[0] < 1 || dims[1] < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("layout: invalid topology dimensions %v", dims))
	}
	if rows%dims[1] != 0 || cols%dims[0] != 0 {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("layout: %dx%d grid cannot be split evenly over %d process rows and %d process columns", rows, cols, dims[1], dims[0]))
	}
	return &Decomposition{
		Rows:      rows,
		Cols:      cols,
		Dims:      dims,
		BlockRows: rows / dims[1],
		BlockCols: cols / dims[0],
	}, nil
}

// BlockSize returns the number of interior values of each sub-block.
func (d *Decomposition) BlockSize() int { return d.BlockRows * d.BlockCols }

// Block returns the placement of the sub-block owned by the rank at
// the provided coordinates: row offset coords[1]*BlockRows, column
// offset coords[0]*BlockCols.
func (d *Decomposition) Block(coords [2]int) Block {
	return Block{
		Offset: coords[topology.RowAxis]*d.BlockRows*d.Cols + coords[topology.ColAxis]*d.BlockCols,
		Stride: d.Cols,
		Count:  d.BlockRows,
		Len:    d.BlockCols,
	}
}

func (d *Decomposition) String() string {
	return fmt.Sprintf("%dx%d over %dx%d ranks, %dx%d per rank", d.Rows, d.Cols, d.Dims[1], d.Dims[0], d.BlockRows, d.BlockCols)
}
