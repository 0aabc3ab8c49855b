// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package grid defines the two buffers of a stencil computation: the
// global image owned by the coordinator, and the halo-bordered local
// block owned by each rank.
package grid

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// A Grid is a dense Rows x Cols grid of values stored in row-major
// order.
type Grid struct {
	Rows, Cols int
	Data       []float64
}

// New returns a zero-valued grid of the provided shape.
func New(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// Len returns the number of cells in the grid.
func (g *Grid) Len() int { return g.Rows * g.Cols }

// Index returns the offset of cell (i, j) in g.Data.
func (g *Grid) Index(i, j int) int { return i*g.Cols + j }

// At returns the value of cell (i, j).
func (g *Grid) At(i, j int) float64 { return g.Data[g.Index(i, j)] }

// Set sets the value of cell (i, j).
func (g *Grid) Set(i, j int, v float64) { g.Data[g.Index(i, j)] = v }

// Fill sets every cell to v.
func (g *Grid) Fill(v float64) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// Digest returns a murmur3 hash of the grid's shape and the exact bit
// patterns of its values. Equal digests indicate bit-identical grids.
func (g *Grid) Digest() uint64 {
	h := murmur3.New64()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(g.Rows))
	h.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], uint64(g.Cols))
	h.Write(b[:])
	for _, v := range g.Data {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		h.Write(b[:])
	}
	return h.Sum64()
}

func (g *Grid) String() string {
	return fmt.Sprintf("grid %dx%d (%016x)", g.Rows, g.Cols, g.Digest())
}
