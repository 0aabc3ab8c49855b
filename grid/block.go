// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package grid

import "fmt"

// A Block is a rank's local buffer: a Rows x Cols interior surrounded
// by a one-cell halo ring. Cells are addressed with halo-inclusive
// coordinates: row 0 and row Rows+1 are halo rows, column 0 and column
// Cols+1 are halo columns, and the interior spans [1, Rows] x [1, Cols].
//
// A Block is allocated once and never resized.
type Block struct {
	Rows, Cols int
	Data       []float64
}

// NewBlock allocates a block with the provided interior shape, with
// every cell (halo included) set to fill.
func NewBlock(rows, cols int, fill float64) *Block {
	b := &Block{Rows: rows, Cols: cols, Data: make([]float64, (rows+2)*(cols+2))}
	for i := range b.Data {
		b.Data[i] = fill
	}
	return b
}

// Stride is the distance between vertically adjacent cells.
func (b *Block) Stride() int { return b.Cols + 2 }

// Index returns the offset of the halo-inclusive cell (i, j).
func (b *Block) Index(i, j int) int { return i*b.Stride() + j }

// At returns the value of the halo-inclusive cell (i, j).
func (b *Block) At(i, j int) float64 { return b.Data[b.Index(i, j)] }

// Set sets the value of the halo-inclusive cell (i, j).
func (b *Block) Set(i, j int, v float64) { b.Data[b.Index(i, j)] = v }

// Row returns the Cols cells of row i between the halo columns. The
// returned slice aliases the block.
func (b *Block) Row(i int) []float64 {
	off := b.Index(i, 1)
	return b.Data[off : off+b.Cols]
}

// Column copies the Rows cells of column j between the halo rows
// into dst.
func (b *Block) Column(dst []float64, j int) {
	for i := range dst[:b.Rows] {
		dst[i] = b.Data[b.Index(i+1, j)]
	}
}

// SetColumn copies src into the Rows cells of column j between the
// halo rows.
func (b *Block) SetColumn(j int, src []float64) {
	for i, v := range src[:b.Rows] {
		b.Data[b.Index(i+1, j)] = v
	}
}

// SetInterior copies the row-major Rows x Cols values in src into the
// block's interior, leaving the halo untouched.
func (b *Block) SetInterior(src []float64) {
	if len(src) != b.Rows*b.Cols {
		panic(fmt.Sprintf("grid.SetInterior: got %d values, want %d", len(src), b.Rows*b.Cols))
	}
	for i := 0; i < b.Rows; i++ {
		copy(b.Row(i+1), src[i*b.Cols:(i+1)*b.Cols])
	}
}

// Interior copies the block's interior into dst in row-major order
// and returns it. A nil dst is allocated.
func (b *Block) Interior(dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, b.Rows*b.Cols)
	}
	for i := 0; i < b.Rows; i++ {
		copy(dst[i*b.Cols:(i+1)*b.Cols], b.Row(i+1))
	}
	return dst
}
