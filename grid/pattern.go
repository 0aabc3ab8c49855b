// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package grid

// Checkerboard returns a new row-major blockRows x blockCols block for
// the provided block coordinates, filled with a value chosen by parity:
// 0 when (coords[0]+coords[1]+1) is odd, contrast otherwise. Laid out
// over all blocks of a decomposition this draws a chessboard whose
// squares are the ranks' sub-domains.
func Checkerboard(coords [2]int, blockRows, blockCols int, contrast float64) []float64 {
	v := contrast
	if (coords[0]+coords[1]+1)%2 == 1 {
		v = 0
	}
	block := make([]float64, blockRows*blockCols)
	for i := range block {
		block[i] = v
	}
	return block
}
