// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pgm reads and writes plain (P2) grayscale images as grids.
//
// Files are opened through github.com/grailbio/base/file, so any path
// with a registered implementation (local files, s3:// URLs) may be
// used. The header must consist of the magic line, exactly one comment
// line, and a line with the width and height, followed by the maximum
// grey value.
//
// An image of width W and height H is held in a grid with W rows and H
// columns. File pixel (x, y), with y counted from the top line, is
// stored at grid cell (x, H-1-y).
package pgm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigstencil/grid"
)

const (
	magic = "P2"
	// MaxGrey is the maximum grey value written by Write.
	MaxGrey = 255
	// perLine is the number of values written per line.
	perLine = 16
)

// Size returns the dimensions declared in the header of the image at
// path.
func Size(ctx context.Context, path string) (width, height int, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return 0, 0, errors.E(fmt.Sprintf("pgm.Size %s", path), err)
	}
	defer closeFile(ctx, f, &err)
	width, height, err = readHeader(bufio.NewReader(f.Reader(ctx)))
	if err != nil {
		err = errors.E(fmt.Sprintf("pgm.Size %s", path), err)
	}
	return
}

// Read reads the image at path, which must have the provided
// dimensions, into a grid of width rows and height columns.
func Read(ctx context.Context, path string, width, height int) (g *grid.Grid, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("pgm.Read %s", path), err)
	}
	defer closeFile(ctx, f, &err)
	r := bufio.NewReader(f.Reader(ctx))
	w, h, err := readHeader(r)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("pgm.Read %s", path), err)
	}
	if w != width || h != height {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("pgm.Read %s: image is %dx%d, expected %dx%d", path, w, h, width, height))
	}
	var maxGrey int
	if _, err := fmt.Fscan(r, &maxGrey); err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pgm.Read %s: max grey", path), err)
	}
	g = grid.New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var v int
			if _, err := fmt.Fscan(r, &v); err != nil {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("pgm.Read %s: pixel (%d, %d)", path, x, y), err)
			}
			g.Set(x, height-1-y, float64(v))
		}
	}
	return g, nil
}

// Write writes g to path as an image of width g.Rows and height
// g.Cols. Absolute values are rescaled linearly so that the smallest
// maps to 0 and the largest to MaxGrey. A constant grid is written as
// MaxGrey everywhere.
func Write(ctx context.Context, path string, g *grid.Grid) (err error) {
	if g.Len() == 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("pgm.Write %s: empty grid", path))
	}
	min, max := math.Abs(g.Data[0]), math.Abs(g.Data[0])
	for _, v := range g.Data {
		v = math.Abs(v)
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	if min == max {
		min = max - 1
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(fmt.Sprintf("pgm.Write %s", path), err)
	}
	w := bufio.NewWriter(f.Writer(ctx))
	fmt.Fprintf(w, "%s\n", magic)
	fmt.Fprintf(w, "# Written by bigstencil\n")
	fmt.Fprintf(w, "%d %d\n", g.Rows, g.Cols)
	fmt.Fprintf(w, "%d\n", MaxGrey)
	var k int
	for y := g.Cols - 1; y >= 0; y-- {
		for x := 0; x < g.Rows; x++ {
			grey := int(MaxGrey*(math.Abs(g.At(x, y))-min)/(max-min) + 0.5)
			fmt.Fprintf(w, "%3d ", grey)
			k++
			if k%perLine == 0 {
				fmt.Fprintf(w, "\n")
			}
		}
	}
	if k%perLine != 0 {
		fmt.Fprintf(w, "\n")
	}
	if err := w.Flush(); err != nil {
		f.Discard(ctx)
		return errors.E(fmt.Sprintf("pgm.Write %s", path), err)
	}
	if err := f.Close(ctx); err != nil {
		return errors.E(fmt.Sprintf("pgm.Write %s: close", path), err)
	}
	log.Debug.Printf("pgm: wrote %dx%d image to %s (grey range %g..%g)", g.Rows, g.Cols, path, min, max)
	return nil
}

func readHeader(r *bufio.Reader) (width, height int, err error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, 0, err
	}
	if strings.TrimSpace(line) != magic {
		return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("bad magic %q", strings.TrimSpace(line)))
	}
	// Exactly one comment line.
	if _, err := r.ReadString('\n'); err != nil {
		return 0, 0, errors.E(errors.Invalid, "missing comment line", err)
	}
	if _, err := fmt.Fscan(r, &width, &height); err != nil {
		return 0, 0, errors.E(errors.Invalid, "bad dimensions", err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("bad dimensions %dx%d", width, height))
	}
	return width, height, nil
}

func closeFile(ctx context.Context, f file.File, errp *error) {
	if err := f.Close(ctx); err != nil && *errp == nil {
		*errp = err
	}
}
