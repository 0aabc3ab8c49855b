// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stencil

import (
	"context"
	"fmt"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigstencil/comm"
	"github.com/grailbio/bigstencil/grid"
	"github.com/grailbio/bigstencil/halo"
	"github.com/grailbio/bigstencil/layout"
	"github.com/grailbio/bigstencil/stats"
	"github.com/grailbio/bigstencil/topology"
	"github.com/grailbio/testutil/expect"
	"gonum.org/v1/gonum/floats"
)

const sentinel = 255

type runConfig struct {
	p, ndims    int
	iterations  int
	reportEvery int
}

// relax scatters image and mask over a non-periodic topology, runs the
// engine on every rank, and returns the gathered result together with
// every rank's final block.
func relax(t *testing.T, rows, cols int, image, mask []float64, rc runConfig) (*grid.Grid, []*grid.Block, *comm.Group) {
	t.Helper()
	topos, err := topology.Build(rc.p, rc.ndims, [2]bool{})
	if err != nil {
		t.Fatal(err)
	}
	d, err := layout.New(rows, cols, topos[0].Dims)
	if err != nil {
		t.Fatal(err)
	}
	var (
		out    = grid.New(rows, cols)
		blocks = make([]*grid.Block, rc.p)
		g      = comm.NewGroup(rc.p)
	)
	err = g.Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
		topo := topos[c.Rank()]
		interior, err := layout.Scatter(ctx, c, topo, d, 0, image)
		if err != nil {
			return err
		}
		localMask, err := layout.Scatter(ctx, c, topo, d, 0, mask)
		if err != nil {
			return err
		}
		b := grid.NewBlock(d.BlockRows, d.BlockCols, sentinel)
		b.SetInterior(interior)
		blocks[c.Rank()] = b
		x := halo.New(c, topo, d.BlockRows, d.BlockCols, g.Stats(c.Rank()))
		e, err := New(x, b, localMask)
		if err != nil {
			return err
		}
		e.ReportEvery = rc.reportEvery
		if err := e.Run(ctx, rc.iterations); err != nil {
			return err
		}
		return layout.Gather(ctx, c, topo, d, 0, b.Interior(nil), out.Data)
	})
	if err != nil {
		t.Fatal(err)
	}
	return out, blocks, g
}

func fuzzValues(fz *fuzz.Fuzzer, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		fz.Fuzz(&v[i])
		v[i] *= 255
	}
	return v
}

func TestUpdate(t *testing.T) {
	expect.EQ(t, Update(1, 2, 3, 4, 2), 2.0)
	expect.EQ(t, Update(255, 255, 255, 255, 0), 255.0)
}

func TestSingleSweep(t *testing.T) {
	// A 4x4 grid on one rank with all halos at the sentinel: one
	// iteration is one application of the update rule, with every
	// reference outside the grid reading the sentinel.
	const M, N = 4, 4
	image := make([]float64, M*N)
	for i := range image {
		image[i] = float64(i)
	}
	at := func(i, j int) float64 {
		if i < 0 || i >= M || j < 0 || j >= N {
			return sentinel
		}
		return image[i*N+j]
	}
	out, _, g := relax(t, M, N, image, make([]float64, M*N), runConfig{p: 1, ndims: 1, iterations: 1})
	for i := 0; i < M; i++ {
		for j := 0; j < N; j++ {
			want := 0.25 * (at(i-1, j) + at(i+1, j) + at(i, j-1) + at(i, j+1))
			if got := out.At(i, j); got != want {
				t.Errorf("(%d, %d): got %v, want %v", i, j, got, want)
			}
		}
	}
	vals := g.Stats(0).Values()
	expect.EQ(t, vals[stats.Sweeps], int64(1))
	expect.EQ(t, vals[stats.Exchanges], int64(2))
}

func TestZeroIterations(t *testing.T) {
	const M, N = 640, 480
	image := make([]float64, M*N)
	for i := range image {
		image[i] = float64(i % 256)
	}
	out, _, _ := relax(t, M, N, image, make([]float64, M*N), runConfig{p: 4, ndims: 1})
	if !floats.Equal(out.Data, image) {
		t.Error("output differs from input")
	}
}

func TestDeterminism(t *testing.T) {
	const M, N = 12, 8
	fz := fuzz.NewWithSeed(2718)
	image, mask := fuzzValues(fz, M*N), fuzzValues(fz, M*N)
	rc := runConfig{p: 4, ndims: 2, iterations: 10}
	first, _, _ := relax(t, M, N, image, mask, rc)
	second, _, _ := relax(t, M, N, image, mask, rc)
	expect.EQ(t, first.Digest(), second.Digest())
}

func TestDecompositionInvariance(t *testing.T) {
	const M, N = 16, 12
	fz := fuzz.NewWithSeed(1618)
	image, mask := fuzzValues(fz, M*N), fuzzValues(fz, M*N)
	want, _, _ := relax(t, M, N, image, mask, runConfig{p: 1, ndims: 1, iterations: 25})
	for _, rc := range []runConfig{
		{p: 4, ndims: 1, iterations: 25},
		{p: 4, ndims: 2, iterations: 25},
		{p: 2, ndims: 2, iterations: 25},
		{p: 6, ndims: 2, iterations: 25, reportEvery: 5},
	} {
		t.Run(fmt.Sprintf("p=%d,ndims=%d", rc.p, rc.ndims), func(t *testing.T) {
			got, _, _ := relax(t, M, N, image, mask, rc)
			if !floats.Equal(got.Data, want.Data) {
				t.Errorf("result differs from single-rank run:\n%v\nwant:\n%v", got, want)
			}
		})
	}
}

func TestSentinelPersistence(t *testing.T) {
	const M, N = 8, 8
	fz := fuzz.NewWithSeed(99)
	_, blocks, _ := relax(t, M, N, fuzzValues(fz, M*N), fuzzValues(fz, M*N), runConfig{p: 4, ndims: 2, iterations: 7})
	topos, err := topology.Build(4, 2, [2]bool{})
	if err != nil {
		t.Fatal(err)
	}
	for rank, b := range blocks {
		topo := topos[rank]
		if topo.Neighbor(topology.Up) == topology.NoNeighbor {
			for j := 1; j <= b.Cols; j++ {
				expect.EQ(t, b.At(0, j), float64(sentinel))
			}
		}
		if topo.Neighbor(topology.Down) == topology.NoNeighbor {
			for j := 1; j <= b.Cols; j++ {
				expect.EQ(t, b.At(b.Rows+1, j), float64(sentinel))
			}
		}
		if topo.Neighbor(topology.Left) == topology.NoNeighbor {
			for i := 1; i <= b.Rows; i++ {
				expect.EQ(t, b.At(i, 0), float64(sentinel))
			}
		}
		if topo.Neighbor(topology.Right) == topology.NoNeighbor {
			for i := 1; i <= b.Rows; i++ {
				expect.EQ(t, b.At(i, b.Cols+1), float64(sentinel))
			}
		}
	}
}

func TestConvergence(t *testing.T) {
	// With a zero boundary field and a constant sentinel, the fixed
	// point is the sentinel everywhere.
	const M, N = 6, 6
	out, _, _ := relax(t, M, N, make([]float64, M*N), make([]float64, M*N), runConfig{p: 2, ndims: 1, iterations: 2000})
	for i, v := range out.Data {
		if !floats.EqualWithinAbs(v, sentinel, 1e-6) {
			t.Fatalf("cell %d: got %v, want %v", i, v, float64(sentinel))
		}
	}
}

func TestNewInvalidMask(t *testing.T) {
	topo, err := topology.New(0, 1, 1, [2]bool{})
	if err != nil {
		t.Fatal(err)
	}
	g := comm.NewGroup(1)
	x := halo.New(g.Comm(0), topo, 2, 3, nil)
	_, err = New(x, grid.NewBlock(2, 3, sentinel), make([]float64, 5))
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}
