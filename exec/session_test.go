// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/bigstencil"
	"github.com/grailbio/bigstencil/grid"
	"github.com/grailbio/bigstencil/internal/trace"
	"github.com/grailbio/bigstencil/pgm"
	"github.com/grailbio/bigstencil/stats"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"gonum.org/v1/gonum/floats"
)

func init() {
	log.AddFlags()
}

var executors = map[string]func() Option{
	"Local":           func() Option { return Local },
	"Bigmachine.Test": func() Option { return Bigmachine(testsystem.New()) },
}

func testSession(t *testing.T, procs int, run func(t *testing.T, sess *Session)) {
	t.Helper()
	for name, opt := range executors {
		t.Run(name, func(t *testing.T) {
			sess := Start(opt(), Procs(procs), Status(new(status.Status)))
			defer sess.Shutdown()
			run(t, sess)
		})
	}
}

// writeImage writes a random 0 to 255 image and returns it as read
// back.
func writeImage(t *testing.T, path string, width, height int) *grid.Grid {
	t.Helper()
	fz := fuzz.NewWithSeed(7)
	g := grid.New(width, height)
	for i := range g.Data {
		var b uint8
		fz.Fuzz(&b)
		g.Data[i] = float64(b)
	}
	g.Data[0], g.Data[1] = 0, 255
	ctx := context.Background()
	assert.NoError(t, pgm.Write(ctx, path, g))
	g, err := pgm.Read(ctx, path, width, height)
	assert.NoError(t, err)
	return g
}

func TestSessionRun(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	in := writeImage(t, filepath.Join(dir, "in.pgm"), 40, 32)
	testSession(t, 4, func(t *testing.T, sess *Session) {
		job := bigstencil.DefaultJob(bigstencil.Smooth)
		job.Input = filepath.Join(dir, "in.pgm")
		job.Output = filepath.Join(dir, "out.pgm")
		job.Iterations = 0
		res, err := sess.Run(context.Background(), job)
		assert.NoError(t, err)
		if !floats.Equal(res.Grid.Data, in.Data) {
			t.Error("output grid differs from input")
		}
		expect.EQ(t, res.Digest, in.Digest())
		expect.EQ(t, len(res.Ranks), 4)
		expect.EQ(t, res.Stats[stats.Exchanges], int64(4))
		expect.EQ(t, res.Stats[stats.Sweeps], int64(0))
	})
}

func TestSessionReuse(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	writeImage(t, filepath.Join(dir, "in.pgm"), 32, 16)

	job := bigstencil.DefaultJob(bigstencil.Reconstruct)
	job.Input = filepath.Join(dir, "in.pgm")
	job.Output = ""
	job.Iterations = 15
	single := Start(Local)
	want := single.Must(context.Background(), job)
	single.Shutdown()

	testSession(t, 4, func(t *testing.T, sess *Session) {
		for _, ndims := range []int{1, 2} {
			job.NDims = ndims
			res, err := sess.Run(context.Background(), job)
			assert.NoError(t, err)
			expect.EQ(t, res.Digest, want.Digest)
			expect.EQ(t, res.Stats[stats.Sweeps], int64(4*15))
		}
	})
}

func TestSessionAbort(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	testSession(t, 3, func(t *testing.T, sess *Session) {
		job := bigstencil.DefaultJob(bigstencil.Reconstruct)
		job.Input = filepath.Join(dir, "missing.pgm")
		job.Output = filepath.Join(dir, "out.pgm")
		_, err := sess.Run(context.Background(), job)
		if err == nil {
			t.Fatal("expected error")
		}
		// The coordinator's failure is reported, not the aborts it
		// caused on its peers.
		if msg := err.Error(); !strings.Contains(msg, "pgm.Size") || strings.Contains(msg, "group aborted") {
			t.Errorf("got %v, want the coordinator's load error", err)
		}
		// The session remains usable after an aborted job.
		job = bigstencil.DefaultJob(bigstencil.Checkerboard)
		job.Output = ""
		job.Rows, job.Cols = 6, 6
		res, err := sess.Run(context.Background(), job)
		assert.NoError(t, err)
		expect.EQ(t, res.Grid.Rows, 6)
	})
}

func TestSessionInvalidJob(t *testing.T) {
	sess := Start(Local, Procs(2))
	defer sess.Shutdown()
	job := bigstencil.DefaultJob(bigstencil.Smooth)
	job.NDims = 0
	if _, err := sess.Run(context.Background(), job); err == nil {
		t.Fatal("expected error")
	}
}

func TestTracePath(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "trace.json")
	sess := Start(Local, Procs(2), TracePath(path))
	job := bigstencil.DefaultJob(bigstencil.Checkerboard)
	job.Output = ""
	job.Rows, job.Cols = 4, 4
	sess.Must(context.Background(), job)
	sess.Shutdown()

	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()
	var tr trace.T
	assert.NoError(t, tr.Decode(f))
	// Two metadata events; the coordinator records load, scatter, relax,
	// and gather; the other rank scatter, relax, and gather.
	expect.EQ(t, len(tr.Events), 9)
}
