// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigstencil

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Mode determines how a job initializes each rank's block and boundary
// field.
type Mode int

const (
	// Reconstruct treats the input image as the boundary field and
	// starts every interior cell at the sentinel. Iterating recovers
	// an image from its edges.
	Reconstruct Mode = iota
	// Smooth treats the input image as the initial interior, with a
	// zero boundary field. Iterating diffuses the image toward the
	// sentinel.
	Smooth
	// Checkerboard reads no input. Each rank fills its block with a
	// value chosen by the parity of its coordinates, performs a single
	// halo exchange, and the blocks are gathered into an image of the
	// process grid.
	Checkerboard
)

var modeNames = [...]string{
	Reconstruct:  "reconstruct",
	Smooth:       "smooth",
	Checkerboard: "checkerboard",
}

// String returns the mode's name.
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", m)
	}
	return modeNames[m]
}

// ParseMode returns the mode with the provided name.
func ParseMode(name string) (Mode, error) {
	for m, n := range modeNames {
		if n == name {
			return Mode(m), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown mode %q", name))
}

// Job describes a relaxation run. Every rank runs the same job; it is
// never negotiated between ranks.
type Job struct {
	// Mode selects how blocks are initialized.
	Mode Mode
	// Input is the path of the input image. It is read by rank 0 only
	// and is ignored in Checkerboard mode.
	Input string
	// Output is the path to which rank 0 writes the result.
	Output string
	// Iterations is the number of sweeps.
	Iterations int
	// Sentinel is the initial value of every halo cell. Halo cells on
	// a side without a neighbor keep it for the whole run.
	Sentinel float64
	// NDims is the dimensionality of the process grid, 1 or 2.
	NDims int
	// Periodic sets, per axis, whether the process grid wraps around.
	Periodic [2]bool
	// ReportEvery, if positive, is the number of sweeps between
	// progress reports.
	ReportEvery int

	// Rows and Cols give the grid shape in Checkerboard mode.
	Rows, Cols int
	// Contrast is the value of the non-zero squares in Checkerboard
	// mode.
	Contrast float64
}

// Job defaults.
const (
	DefaultInput      = "mpi_image_640x480.pgm"
	DefaultOutput     = "200_mpi_image_640x480.pgm"
	DefaultIterations = 200
	DefaultSentinel   = 255

	// DefaultReportEvery is the number of iterations between progress
	// reports of the relaxation modes.
	DefaultReportEvery = 50

	CheckerboardOutput = "chessy_struct.pgm"
)

// DefaultJob returns the job run by default in the provided mode.
func DefaultJob(mode Mode) Job {
	job := Job{
		Mode:        mode,
		Input:       DefaultInput,
		Output:      DefaultOutput,
		Iterations:  DefaultIterations,
		Sentinel:    DefaultSentinel,
		NDims:       1,
		ReportEvery: DefaultReportEvery,
	}
	if mode == Checkerboard {
		job = Job{
			Mode:     Checkerboard,
			Output:   CheckerboardOutput,
			Sentinel: DefaultSentinel,
			NDims:    2,
			Periodic: [2]bool{true, true},
			Rows:     640,
			Cols:     480,
			Contrast: 255,
		}
	}
	return job
}

// Validate returns an error if the job cannot be run.
func (j Job) Validate() error {
	switch {
	case j.Mode < Reconstruct || j.Mode > Checkerboard:
		return errors.E(errors.Invalid, fmt.Sprintf("invalid mode %d", j.Mode))
	case j.Mode != Checkerboard && j.Input == "":
		return errors.E(errors.Invalid, "no input image")
	case j.Mode == Checkerboard && (j.Rows <= 0 || j.Cols <= 0):
		return errors.E(errors.Invalid, fmt.Sprintf("invalid grid shape %dx%d", j.Rows, j.Cols))
	case j.Iterations < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("negative iteration count %d", j.Iterations))
	case j.NDims != 1 && j.NDims != 2:
		return errors.E(errors.Invalid, fmt.Sprintf("invalid dimensionality %d", j.NDims))
	}
	return nil
}

// String returns a short description of the job.
func (j Job) String() string {
	if j.Mode == Checkerboard {
		return fmt.Sprintf("%s %dx%d -> %s ndims=%d periodic=%v", j.Mode, j.Rows, j.Cols, j.Output, j.NDims, j.Periodic)
	}
	return fmt.Sprintf("%s %s -> %s iterations=%d ndims=%d periodic=%v", j.Mode, j.Input, j.Output, j.Iterations, j.NDims, j.Periodic)
}
