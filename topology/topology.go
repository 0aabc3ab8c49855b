// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package topology arranges a fixed number of ranks into a 1D or 2D
// Cartesian grid and computes each rank's coordinates and neighbors.
//
// A topology always has two axes. Coordinate 1 is a rank's position
// among the process rows (the Up/Down direction); coordinate 0 is its
// position among the process columns (Left/Right). A 1D topology is
// the 2D shape {1, P}: a single process column of P row bands. Ranks
// are assigned coordinates in row-major order over the dimensions, so
// that rank = coords[0]*dims[1] + coords[1].
package topology

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// NoNeighbor is the neighbor rank reported for a direction that falls
// off a non-periodic axis.
const NoNeighbor = -1

const (
	// ColAxis is the axis along which process columns are counted.
	ColAxis = 0
	// RowAxis is the axis along which process rows are counted.
	RowAxis = 1
)

// Direction names one of the four neighbor directions.
type Direction int

const (
	// Up is the neighbor with the next smaller row coordinate.
	Up Direction = iota
	// Down is the neighbor with the next larger row coordinate.
	Down
	// Left is the neighbor with the next smaller column coordinate.
	Left
	// Right is the neighbor with the next larger column coordinate.
	Right

	numDirections
)

// Directions lists all directions in exchange order.
var Directions = [...]Direction{Up, Down, Left, Right}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Topology is the immutable topology record of a single rank.
type Topology struct {
	// Rank is the rank described by this record.
	Rank int
	// Size is the total number of ranks.
	Size int
	// NDims is the requested dimensionality: 1 or 2.
	NDims int
	// Dims is the number of ranks along each axis.
	Dims [2]int
	// Periodic tells whether each axis wraps around.
	Periodic [2]bool
	// Coords are this rank's Cartesian coordinates.
	Coords [2]int

	neighbors [numDirections]int
}

// Dims factorizes p ranks into axis lengths. For ndims 1, the result is
// {1, p}. For ndims 2, the result is the most nearly square
// factorization with dims[0] >= dims[1]; a prime p yields {p, 1}.
func Dims(p, ndims int) ([2]int, error) {
	if p < 1 {
		return [2]int{}, errors.E(errors.Invalid, fmt.Sprintf("topology: invalid process count %d", p))
	}
	switch ndims {
	case 1:
		return [2]int{1, p}, nil
	case 2:
		rows := 1
		for f := 1; f*f <= p; f++ {
			if p%f == 0 {
				rows = f
			}
		}
		return [2]int{p / rows, rows}, nil
	default:
		return [2]int{}, errors.E(errors.Invalid, fmt.Sprintf("topology: unsupported dimensionality %d", ndims))
	}
}

// New computes the topology record of the given rank among size ranks.
func New(rank, size, ndims int, periodic [2]bool) (*Topology, error) {
	dims, err := Dims(size, ndims)
	if err != nil {
		return nil, err
	}
	if rank < 0 || rank >= size {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("topology: rank %d out of range [0, %d)", rank, size))
	}
	t := &Topology{
		Rank:     rank,
		Size:     size,
		NDims:    ndims,
		Dims:     dims,
		Periodic: periodic,
	}
	t.Coords = t.CoordsOf(rank)
	t.neighbors[Up], t.neighbors[Down] = t.Shift(RowAxis, 1)
	if ndims == 1 {
		t.neighbors[Left], t.neighbors[Right] = NoNeighbor, NoNeighbor
	} else {
		t.neighbors[Left], t.neighbors[Right] = t.Shift(ColAxis, 1)
	}
	return t, nil
}

// Build computes the topology records of all size ranks.
func Build(size, ndims int, periodic [2]bool) ([]*Topology, error) {
	if size < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("topology: invalid process count %d", size))
	}
	topos := make([]*Topology, size)
	for rank := range topos {
		var err error
		if topos[rank], err = New(rank, size, ndims, periodic); err != nil {
			return nil, err
		}
	}
	return topos, nil
}

// CoordsOf returns the coordinates of the provided rank.
func (t *Topology) CoordsOf(rank int) [2]int {
	return [2]int{rank / t.Dims[1], rank % t.Dims[1]}
}

// RankOf returns the rank at the provided coordinates, or NoNeighbor
// if the coordinates fall off a non-periodic axis.
func (t *Topology) RankOf(coords [2]int) int {
	for axis := range coords {
		n := t.Dims[axis]
		if coords[axis] >= 0 && coords[axis] < n {
			continue
		}
		if !t.Periodic[axis] {
			return NoNeighbor
		}
		coords[axis] = ((coords[axis] % n) + n) % n
	}
	return coords[0]*t.Dims[1] + coords[1]
}

// Shift returns the ranks displaced by -disp (source) and +disp (dest)
// from this rank along the provided axis.
func (t *Topology) Shift(axis, disp int) (source, dest int) {
	c := t.Coords
	c[axis] -= disp
	source = t.RankOf(c)
	c = t.Coords
	c[axis] += disp
	dest = t.RankOf(c)
	return
}

// Neighbor returns the neighbor rank in direction d, or NoNeighbor.
func (t *Topology) Neighbor(d Direction) int {
	return t.neighbors[d]
}

// Neighbors returns the ranks of all existing neighbors, in exchange
// order. A rank that neighbors this one on several sides is listed once
// per side.
func (t *Topology) Neighbors() []int {
	var ns []int
	for _, d := range Directions {
		if n := t.neighbors[d]; n != NoNeighbor {
			ns = append(ns, n)
		}
	}
	return ns
}

func (t *Topology) String() string {
	return fmt.Sprintf("rank %d/%d coords %v dims %v periodic %v up %d down %d left %d right %d",
		t.Rank, t.Size, t.Coords, t.Dims, t.Periodic,
		t.neighbors[Up], t.neighbors[Down], t.neighbors[Left], t.neighbors[Right])
}
