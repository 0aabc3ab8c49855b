// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package halo implements the halo exchange that synchronizes the
// border cells of each rank's block with its direct neighbors.
//
// An exchange is a sequence of directional passes. In each pass every
// rank sends one of its interior borders to the neighbor on one side
// while receiving the opposite neighbor's border into its halo, using a
// single paired send-and-receive. Because every rank takes part in
// every pass, each send is matched by a receive posted in the same
// pass, and an exchange cannot deadlock.
//
// A side without a neighbor neither sends nor receives, so the halo on
// that side keeps whatever value it was initialized with.
package halo

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigstencil/comm"
	"github.com/grailbio/bigstencil/grid"
	"github.com/grailbio/bigstencil/stats"
	"github.com/grailbio/bigstencil/topology"
)

// Message tags, one per pass. A pass is named by the direction in
// which data travels.
const (
	tagSouth = 201 + iota
	tagNorth
	tagEast
	tagWest
)

// An Exchanger performs halo exchanges for one rank.
type Exchanger struct {
	comm  comm.Comm
	topo  *topology.Topology
	stats *stats.Rank

	rows, cols int
	// Column pack buffers.
	sendCol, recvCol []float64
}

// New returns an exchanger for blocks with the provided interior shape.
// Counters are recorded into st, which may be nil.
func New(c comm.Comm, t *topology.Topology, rows, cols int, st *stats.Rank) *Exchanger {
	return &Exchanger{
		comm:    c,
		topo:    t,
		stats:   st,
		rows:    rows,
		cols:    cols,
		sendCol: make([]float64, rows),
		recvCol: make([]float64, rows),
	}
}

// Comm returns the exchanger's communication endpoint.
func (x *Exchanger) Comm() comm.Comm { return x.comm }

// Stats returns the counters the exchanger records into; it may be nil.
func (x *Exchanger) Stats() *stats.Rank { return x.stats }

// Exchange fills the halo of b with the neighbors' current interior
// borders: the top halo row from Up, the bottom halo row from Down,
// and, for 2D topologies, the left halo column from Left and the right
// halo column from Right. Corner cells are not exchanged.
//
// Every rank of the group must call Exchange the same number of times.
func (x *Exchanger) Exchange(ctx context.Context, b *grid.Block) error {
	if b.Rows != x.rows || b.Cols != x.cols {
		return errors.E(errors.Invalid, "halo: block shape does not match exchanger")
	}
	var (
		up    = peer(x.topo.Neighbor(topology.Up))
		down  = peer(x.topo.Neighbor(topology.Down))
		left  = peer(x.topo.Neighbor(topology.Left))
		right = peer(x.topo.Neighbor(topology.Right))
	)
	// South: bottom interior row travels down; top halo row arrives from up.
	if err := comm.SendRecv(ctx, x.comm, b.Row(b.Rows), down, tagSouth, b.Row(0), up, tagSouth); err != nil {
		return errors.E("halo: south pass", err)
	}
	// North: top interior row travels up; bottom halo row arrives from down.
	if err := comm.SendRecv(ctx, x.comm, b.Row(1), up, tagNorth, b.Row(b.Rows+1), down, tagNorth); err != nil {
		return errors.E("halo: north pass", err)
	}
	if x.topo.NDims == 2 {
		// East: right interior column travels right; left halo column
		// arrives from left.
		b.Column(x.sendCol, b.Cols)
		if err := comm.SendRecv(ctx, x.comm, x.sendCol, right, tagEast, x.recvCol, left, tagEast); err != nil {
			return errors.E("halo: east pass", err)
		}
		if left != comm.ProcNull {
			b.SetColumn(0, x.recvCol)
		}
		// West: left interior column travels left; right halo column
		// arrives from right.
		b.Column(x.sendCol, 1)
		if err := comm.SendRecv(ctx, x.comm, x.sendCol, left, tagWest, x.recvCol, right, tagWest); err != nil {
			return errors.E("halo: west pass", err)
		}
		if right != comm.ProcNull {
			b.SetColumn(b.Cols+1, x.recvCol)
		}
	}
	x.stats.Exchange()
	log.Debug.Printf("rank %d: halo exchange done", x.comm.Rank())
	return nil
}

func peer(neighbor int) int {
	if neighbor == topology.NoNeighbor {
		return comm.ProcNull
	}
	return neighbor
}
