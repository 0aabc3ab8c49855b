// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package comm implements blocking message passing among a fixed group
// of ranks that share no memory. It provides the point-to-point Comm
// interface, a rendezvous Mailbox on which transports are built, an
// in-process transport (Group), and the collectives used by the
// stencil pipeline.
//
// All operations block. A Send returns only after the destination has
// consumed the message; a Recv returns only after a matching message
// has arrived. Messages between a pair of ranks are matched by tag and
// delivered in order per (source, tag).
//
// Any failure is fatal to the whole group: a rank that fails must
// Abort, which fails every pending and future operation on every rank,
// so that no peer remains parked in a blocking call.
package comm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ProcNull is the peer rank that denotes "no peer". Sends to and
// receives from ProcNull complete immediately without transferring
// data.
const ProcNull = -1

// Tags at or above reservedTag are used by the collectives in this
// package.
const (
	reservedTag = 1 << 20
	tagBcast    = reservedTag + iota
	tagBarrier
	tagReduce
)

// Comm is a rank's endpoint in a communication group.
type Comm interface {
	// Rank returns the rank of this endpoint, in [0, Size).
	Rank() int
	// Size returns the number of ranks in the group.
	Size() int
	// Send delivers data to rank dest with the provided tag. Send
	// returns once dest has received the message. Send does not retain
	// data after it returns.
	Send(ctx context.Context, dest, tag int, data []float64) error
	// Recv receives a message with the provided tag from rank source
	// into data. The message must have exactly len(data) values.
	Recv(ctx context.Context, source, tag int, data []float64) error
	// Abort fails the whole group with the provided error.
	Abort(err error)
}

// SendRecv sends send to dest while receiving from source into recv.
// Both halves are posted together, so two ranks that SendRecv with
// each other cannot deadlock. Either peer may be ProcNull, in which
// case that half is skipped.
func SendRecv(ctx context.Context, c Comm, send []float64, dest, sendTag int, recv []float64, source, recvTag int) error {
	g, gctx := errgroup.WithContext(ctx)
	if dest != ProcNull {
		g.Go(func() error { return c.Send(gctx, dest, sendTag, send) })
	}
	if source != ProcNull {
		g.Go(func() error { return c.Recv(gctx, source, recvTag, recv) })
	}
	return g.Wait()
}
