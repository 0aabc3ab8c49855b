// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigstencil/stats"
)

// A Group is an in-process communication group: each rank is served by
// its own goroutine(s), and messages travel through per-rank mailboxes.
type Group struct {
	boxes []*Mailbox
	stats []*stats.Rank

	once sync.Once
}

// NewGroup returns a group of size ranks.
func NewGroup(size int) *Group {
	g := &Group{
		boxes: make([]*Mailbox, size),
		stats: make([]*stats.Rank, size),
	}
	for i := range g.boxes {
		g.boxes[i] = NewMailbox()
		g.stats[i] = new(stats.Rank)
	}
	return g
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return len(g.boxes) }

// Comm returns the endpoint of the provided rank.
func (g *Group) Comm(rank int) Comm {
	if rank < 0 || rank >= len(g.boxes) {
		log.Panicf("comm.Group: rank %d out of range [0, %d)", rank, len(g.boxes))
	}
	return &localComm{group: g, rank: rank}
}

// Stats returns the counters of the provided rank.
func (g *Group) Stats(rank int) *stats.Rank { return g.stats[rank] }

// Abort fails every rank's mailbox with err. Only the first call has an
// effect.
func (g *Group) Abort(err error) {
	g.once.Do(func() {
		err = errors.E(errors.Fatal, "comm: group aborted", err)
		for _, box := range g.boxes {
			box.Close(err)
		}
	})
}

// Run runs fn once per rank of the group, each on its own goroutine,
// and waits for all of them to return. A rank whose fn fails aborts the
// group, so its peers fail rather than wait forever. Run returns the
// error of the first failing rank.
func (g *Group) Run(ctx context.Context, fn func(ctx context.Context, c Comm) error) error {
	var (
		mu    sync.Mutex
		first error
	)
	// Every rank must be live at once: ranks block on each other.
	err := traverse.Limit(g.Size()).Each(g.Size(), func(rank int) error {
		c := g.Comm(rank)
		err := fn(ctx, c)
		if err != nil {
			// Record the cause before aborting so that peers failing
			// because of the abort do not mask it.
			mu.Lock()
			if first == nil {
				first = err
			}
			mu.Unlock()
			c.Abort(err)
		}
		return err
	})
	if first != nil {
		return first
	}
	return err
}

type localComm struct {
	group *Group
	rank  int
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return len(c.group.boxes) }

func (c *localComm) Send(ctx context.Context, dest, tag int, data []float64) error {
	if dest == ProcNull {
		return nil
	}
	if err := c.checkPeer(dest); err != nil {
		return err
	}
	if err := c.group.boxes[dest].Put(ctx, c.rank, tag, data); err != nil {
		return err
	}
	c.group.stats[c.rank].Sent(len(data))
	return nil
}

func (c *localComm) Recv(ctx context.Context, source, tag int, data []float64) error {
	if source == ProcNull {
		return nil
	}
	if err := c.checkPeer(source); err != nil {
		return err
	}
	if err := c.group.boxes[c.rank].Take(ctx, source, tag, data); err != nil {
		return err
	}
	c.group.stats[c.rank].Received(len(data))
	return nil
}

func (c *localComm) Abort(err error) {
	log.Error.Printf("rank %d: aborting group: %v", c.rank, err)
	c.group.Abort(err)
}

func (c *localComm) checkPeer(rank int) error {
	if rank < 0 || rank >= len(c.group.boxes) {
		return errors.E(errors.Invalid, fmt.Sprintf("comm: peer rank %d out of range [0, %d)", rank, len(c.group.boxes)))
	}
	return nil
}
