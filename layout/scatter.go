// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package layout

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigstencil/comm"
	"github.com/grailbio/bigstencil/topology"
)

const (
	tagScatter = 101
	tagGather  = 102
)

// Scatter distributes the global grid held by rank root: every rank,
// root included, receives its own sub-block in a freshly allocated
// row-major buffer. Only root's global is read; other ranks may pass
// nil.
func Scatter(ctx context.Context, c comm.Comm, t *topology.Topology, d *Decomposition, root int, global []float64) ([]float64, error) {
	local := make([]float64, d.BlockSize())
	if c.Rank() != root {
		if err := c.Recv(ctx, root, tagScatter, local); err != nil {
			return nil, err
		}
		return local, nil
	}
	if len(global) != d.Rows*d.Cols {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("layout.Scatter: got %d values, want %d", len(global), d.Rows*d.Cols))
	}
	buf := make([]float64, d.BlockSize())
	for rank := 0; rank < c.Size(); rank++ {
		b := d.Block(t.CoordsOf(rank))
		if rank == root {
			b.Extract(local, global)
			continue
		}
		b.Extract(buf, global)
		if err := c.Send(ctx, rank, tagScatter, buf); err != nil {
			return nil, err
		}
	}
	return local, nil
}

// Gather collects every rank's row-major sub-block into the global
// grid held by rank root. Only root writes global; other ranks may pass
// nil.
func Gather(ctx context.Context, c comm.Comm, t *topology.Topology, d *Decomposition, root int, local, global []float64) error {
	if len(local) != d.BlockSize() {
		return errors.E(errors.Invalid, fmt.Sprintf("layout.Gather: got %d local values, want %d", len(local), d.BlockSize()))
	}
	if c.Rank() != root {
		return c.Send(ctx, root, tagGather, local)
	}
	if len(global) != d.Rows*d.Cols {
		return errors.E(errors.Invalid, fmt.Sprintf("layout.Gather: got %d values, want %d", len(global), d.Rows*d.Cols))
	}
	buf := make([]float64, d.BlockSize())
	for rank := 0; rank < c.Size(); rank++ {
		b := d.Block(t.CoordsOf(rank))
		if rank == root {
			b.Insert(global, local)
			continue
		}
		if err := c.Recv(ctx, rank, tagGather, buf); err != nil {
			return err
		}
		b.Insert(global, buf)
	}
	return nil
}
