// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"math"
)

// Op is a reduction operator.
type Op int

const (
	// Sum adds values.
	Sum Op = iota
	// Max takes the maximum value.
	Max
	// Min takes the minimum value.
	Min
)

func (op Op) apply(x, y float64) float64 {
	switch op {
	case Sum:
		return x + y
	case Max:
		return math.Max(x, y)
	case Min:
		return math.Min(x, y)
	default:
		panic(fmt.Sprintf("comm: invalid op %d", op))
	}
}

// Bcast copies data on rank root into data on every other rank. All
// ranks must pass buffers of the same length.
func Bcast(ctx context.Context, c Comm, root int, data []float64) error {
	if c.Rank() != root {
		return c.Recv(ctx, root, tagBcast, data)
	}
	for rank := 0; rank < c.Size(); rank++ {
		if rank == root {
			continue
		}
		if err := c.Send(ctx, rank, tagBcast, data); err != nil {
			return err
		}
	}
	return nil
}

// Barrier returns once every rank in the group has entered it.
func Barrier(ctx context.Context, c Comm) error {
	if c.Rank() != 0 {
		if err := c.Send(ctx, 0, tagBarrier, nil); err != nil {
			return err
		}
		return c.Recv(ctx, 0, tagBarrier, nil)
	}
	for rank := 1; rank < c.Size(); rank++ {
		if err := c.Recv(ctx, rank, tagBarrier, nil); err != nil {
			return err
		}
	}
	for rank := 1; rank < c.Size(); rank++ {
		if err := c.Send(ctx, rank, tagBarrier, nil); err != nil {
			return err
		}
	}
	return nil
}

// Allreduce combines v from every rank with op and returns the result
// on every rank. Values are combined in rank order, so the result is
// identical on every run.
func Allreduce(ctx context.Context, c Comm, op Op, v float64) (float64, error) {
	buf := []float64{v}
	if c.Rank() != 0 {
		if err := c.Send(ctx, 0, tagReduce, buf); err != nil {
			return 0, err
		}
	} else {
		acc := v
		for rank := 1; rank < c.Size(); rank++ {
			if err := c.Recv(ctx, rank, tagReduce, buf); err != nil {
				return 0, err
			}
			acc = op.apply(acc, buf[0])
		}
		buf[0] = acc
	}
	if err := Bcast(ctx, c, 0, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}
