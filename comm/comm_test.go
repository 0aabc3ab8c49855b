// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// runGroup runs fn on every rank of a new group of the provided size,
// aborting the group when any rank fails, and returns the per-rank
// errors.
func runGroup(size int, fn func(ctx context.Context, c Comm) error) []error {
	g := NewGroup(size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	wg.Add(size)
	for rank := 0; rank < size; rank++ {
		rank := rank
		go func() {
			defer wg.Done()
			c := g.Comm(rank)
			if errs[rank] = fn(context.Background(), c); errs[rank] != nil {
				c.Abort(errs[rank])
			}
		}()
	}
	wg.Wait()
	return errs
}

func noErrors(t *testing.T, errs []error) {
	t.Helper()
	for rank, err := range errs {
		if err != nil {
			t.Errorf("rank %d: %v", rank, err)
		}
	}
}

func TestMailboxRendezvous(t *testing.T) {
	m := NewMailbox()
	ctx := context.Background()
	putc := make(chan error)
	go func() {
		putc <- m.Put(ctx, 3, 7, []float64{1, 2, 3})
	}()
	select {
	case err := <-putc:
		t.Fatalf("put returned before take: %v", err)
	case <-time.After(10 * time.Millisecond):
	}
	// A message with another tag does not match.
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	err := m.Take(tctx, 3, 8, make([]float64, 3))
	cancel()
	expect.EQ(t, err, context.DeadlineExceeded)

	dst := make([]float64, 3)
	assert.NoError(t, m.Take(ctx, 3, 7, dst))
	assert.NoError(t, <-putc)
	expect.EQ(t, dst, []float64{1, 2, 3})
	expect.EQ(t, m.Pending(), 0)
}

func TestMailboxPutCanceled(t *testing.T) {
	m := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	putc := make(chan error)
	go func() {
		putc <- m.Put(ctx, 0, 0, []float64{1})
	}()
	for m.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	expect.EQ(t, <-putc, context.Canceled)
	// The canceled message is withdrawn.
	expect.EQ(t, m.Pending(), 0)
	tctx, tcancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer tcancel()
	expect.EQ(t, m.Take(tctx, 0, 0, make([]float64, 1)), context.DeadlineExceeded)
}

func TestMailboxOrder(t *testing.T) {
	m := NewMailbox()
	ctx := context.Background()
	const N = 10
	go func() {
		for i := 0; i < N; i++ {
			if err := m.Put(ctx, 0, 0, []float64{float64(i)}); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	dst := make([]float64, 1)
	for i := 0; i < N; i++ {
		assert.NoError(t, m.Take(ctx, 0, 0, dst))
		expect.EQ(t, dst[0], float64(i))
	}
}

func TestMailboxSizeMismatch(t *testing.T) {
	m := NewMailbox()
	ctx := context.Background()
	putc := make(chan error)
	go func() {
		putc <- m.Put(ctx, 0, 0, []float64{1, 2})
	}()
	err := m.Take(ctx, 0, 0, make([]float64, 3))
	expect.True(t, errors.Is(errors.Invalid, err))
	expect.True(t, errors.Is(errors.Invalid, <-putc))
}

func TestMailboxClose(t *testing.T) {
	m := NewMailbox()
	ctx := context.Background()
	errc := make(chan error, 2)
	go func() { errc <- m.Put(ctx, 0, 0, []float64{1}) }()
	go func() { errc <- m.Take(ctx, 1, 0, make([]float64, 1)) }()
	time.Sleep(10 * time.Millisecond)
	closeErr := errors.New("closed")
	m.Close(closeErr)
	for i := 0; i < 2; i++ {
		expect.EQ(t, <-errc, closeErr)
	}
	expect.EQ(t, m.Put(ctx, 0, 0, nil), closeErr)
	expect.EQ(t, m.Err(), closeErr)
}

func TestSendRecvRing(t *testing.T) {
	const N = 5
	got := make([]float64, N)
	errs := runGroup(N, func(ctx context.Context, c Comm) error {
		var (
			rank  = c.Rank()
			right = (rank + 1) % N
			left  = (rank + N - 1) % N
			recv  = make([]float64, 1)
		)
		if err := SendRecv(ctx, c, []float64{float64(rank)}, right, 1, recv, left, 1); err != nil {
			return err
		}
		got[rank] = recv[0]
		return nil
	})
	noErrors(t, errs)
	for rank := range got {
		expect.EQ(t, got[rank], float64((rank+N-1)%N))
	}
}

func TestSendRecvSelf(t *testing.T) {
	errs := runGroup(1, func(ctx context.Context, c Comm) error {
		recv := make([]float64, 2)
		if err := SendRecv(ctx, c, []float64{4, 5}, 0, 9, recv, 0, 9); err != nil {
			return err
		}
		if recv[0] != 4 || recv[1] != 5 {
			return fmt.Errorf("got %v", recv)
		}
		return nil
	})
	noErrors(t, errs)
}

func TestSendRecvProcNull(t *testing.T) {
	errs := runGroup(1, func(ctx context.Context, c Comm) error {
		recv := []float64{42}
		if err := SendRecv(ctx, c, []float64{1}, ProcNull, 0, recv, ProcNull, 0); err != nil {
			return err
		}
		if recv[0] != 42 {
			return fmt.Errorf("receive buffer modified: %v", recv)
		}
		return nil
	})
	noErrors(t, errs)
}

func TestAbortUnblocksPeers(t *testing.T) {
	const N = 4
	planned := errors.New("planned failure")
	errs := runGroup(N, func(ctx context.Context, c Comm) error {
		if c.Rank() == 2 {
			return planned
		}
		// Everybody else waits on a message that never comes.
		return c.Recv(ctx, 2, 0, make([]float64, 1))
	})
	expect.EQ(t, errs[2], planned)
	for _, rank := range []int{0, 1, 3} {
		if errs[rank] == nil {
			t.Errorf("rank %d: expected error", rank)
			continue
		}
		expect.True(t, errors.Match(errors.E(errors.Fatal), errs[rank]))
	}
}

func TestCollectives(t *testing.T) {
	const N = 6
	errs := runGroup(N, func(ctx context.Context, c Comm) error {
		data := make([]float64, 3)
		if c.Rank() == 2 {
			data = []float64{7, 8, 9}
		}
		if err := Bcast(ctx, c, 2, data); err != nil {
			return err
		}
		if data[0] != 7 || data[1] != 8 || data[2] != 9 {
			return fmt.Errorf("bcast: got %v", data)
		}
		if err := Barrier(ctx, c); err != nil {
			return err
		}
		sum, err := Allreduce(ctx, c, Sum, float64(c.Rank()))
		if err != nil {
			return err
		}
		if sum != 15 {
			return fmt.Errorf("sum: got %v", sum)
		}
		max, err := Allreduce(ctx, c, Max, float64(c.Rank()))
		if err != nil {
			return err
		}
		if max != N-1 {
			return fmt.Errorf("max: got %v", max)
		}
		min, err := Allreduce(ctx, c, Min, float64(c.Rank()+1))
		if err != nil {
			return err
		}
		if min != 1 {
			return fmt.Errorf("min: got %v", min)
		}
		return nil
	})
	noErrors(t, errs)
}

func TestStats(t *testing.T) {
	g := NewGroup(2)
	ctx := context.Background()
	done := make(chan error)
	go func() { done <- g.Comm(0).Send(ctx, 1, 0, make([]float64, 5)) }()
	assert.NoError(t, g.Comm(1).Recv(ctx, 0, 0, make([]float64, 5)))
	assert.NoError(t, <-done)
	expect.EQ(t, g.Stats(0).Values()["valsent"], int64(5))
	expect.EQ(t, g.Stats(1).Values()["recv"], int64(1))
}
