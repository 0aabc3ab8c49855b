// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/sync/ctxsync"
)

// envelope is a message parked in a mailbox until it is taken.
type envelope struct {
	source, tag int
	data        []float64
	taken       bool
	err         error
}

// A Mailbox is the receive side of a rank. Senders Put messages into
// it and block until the owning rank Takes them; the owner Takes
// messages by (source, tag) and blocks until one is available.
// Messages with the same source and tag are taken in the order in
// which they were put.
type Mailbox struct {
	mu    sync.Mutex
	cond  *ctxsync.Cond
	queue []*envelope
	err   error
}

// NewMailbox returns a new, empty mailbox.
func NewMailbox() *Mailbox {
	m := new(Mailbox)
	m.cond = ctxsync.NewCond(&m.mu)
	return m
}

// Put parks a message from source with the provided tag and waits
// until it is taken. The message data is copied by the taker, so the
// caller may reuse data once Put returns.
func (m *Mailbox) Put(ctx context.Context, source, tag int, data []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	e := &envelope{source: source, tag: tag, data: data}
	m.queue = append(m.queue, e)
	m.cond.Broadcast()
	err := m.waitUntil(ctx, func() bool { return e.taken || m.err != nil })
	switch {
	case e.taken:
		return e.err
	case m.err != nil:
		return m.err
	default:
		m.remove(e)
		return err
	}
}

// Take waits for a message from source with the provided tag and
// copies it into dst. The message must contain exactly len(dst)
// values.
func (m *Mailbox) Take(ctx context.Context, source, tag int, dst []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if m.err != nil {
			return m.err
		}
		for _, e := range m.queue {
			if e.source != source || e.tag != tag {
				continue
			}
			m.remove(e)
			e.taken = true
			if len(e.data) != len(dst) {
				e.err = errors.E(errors.Invalid,
					fmt.Sprintf("comm: message from rank %d tag %d has %d values, receiver expects %d", source, tag, len(e.data), len(dst)))
			} else {
				copy(dst, e.data)
			}
			// Drop the reference so the sender's buffer is not retained.
			e.data = nil
			m.cond.Broadcast()
			return e.err
		}
		if err := m.cond.Wait(ctx); err != nil {
			return err
		}
	}
}

// waitUntil waits until ready returns true, rechecking it after each
// broadcast. It returns early with ctx's error. m.mu must be held.
func (m *Mailbox) waitUntil(ctx context.Context, ready func() bool) error {
	for !ready() {
		if err := m.cond.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close fails all pending and future operations on the mailbox with
// err. Only the first call has an effect.
func (m *Mailbox) Close(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.queue = nil
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Err returns the error with which the mailbox was closed, if any.
func (m *Mailbox) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Pending returns the number of messages waiting to be taken.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Mailbox) remove(e *envelope) {
	for i := range m.queue {
		if m.queue[i] == e {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}
