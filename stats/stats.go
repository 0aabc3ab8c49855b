// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats keeps the work and traffic counters of a rank. Counters
// are updated atomically by the rank's transport and stencil engine,
// snapshotted into Values, and aggregated across ranks by the
// executor.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Counter names reported in snapshots.
const (
	Sweeps    = "sweeps"
	Exchanges = "exchanges"
	MsgsSent  = "sent"
	MsgsRecv  = "recv"
	ValsSent  = "valsent"
	ValsRecv  = "valrecv"
)

// Values is a snapshot of counters keyed by name.
type Values map[string]int64

// Merge adds the counters in w to v.
func (v Values) Merge(w Values) {
	for k, n := range w {
		v[k] += n
	}
}

// String returns the counters sorted by name.
func (v Values) String() string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// Rank holds the counters of a single rank. A nil *Rank discards
// updates, so that components can be used without accounting.
type Rank struct {
	sweeps, exchanges  int64
	msgsSent, msgsRecv int64
	valsSent, valsRecv int64
}

// Sweep records a completed local sweep.
func (r *Rank) Sweep() {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.sweeps, 1)
}

// Exchange records a completed halo exchange.
func (r *Rank) Exchange() {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.exchanges, 1)
}

// Sent records a message of n values sent to a peer.
func (r *Rank) Sent(n int) {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.msgsSent, 1)
	atomic.AddInt64(&r.valsSent, int64(n))
}

// Received records a message of n values received from a peer.
func (r *Rank) Received(n int) {
	if r == nil {
		return
	}
	atomic.AddInt64(&r.msgsRecv, 1)
	atomic.AddInt64(&r.valsRecv, int64(n))
}

// Values returns a snapshot of the rank's counters.
func (r *Rank) Values() Values {
	if r == nil {
		return Values{}
	}
	return Values{
		Sweeps:    atomic.LoadInt64(&r.sweeps),
		Exchanges: atomic.LoadInt64(&r.exchanges),
		MsgsSent:  atomic.LoadInt64(&r.msgsSent),
		MsgsRecv:  atomic.LoadInt64(&r.msgsRecv),
		ValsSent:  atomic.LoadInt64(&r.valsSent),
		ValsRecv:  atomic.LoadInt64(&r.valsRecv),
	}
}
