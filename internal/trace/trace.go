// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package trace records the phases of each rank as events in the Chrome
// tracing format, viewable in chrome://tracing.
package trace

import (
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"
)

// T is a trace file.
type T struct {
	Events []Event `json:"traceEvents"`
}

// Event is an event in the Chrome tracing format. The fields are
// mirrored exactly. For more details, see:
//	https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/preview
type Event struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur,omitempty"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Args map[string]interface{} `json:"args"`
}

// Encode writes t as JSON to w.
func (t *T) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(t)
}

// Decode reads t as JSON from r.
func (t *T) Decode(r io.Reader) error {
	dec := json.NewDecoder(r)
	return dec.Decode(t)
}

// A Recorder collects complete ("X") events for one rank. Each rank is
// rendered as its own Chrome process. Timestamps are wall-clock
// microseconds, so that recorders on different machines can be merged.
// A nil Recorder records nothing.
type Recorder struct {
	rank int

	mu     sync.Mutex
	events []Event
}

// NewRecorder returns a recorder for the provided rank.
func NewRecorder(rank int) *Recorder {
	return &Recorder{
		rank: rank,
		events: []Event{{
			Pid:  rank,
			Ph:   "M",
			Name: "process_name",
			Args: map[string]interface{}{"name": "rank " + strconv.Itoa(rank)},
		}},
	}
}

// Begin starts a phase with the provided name and returns a function
// that ends it.
func (r *Recorder) Begin(name string) (end func()) {
	if r == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		r.mu.Lock()
		r.events = append(r.events, Event{
			Pid:  r.rank,
			Ts:   start.UnixNano() / 1e3,
			Ph:   "X",
			Dur:  time.Since(start).Nanoseconds() / 1e3,
			Name: name,
			Cat:  "phase",
		})
		r.mu.Unlock()
	}
}

// Events returns the events recorded so far.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Merge returns a trace of the provided events, ordered by timestamp
// and rebased so that the earliest phase starts at 0.
func Merge(events ...[]Event) *T {
	t := new(T)
	for _, e := range events {
		t.Events = append(t.Events, e...)
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		return t.Events[i].Ts < t.Events[j].Ts
	})
	var first int64
	for _, e := range t.Events {
		if e.Ph != "M" {
			first = e.Ts
			break
		}
	}
	for i := range t.Events {
		if t.Events[i].Ph == "M" {
			continue
		}
		t.Events[i].Ts -= first
	}
	return t
}
