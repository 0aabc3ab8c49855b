// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/grailbio/bigstencil/internal/trace"
)

// phaseStat summarizes one phase (e.g., "relax") across the ranks that
// ran it. Jobs run one at a time, so each run of the phase is counted
// separately by the rank that ran it.
type phaseStat struct {
	name  string
	ranks int
	// start is measured as an offset from the start of the trace.
	start time.Duration
	// span is the time from the first rank entering the phase to the
	// last rank leaving it.
	span                time.Duration
	min, q1, q2, q3, max time.Duration
}

// buildPhaseStats aggregates the complete events of a trace by phase
// name. The result is ordered by start time.
func buildPhaseStats(events []trace.Event) []phaseStat {
	type accum struct {
		ranks     map[int]bool
		minStart  time.Duration
		maxEnd    time.Duration
		durations []time.Duration
	}
	accums := make(map[string]*accum)
	for _, event := range events {
		if event.Ph != "X" {
			continue
		}
		a := accums[event.Name]
		if a == nil {
			a = &accum{ranks: make(map[int]bool), minStart: 1<<63 - 1}
			accums[event.Name] = a
		}
		start := time.Duration(event.Ts) * time.Microsecond
		dur := time.Duration(event.Dur) * time.Microsecond
		if start < a.minStart {
			a.minStart = start
		}
		if end := start + dur; end > a.maxEnd {
			a.maxEnd = end
		}
		a.ranks[event.Pid] = true
		a.durations = append(a.durations, dur)
	}
	stats := make([]phaseStat, 0, len(accums))
	for name, a := range accums {
		sort.Slice(a.durations, func(i, j int) bool { return a.durations[i] < a.durations[j] })
		q1, q2, q3 := quartiles(a.durations)
		stats = append(stats, phaseStat{
			name:  name,
			ranks: len(a.ranks),
			start: a.minStart,
			span:  a.maxEnd - a.minStart,
			min:   a.durations[0],
			q1:    q1,
			q2:    q2,
			q3:    q3,
			max:   a.durations[len(a.durations)-1],
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].start != stats[j].start {
			return stats[i].start < stats[j].start
		}
		return stats[i].name < stats[j].name
	})
	return stats
}

func writePhaseStats(w io.Writer, stats []phaseStat) error {
	tw := tabwriter.NewWriter(w, 4, 4, 1, ' ', 0)
	fmt.Fprintln(tw, "phase\tranks\tstart\tspan\tmin\tq1\tq2\tq3\tmax")
	round := func(d time.Duration) time.Duration { return d.Round(time.Microsecond) }
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
			s.name, s.ranks, round(s.start), round(s.span),
			round(s.min), round(s.q1), round(s.q2), round(s.q3), round(s.max))
	}
	return tw.Flush()
}
