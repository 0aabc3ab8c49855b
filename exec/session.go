// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec runs bigstencil jobs. A Session owns an executor that
// provides one rank per process of the job's group: either a goroutine
// in the current process (Local) or a bigmachine machine (Bigmachine).
package exec

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigstencil"
	"github.com/grailbio/bigstencil/grid"
	"github.com/grailbio/bigstencil/internal/trace"
	"github.com/grailbio/bigstencil/stats"
)

// An Executor provides the ranks of a job.
type Executor interface {
	// Name returns a short name for the executor.
	Name() string

	// Start starts the executor for the provided session. The returned
	// function is called to release the executor's resources.
	Start(sess *Session) (shutdown func())

	// Run runs every rank of job and returns the rank replies, indexed
	// by rank. If any rank fails, every rank is aborted and Run
	// returns the error of the first failing rank.
	Run(ctx context.Context, job bigstencil.Job, group *status.Group) ([]rankReply, error)
}

// rankReply is the output of one rank of a job.
type rankReply struct {
	// Grid is the gathered result; it is set only by the coordinator.
	Grid *grid.Grid
	// Stats holds the rank's counters.
	Stats stats.Values
	// Events are the rank's trace events.
	Events []trace.Event
}

// Session is a bigstencil compute session. A session has a fixed
// number of ranks and an executor, and can run any number of jobs,
// one at a time.
//
//	sess := exec.Start(exec.Procs(4))
//	defer sess.Shutdown()
//	res, err := sess.Run(ctx, bigstencil.DefaultJob(bigstencil.Reconstruct))
type Session struct {
	index     int32
	p         int
	executor  Executor
	shutdown  func()
	status    *status.Status
	tracePath string

	// Run holds runMu so that jobs do not interleave on the executor.
	runMu sync.Mutex

	mu     sync.Mutex
	events []trace.Event
}

// nextSessionIndex is the index of the next session that will be
// started by Start.
var nextSessionIndex int32

func newSession() *Session {
	return &Session{
		index: atomic.AddInt32(&nextSessionIndex, 1) - 1,
	}
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session whose ranks are goroutines in the
// current process.
var Local Option = func(s *Session) {
	s.executor = newLocalExecutor()
}

// Bigmachine configures a session whose ranks are machines of the
// provided bigmachine system, one machine per rank. If any params are
// provided, they are applied to each machine.
func Bigmachine(system bigmachine.System, params ...bigmachine.Param) Option {
	return func(s *Session) {
		s.executor = newBigmachineExecutor(system, params...)
	}
}

// Procs configures the session with p ranks.
func Procs(p int) Option {
	if p <= 0 {
		panic("exec.Procs: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// Status configures the session with a status object to which run
// statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// TracePath configures the path to which a trace event file for the
// session is written on shutdown.
func TracePath(path string) Option {
	return func(s *Session) {
		s.tracePath = path
	}
}

// Start creates and starts a new session, configuring it according to
// the provided options. If no executor is configured, the session uses
// the local executor; if no process count is configured, it has a
// single rank.
func Start(options ...Option) *Session {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.p == 0 {
		s.p = 1
	}
	if s.executor == nil {
		s.executor = newLocalExecutor()
	}
	s.start()
	return s
}

func (s *Session) start() {
	s.shutdown = s.executor.Start(s)
	log.Debug.Printf("bigstencil session %d: %s executor, %d ranks", s.index, s.executor.Name(), s.p)
}

// Procs returns the number of ranks of the session.
func (s *Session) Procs() int {
	return s.p
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// A Result is the output of a job.
type Result struct {
	// Job is the job that was run.
	Job bigstencil.Job
	// Grid is the gathered grid.
	Grid *grid.Grid
	// Digest is the digest of Grid.
	Digest uint64
	// Stats holds the counters of all ranks, summed.
	Stats stats.Values
	// Ranks holds each rank's counters.
	Ranks []stats.Values
}

// Run runs job on every rank of the session and returns the gathered
// result. Run returns when the job has completed, or else on error;
// the failure of any rank fails the whole job.
func (s *Session) Run(ctx context.Context, job bigstencil.Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	var group *status.Group
	if s.status != nil {
		group = s.status.Groupf("run %s", job)
	}
	replies, err := s.executor.Run(ctx, job, group)
	if err != nil {
		return nil, err
	}
	if len(replies) != s.p {
		return nil, errors.E(errors.Fatal, fmt.Sprintf("exec.Run: got %d rank replies, want %d", len(replies), s.p))
	}
	res := &Result{
		Job:   job,
		Grid:  replies[bigstencil.Coordinator].Grid,
		Stats: make(stats.Values),
		Ranks: make([]stats.Values, len(replies)),
	}
	if res.Grid == nil {
		return nil, errors.E(errors.Fatal, "exec.Run: coordinator returned no grid")
	}
	res.Digest = res.Grid.Digest()
	s.mu.Lock()
	for rank, reply := range replies {
		res.Ranks[rank] = reply.Stats
		res.Stats.Merge(reply.Stats)
		s.events = append(s.events, reply.Events...)
	}
	s.mu.Unlock()
	log.Printf("%s: done: %s", job, res.Stats)
	return res, nil
}

// Must is a version of Run that panics if the job fails.
func (s *Session) Must(ctx context.Context, job bigstencil.Job) *Result {
	res, err := s.Run(ctx, job)
	if err != nil {
		log.Panicf("exec.Run: %v", err)
	}
	return res
}

// Shutdown tears down resources associated with this session. It
// should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
	if s.tracePath != "" {
		s.mu.Lock()
		events := s.events
		s.mu.Unlock()
		writeTraceFile(context.Background(), trace.Merge(events), s.tracePath)
	}
}
