// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigstencil"
	"github.com/grailbio/bigstencil/comm"
	"github.com/grailbio/bigstencil/internal/trace"
	"github.com/grailbio/bigstencil/stats"
	"golang.org/x/sync/errgroup"
)

func init() {
	gob.Register(&worker{})
}

// retryPolicy is the retry policy used to dial peer machines.
var retryPolicy = retry.Backoff(time.Second, 5*time.Second, 1.5)

// retainedJobs is the number of retired jobs whose final error a worker
// keeps to answer late messages.
const retainedJobs = 64

// abortTimeout bounds the time spent notifying machines of an abort.
const abortTimeout = 10 * time.Second

// bigmachineExecutor runs each rank on its own bigmachine machine.
// Every machine runs a worker service; ranks send messages by calling
// Worker.Deliver on the destination rank's machine.
type bigmachineExecutor struct {
	system bigmachine.System
	params []bigmachine.Param

	sess *Session
	b    *bigmachine.B

	mu       sync.Mutex
	machines []*bigmachine.Machine
	nextJob  uint64
}

func newBigmachineExecutor(system bigmachine.System, params ...bigmachine.Param) *bigmachineExecutor {
	return &bigmachineExecutor{system: system, params: params}
}

func (*bigmachineExecutor) Name() string { return "bigmachine" }

// Start starts the bigmachine. Machines are started by the first run.
func (x *bigmachineExecutor) Start(sess *Session) (shutdown func()) {
	x.sess = sess
	x.b = bigmachine.Start(x.system)
	return x.b.Shutdown
}

// start starts one machine per rank, if they are not already running,
// and returns them in rank order.
func (x *bigmachineExecutor) start(ctx context.Context, group *status.Group) ([]*bigmachine.Machine, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.machines != nil {
		return x.machines, nil
	}
	p := x.sess.Procs()
	params := append([]bigmachine.Param{bigmachine.Services{"Worker": &worker{}}}, x.params...)
	machines, err := x.b.Start(ctx, p, params...)
	if err != nil {
		return nil, err
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := range machines {
		m := machines[i]
		g.Go(func() error {
			task := group.Start("waiting for machine to boot")
			defer task.Done()
			select {
			case <-m.Wait(bigmachine.Running):
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := m.Err(); err != nil {
				log.Error.Printf("machine %s failed to start: %v", m.Addr, err)
				return errors.E(errors.Fatal, fmt.Sprintf("machine %s failed to start", m.Addr), err)
			}
			log.Printf("machine %v is ready", m.Addr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, m := range machines {
			m.Cancel()
		}
		return nil, err
	}
	x.machines = machines
	return machines, nil
}

func (x *bigmachineExecutor) Run(ctx context.Context, job bigstencil.Job, group *status.Group) ([]rankReply, error) {
	machines, err := x.start(ctx, group)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	x.nextJob++
	id := x.nextJob
	x.mu.Unlock()

	addrs := make([]string, len(machines))
	for i, m := range machines {
		addrs[i] = m.Addr
	}
	var (
		replies     = make([]rankReply, len(machines))
		g, groupCtx = errgroup.WithContext(ctx)
		mu          sync.Mutex
		first       error
	)
	// The first failing rank records its error before aborting the
	// job, so that peers failing because of the abort do not mask it.
	abort := func(err error) {
		mu.Lock()
		if first != nil {
			mu.Unlock()
			return
		}
		first = err
		mu.Unlock()
		x.abort(id, machines, err)
	}
	for i := range machines {
		rank, m := i, machines[i]
		g.Go(func() error {
			task := group.Startf("rank %d: %s", rank, m.Addr)
			defer task.Done()
			task.Print("running")
			req := runRequest{Job: id, Rank: rank, Addrs: addrs, Params: job}
			if err := m.Call(groupCtx, "Worker.Run", req, &replies[rank]); err != nil {
				task.Printf("failed: %v", err)
				err = errors.E(fmt.Sprintf("rank %d (%s)", rank, m.Addr), err)
				abort(err)
				return err
			}
			task.Printf("done: %s", replies[rank].Stats)
			return nil
		})
	}
	err = g.Wait()
	if first != nil {
		return nil, first
	}
	if err != nil {
		return nil, err
	}
	return replies, nil
}

// abort fails job id on every machine, so that ranks blocked on a
// failed peer return.
func (x *bigmachineExecutor) abort(id uint64, machines []*bigmachine.Machine, cause error) {
	log.Error.Printf("job %d: aborting %d ranks: %v", id, len(machines), cause)
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	var wg sync.WaitGroup
	for _, m := range machines {
		wg.Add(1)
		go func(m *bigmachine.Machine) {
			defer wg.Done()
			req := abortRequest{Job: id, Message: cause.Error()}
			if err := m.Call(ctx, "Worker.Abort", req, nil); err != nil {
				log.Error.Printf("job %d: abort %s: %v", id, m.Addr, err)
			}
		}(m)
	}
	wg.Wait()
}

// runRequest is the request payload for Worker.Run.
type runRequest struct {
	// Job identifies the run; messages are matched within a job.
	Job uint64
	// Rank is the rank run by the worker.
	Rank int
	// Addrs holds the machine address of each rank.
	Addrs []string
	// Params is the job to run.
	Params bigstencil.Job
}

// message is the request payload for Worker.Deliver.
type message struct {
	Job         uint64
	Source, Tag int
	Data        []float64
}

// abortRequest is the request payload for Worker.Abort.
type abortRequest struct {
	Job     uint64
	Message string
}

// Worker is the bigmachine service that runs ranks. It keeps one
// mailbox per job, created by whichever of Run or Deliver arrives
// first.
type worker struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}

	b *bigmachine.B

	mu    sync.Mutex
	boxes map[uint64]*comm.Mailbox
	// retired holds the final error of recently retired jobs. Jobs
	// at or below floor have been pruned from it.
	retired map[uint64]error
	floor   uint64
}

func (w *worker) Init(b *bigmachine.B) error {
	w.b = b
	w.boxes = make(map[uint64]*comm.Mailbox)
	w.retired = make(map[uint64]error)
	return nil
}

// mailbox returns the mailbox of the job, creating it if needed. It
// fails if the job has been retired.
func (w *worker) mailbox(job uint64) (*comm.Mailbox, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err, ok := w.retired[job]; ok {
		return nil, err
	}
	if job <= w.floor {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("job %d has been retired", job))
	}
	box := w.boxes[job]
	if box == nil {
		box = comm.NewMailbox()
		w.boxes[job] = box
	}
	return box, nil
}

// retire closes the job's mailbox with err and drops it. Later
// operations on the job fail with the first error it was retired with.
// Only the most recent retainedJobs errors are kept.
func (w *worker) retire(job uint64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if box := w.boxes[job]; box != nil {
		box.Close(err)
		delete(w.boxes, job)
	}
	if _, ok := w.retired[job]; ok || job <= w.floor {
		return
	}
	w.retired[job] = err
	for len(w.retired) > retainedJobs {
		oldest := job
		for id := range w.retired {
			if id < oldest {
				oldest = id
			}
		}
		delete(w.retired, oldest)
		if oldest > w.floor {
			w.floor = oldest
		}
	}
}

// jobs returns the number of jobs with a live mailbox.
func (w *worker) jobs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.boxes)
}

// Run runs one rank of a job. It returns when the rank completes or
// the job is aborted.
func (w *worker) Run(ctx context.Context, req runRequest, reply *rankReply) error {
	box, err := w.mailbox(req.Job)
	if err != nil {
		return err
	}
	c := &machineComm{
		worker: w,
		job:    req.Job,
		rank:   req.Rank,
		addrs:  req.Addrs,
		box:    box,
		stats:  new(stats.Rank),
		peers:  make(map[int]*bigmachine.Machine),
	}
	rec := trace.NewRecorder(req.Rank)
	out, err := bigstencil.RunRank(ctx, c, req.Params, c.stats, rec)
	if err != nil {
		c.Abort(err)
		w.retire(req.Job, errors.E(errors.Fatal, "comm: group aborted", err))
		return err
	}
	// Any later delivery for this job is an error.
	w.retire(req.Job, errors.E(errors.Invalid, fmt.Sprintf("job %d: rank %d has completed", req.Job, req.Rank)))
	reply.Grid = out
	reply.Stats = c.stats.Values()
	reply.Events = rec.Events()
	return nil
}

// Deliver places a message into the mailbox of the job. It returns
// once the local rank has received the message.
func (w *worker) Deliver(ctx context.Context, msg message, _ *struct{}) error {
	box, err := w.mailbox(msg.Job)
	if err != nil {
		return err
	}
	return box.Put(ctx, msg.Source, msg.Tag, msg.Data)
}

// Abort fails every pending and future operation of the job on this
// machine.
func (w *worker) Abort(ctx context.Context, req abortRequest, _ *struct{}) error {
	w.retire(req.Job, errors.E(errors.Fatal, "comm: group aborted", errors.New(req.Message)))
	return nil
}

// machineComm is the comm.Comm of a rank running on a worker.
type machineComm struct {
	worker *worker
	job    uint64
	rank   int
	addrs  []string
	box    *comm.Mailbox
	stats  *stats.Rank

	mu    sync.Mutex
	peers map[int]*bigmachine.Machine
}

func (c *machineComm) Rank() int { return c.rank }
func (c *machineComm) Size() int { return len(c.addrs) }

func (c *machineComm) Send(ctx context.Context, dest, tag int, data []float64) error {
	if dest == comm.ProcNull {
		return nil
	}
	if err := c.checkPeer(dest); err != nil {
		return err
	}
	var err error
	if dest == c.rank {
		err = c.box.Put(ctx, c.rank, tag, data)
	} else {
		var m *bigmachine.Machine
		if m, err = c.peer(ctx, dest); err == nil {
			msg := message{Job: c.job, Source: c.rank, Tag: tag, Data: data}
			err = m.Call(ctx, "Worker.Deliver", msg, nil)
		}
	}
	if err != nil {
		return err
	}
	c.stats.Sent(len(data))
	return nil
}

func (c *machineComm) Recv(ctx context.Context, source, tag int, data []float64) error {
	if source == comm.ProcNull {
		return nil
	}
	if err := c.checkPeer(source); err != nil {
		return err
	}
	if err := c.box.Take(ctx, source, tag, data); err != nil {
		return err
	}
	c.stats.Received(len(data))
	return nil
}

// Abort fails the rank's local mailbox. Peers are aborted by the
// executor, which observes the failure of this rank's Run call.
func (c *machineComm) Abort(err error) {
	log.Error.Printf("rank %d: aborting job %d: %v", c.rank, c.job, err)
	c.box.Close(errors.E(errors.Fatal, "comm: group aborted", err))
}

// peer returns the machine of the provided rank, dialing it on first
// use.
func (c *machineComm) peer(ctx context.Context, rank int) (*bigmachine.Machine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.peers[rank]; m != nil {
		return m, nil
	}
	for retries := 0; ; retries++ {
		m, err := c.worker.b.Dial(ctx, c.addrs[rank])
		if err == nil {
			c.peers[rank] = m
			return m, nil
		}
		log.Error.Printf("rank %d: dial rank %d (%s): %v", c.rank, rank, c.addrs[rank], err)
		if err := retry.Wait(ctx, retryPolicy, retries); err != nil {
			return nil, errors.E(errors.Fatal, fmt.Sprintf("dial rank %d", rank), err)
		}
	}
}

func (c *machineComm) checkPeer(rank int) error {
	if rank < 0 || rank >= len(c.addrs) {
		return errors.E(errors.Invalid, fmt.Sprintf("comm: peer rank %d out of range [0, %d)", rank, len(c.addrs)))
	}
	return nil
}
