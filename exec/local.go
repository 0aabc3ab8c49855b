// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/status"
	"github.com/grailbio/bigstencil"
	"github.com/grailbio/bigstencil/comm"
	"github.com/grailbio/bigstencil/internal/trace"
)

// localExecutor runs each rank in its own goroutine. Ranks exchange
// messages through an in-process comm.Group, created afresh for each
// job.
type localExecutor struct {
	sess *Session
}

func newLocalExecutor() *localExecutor {
	return new(localExecutor)
}

func (*localExecutor) Name() string { return "local" }

func (l *localExecutor) Start(sess *Session) (shutdown func()) {
	l.sess = sess
	return func() {}
}

func (l *localExecutor) Run(ctx context.Context, job bigstencil.Job, group *status.Group) ([]rankReply, error) {
	var (
		g       = comm.NewGroup(l.sess.Procs())
		replies = make([]rankReply, g.Size())
	)
	err := g.Run(ctx, func(ctx context.Context, c comm.Comm) error {
		rank := c.Rank()
		task := group.Startf("rank %d", rank)
		task.Print("running")
		rec := trace.NewRecorder(rank)
		out, err := bigstencil.RunRank(ctx, c, job, g.Stats(rank), rec)
		if err != nil {
			task.Printf("failed: %v", err)
			task.Done()
			return err
		}
		replies[rank] = rankReply{
			Grid:   out,
			Stats:  g.Stats(rank).Values(),
			Events: rec.Events(),
		}
		task.Printf("done: %s", replies[rank].Stats)
		task.Done()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replies, nil
}
