// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
)

// DefaultProcs is the number of ranks of a configured session.
const DefaultProcs = 4

func init() {
	config.Register("bigstencil", func(inst *config.Constructor) {
		sess := newSession()
		sess.status = new(status.Status)
		inst.IntVar(&sess.p, "procs", DefaultProcs, "the number of ranks of each job")
		var system bigmachine.System
		inst.InstanceVar(&system, "system", "", "the bigmachine system used for job execution; empty runs ranks in-process")
		inst.StringVar(&sess.tracePath, "trace", "", "path to which a trace of the session is written on shutdown")
		inst.Doc = "bigstencil configures the bigstencil runtime"
		inst.New = func() (interface{}, error) {
			if sess.p <= 0 {
				sess.p = 1
			}
			if system != nil {
				sess.executor = newBigmachineExecutor(system)
			} else {
				sess.executor = newLocalExecutor()
			}
			sess.start()
			return sess, nil
		}
	})
}
