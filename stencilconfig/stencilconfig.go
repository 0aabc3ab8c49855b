// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stencilconfig provides a mechanism to create a bigstencil
// session from a shared configuration. Stencilconfig uses the
// configuration mechanism in package github.com/grailbio/base/config,
// and reads a default profile from $HOME/.bigstencil/config.
//
// The number of ranks is part of the profile, and may be overridden
// on the command line:
//
//	bigstencil -set bigstencil.procs=8
package stencilconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/bigstencil/exec"
)

// Path determines the location of the bigstencil profile read by
// Parse.
var Path = os.ExpandEnv("$HOME/.bigstencil/config")

var consoleStatus = flag.Bool("status", false, "print job status to stdout")

// Parse registers configuration and log flags and calls flag.Parse.
// It reads bigstencil configuration from Path defined in this package.
// Parse returns the session as configured by the configuration and any
// flags provided, and a function that shuts it down. Parse panics if
// session creation fails.
func Parse() (sess *exec.Session, shutdown func()) {
	config.RegisterFlags("", Path)
	log.AddFlags()
	flag.Parse()
	must.Nil(config.ProcessFlags())
	config.Must("bigstencil", &sess)
	if *consoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, sess.Status())
	}
	return sess, sess.Shutdown
}
