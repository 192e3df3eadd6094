// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Slicer is a binary used to stress minislice sessions on real
// clusters. Sessions are configured by the minislice profile; see
// package sliceconfig.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/minislice/sliceconfig"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: slicer [-wait] test-name args...

Command slicer runs large-scale integration tests of minislice
sessions. It's distributed as a separate binary as it requires
launching external clusters, and may run for a long time.

Available tests are:

	squares
		Square and verify a large distributed sequence.
	memiter
		Testing memory leaks during iterative minislice invocations.
	oom
		Trigger the OOM killer.
`)
		flag.PrintDefaults()
		os.Exit(2)
	}

	wait := flag.Bool("wait", false, "don't exit after completion")
	sess, shutdown := sliceconfig.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", cmd)
		flag.Usage()
	case "squares":
		err = squares(sess, args)
	case "memiter":
		err = memiter(sess, args)
	case "oom":
		err = oomer(sess, args)
	}
	shutdown()
	if *wait {
		if err != nil {
			log.Printf("finished with error %v: waiting", err)
		} else {
			log.Print("done: waiting")
		}
		<-make(chan struct{})
	}
	must.Nil(err, cmd)
}
