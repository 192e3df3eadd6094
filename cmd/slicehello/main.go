// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command slicehello is a smoke test for a minislice cluster. It
// distributes a small sequence of integers over the system selected
// by -system, squares them, and prints the collected result:
//
//	$ slicehello -system=local
//	[1 4 9 16]
//
// Positional arguments replace the default sequence [1 2 3 4].
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/minislice/hello"
	"github.com/grailbio/minislice/sliceflags"
)

func main() {
	var fl sliceflags.Flags
	sliceflags.RegisterFlags(flag.CommandLine, &fl, "")
	log.AddFlags()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: slicehello [flags] [integers...]\n\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()

	cfg := hello.Config{AppName: fl.AppName}
	if flag.NArg() > 0 {
		items, err := hello.ParseItems(flag.Args())
		if err != nil {
			log.Error.Print(err)
			flag.Usage()
		}
		cfg.Items = items
	}
	if err := hello.Run(context.Background(), hello.NewCluster(fl), cfg, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
