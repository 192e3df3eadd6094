// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package slicecmd provides utilities for implementing
// minislice-based command line tools. The main entry point,
// slicecmd.Main, configures minislice according to a common set of
// flags, and then invokes the user's driver code.
//
// A slicecmd tool follows this form:
//
//	func main() {
//		slicecmd.Main(func(sess *exec.Session, args []string) error {
//			ctx := context.Background()
//			res, err := sess.Run(ctx, myComputation)
//			if err != nil {
//				return err
//			}
//			// Do something with res...
//			return nil
//		})
//	}
package slicecmd

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // Exposed on the diagnostic web server.
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/minislice/exec"
	"github.com/grailbio/minislice/sliceflags"
)

// Main is a convenient entry point for a slicecmd. Main does not return;
// it should be called after other initialization is performed. Main
// parses (global) flags, and configures minislice accordingly. Main
// then invokes the provided func with a minislice session which can
// be used to run minislice computations, together with the unparsed
// arguments.
//
// Main terminates the program after the user func returns. If it
// returns with an error, it is reported and the process exits with
// code 1, otherwise it exits successfully.
//
// Integration with other command line processing is best achieved using
// the sliceflags package and the Init and DisplayStatus functions.
func Main(main func(sess *exec.Session, args []string) error) {
	var fl sliceflags.Flags
	sliceflags.RegisterFlags(flag.CommandLine, &fl, "")
	log.AddFlags()
	flag.Parse()
	sess, err := Init(fl)
	if err != nil {
		log.Fatal(err)
	}
	err = main(sess, flag.Args())
	sess.Shutdown()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}

// PrintSystemHelp writes help on the available systems and profiles
// to w.
func PrintSystemHelp(w io.Writer) {
	providers, profiles := sliceflags.ProvidersAndProfiles()
	sort.Strings(providers)
	fmt.Fprintf(w, "%s\n\n", sliceflags.SystemHelpLong)
	fmt.Fprintf(w, "The available providers are: %v\n", strings.Join(providers, ", "))
	lines := make([]string, 0, len(profiles))
	for k, v := range profiles {
		lines = append(lines, fmt.Sprintf("%v is shorthand for: %v\n", k, v))
	}
	sort.Strings(lines)
	for _, line := range lines {
		io.WriteString(w, line)
	}
}

// Init initializes minislice according to the supplied flags. If
// -system-help was given, Init prints help and exits. Otherwise the
// selected system is checked for reachability before the session is
// started. Init returns an error if the system is unreachable or the
// session cannot be started.
func Init(bf sliceflags.Flags) (*exec.Session, error) {
	if bf.SystemHelp {
		PrintSystemHelp(bf.Output())
		os.Exit(0)
	}
	if err := bf.Check(); err != nil {
		return nil, errors.E(fmt.Sprintf("system %s", bf.Master()), err)
	}
	options, err := bf.ExecOptions()
	if err != nil {
		return nil, err
	}
	sess, err := exec.Start(options...)
	if err != nil {
		return nil, err
	}
	DisplayStatus(bf, sess)
	return sess, nil
}

var httpOnce sync.Once

// consoleOutput receives the console status display. Standard output
// is left to the tool's own results.
var consoleOutput io.Writer = os.Stderr

// DisplayStatus arranges for the minislice execution status to be
// displayed on the console and/or a web page depending on the flags
// specified on the command line. The web page is hosted at
// /debug/status on http.DefaultServeMux. Only the first session in a
// process is served over HTTP.
func DisplayStatus(bf sliceflags.Flags, sess *exec.Session) {
	if bf.ConsoleStatus && sess.Status() != nil {
		var console status.Reporter
		go console.Go(consoleOutput, sess.Status())
	}
	if len(bf.HTTPAddress.Address) == 0 {
		return
	}
	httpOnce.Do(func() {
		sess.HandleDebug(http.DefaultServeMux)
		if sess.Status() != nil {
			http.Handle("/debug/status", status.Handler(sess.Status()))
		}
		go func() {
			log.Printf("HTTP status at: %v", bf.HTTPAddress)
			if err := http.ListenAndServe(bf.HTTPAddress.Address, nil); err != nil {
				log.Error.Printf("failed to start HTTP at %v: %v", bf.HTTPAddress, err)
			}
		}()
	})
}
