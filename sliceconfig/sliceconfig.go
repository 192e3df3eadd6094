// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sliceconfig provides a mechanism to create a minislice
// session from a shared configuration. Sliceconfig uses the
// configuration mechanism in package
// github.com/grailbio/base/config, and reads a default profile from
// $HOME/.minislice/config.
package sliceconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/minislice/exec"
)

// Path determines the location of the minislice profile read
// by Parse.
var Path = os.ExpandEnv("$HOME/.minislice/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// minislice configuration from Path. Parse returns the session as
// configured by the profile and any flags provided, together with a
// func that shuts it down. Parse panics if session creation fails.
func Parse() (sess *exec.Session, shutdown func()) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	config.Must(exec.ConfigName, &sess)
	return sess, sess.Shutdown
}

// Session returns the session configured by the provided profile.
func Session(profile *config.Profile) (*exec.Session, error) {
	var sess *exec.Session
	if err := profile.Instance(exec.ConfigName, &sess); err != nil {
		return nil, err
	}
	return sess, nil
}
