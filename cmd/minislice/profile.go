// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	"github.com/grailbio/minislice/sliceconfig"
)

// readProfile returns the profile stored at path. A missing file
// yields an empty profile.
func readProfile(path string) (*config.Profile, error) {
	profile := config.New()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return profile, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := profile.Parse(f); err != nil {
		return nil, err
	}
	return profile, nil
}

// writeProfile atomically replaces the profile stored at path.
func writeProfile(path string, profile *config.Profile) error {
	var buf bytes.Buffer
	if err := profile.PrintTo(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, buf.Bytes(), 0666); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func showCmd(args []string) {
	flags := flag.NewFlagSet("minislice show", flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: minislice show")
		fmt.Fprintln(os.Stderr, "\nCommand show prints the minislice profile at", sliceconfig.Path)
		os.Exit(2)
	}
	must.Nil(flags.Parse(args))
	if flags.NArg() != 0 {
		flags.Usage()
	}
	profile, err := readProfile(sliceconfig.Path)
	must.Nil(err, sliceconfig.Path)
	must.Nil(profile.PrintTo(os.Stdout))
}
