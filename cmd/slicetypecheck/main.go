// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command slicetypecheck is a standalone static checker for minislice
// programs. See package analysis/typecheck.
package main

import (
	"github.com/grailbio/minislice/analysis/typecheck"
	"golang.org/x/tools/go/analysis/singlechecker"
)

func main() {
	singlechecker.Main(typecheck.Analyzer)
}
