// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Wrongarg is a correctly typed Go program whose minislice usage is
// not: the invocation of testFunc passes a string for an int, and
// lateFunc is registered after init. The static typechecker reports
// both.
package main

import (
	"context"

	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/exec"
)

var testFunc = minislice.Func(func(argInt int, argString string) minislice.Slice {
	return minislice.Const(1, []string{argString})
})

func main() {
	ctx := context.Background()
	var session *exec.Session
	_ = session.Must(ctx, testFunc, "i should be an int", "i'm ok")
	lateFunc := minislice.Func(func() minislice.Slice { return nil })
	_ = session.Must(ctx, lateFunc)
}
