// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package slicetest

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/exec"
)

// Print evaluates the provided func in local execution mode and
// prints the resulting rows to stdout, one row per line with columns
// separated by spaces. Rows are printed in collection order, which
// makes Print suitable for examples with expected output.
func Print(fn *minislice.FuncValue, args ...interface{}) {
	sess, err := exec.Start(exec.Local)
	if err != nil {
		log.Panicf("slicetest.Print: start session: %v", err)
	}
	defer sess.Shutdown()
	ctx := context.Background()
	res, err := sess.Run(ctx, fn, args...)
	if err != nil {
		log.Panicf("slicetest.Print: run: %v", err)
	}
	vs := make([]reflect.Value, res.NumOut())
	args = make([]interface{}, res.NumOut())
	for i := range vs {
		vs[i] = reflect.New(res.Out(i))
		args[i] = vs[i].Interface()
	}
	scanner := res.Scanner()
	defer scanner.Close()
	strs := make([]string, len(vs))
	for scanner.Scan(ctx, args...) {
		for i := range strs {
			strs[i] = fmt.Sprint(vs[i].Elem().Interface())
		}
		fmt.Println(strings.Join(strs, " "))
	}
	if err := scanner.Err(); err != nil {
		log.Panicf("slicetest.Print: scan: %v", err)
	}
}
