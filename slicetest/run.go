// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package slicetest provides utilities for testing minislice user
// code. The utilities here are not optimized for performance or
// robustness; they are strictly intended for unit testing.
package slicetest

import (
	"context"
	"reflect"
	"testing"

	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/exec"
	"github.com/grailbio/minislice/sliceio"
)

// Run evaluates the provided func with the provided arguments in
// local execution mode, returning a scanner for the result. Errors
// are reported as fatal to the provided t instance.
func Run(t *testing.T, fn *minislice.FuncValue, args ...interface{}) *sliceio.Scanner {
	t.Helper()
	sess, err := exec.Start(exec.Local, exec.Parallelism(2))
	if err != nil {
		t.Fatal(err)
	}
	res, err := sess.Run(context.Background(), fn, args...)
	if err != nil {
		t.Fatal(err)
	}
	return res.Scanner()
}

// ScanAll scans all entries from the scanner into the provided
// columns, which must be pointers to slices of the correct column
// types. For example, to read all values for a Slice<int, string>:
//
//	var (
//		ints []int
//		strings []string
//	)
//	ScanAll(test, scan, &ints, &strings)
//
// The scanner is closed when ScanAll returns. Errors are reported
// as fatal to the provided t instance.
func ScanAll(t *testing.T, scan *sliceio.Scanner, cols ...interface{}) {
	t.Helper()
	defer scan.Close()
	vs := make([]reflect.Value, len(cols))
	elemTypes := make([]reflect.Type, len(cols))
	for i := range vs {
		vs[i] = reflect.Indirect(reflect.ValueOf(cols[i]))
		vs[i].Set(vs[i].Slice(0, 0))
		elemTypes[i] = vs[i].Type().Elem()
	}
	ctx := context.Background()
	args := make([]interface{}, len(cols))
	for n := 0; ; n++ {
		for i := range vs {
			vs[i].Set(reflect.Append(vs[i], reflect.Zero(elemTypes[i])))
			args[i] = vs[i].Index(n).Addr().Interface()
		}
		if !scan.Scan(ctx, args...) {
			for i := range vs {
				vs[i].Set(vs[i].Slice(0, n))
			}
			break
		}
	}
	if err := scan.Err(); err != nil {
		t.Fatal(err)
	}
}

// RunAndScan evaluates the provided func and scans its results into
// the provided slice pointers. Errors are reported as fatal to the
// provided t instance.
func RunAndScan(t *testing.T, fn *minislice.FuncValue, args []interface{}, cols ...interface{}) {
	t.Helper()
	ScanAll(t, Run(t, fn, args...), cols...)
}
