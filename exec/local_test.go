// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/internal/defaultsize"
	"github.com/grailbio/minislice/sliceio"
)

func localTestExecutor(t *testing.T) *localExecutor {
	t.Helper()
	x := newLocalExecutor()
	if _, err := x.Start(&Session{Context: context.Background(), p: 2}); err != nil {
		t.Fatal(err)
	}
	return x
}

func TestLocalExecutor(t *testing.T) {
	x := localTestExecutor(t)
	tasks, _, _ := compileFunc(func() minislice.Slice {
		slice := minislice.Const(3, rangeSlice(0, 3000))
		return minislice.Map(slice, func(i int) int { return -i })
	})
	run(t, x, tasks, TaskOk)
	var (
		ctx = context.Background()
		all []int
	)
	for _, task := range tasks {
		r := x.Reader(ctx, task)
		var ints []int
		if err := sliceio.ReadAll(ctx, r, &ints); err != nil {
			t.Fatal(err)
		}
		all = append(all, ints...)
	}
	want := make([]int, 3000)
	for i := range want {
		want[i] = -i
	}
	if !reflect.DeepEqual(all, want) {
		t.Error("unexpected output")
	}
}

func TestLocalExecutorPanic(t *testing.T) {
	x := localTestExecutor(t)
	tasks, _, _ := compileFunc(func() minislice.Slice {
		slice := minislice.Const(1, []int{1})
		return minislice.Map(slice, func(i int) int { panic("boom") })
	})
	run(t, x, tasks, TaskErr)
	if got, want := errors.Recover(tasks[0].Err()).Severity, errors.Fatal; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLocalExecutorMissingOutput(t *testing.T) {
	x := localTestExecutor(t)
	tasks, _, _ := compileFunc(func() minislice.Slice {
		return minislice.Const(1, []int{1})
	})
	var ints []int
	err := sliceio.ReadAll(context.Background(), x.Reader(context.Background(), tasks[0]), &ints)
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist error, got %v", err)
	}
}

func TestTaskBuffer(t *testing.T) {
	x := localTestExecutor(t)
	tasks, _, _ := compileFunc(func() minislice.Slice {
		return minislice.Const(1, rangeSlice(0, 2*defaultsize.Chunk+1))
	})
	run(t, x, tasks, TaskOk)
	buf := x.buffers[tasks[0]]
	if got, want := buf.Len(), 2*defaultsize.Chunk+1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(buf), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
