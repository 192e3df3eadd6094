// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/sliceio"
)

// Pipeline returns the chain of slices, starting at slice, that can
// be computed in a single task. Pipelining stops at results of
// previous runs so that their tasks are reused.
func pipeline(slice minislice.Slice) (slices []minislice.Slice) {
	for {
		if _, ok := slice.(*Result); ok {
			return
		}
		slices = append(slices, slice)
		if slice.NumDep() != 1 {
			return
		}
		slice = slice.Dep(0).Slice
	}
}

// Compile compiles slice, produced by inv, into one task per shard.
// Pipelined operations are folded into each task by composing their
// readers. The namer mints operation names unique to the session and
// is invoked in a deterministic order, so that workers compiling the
// same invocation arrive at the same names.
func compile(namer taskNamer, inv minislice.Invocation, slice minislice.Slice) ([]*Task, error) {
	if result, ok := slice.(*Result); ok {
		return result.tasks, nil
	}
	slices := pipeline(slice)
	ops := make([]string, 0, len(slices)+1)
	ops = append(ops, fmt.Sprintf("inv%x", inv.Index))
	for i := len(slices) - 1; i >= 0; i-- {
		ops = append(ops, slices[i].Op())
	}
	opName := namer.New(strings.Join(ops, "_"))
	tasks := make([]*Task, slice.NumShard())
	for i := range tasks {
		tasks[i] = &Task{
			Type:       slice,
			Name:       TaskName{Op: opName, Shard: i, NumShard: len(tasks)},
			Invocation: inv,
		}
	}
	for i := len(slices) - 1; i >= 0; i-- {
		for shard := range tasks {
			var (
				shard  = shard
				reader = slices[i].Reader
				prev   = tasks[shard].Do
			)
			if prev == nil {
				tasks[shard].Do = func(deps []sliceio.Reader) sliceio.Reader {
					return reader(shard, deps)
				}
			} else {
				tasks[shard].Do = func(deps []sliceio.Reader) sliceio.Reader {
					return reader(shard, []sliceio.Reader{prev(deps)})
				}
			}
		}
	}
	// Only the last slice in the pipeline can have dependencies
	// outside of it.
	last := slices[len(slices)-1]
	for i := 0; i < last.NumDep(); i++ {
		deptasks, err := compile(namer, inv, last.Dep(i).Slice)
		if err != nil {
			return nil, err
		}
		if len(deptasks) != len(tasks) {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("%s: dependency %d has %d shards, expected %d", minislice.String(last), i, len(deptasks), len(tasks)))
		}
		for shard := range tasks {
			tasks[shard].Deps = append(tasks[shard].Deps, TaskDep{Tasks: []*Task{deptasks[shard]}})
		}
	}
	return tasks, nil
}

type taskNamer map[string]int

func (n taskNamer) New(name string) string {
	c := n[name]
	n[name]++
	if c == 0 {
		return name
	}
	return fmt.Sprintf("%s%d", name, c)
}
