// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/sliceio"
	"github.com/grailbio/minislice/slicetype"
)

// ErrTaskLost indicates that a Task was in TaskLost state.
var ErrTaskLost = errors.E(errors.Unavailable, "task was lost")

// TaskState is the runtime state of a Task. Larger values are
// further along; every state above TaskOk is a failure.
type TaskState int

const (
	// TaskInit is the state of a task not yet seen by an executor.
	TaskInit TaskState = iota
	// TaskWaiting is the state of a runnable task that has not yet
	// been given resources.
	TaskWaiting
	// TaskRunning is the state of a running task.
	TaskRunning
	// TaskOk is the state of a task whose output is available to
	// dependent tasks and readers.
	TaskOk
	// TaskErr is the state of a task that failed.
	TaskErr
	// TaskLost is the state of a task whose machine failed.
	TaskLost

	maxState
)

var states = [...]string{
	TaskInit:    "INIT",
	TaskWaiting: "WAITING",
	TaskRunning: "RUNNING",
	TaskOk:      "OK",
	TaskErr:     "ERROR",
	TaskLost:    "LOST",
}

// String returns the task's state as an upper-case string.
func (s TaskState) String() string {
	return states[s]
}

// A TaskDep is a dependency of a task on the outputs of other tasks.
// Readers of the dependency read the outputs of Tasks in order.
type TaskDep struct {
	Tasks []*Task
}

// A TaskName uniquely names a task within a session.
type TaskName struct {
	// Op names the pipelined operations computed by the task.
	Op string
	// Shard and NumShard describe the shard processed by this task
	// and the total number of shards to be processed.
	Shard, NumShard int
}

// String returns the canonical name {Op}@{NumShard}:{Shard}.
func (n TaskName) String() string {
	return fmt.Sprintf("%s@%d:%d", n.Op, n.NumShard, n.Shard)
}

// A Task computes one shard of a slice. Tasks are compiled from
// slices and form graphs through their dependencies.
//
// Tasks also carry runtime state that evaluators and executors use to
// coordinate. The embedded mutex protects that state; changes are
// broadcast to waiters.
type Task struct {
	slicetype.Type
	// Invocation is the func invocation from which the task was
	// compiled.
	Invocation minislice.Invocation
	// Name is the task's name, unique within the session.
	Name TaskName
	// Do returns a reader that computes the task's output on demand,
	// given readers for each of its dependencies.
	Do func([]sliceio.Reader) sliceio.Reader
	// Deps are the task's dependencies.
	Deps []TaskDep

	// Status receives the task's status updates.
	Status *status.Task

	sync.Mutex
	waitc chan struct{}
	state TaskState
	err   error
}

// String returns a short, human-readable description of the task and
// its state. It reads the state without locking so that it may be
// used while the lock is held.
func (t *Task) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "task %s [%d] %s", t.Name, t.Invocation.Index, t.state)
	if t.err != nil {
		fmt.Fprintf(&b, ": %v", t.err)
	}
	return b.String()
}

// Set sets the task's state and notifies waiters.
func (t *Task) Set(state TaskState) {
	t.Lock()
	t.state = state
	t.Broadcast()
	t.Unlock()
}

// Error fails the task with err and notifies waiters.
func (t *Task) Error(err error) {
	t.Lock()
	t.state = TaskErr
	t.err = err
	if t.Status != nil {
		t.Status.Print(err.Error())
	}
	t.Broadcast()
	t.Unlock()
}

// Errorf fails the task with a formatted error.
func (t *Task) Errorf(format string, v ...interface{}) {
	t.Error(fmt.Errorf(format, v...))
}

// Err returns the task's error if it has failed.
func (t *Task) Err() error {
	t.Lock()
	defer t.Unlock()
	switch t.state {
	case TaskErr:
		return t.err
	case TaskLost:
		return ErrTaskLost
	}
	return nil
}

// State returns the task's current state.
func (t *Task) State() TaskState {
	t.Lock()
	defer t.Unlock()
	return t.state
}

// Broadcast wakes up waiters. The task's lock must be held.
func (t *Task) Broadcast() {
	if t.waitc != nil {
		close(t.waitc)
		t.waitc = nil
	}
}

// Wait returns after the next Broadcast or when ctx is done. The
// task's lock must be held; it is released while waiting.
func (t *Task) Wait(ctx context.Context) error {
	if t.waitc == nil {
		t.waitc = make(chan struct{})
	}
	waitc := t.waitc
	t.Unlock()
	var err error
	select {
	case <-waitc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	t.Lock()
	return err
}

// WaitState returns once the task's state is at least state, or when
// ctx is done.
func (t *Task) WaitState(ctx context.Context, state TaskState) (TaskState, error) {
	t.Lock()
	defer t.Unlock()
	var err error
	for t.state < state && err == nil {
		err = t.Wait(ctx)
	}
	return t.state, err
}

// GraphString returns a schematic string of the task graph rooted at t.
func (t *Task) GraphString() string {
	var b bytes.Buffer
	t.WriteGraph(&b)
	return b.String()
}

// WriteGraph writes a schematic description of the task graph rooted
// at t to w.
func (t *Task) WriteGraph(w io.Writer) {
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	fmt.Fprintln(&tw, "tasks:")
	for _, task := range t.All() {
		out := make([]string, task.NumOut())
		for i := range out {
			out[i] = fmt.Sprint(task.Out(i))
		}
		fmt.Fprintf(&tw, "\t%s\t%s\t[%s]\n", task.Name, strings.Join(out, ","), task.State())
	}
	tw.Flush()
	fmt.Fprintln(&tw, "dependencies:")
	t.writeDeps(&tw)
	tw.Flush()
}

func (t *Task) writeDeps(w io.Writer) {
	for _, dep := range t.Deps {
		for _, task := range dep.Tasks {
			fmt.Fprintf(w, "\t%s:\t%s\n", t.Name, task.Name)
			task.writeDeps(w)
		}
	}
}

// All returns the unique set of tasks reachable from t, including t,
// sorted by name.
func (t *Task) All() []*Task {
	all := make(map[*Task]bool)
	t.all(all)
	tasks := make([]*Task, 0, len(all))
	for task := range all {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Name.String() < tasks[j].Name.String()
	})
	return tasks
}

func (t *Task) all(tasks map[*Task]bool) {
	if tasks[t] {
		return
	}
	tasks[t] = true
	for _, dep := range t.Deps {
		for _, task := range dep.Tasks {
			task.all(tasks)
		}
	}
}

// iterTasks calls fn for every task reachable from roots, once each.
func iterTasks(roots []*Task, fn func(*Task)) {
	all := make(map[*Task]bool)
	for _, task := range roots {
		task.all(all)
	}
	for task := range all {
		fn(task)
	}
}
