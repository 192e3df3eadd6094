// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec compiles minislice slices into task graphs, evaluates
// them, and runs their tasks on an executor: either in-process or
// on a cluster of bigmachine workers.
package exec

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/sliceio"
)

// An Executor runs tasks and serves their outputs.
type Executor interface {
	// Name identifies the executor in logs and events.
	Name() string

	// Start starts the executor; it is called once, before any
	// evaluation and after all funcs are registered. A failure to
	// start leaves the session unusable. Workers launched by an
	// executor also call Start; for them it may never return.
	Start(*Session) (shutdown func(), err error)

	// Runnable hands a task whose dependencies are satisfied to the
	// executor. Afterwards the task's state is at least TaskWaiting,
	// and only the executor changes it.
	Runnable(*Task)

	// Reader returns a reader of the output of a completed task.
	Reader(context.Context, *Task) sliceio.ReadCloser

	// HandleDebug registers executor-specific debug handlers.
	HandleDebug(handler *http.ServeMux)
}

// Eval evaluates the task graphs rooted at roots, handing tasks to
// executor as their dependencies complete. Eval returns the first
// task failure, or nil once every root is TaskOk. Lost tasks are not
// resubmitted: a lost task fails the evaluation.
func Eval(ctx context.Context, executor Executor, inv minislice.Invocation, roots []*Task, group *status.Group) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		donec   = make(chan struct{}, 1)
		errc    = make(chan error, 1)
		running int
	)
	for {
		todo := make(map[*Task]bool)
		for _, task := range roots {
			task.Lock()
			err := addReady(todo, task)
			task.Unlock()
			if err != nil {
				return err
			}
		}
		if len(todo) == 0 && running == 0 {
			return nil
		}
		for task := range todo {
			log.Debug.Printf("runnable: %s", task)
			task.Status = group.Startf("%s(%x)", task.Name, inv.Index)
			executor.Runnable(task)
			running++
			go func(task *Task) {
				state, err := task.WaitState(ctx, TaskOk)
				if err == nil {
					task.Status.Done()
					switch state {
					case TaskOk:
					case TaskErr:
						err = task.Err()
					case TaskLost:
						log.Error.Printf("lost task %s", task.Name)
						err = errors.E(fmt.Sprintf("task %s", task.Name), ErrTaskLost)
					default:
						err = fmt.Errorf("unexpected task state %v", task)
					}
				}
				if err != nil {
					select {
					case errc <- err:
					case <-ctx.Done():
					}
					return
				}
				select {
				case donec <- struct{}{}:
				case <-ctx.Done():
				}
			}(task)
		}
		if group != nil {
			group.Printf("tasks: %s", stateCounts(roots))
		}
		select {
		case <-donec:
			running--
		case err := <-errc:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AddReady adds the tasks reachable from task that are runnable but
// not yet submitted to tasks. The task must be locked on entry; its
// dependencies are locked while traversed. Since task graphs are DAGs
// whose dependencies are always traversed in the same order,
// concurrent traversals cannot deadlock.
func addReady(tasks map[*Task]bool, task *Task) error {
	if tasks[task] {
		return nil
	}
	switch task.state {
	case TaskInit:
	case TaskWaiting, TaskRunning, TaskOk:
		return nil
	case TaskLost:
		return errors.E(fmt.Sprintf("task %s", task.Name), ErrTaskLost)
	case TaskErr:
		return task.err
	default:
		panic("unhandled task state")
	}
	ready := true
	for _, dep := range task.Deps {
		for _, deptask := range dep.Tasks {
			deptask.Lock()
			err := addReady(tasks, deptask)
			ready = ready && deptask.state == TaskOk
			deptask.Unlock()
			if err != nil {
				return err
			}
		}
	}
	if ready {
		tasks[task] = true
	}
	return nil
}

func stateCounts(roots []*Task) string {
	var counts [maxState]int
	iterTasks(roots, func(task *Task) {
		counts[task.State()]++
	})
	states := make([]string, maxState)
	for state, count := range counts {
		states[state] = fmt.Sprintf("%s=%d", TaskState(state), count)
	}
	return strings.Join(states, " ")
}
