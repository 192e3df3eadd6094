// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/minislice/frame"
	"github.com/grailbio/minislice/internal/defaultsize"
	"github.com/grailbio/minislice/sliceio"
)

// localExecutor runs tasks in-process in separate goroutines, at
// most the session's parallelism at a time. All output is buffered
// in memory.
type localExecutor struct {
	mu      sync.Mutex
	buffers map[*Task]taskBuffer
	limiter *limiter.Limiter
	sess    *Session
}

func newLocalExecutor() *localExecutor {
	return &localExecutor{
		buffers: make(map[*Task]taskBuffer),
		limiter: limiter.New(),
	}
}

func (*localExecutor) Name() string { return "local" }

func (l *localExecutor) Start(sess *Session) (shutdown func(), err error) {
	l.sess = sess
	l.limiter.Release(sess.p)
	return nil, nil
}

func (l *localExecutor) Runnable(task *Task) {
	task.Lock()
	switch task.state {
	case TaskWaiting, TaskRunning:
		task.Unlock()
		return
	}
	task.state = TaskWaiting
	task.Broadcast()
	task.Unlock()
	go l.run(task)
}

func (l *localExecutor) run(task *Task) {
	ctx := backgroundcontext.Get()
	if err := l.limiter.Acquire(ctx, 1); err != nil {
		// Only context errors are possible here, in which case there
		// is no more work to do.
		if err != context.Canceled && err != context.DeadlineExceeded {
			log.Panicf("exec.Local: unexpected error: %v", err)
		}
		task.Error(err)
		return
	}
	defer l.limiter.Release(1)
	in := make([]sliceio.Reader, len(task.Deps))
	for i, dep := range task.Deps {
		readers := make([]sliceio.Reader, len(dep.Tasks))
		for j, deptask := range dep.Tasks {
			readers[j] = l.Reader(ctx, deptask)
		}
		in[i] = sliceio.MultiReader(readers...)
	}
	task.Set(TaskRunning)
	if task.Status != nil {
		task.Status.Print("running")
	}

	buf, err := bufferOutput(ctx, task, task.Do(in))
	if err != nil {
		task.Error(err)
		return
	}
	l.mu.Lock()
	l.buffers[task] = buf
	l.mu.Unlock()
	task.Set(TaskOk)
}

func (l *localExecutor) Reader(_ context.Context, task *Task) sliceio.ReadCloser {
	l.mu.Lock()
	buf, ok := l.buffers[task]
	l.mu.Unlock()
	if !ok {
		return sliceio.NopCloser(sliceio.ErrReader(
			errors.E(errors.NotExist, fmt.Sprintf("output of task %s", task.Name))))
	}
	return sliceio.NopCloser(buf.Reader())
}

func (*localExecutor) HandleDebug(*http.ServeMux) {}

// A taskBuffer is the in-memory output of a task, as a list of
// frames.
type taskBuffer []frame.Frame

// Reader returns a reader of the buffer's frames in order.
func (b taskBuffer) Reader() sliceio.Reader {
	readers := make([]sliceio.Reader, len(b))
	for i := range b {
		readers[i] = sliceio.FrameReader(b[i])
	}
	return sliceio.MultiReader(readers...)
}

// Len returns the number of records in the buffer.
func (b taskBuffer) Len() int {
	var n int
	for _, f := range b {
		n += f.Len()
	}
	return n
}

// bufferOutput reads out to completion into a task buffer. Panics
// raised by user code while reading are returned as fatal errors.
func bufferOutput(ctx context.Context, task *Task, out sliceio.Reader) (buf taskBuffer, err error) {
	defer func() {
		if e := recover(); e != nil {
			stack := debug.Stack()
			err = fmt.Errorf("panic while evaluating slice: %v\n%s", e, string(stack))
			err = errors.E(err, errors.Fatal)
		}
	}()
	var in frame.Frame
	for {
		if in.IsZero() {
			in = frame.Make(task, defaultsize.Chunk, defaultsize.Chunk)
		}
		n, err := out.Read(ctx, in)
		if err != nil && err != sliceio.EOF {
			return nil, err
		}
		if n > 0 {
			buf = append(buf, in.Slice(0, n))
			in = nil
		}
		if err == sliceio.EOF {
			break
		}
	}
	return buf, nil
}
