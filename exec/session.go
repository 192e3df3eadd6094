// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/frame"
	"github.com/grailbio/minislice/sliceio"
	"github.com/grailbio/minislice/typecheck"
)

// DefaultName is the application name used when none is configured.
const DefaultName = "minislice"

// Session is a minislice compute session. A session owns an
// executor and is valid for the run of the binary. A session can run
// multiple minislice funcs, and results of earlier runs may be passed
// as arguments to later ones.
//
// Executors may launch additional copies of the binary, called
// workers. On workers Start does not return.
//
// All funcs must be created before Start is called, and in a
// deterministic order. Package-level registration provides both:
//
//	var squares = minislice.Func(func(items []int, nshard int) minislice.Slice {
//		slice := minislice.Const(nshard, items)
//		return minislice.Map(slice, func(x int) int { return x * x })
//	})
//
//	func main() {
//		sess, err := exec.Start(exec.Local)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer sess.Shutdown()
//		res, err := sess.Run(ctx, squares, []int{1, 2, 3, 4}, 2)
//		...
//	}
type Session struct {
	context.Context
	index    int32
	name     string
	shutdown func()
	p        int
	machines int
	executor Executor
	status   *status.Status
	eventer  eventlog.Eventer

	mu sync.Mutex
	// roots holds the task roots of every run, for debugging.
	roots map[*Task]struct{}
}

func newSession() *Session {
	return &Session{
		Context: backgroundcontext.Get(),
		index:   atomic.AddInt32(&nextSessionIndex, 1) - 1,
		name:    DefaultName,
		roots:   make(map[*Task]struct{}),
		eventer: eventlog.Nop{},
	}
}

// An Option configures a session.
type Option func(s *Session)

// Local configures a session with the in-process executor.
var Local Option = func(s *Session) {
	s.executor = newLocalExecutor()
}

// Bigmachine configures a session with the bigmachine executor on
// the provided system. Params are applied to every machine started
// by the session.
func Bigmachine(system bigmachine.System, params ...bigmachine.Param) Option {
	return func(s *Session) {
		s.executor = newBigmachineExecutor(system, params...)
	}
}

// Parallelism configures the session's target parallelism: the
// number of tasks run concurrently by the local executor, and the
// default number of shards used by callers.
func Parallelism(p int) Option {
	if p <= 0 {
		panic("exec.Parallelism: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// Machines configures the number of machines started by the
// bigmachine executor. By default enough machines are started to
// provide the session's parallelism.
func Machines(n int) Option {
	if n <= 0 {
		panic("exec.Machines: n <= 0")
	}
	return func(s *Session) {
		s.machines = n
	}
}

// Name configures the application name under which the session
// reports status and events.
func Name(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.name = name
		}
	}
}

// Status configures the session with a status object to which run
// statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// Eventer configures the session with an Eventer to which session
// events are logged.
func Eventer(e eventlog.Eventer) Option {
	return func(s *Session) {
		s.eventer = e
	}
}

// nextSessionIndex is the index of the next session started by Start.
var nextSessionIndex int32

// Start creates and starts a new session configured by the provided
// options. If no executor is configured, the session uses the
// bigmachine executor with bigmachine.Local. Start returns an error
// if the executor cannot be started, for example because no machines
// could be acquired; the session is then unusable.
func Start(options ...Option) (*Session, error) {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.p == 0 {
		s.p = 1
	}
	if s.executor == nil {
		s.executor = newBigmachineExecutor(bigmachine.Local)
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) start() error {
	shutdown, err := s.executor.Start(s)
	if err != nil {
		if shutdown != nil {
			shutdown()
		}
		return errors.E(fmt.Sprintf("start %s executor", s.executor.Name()), err)
	}
	s.shutdown = shutdown
	s.eventer.Event("minislice:sessionStart",
		"name", s.name,
		"command", command(),
		"executorType", s.executor.Name(),
		"parallelism", s.p)
	return nil
}

// Run evaluates the slice returned by the func funcv applied to the
// provided arguments. Tasks are run by the session's executor. Run
// returns when the computation has completed, or else on error. It
// is safe to make concurrent calls to Run.
func (s *Session) Run(ctx context.Context, funcv *minislice.FuncValue, args ...interface{}) (*Result, error) {
	return s.run(ctx, 1, funcv, args...)
}

// Must is a version of Run that panics if the computation fails.
func (s *Session) Must(ctx context.Context, funcv *minislice.FuncValue, args ...interface{}) *Result {
	res, err := s.run(ctx, 1, funcv, args...)
	if err != nil {
		log.Panicf("exec.Run: %v", err)
	}
	return res
}

// statusMu keeps the status groups of concurrent runs from
// interleaving.
var statusMu sync.Mutex

func (s *Session) run(ctx context.Context, calldepth int, funcv *minislice.FuncValue, args ...interface{}) (*Result, error) {
	location := "<unknown>"
	if _, file, line, ok := runtime.Caller(calldepth + 1); ok {
		location = fmt.Sprintf("%s:%d", file, line)
		defer typecheck.Location(file, line)
	}
	var (
		inv   minislice.Invocation
		slice minislice.Slice
		tasks []*Task
		group *status.Group
	)
	err := func() error {
		statusMu.Lock()
		defer statusMu.Unlock()
		inv = funcv.Invocation(location, args...)
		slice = inv.Invoke()
		var err error
		tasks, err = compile(make(taskNamer), inv, slice)
		if err != nil {
			return err
		}
		if s.status != nil {
			group = s.status.Groupf("%s: run %s [%d]", s.name, location, inv.Index)
		}
		return nil
	}()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, task := range tasks {
		s.roots[task] = struct{}{}
	}
	s.mu.Unlock()
	s.eventer.Event("minislice:runStart",
		"name", s.name,
		"invocation", inv.Index,
		"location", location,
		"numTasks", len(tasks))
	err = Eval(ctx, s.executor, inv, tasks, group)
	if group != nil {
		if err != nil {
			group.Printf("failed: %v", err)
		} else {
			group.Printf("done: %s", stateCounts(tasks))
		}
	}
	return &Result{
		Slice: slice,
		sess:  s,
		inv:   inv,
		tasks: tasks,
	}, err
}

// Name returns the session's application name.
func (s *Session) Name() string {
	return s.name
}

// Parallelism returns the desired amount of evaluation parallelism.
func (s *Session) Parallelism() int {
	return s.p
}

// Executor returns the name of the session's executor.
func (s *Session) Executor() string {
	return s.executor.Name()
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// Shutdown tears down resources associated with this session.
// It should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
		s.shutdown = nil
	}
}

// HandleDebug registers the session's debug handlers, and those of
// its executor, with the provided mux.
func (s *Session) HandleDebug(handler *http.ServeMux) {
	s.executor.HandleDebug(handler)
	handler.HandleFunc("/debug/tasks", s.handleTasks)
	handler.HandleFunc("/debug/tasks/graph", s.handleTasksGraph)
}

// A Result is the output of a slice evaluation. Results may be
// passed as arguments to funcs in subsequent runs of the same
// session; their tasks are then reused rather than recomputed.
type Result struct {
	minislice.Slice
	inv   minislice.Invocation
	sess  *Session
	tasks []*Task
}

// Scanner returns a scanner of the result's records. Shards are
// scanned in order, so records appear in collection order. The
// scanner must be closed when the caller is done with it. Multiple
// scanners may be used concurrently.
func (r *Result) Scanner() *sliceio.Scanner {
	return sliceio.NewScanner(r, &resultReader{r: r})
}

// Tasks returns the root tasks of the result, one per shard.
func (r *Result) Tasks() []*Task {
	return r.tasks
}

// resultReader reads the output of a result's tasks in shard order,
// opening each task's reader only once the previous one is exhausted.
type resultReader struct {
	r     *Result
	shard int
	cur   sliceio.ReadCloser
	err   error
}

func (rr *resultReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if rr.err != nil {
		return 0, rr.err
	}
	for rr.shard < len(rr.r.tasks) {
		if rr.cur == nil {
			rr.cur = rr.r.sess.executor.Reader(ctx, rr.r.tasks[rr.shard])
		}
		n, err := rr.cur.Read(ctx, out)
		if err == sliceio.EOF {
			if cerr := rr.cur.Close(); cerr != nil {
				rr.err = cerr
				return n, cerr
			}
			rr.cur = nil
			rr.shard++
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			rr.err = err
		}
		return n, err
	}
	rr.err = sliceio.EOF
	return 0, rr.err
}

func (rr *resultReader) Close() error {
	if rr.cur == nil {
		return nil
	}
	err := rr.cur.Close()
	rr.cur = nil
	return err
}
