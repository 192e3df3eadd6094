// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/ctxsync"
	"github.com/grailbio/minislice/frame"
	"github.com/grailbio/minislice/internal/defaultsize"
	"github.com/grailbio/minislice/sliceio"
	"github.com/grailbio/minislice/stats"
	"golang.org/x/sync/errgroup"
)

func init() {
	gob.Register(invocationRef{})
	gob.Register(&worker{})
}

// BigmachineStatusGroup is the name of the status group to which the
// bigmachine executor reports machine status.
const BigmachineStatusGroup = "bigmachine"

const (
	// statsPollInterval is the period at which task statistics are
	// polled from workers.
	statsPollInterval = 10 * time.Second

	// machineStartTimeout bounds the time spent acquiring machines.
	machineStartTimeout = 10 * time.Minute
)

// retryPolicy is the retry policy used for reading task output from
// workers.
var retryPolicy = retry.Backoff(time.Second, 5*time.Second, 1.5)

// maxReadRetries is the number of times a failed read is retried
// before giving up.
const maxReadRetries = 5

// sliceMachine is a started bigmachine worker along with the
// bookkeeping required to assign tasks to it.
type sliceMachine struct {
	*bigmachine.Machine
	// compiles tracks the invocations compiled on the machine.
	compiles taskOnce
	// procs is the number of tasks the machine may run concurrently.
	procs int
	// running is the number of tasks currently assigned. It is
	// guarded by the executor's lock.
	running int
}

// bigmachineExecutor runs tasks on a fixed set of bigmachine
// workers. Machines are started eagerly when the session starts;
// tasks are assigned round-robin among machines with spare capacity.
// Task output remains on the worker that produced it and is streamed
// to dependent tasks and result readers on demand.
type bigmachineExecutor struct {
	system bigmachine.System
	params []bigmachine.Param

	sess   *Session
	b      *bigmachine.B
	status *status.Group

	mu   sync.Mutex
	cond *ctxsync.Cond

	machines []*sliceMachine
	next     int

	locations map[*Task]*sliceMachine
	stats     map[string]stats.Values

	// invocations and invocationDeps track dependencies between
	// invocations, so that results passed to funcs are compiled on a
	// machine before the invocations that use them.
	invocations    map[uint64]minislice.Invocation
	invocationDeps map[uint64]map[uint64]bool
}

func newBigmachineExecutor(system bigmachine.System, params ...bigmachine.Param) *bigmachineExecutor {
	return &bigmachineExecutor{system: system, params: params}
}

func (b *bigmachineExecutor) Name() string {
	return "bigmachine:" + b.system.Name()
}

// Start starts the bigmachine session and its machines, returning
// once every machine is running or has failed. Start fails if no
// machine could be started.
func (b *bigmachineExecutor) Start(sess *Session) (shutdown func(), err error) {
	b.sess = sess
	b.cond = ctxsync.NewCond(&b.mu)
	b.locations = make(map[*Task]*sliceMachine)
	b.stats = make(map[string]stats.Values)
	b.invocations = make(map[uint64]minislice.Invocation)
	b.invocationDeps = make(map[uint64]map[uint64]bool)
	if status := sess.Status(); status != nil {
		b.status = status.Group(BigmachineStatusGroup)
	}
	b.b = bigmachine.Start(b.system)
	shutdown = b.b.Shutdown

	procs := b.system.Maxprocs()
	if procs <= 0 {
		procs = runtime.GOMAXPROCS(0)
	}
	n := sess.machines
	if n == 0 {
		n = (sess.Parallelism() + procs - 1) / procs
	}
	ctx, cancel := context.WithTimeout(backgroundcontext.Get(), machineStartTimeout)
	defer cancel()
	b.status.Printf("starting %d machines", n)
	params := append([]bigmachine.Param{bigmachine.Services{"Worker": &worker{}}}, b.params...)
	machines, err := b.b.Start(ctx, n, params...)
	if err != nil {
		return shutdown, errors.E(errors.Unavailable, "failed to start machines", err)
	}
	var (
		g, gctx = errgroup.WithContext(ctx)
		ready   = make([]*sliceMachine, len(machines))
		locs    = minislice.FuncLocations()
	)
	for i, m := range machines {
		i, m := i, m
		g.Go(func() error {
			select {
			case <-m.Wait(bigmachine.Running):
			case <-gctx.Done():
				return gctx.Err()
			}
			if err := m.Err(); err != nil {
				log.Error.Printf("machine %s failed to start: %v", m.Addr, err)
				return nil
			}
			var workerLocs []string
			if err := m.Call(gctx, "Worker.FuncLocations", struct{}{}, &workerLocs); err != nil {
				log.Error.Printf("machine %s: Worker.FuncLocations: %v", m.Addr, err)
				return nil
			}
			if err := checkFuncLocations(locs, workerLocs); err != nil {
				return errors.E(errors.Fatal, fmt.Sprintf("machine %s", m.Addr), err)
			}
			ready[i] = &sliceMachine{Machine: m, procs: procs}
			log.Printf("machine %v is ready", m.Addr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return shutdown, err
	}
	for _, m := range ready {
		if m != nil {
			b.machines = append(b.machines, m)
		}
	}
	if len(b.machines) == 0 {
		return shutdown, errors.E(errors.Unavailable, fmt.Sprintf("none of %d machines could be started", n))
	}
	b.updateStatus()
	return shutdown, nil
}

// checkFuncLocations returns an error if a worker's funcs were
// registered differently from the driver's, in which case func
// indices cannot be trusted.
func checkFuncLocations(driver, worker []string) error {
	if len(driver) != len(worker) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("driver has %d funcs, worker has %d; funcs must be registered deterministically", len(driver), len(worker)))
	}
	for i := range driver {
		if driver[i] != worker[i] {
			return errors.E(errors.Invalid,
				fmt.Sprintf("func %d registered at %s on driver, %s on worker", i, driver[i], worker[i]))
		}
	}
	return nil
}

func (b *bigmachineExecutor) Runnable(task *Task) {
	task.Lock()
	switch task.state {
	case TaskWaiting, TaskRunning:
		task.Unlock()
		return
	}
	task.state = TaskWaiting
	task.Broadcast()
	task.Unlock()
	go b.run(task)
}

// invocationRef stands in for a *Result argument while an invocation
// is in transit. Workers substitute their own results for it.
type invocationRef struct{ Index uint64 }

// compile makes sure that inv, and every invocation whose results it
// uses, is compiled on machine m.
func (b *bigmachineExecutor) compile(ctx context.Context, m *sliceMachine, inv minislice.Invocation) error {
	b.mu.Lock()
	if _, ok := b.invocations[inv.Index]; !ok {
		args := make([]interface{}, len(inv.Args))
		copy(args, inv.Args)
		for i, arg := range args {
			result, ok := arg.(*Result)
			if !ok {
				continue
			}
			if _, ok := b.invocations[result.inv.Index]; !ok {
				b.mu.Unlock()
				return errors.E(errors.Invalid, fmt.Sprintf("invalid result invocation %x", result.inv.Index))
			}
			args[i] = invocationRef{result.inv.Index}
			if b.invocationDeps[inv.Index] == nil {
				b.invocationDeps[inv.Index] = make(map[uint64]bool)
			}
			b.invocationDeps[inv.Index][result.inv.Index] = true
		}
		inv.Args = args
		b.invocations[inv.Index] = inv
	}
	// Traverse the invocation graph, so that dependencies are compiled
	// (in reverse order) before their dependents.
	var (
		todo        = []uint64{inv.Index}
		invocations []minislice.Invocation
	)
	for len(todo) > 0 {
		var i uint64
		i, todo = todo[0], todo[1:]
		invocations = append(invocations, b.invocations[i])
		for j := range b.invocationDeps[i] {
			todo = append(todo, j)
		}
	}
	b.mu.Unlock()

	for i := len(invocations) - 1; i >= 0; i-- {
		inv := invocations[i]
		err := m.compiles.Do(inv.Index, func() error {
			return m.Call(ctx, "Worker.Compile", inv, nil)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// acquire waits for a machine with spare capacity and assigns one
// task slot on it.
func (b *bigmachineExecutor) acquire(ctx context.Context) (*sliceMachine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		for i := range b.machines {
			m := b.machines[(b.next+i)%len(b.machines)]
			if m.running < m.procs {
				m.running++
				b.next = (b.next + i + 1) % len(b.machines)
				return m, nil
			}
		}
		if err := b.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (b *bigmachineExecutor) release(m *sliceMachine) {
	b.mu.Lock()
	m.running--
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *bigmachineExecutor) run(task *Task) {
	ctx := backgroundcontext.Get()
	task.Status.Print("waiting for a machine")
	m, err := b.acquire(ctx)
	if err != nil {
		task.Error(err)
		return
	}
	defer b.release(m)

	if err := b.compile(ctx, m, task.Invocation); err != nil {
		switch {
		case errors.Recover(err).Severity == errors.Fatal:
			task.Errorf("failed to compile invocation on machine %s: %v", m.Addr, err)
		default:
			log.Error.Printf("task %s lost while compiling on machine %s: %v", task.Name, m.Addr, err)
			task.Set(TaskLost)
		}
		return
	}

	// Include the locations of all dependencies so that the worker
	// can read them.
	req := taskRunRequest{
		Task:       task.Name,
		Invocation: task.Invocation.Index,
		Locations:  make(map[string]string),
	}
	for _, dep := range task.Deps {
		for _, deptask := range dep.Tasks {
			depm := b.location(deptask)
			if depm == nil {
				task.Errorf("task %s has no location", deptask.Name)
				return
			}
			req.Locations[deptask.Name.String()] = depm.Addr
		}
	}
	task.Status.Print(m.Addr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.pollStats(ctx, task, m)

	task.Set(TaskRunning)
	err = m.Call(ctx, "Worker.Run", req, nil)
	switch {
	case err == nil:
		b.setLocation(task, m)
		task.Set(TaskOk)
	case errors.Recover(err).Severity == errors.Fatal:
		task.Error(err)
	default:
		// Anything else means the machine or the connection to it
		// failed. Evaluation treats lost tasks as failures.
		log.Error.Printf("task %s lost on machine %s: %v", task.Name, m.Addr, err)
		task.Set(TaskLost)
	}
}

// pollStats periodically reports the worker's statistics to the
// task's status until ctx is done.
func (b *bigmachineExecutor) pollStats(ctx context.Context, task *Task, m *sliceMachine) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(statsPollInterval):
		}
		var vals stats.Values
		if err := m.Call(ctx, "Worker.Stats", struct{}{}, &vals); err != nil {
			if err != context.Canceled {
				log.Error.Printf("Worker.Stats: %v", err)
			}
			return
		}
		task.Status.Printf("%s: %s", m.Addr, vals)
		b.mu.Lock()
		b.stats[m.Addr] = vals
		b.mu.Unlock()
		b.updateStatus()
	}
}

func (b *bigmachineExecutor) Reader(ctx context.Context, task *Task) sliceio.ReadCloser {
	m := b.location(task)
	if m == nil {
		return sliceio.NopCloser(sliceio.ErrReader(
			errors.E(errors.NotExist, fmt.Sprintf("output of task %s", task.Name))))
	}
	return newMachineReader(m.Machine, task.Name)
}

func (b *bigmachineExecutor) HandleDebug(handler *http.ServeMux) {
	b.b.HandleDebug(handler)
}

func (b *bigmachineExecutor) location(task *Task) *sliceMachine {
	b.mu.Lock()
	m := b.locations[task]
	b.mu.Unlock()
	return m
}

func (b *bigmachineExecutor) setLocation(task *Task, m *sliceMachine) {
	b.mu.Lock()
	b.locations[task] = m
	b.mu.Unlock()
}

func (b *bigmachineExecutor) updateStatus() {
	total := make(stats.Values)
	b.mu.Lock()
	n := len(b.machines)
	for _, vals := range b.stats {
		total.Add(vals)
	}
	b.mu.Unlock()
	b.status.Printf("machines:%d %s", n, total)
}

// A worker is the bigmachine service that compiles invocations, runs
// individual tasks, and serves their stored output.
type worker struct {
	// Exported satisfies gob, which requires at least one exported
	// field.
	Exported struct{}

	b     *bigmachine.B
	store Store

	mu       sync.Mutex
	compiles taskOnce
	tasks    map[uint64]map[string]*Task
	results  map[uint64]*Result
	stats    *stats.Map
}

func (w *worker) Init(b *bigmachine.B) error {
	w.tasks = make(map[uint64]map[string]*Task)
	w.results = make(map[uint64]*Result)
	w.b = b
	dir, err := ioutil.TempDir("", "minislice")
	if err != nil {
		return err
	}
	w.store = &fileStore{Prefix: dir + "/"}
	w.stats = stats.NewMap()
	return nil
}

// FuncLocations returns the registration locations of the worker's
// funcs.
func (w *worker) FuncLocations(ctx context.Context, _ struct{}, locs *[]string) error {
	*locs = minislice.FuncLocations()
	return nil
}

// Compile compiles an invocation on the worker and stores the
// resulting tasks. Compile is idempotent: each invocation is
// compiled at most once.
func (w *worker) Compile(ctx context.Context, inv minislice.Invocation, _ *struct{}) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.E(errors.Fatal, fmt.Sprintf("invocation panic: %v", e))
		}
	}()
	return w.compiles.Do(inv.Index, func() error {
		// Substitute the worker's results for invocation refs. The
		// executor compiles referenced invocations first.
		for i, arg := range inv.Args {
			ref, ok := arg.(invocationRef)
			if !ok {
				continue
			}
			w.mu.Lock()
			inv.Args[i], ok = w.results[ref.Index]
			w.mu.Unlock()
			if !ok {
				return errors.E(errors.Fatal, fmt.Sprintf("worker.Compile: invalid invocation reference %x", ref.Index))
			}
		}
		slice := inv.Invoke()
		tasks, err := compile(make(taskNamer), inv, slice)
		if err != nil {
			return errors.E(errors.Fatal, err)
		}
		named := make(map[string]*Task)
		iterTasks(tasks, func(task *Task) {
			named[task.Name.String()] = task
		})
		w.mu.Lock()
		w.tasks[inv.Index] = named
		w.results[inv.Index] = &Result{Slice: slice, inv: inv, tasks: tasks}
		w.mu.Unlock()
		return nil
	})
}

// taskRunRequest contains all data required to run an individual task.
type taskRunRequest struct {
	// Invocation is the index of the invocation from which the task
	// was compiled.
	Invocation uint64
	// Task is the name of the task.
	Task TaskName
	// Locations maps the name of each dependency task to the address
	// of the machine that stores its output.
	Locations map[string]string
}

// Run runs the task named in the request, reading its dependencies
// from the machines that hold them and storing its output. Run
// returns once the output is committed to the worker's store.
func (w *worker) Run(ctx context.Context, req taskRunRequest, _ *struct{}) (err error) {
	w.mu.Lock()
	named := w.tasks[req.Invocation]
	w.mu.Unlock()
	if named == nil {
		return errors.E(errors.Fatal, fmt.Sprintf("invocation %x not compiled", req.Invocation))
	}
	task := named[req.Task.String()]
	if task == nil {
		return errors.E(errors.Fatal, fmt.Sprintf("task %s not found", req.Task))
	}

	task.Lock()
	if task.state != TaskInit {
		for task.state <= TaskRunning && err == nil {
			log.Printf("runtask: %s already running; waiting for it to finish", task.Name)
			err = task.Wait(ctx)
		}
		task.Unlock()
		if err != nil {
			return err
		}
		return task.Err()
	}
	task.state = TaskRunning
	task.Unlock()
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("panic while evaluating slice: %v\n%s", e, string(debug.Stack()))
			err = errors.E(err, errors.Fatal)
		}
		if err != nil {
			log.Printf("task %s error: %v", task.Name, err)
			task.Error(errors.Recover(err))
		} else {
			task.Set(TaskOk)
		}
	}()

	recordsIn := w.stats.Int("read")
	in := make([]sliceio.Reader, len(task.Deps))
	for i, dep := range task.Deps {
		readers := make([]sliceio.Reader, len(dep.Tasks))
		for j, deptask := range dep.Tasks {
			addr := req.Locations[deptask.Name.String()]
			if addr == "" {
				return errors.E(errors.Invalid, fmt.Sprintf("no location for dependency %s", deptask.Name))
			}
			m, err := w.b.Dial(ctx, addr)
			if err != nil {
				return err
			}
			r := newMachineReader(m, deptask.Name)
			defer r.Close()
			readers[j] = &statsReader{r, recordsIn}
		}
		in[i] = sliceio.MultiReader(readers...)
	}

	wc, err := w.store.Create(ctx, task.Name)
	if err != nil {
		return err
	}
	var (
		buf        = bufio.NewWriter(wc)
		enc        = sliceio.NewEncoder(buf)
		out        = task.Do(in)
		f          = frame.Make(task, defaultsize.Chunk)
		count      int64
		recordsOut = w.stats.Int("write")
	)
	for {
		n, err := out.Read(ctx, f)
		if err != nil && err != sliceio.EOF {
			wc.Discard(ctx)
			return err
		}
		if n > 0 {
			if err := enc.Encode(f.Slice(0, n)); err != nil {
				wc.Discard(ctx)
				return err
			}
			count += int64(n)
			recordsOut.Add(int64(n))
		}
		if err == sliceio.EOF {
			break
		}
	}
	if err := buf.Flush(); err != nil {
		wc.Discard(ctx)
		return err
	}
	return wc.Commit(ctx, count)
}

// Stats returns a snapshot of the worker's counters.
func (w *worker) Stats(ctx context.Context, _ struct{}, values *stats.Values) error {
	*values = w.stats.Snapshot()
	return nil
}

// Stat returns metadata for the stored output of a task.
func (w *worker) Stat(ctx context.Context, name TaskName, info *sliceInfo) (err error) {
	*info, err = w.store.Stat(ctx, name)
	return
}

// readRequest is the request payload for Worker.Read.
type readRequest struct {
	// Task is the name of the task whose output is read.
	Task TaskName
	// Offset is the byte offset from which to read.
	Offset int64
}

// Read streams the stored output of a task.
func (w *worker) Read(ctx context.Context, req readRequest, rc *io.ReadCloser) (err error) {
	*rc, err = w.store.Open(ctx, req.Task, req.Offset)
	return
}

// machineRPCReader streams the encoded output of a task from a
// machine. Interrupted streams are resumed from the last offset
// read.
type machineRPCReader struct {
	ctx     context.Context
	machine *bigmachine.Machine
	task    TaskName
	err     error
	reader  io.ReadCloser
	bytes   int64
	retries int
}

func (r *machineRPCReader) Read(data []byte) (int, error) {
	for {
		if r.err != nil {
			return 0, r.err
		}
		if r.reader == nil {
			if r.retries > 0 {
				log.Printf("Worker.Read %s: retrying(%d) from offset %d", r.task, r.retries, r.bytes)
			}
			err := r.machine.Call(r.ctx, "Worker.Read", readRequest{r.task, r.bytes}, &r.reader)
			if err != nil {
				if errors.Is(errors.NotExist, err) || errors.Is(errors.Invalid, err) {
					r.err = err
					return 0, err
				}
				if r.err = r.retry(err); r.err != nil {
					return 0, r.err
				}
				continue
			}
		}
		n, err := r.reader.Read(data)
		if err == nil || err == io.EOF {
			r.err = err
			r.bytes += int64(n)
			return n, err
		}
		r.bytes += int64(n)
		r.reader.Close()
		r.reader = nil
		if r.err = r.retry(err); r.err != nil {
			return n, r.err
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (r *machineRPCReader) retry(err error) error {
	log.Error.Printf("machineReader %s: error (%d) at %d bytes: %v", r.machine.Addr, r.retries, r.bytes, err)
	if r.retries >= maxReadRetries {
		return errors.E(errors.Unavailable, fmt.Sprintf("read %s from %s", r.task, r.machine.Addr), err)
	}
	r.retries++
	return retry.Wait(r.ctx, retryPolicy, r.retries)
}

func (r *machineRPCReader) Close() error {
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

// machineReader reads the output of a task from a machine. The read
// RPC is issued on the first call to Read.
type machineReader struct {
	machine *bigmachine.Machine
	task    TaskName

	reader sliceio.Reader
	rpc    *machineRPCReader
}

func newMachineReader(machine *bigmachine.Machine, task TaskName) *machineReader {
	return &machineReader{machine: machine, task: task}
}

func (m *machineReader) Read(ctx context.Context, f frame.Frame) (int, error) {
	if m.rpc == nil {
		m.rpc = &machineRPCReader{
			ctx:     ctx,
			machine: m.machine,
			task:    m.task,
		}
		m.reader = sliceio.NewDecodingReader(m.rpc)
	}
	return m.reader.Read(ctx, f)
}

func (m *machineReader) Close() error {
	if m.rpc != nil {
		return m.rpc.Close()
	}
	return nil
}

type statsReader struct {
	reader  sliceio.Reader
	numRead *stats.Int
}

func (s *statsReader) Read(ctx context.Context, f frame.Frame) (n int, err error) {
	n, err = s.reader.Read(ctx, f)
	s.numRead.Add(int64(n))
	return
}
