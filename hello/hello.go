// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package hello implements a smoke test for a distributed
// collection-processing framework: it acquires a session, distributes
// a small sequence of integers, squares each of them, collects the
// results and prints them.
//
// The framework is accessed only through the Framework interface, so
// that the same runner drives a real cluster (Cluster) or an
// in-process simulation (Sequence).
package hello

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/minislice/sliceflags"
)

// MaxItem is the largest magnitude of an item whose square fits in
// an int64.
const MaxItem = 3037000499

// DefaultItems returns the sequence distributed when none is
// configured.
func DefaultItems() []int { return []int{1, 2, 3, 4} }

// A Session is an opaque handle to a distributed processing context.
// It is acquired once per run and passed explicitly to every
// subsequent operation.
type Session interface {
	// AppName returns the application name under which the session
	// was acquired.
	AppName() string
	// Shutdown releases the resources held by the session.
	Shutdown()
}

// A Collection is a handle to an immutable, ordered collection of
// integers owned by a framework. Transformations return new
// collections.
type Collection interface {
	// Session returns the session that owns the collection.
	Session() Session
}

// Framework is the set of capabilities the smoke test requires from
// a distributed processing framework.
type Framework interface {
	// AcquireContext returns a new session identified by appName. It
	// returns a *ContextAcquisitionError if the framework cannot be
	// reached or initialized.
	AcquireContext(ctx context.Context, appName string) (Session, error)
	// Distribute returns a collection of the provided items, in
	// order, partitioned by the framework.
	Distribute(ctx context.Context, sess Session, items []int) (Collection, error)
	// MapSquare returns a collection whose elements are the squares
	// of the elements of c, in the same order.
	MapSquare(ctx context.Context, c Collection) (Collection, error)
	// Collect evaluates c and returns its elements in order. It blocks
	// until the computation completes, and returns a
	// *JobExecutionError if it fails.
	Collect(ctx context.Context, c Collection) ([]int, error)
}

// Config configures a run.
type Config struct {
	// AppName identifies the session to the framework. An empty
	// AppName uses sliceflags.DefaultAppName.
	AppName string
	// Items is the sequence to distribute. A nil Items distributes
	// DefaultItems.
	Items []int
}

func (c Config) appName() string {
	if c.AppName == "" {
		return sliceflags.DefaultAppName
	}
	return c.AppName
}

func (c Config) items() []int {
	if c.Items == nil {
		return DefaultItems()
	}
	return c.Items
}

// ParseItems parses a sequence of decimal integers, as given on a
// command line. Items must be within [-MaxItem, MaxItem].
func ParseItems(args []string) ([]int, error) {
	items := make([]int, len(args))
	for i, arg := range args {
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("item %d: not an integer: %q", i, arg), err)
		}
		if !squarable(n) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("item %d: %d out of range [-%d, %d]", i, n, int64(MaxItem), int64(MaxItem)))
		}
		items[i] = int(n)
	}
	return items, nil
}

// CheckItems returns an error if the square of any item overflows.
func CheckItems(items []int) error {
	for i, x := range items {
		if !squarable(int64(x)) {
			return errors.E(errors.Invalid, fmt.Sprintf("item %d: %d out of range [-%d, %d]", i, x, int64(MaxItem), int64(MaxItem)))
		}
	}
	return nil
}

func squarable(x int64) bool { return x >= -MaxItem && x <= MaxItem }

// State is the state of a Runner.
type State int

const (
	// Uninitialized is the state of a runner that has not started.
	Uninitialized State = iota
	// ContextAcquired indicates that a session was acquired.
	ContextAcquired
	// JobSubmitted indicates that the sequence was distributed and
	// the transformation applied.
	JobSubmitted
	// ResultCollected indicates that the result was collected.
	ResultCollected
	// Printed indicates that the result was printed.
	Printed
	// Terminated indicates that the run completed and the session
	// was shut down.
	Terminated
	// Failed indicates that the run failed.
	Failed
)

var stateNames = [...]string{
	Uninitialized:   "UNINITIALIZED",
	ContextAcquired: "CONTEXT_ACQUIRED",
	JobSubmitted:    "JOB_SUBMITTED",
	ResultCollected: "RESULT_COLLECTED",
	Printed:         "PRINTED",
	Terminated:      "TERMINATED",
	Failed:          "FAILED",
}

// String returns the state's name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == Terminated || s == Failed
}

// A Runner runs the smoke test once, recording its progress as a
// State. Runners are not reusable.
type Runner struct {
	fw  Framework
	cfg Config

	mu      sync.Mutex
	state   State
	started bool
}

// NewRunner returns a runner of the smoke test against fw.
func NewRunner(fw Framework, cfg Config) *Runner {
	return &Runner{fw: fw, cfg: cfg}
}

// State returns the runner's current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) transition(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		log.Panicf("hello: invalid transition %s -> %s from state %s", from, to, r.state)
	}
	log.Debug.Printf("hello: %s -> %s", from, to)
	r.state = to
}

func (r *Runner) fail(err error) error {
	r.mu.Lock()
	log.Debug.Printf("hello: %s -> %s: %v", r.state, Failed, err)
	r.state = Failed
	r.mu.Unlock()
	return err
}

// Run acquires a session, distributes the configured items, squares
// them, collects the result and prints it to w on a single line.
// Errors from the framework are returned unchanged, and nothing is
// printed on failure.
func (r *Runner) Run(ctx context.Context, w io.Writer) error {
	r.mu.Lock()
	if r.started {
		state := r.state
		r.mu.Unlock()
		return errors.E(errors.Precondition, fmt.Sprintf("hello: runner already started, in state %s", state))
	}
	r.started = true
	r.mu.Unlock()

	sess, err := r.fw.AcquireContext(ctx, r.cfg.appName())
	if err != nil {
		return r.fail(err)
	}
	defer sess.Shutdown()
	r.transition(Uninitialized, ContextAcquired)

	c, err := r.fw.Distribute(ctx, sess, r.cfg.items())
	if err != nil {
		return r.fail(err)
	}
	c, err = r.fw.MapSquare(ctx, c)
	if err != nil {
		return r.fail(err)
	}
	r.transition(ContextAcquired, JobSubmitted)

	result, err := r.fw.Collect(ctx, c)
	if err != nil {
		return r.fail(err)
	}
	r.transition(JobSubmitted, ResultCollected)

	if _, err := fmt.Fprintln(w, result); err != nil {
		return r.fail(err)
	}
	r.transition(ResultCollected, Printed)
	r.transition(Printed, Terminated)
	return nil
}

// Run runs the smoke test once against fw. See Runner.Run.
func Run(ctx context.Context, fw Framework, cfg Config, w io.Writer) error {
	return NewRunner(fw, cfg).Run(ctx, w)
}
