// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hello

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/minislice/sliceflags"
)

func TestRunSequence(t *testing.T) {
	var (
		b  bytes.Buffer
		fw = &Sequence{}
		r  = NewRunner(fw, Config{AppName: sliceflags.DefaultAppName})
	)
	if got, want := r.State(), Uninitialized; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := r.Run(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	if got, want := b.String(), "[1 4 9 16]\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := r.State(), Terminated; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRunInputs(t *testing.T) {
	for _, c := range []struct {
		items []int
		want  string
	}{
		{[]int{}, "[]\n"},
		{[]int{7}, "[49]\n"},
		{[]int{-3, 0, 3}, "[9 0 9]\n"},
		{[]int{4, 3, 2, 1}, "[16 9 4 1]\n"},
	} {
		var b bytes.Buffer
		if err := Run(context.Background(), &Sequence{}, Config{AppName: "x", Items: c.items}, &b); err != nil {
			t.Errorf("%v: %v", c.items, err)
			continue
		}
		if got := b.String(); got != c.want {
			t.Errorf("%v: got %q, want %q", c.items, got, c.want)
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	var outputs [2]bytes.Buffer
	for i := range outputs {
		if err := Run(context.Background(), &Sequence{}, Config{AppName: "x"}, &outputs[i]); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := outputs[1].String(), outputs[0].String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRunUnreachable(t *testing.T) {
	var (
		b  bytes.Buffer
		fw = &Sequence{Master: "spark://10.20.0.3:7077", Unreachable: true}
		r  = NewRunner(fw, Config{AppName: sliceflags.DefaultAppName})
	)
	err := r.Run(context.Background(), &b)
	e, ok := err.(*ContextAcquisitionError)
	if !ok {
		t.Fatalf("expected ContextAcquisitionError, got %v", err)
	}
	if got, want := e.Master, "spark://10.20.0.3:7077"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !errors.Is(errors.Unavailable, e.Unwrap()) {
		t.Errorf("expected Unavailable, got %v", e.Err)
	}
	if b.Len() != 0 {
		t.Errorf("unexpected output %q", b.String())
	}
	if got, want := r.State(), Failed; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRunCollectError(t *testing.T) {
	var (
		b     bytes.Buffer
		cause = errors.E(errors.Fatal, "worker exploded")
		r     = NewRunner(&Sequence{CollectErr: cause}, Config{AppName: "x"})
	)
	err := r.Run(context.Background(), &b)
	e, ok := err.(*JobExecutionError)
	if !ok {
		t.Fatalf("expected JobExecutionError, got %v", err)
	}
	if e.Unwrap() != cause {
		t.Errorf("got %v, want %v", e.Err, cause)
	}
	if b.Len() != 0 {
		t.Errorf("unexpected output %q", b.String())
	}
	if got, want := r.State(), Failed; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSequenceEmptyAppName(t *testing.T) {
	_, err := new(Sequence).AcquireContext(context.Background(), "")
	e, ok := err.(*ContextAcquisitionError)
	if !ok {
		t.Fatalf("expected ContextAcquisitionError, got %v", err)
	}
	if !errors.Is(errors.Invalid, e.Err) {
		t.Errorf("expected Invalid, got %v", e.Err)
	}
}

func TestRunDefaultConfig(t *testing.T) {
	rec := new(recorder)
	rec.r = NewRunner(rec, Config{})
	var b bytes.Buffer
	if err := rec.r.Run(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	if got, want := rec.appName, sliceflags.DefaultAppName; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b.String(), "[1 4 9 16]\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRunOverflow(t *testing.T) {
	for _, items := range [][]int{
		{1, MaxItem + 1},
		{-MaxItem - 1},
		{1 << 32},
	} {
		var b bytes.Buffer
		r := NewRunner(&Sequence{}, Config{AppName: "x", Items: items})
		err := r.Run(context.Background(), &b)
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("%v: expected Invalid, got %v", items, err)
		}
		if b.Len() != 0 {
			t.Errorf("%v: unexpected output %q", items, b.String())
		}
		if got, want := r.State(), Failed; got != want {
			t.Errorf("%v: got %v, want %v", items, got, want)
		}
	}
	var b bytes.Buffer
	if err := Run(context.Background(), &Sequence{}, Config{AppName: "x", Items: []int{MaxItem, -MaxItem}}, &b); err != nil {
		t.Fatal(err)
	}
	if got, want := b.String(), "[9223372030926249001 9223372030926249001]\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSequenceSquareTwiceOverflow(t *testing.T) {
	ctx := context.Background()
	seq := new(Sequence)
	sess, err := seq.AcquireContext(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	c, err := seq.Distribute(ctx, sess, []int{2, MaxItem})
	if err != nil {
		t.Fatal(err)
	}
	if c, err = seq.MapSquare(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := seq.MapSquare(ctx, c); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestRunnerReuse(t *testing.T) {
	r := NewRunner(&Sequence{}, Config{AppName: "x"})
	var b bytes.Buffer
	if err := r.Run(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	err := r.Run(context.Background(), &b)
	if !errors.Is(errors.Precondition, err) {
		t.Errorf("expected Precondition, got %v", err)
	}
	if got, want := b.String(), "[1 4 9 16]\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// gate is a Framework whose AcquireContext blocks until release is
// closed.
type gate struct {
	Sequence
	release chan struct{}

	mu       sync.Mutex
	acquired int
}

func (g *gate) AcquireContext(ctx context.Context, appName string) (Session, error) {
	g.mu.Lock()
	g.acquired++
	g.mu.Unlock()
	<-g.release
	return g.Sequence.AcquireContext(ctx, appName)
}

func TestRunnerConcurrentRun(t *testing.T) {
	const N = 8
	var (
		g    = &gate{release: make(chan struct{})}
		r    = NewRunner(g, Config{AppName: "x"})
		b    bytes.Buffer
		errc = make(chan error, N)
	)
	for i := 0; i < N; i++ {
		go func() { errc <- r.Run(context.Background(), &b) }()
	}
	// Only one run may proceed; it is blocked in AcquireContext.
	for i := 0; i < N-1; i++ {
		if err := <-errc; !errors.Is(errors.Precondition, err) {
			t.Errorf("expected Precondition, got %v", err)
		}
	}
	close(g.release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if got, want := g.acquired, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b.String(), "[1 4 9 16]\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := r.State(), Terminated; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// recorder is a Framework that logs its calls and the states they
// were made in.
type recorder struct {
	Sequence
	r       *Runner
	calls   []string
	shut    bool
	appName string
}

func (r *recorder) log(call string) {
	r.calls = append(r.calls, fmt.Sprintf("%s@%s", call, r.r.State()))
}

type recorderSession struct {
	Session
	rec *recorder
}

func (s *recorderSession) Shutdown() {
	s.rec.shut = true
	s.rec.log("shutdown")
}

func (r *recorder) AcquireContext(ctx context.Context, appName string) (Session, error) {
	r.log("acquire")
	r.appName = appName
	sess, err := r.Sequence.AcquireContext(ctx, appName)
	if err != nil {
		return nil, err
	}
	return &recorderSession{sess, r}, nil
}

func (r *recorder) Distribute(ctx context.Context, sess Session, items []int) (Collection, error) {
	r.log("distribute")
	return r.Sequence.Distribute(ctx, sess.(*recorderSession).Session, items)
}

func (r *recorder) MapSquare(ctx context.Context, c Collection) (Collection, error) {
	r.log("map")
	return r.Sequence.MapSquare(ctx, c)
}

func (r *recorder) Collect(ctx context.Context, c Collection) ([]int, error) {
	r.log("collect")
	return r.Sequence.Collect(ctx, c)
}

func TestRunnerTransitions(t *testing.T) {
	rec := new(recorder)
	rec.r = NewRunner(rec, Config{AppName: "x", Items: []int{2}})
	var b bytes.Buffer
	if err := rec.r.Run(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"acquire@UNINITIALIZED",
		"distribute@CONTEXT_ACQUIRED",
		"map@CONTEXT_ACQUIRED",
		"collect@JOB_SUBMITTED",
		"shutdown@TERMINATED",
	}
	if got := rec.calls; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !rec.shut {
		t.Error("session was not shut down")
	}

	rec = &recorder{Sequence: Sequence{CollectErr: errors.New("boom")}}
	rec.r = NewRunner(rec, Config{AppName: "x"})
	if err := rec.r.Run(context.Background(), &b); err == nil {
		t.Fatal("expected error")
	}
	if !rec.shut {
		t.Error("session was not shut down after failure")
	}
	if got, want := rec.calls[len(rec.calls)-1], "shutdown@FAILED"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		Uninitialized:   "UNINITIALIZED",
		ResultCollected: "RESULT_COLLECTED",
		Failed:          "FAILED",
		State(42):       "State(42)",
	} {
		if got := state.String(); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if Printed.Terminal() || !Terminated.Terminal() || !Failed.Terminal() {
		t.Error("wrong terminal states")
	}
}

func TestParseItems(t *testing.T) {
	items, err := ParseItems([]string{"1", "-2", "30"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := items, []int{1, -2, 30}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := ParseItems([]string{"1", "two"}); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestParseItemsRange(t *testing.T) {
	items, err := ParseItems([]string{"3037000499", "-3037000499"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := items, []int{MaxItem, -MaxItem}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, arg := range []string{"3037000500", "-3037000500", "4294967296", "99999999999999999999"} {
		if _, err := ParseItems([]string{"1", arg}); !errors.Is(errors.Invalid, err) {
			t.Errorf("%s: expected Invalid, got %v", arg, err)
		}
	}
}

func TestForeignHandles(t *testing.T) {
	var (
		ctx = context.Background()
		seq = &Sequence{}
		cl  = &Cluster{}
	)
	sess, err := seq.AcquireContext(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cl.Distribute(ctx, sess, []int{1}); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
	c, err := seq.Distribute(ctx, sess, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cl.MapSquare(ctx, c); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
	if _, err := cl.Collect(ctx, c); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}
