// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hello

import (
	"bytes"
	"context"
	"flag"
	"io/ioutil"
	"reflect"
	"runtime"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/minislice/exec"
	"github.com/grailbio/minislice/sliceflags"
)

// testProvider runs sessions on an in-process bigmachine test
// system.
type testProvider struct{}

func (testProvider) Name() string            { return "testsystem" }
func (testProvider) Set(string) error        { return errors.E(errors.Invalid, "no options") }
func (testProvider) ExecOption() exec.Option { return exec.Bigmachine(testsystem.New()) }
func (testProvider) DefaultParallelism() int { return 2 }

// unreachableProvider fails its reachability check.
type unreachableProvider struct{ testProvider }

func (unreachableProvider) Name() string { return "unreachable" }
func (unreachableProvider) Check() error {
	return errors.E(errors.Unavailable, "dial tcp 10.20.0.3:7077: connection refused")
}

func init() {
	sliceflags.RegisterSystemProvider("testsystem", testProvider{})
	sliceflags.RegisterSystemProvider("unreachable", unreachableProvider{})
}

func clusterFlags(t *testing.T, args ...string) sliceflags.Flags {
	t.Helper()
	var fl sliceflags.Flags
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(ioutil.Discard)
	sliceflags.RegisterFlagsWithDefaults(fs, &fl, "", sliceflags.Defaults{
		System:  "internal",
		AppName: sliceflags.DefaultAppName,
	})
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fl
}

var systems = []string{"internal", "testsystem"}

func TestCluster(t *testing.T) {
	for _, system := range systems {
		t.Run(system, func(t *testing.T) {
			fl := clusterFlags(t, "-system", system, "-parallelism", "2")
			var b bytes.Buffer
			r := NewRunner(NewCluster(fl), Config{AppName: fl.AppName})
			if err := r.Run(context.Background(), &b); err != nil {
				t.Fatal(err)
			}
			if got, want := b.String(), "[1 4 9 16]\n"; got != want {
				t.Errorf("got %q, want %q", got, want)
			}
			if got, want := r.State(), Terminated; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestClusterInputs(t *testing.T) {
	long := make([]int, 1000)
	for i := range long {
		long[i] = i - 500
	}
	for _, system := range systems {
		t.Run(system, func(t *testing.T) {
			ctx := context.Background()
			cl := NewCluster(clusterFlags(t, "-system", system, "-parallelism", "3"))
			sess, err := cl.AcquireContext(ctx, "inputs")
			if err != nil {
				t.Fatal(err)
			}
			defer sess.Shutdown()
			if got, want := sess.AppName(), "inputs"; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
			for _, items := range [][]int{{}, {5}, {1, 2}, long} {
				c, err := cl.Distribute(ctx, sess, items)
				if err != nil {
					t.Fatal(err)
				}
				if c.Session() != sess {
					t.Error("collection has wrong session")
				}
				c, err = cl.MapSquare(ctx, c)
				if err != nil {
					t.Fatal(err)
				}
				got, err := cl.Collect(ctx, c)
				if err != nil {
					t.Fatal(err)
				}
				want := make([]int, len(items))
				for i, x := range items {
					want[i] = x * x
				}
				if !reflect.DeepEqual(got, want) {
					t.Errorf("items %d: got %v, want %v", len(items), got, want)
				}
			}
		})
	}
}

func TestClusterImmutable(t *testing.T) {
	ctx := context.Background()
	cl := NewCluster(clusterFlags(t))
	sess, err := cl.AcquireContext(ctx, "immutable")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Shutdown()
	items := []int{1, 2, 3}
	c, err := cl.Distribute(ctx, sess, items)
	if err != nil {
		t.Fatal(err)
	}
	items[0] = 100
	once, err := cl.MapSquare(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := cl.MapSquare(ctx, once)
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range []struct {
		c    Collection
		want []int
	}{
		{c, []int{1, 2, 3}},
		{once, []int{1, 4, 9}},
		{twice, []int{1, 16, 81}},
	} {
		got, err := cl.Collect(ctx, x.c)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, x.want) {
			t.Errorf("got %v, want %v", got, x.want)
		}
	}
}

func TestClusterUnreachable(t *testing.T) {
	var b bytes.Buffer
	fl := clusterFlags(t, "-system", "unreachable")
	r := NewRunner(NewCluster(fl), Config{AppName: sliceflags.DefaultAppName})
	err := r.Run(context.Background(), &b)
	e, ok := err.(*ContextAcquisitionError)
	if !ok {
		t.Fatalf("expected ContextAcquisitionError, got %v", err)
	}
	if got, want := e.Master, "unreachable"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !errors.Is(errors.Unavailable, e.Err) {
		t.Errorf("expected Unavailable, got %v", e.Err)
	}
	if b.Len() != 0 {
		t.Errorf("unexpected output %q", b.String())
	}
	if got, want := r.State(), Failed; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestClusterEmptyAppName(t *testing.T) {
	_, err := NewCluster(clusterFlags(t)).AcquireContext(context.Background(), "")
	if _, ok := err.(*ContextAcquisitionError); !ok {
		t.Fatalf("expected ContextAcquisitionError, got %v", err)
	}
}

func TestClusterOverflow(t *testing.T) {
	for _, system := range systems {
		t.Run(system, func(t *testing.T) {
			ctx := context.Background()
			cl := NewCluster(clusterFlags(t, "-system", system))
			sess, err := cl.AcquireContext(ctx, "overflow")
			if err != nil {
				t.Fatal(err)
			}
			defer sess.Shutdown()
			for _, items := range [][]int{{MaxItem + 1}, {3, -MaxItem - 1}, {1 << 32}} {
				if _, err := cl.Distribute(ctx, sess, items); !errors.Is(errors.Invalid, err) {
					t.Errorf("%v: expected Invalid, got %v", items, err)
				}
			}
			c, err := cl.Distribute(ctx, sess, []int{-MaxItem, 2, MaxItem})
			if err != nil {
				t.Fatal(err)
			}
			if c, err = cl.MapSquare(ctx, c); err != nil {
				t.Fatal(err)
			}
			got, err := cl.Collect(ctx, c)
			if err != nil {
				t.Fatal(err)
			}
			if want := []int{MaxItem * MaxItem, 4, MaxItem * MaxItem}; !reflect.DeepEqual(got, want) {
				t.Errorf("got %v, want %v", got, want)
			}
			if _, err := cl.MapSquare(ctx, c); !errors.Is(errors.Invalid, err) {
				t.Errorf("expected Invalid, got %v", err)
			}
		})
	}
}

func TestClusterDefaultParallelism(t *testing.T) {
	ctx := context.Background()
	cl := NewCluster(clusterFlags(t))
	sess, err := cl.AcquireContext(ctx, "parallelism")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Shutdown()
	cs := sess.(*clusterSession)
	if got, want := cs.Parallelism(), runtime.GOMAXPROCS(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	c, err := cl.Distribute(ctx, sess, []int{3})
	if err != nil {
		t.Fatal(err)
	}
	c, err = cl.MapSquare(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	got, err := cl.Collect(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{9}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
