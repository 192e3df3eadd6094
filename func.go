// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package minislice

import (
	"encoding/gob"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/grailbio/minislice/typecheck"
)

func init() {
	gob.Register([]interface{}{})
}

var typeOfSlice = reflect.TypeOf((*Slice)(nil)).Elem()

var (
	// Funcs is the process-wide registry of funcs, indexed by
	// registration order. Workers find the func of an invocation by
	// its index, so funcs must be registered in the same order in
	// every process.
	funcsMu sync.Mutex
	funcs   []*FuncValue
)

// A FuncValue is a minislice func, as returned by Func.
type FuncValue struct {
	fn       reflect.Value
	args     []reflect.Type
	index    int
	location string
}

// Func registers fn as a minislice func. fn must return a single
// Slice. Funcs are how slices are named across process boundaries:
// a worker reconstructs a slice by invoking the same func with the
// same arguments. Non-interface argument types are registered with
// gob so that invocations can be transmitted.
func Func(fn interface{}) *FuncValue {
	fv := reflect.ValueOf(fn)
	ftype := fv.Type()
	if ftype.Kind() != reflect.Func {
		typecheck.Panicf(1, "minislice.Func: argument to func is a %T, not a func", fn)
	}
	if ftype.NumOut() != 1 || ftype.Out(0) != typeOfSlice {
		typecheck.Panicf(1, "minislice.Func: func must return a single minislice.Slice")
	}
	v := &FuncValue{fn: fv}
	for i := 0; i < ftype.NumIn(); i++ {
		typ := ftype.In(i)
		v.args = append(v.args, typ)
		if typ.Kind() != reflect.Interface {
			gob.Register(reflect.Zero(typ).Interface())
		}
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		v.location = fmt.Sprintf("%s:%d", file, line)
	}
	funcsMu.Lock()
	v.index = len(funcs)
	funcs = append(funcs, v)
	funcsMu.Unlock()
	return v
}

// FuncByIndex returns the func registered with index.
func FuncByIndex(index uint64) (*FuncValue, bool) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	if index >= uint64(len(funcs)) {
		return nil, false
	}
	return funcs[index], true
}

// FuncLocations returns the source locations at which funcs were
// registered, in registration order. Two processes with equal
// FuncLocations agree on func indices.
func FuncLocations() []string {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	locs := make([]string, len(funcs))
	for i, f := range funcs {
		locs[i] = f.location
	}
	return locs
}

// NumIn returns the number of input arguments to f.
func (f *FuncValue) NumIn() int { return len(f.args) }

// In returns the i'th argument type of function f.
func (f *FuncValue) In(i int) reflect.Type { return f.args[i] }

// Invocation returns an invocation of f with the provided arguments,
// attributed to the given source location. Invocation panics with a
// typecheck error if the arguments do not match f's signature.
func (f *FuncValue) Invocation(location string, args ...interface{}) Invocation {
	types := make([]reflect.Type, len(args))
	for i, arg := range args {
		types[i] = reflect.TypeOf(arg)
	}
	f.typecheck(types...)
	return Invocation{
		Index:    atomic.AddUint64(&invocationIndex, 1),
		Func:     uint64(f.index),
		Args:     args,
		Location: location,
	}
}

// Apply calls f with the provided arguments and returns the
// resulting slice.
func (f *FuncValue) Apply(args ...interface{}) Slice {
	argv := make([]reflect.Value, len(args))
	types := make([]reflect.Type, len(args))
	for i := range argv {
		argv[i] = reflect.ValueOf(args[i])
		types[i] = reflect.TypeOf(args[i])
	}
	f.typecheck(types...)
	for i := range argv {
		// Nil interface arguments arrive without a type.
		if !argv[i].IsValid() {
			argv[i] = reflect.Zero(f.args[i])
		}
	}
	return f.fn.Call(argv)[0].Interface().(Slice)
}

func (f *FuncValue) typecheck(args ...reflect.Type) {
	if len(args) != len(f.args) {
		typecheck.Panicf(2, "wrong number of arguments: function takes %d arguments, got %d", len(f.args), len(args))
	}
	for i, have := range args {
		expect := f.args[i]
		switch {
		case have == nil:
			switch expect.Kind() {
			case reflect.Interface, reflect.Slice, reflect.Map, reflect.Ptr:
			default:
				typecheck.Panicf(2, "wrong type for argument %d: expected %s, got nil", i, expect)
			}
		case expect.Kind() == reflect.Interface:
			if !have.Implements(expect) {
				typecheck.Panicf(2, "wrong type for argument %d: type %s does not implement interface %s", i, have, expect)
			}
		case have != expect:
			typecheck.Panicf(2, "wrong type for argument %d: expected %s, got %s", i, expect, have)
		}
	}
}

var invocationIndex uint64

// An Invocation is a func applied to a set of arguments. Invocations
// are gob-encodable so that remote executors may reconstruct the
// invoked slice. Index is unique among the invocations of a process.
type Invocation struct {
	Index    uint64
	Func     uint64
	Args     []interface{}
	Location string
}

// Invoke applies the invocation's func to its arguments.
func (inv Invocation) Invoke() Slice {
	f, ok := FuncByIndex(inv.Func)
	if !ok {
		panic(fmt.Sprintf("minislice: invocation %d names unregistered func %d", inv.Index, inv.Func))
	}
	return f.Apply(inv.Args...)
}

func (inv Invocation) String() string {
	return fmt.Sprintf("invocation %d (func %d) at %s", inv.Index, inv.Func, inv.Location)
}
