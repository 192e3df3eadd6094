// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package minislice

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/minislice/frame"
	"github.com/grailbio/minislice/sliceio"
	"github.com/grailbio/minislice/slicetype"
	"github.com/grailbio/minislice/typecheck"
)

var typeOfError = reflect.TypeOf((*error)(nil)).Elem()

var errTypeError = errors.E(errors.Invalid, "frame type does not match slice type")

// A Dep is a dependency of a Slice. Minislice has no shuffles: shard
// i of a slice is always computed from shard i of its dependencies.
type Dep struct {
	Slice
}

// A Slice is a sharded, ordered collection of records. Each slice
// has zero or more typed columns distributed over one or more
// shards. Records keep their order within a shard, and shards are
// ordered by shard number, so that reading shards 0 through n-1 in
// turn yields the records in collection order.
//
// Go lacks generics, so combinators check types dynamically and panic
// with a typecheck.Error on misuse. Schematically we write the slice
// with column types t1, ..., tn as Slice<t1, ..., tn>.
type Slice interface {
	slicetype.Type
	// Op is a short name for the operation this slice represents.
	Op() string
	// NumShard returns the number of shards in the slice.
	NumShard() int
	// NumDep returns the number of dependencies of the slice.
	NumDep() int
	// Dep returns the i'th dependency of the slice.
	Dep(i int) Dep
	// Reader returns a reader for the given shard. The caller provides
	// a reader for the same shard of each dependency.
	Reader(shard int, deps []sliceio.Reader) sliceio.Reader
}

type constSlice struct {
	slicetype.Type
	frame  frame.Frame
	nshard int
}

// Const returns a slice of the provided columns, each a Go slice of
// the column's type, split into nshard contiguous shards of nearly
// equal size. Shards past the end of the data are empty.
//
//	Const(nshard, []t1, ..., []tn) Slice<t1, ..., tn>
func Const(nshard int, columns ...interface{}) Slice {
	if len(columns) == 0 {
		typecheck.Panic(1, "const: must have at least one column")
	}
	if nshard < 1 {
		typecheck.Panic(1, "const: nshard must be >= 1")
	}
	s := &constSlice{nshard: nshard}
	var ok bool
	if s.Type, ok = typecheck.Slices(columns...); !ok {
		typecheck.Panic(1, "const: columns must be Go slices")
	}
	s.frame = frame.Columns(columns...)
	return s
}

func (*constSlice) Op() string      { return "const" }
func (s *constSlice) NumShard() int { return s.nshard }
func (*constSlice) NumDep() int     { return 0 }
func (*constSlice) Dep(i int) Dep   { panic("const: no deps") }

// Bounds returns the rows [beg, end) of shard.
func (s *constSlice) bounds(shard int) (beg, end int) {
	n := s.frame.Len()
	return shard * n / s.nshard, (shard + 1) * n / s.nshard
}

func (s *constSlice) Reader(shard int, deps []sliceio.Reader) sliceio.Reader {
	beg, end := s.bounds(shard)
	if beg == end {
		return sliceio.EmptyReader{}
	}
	return &typedReader{s, sliceio.FrameReader(s.frame.Slice(beg, end))}
}

// TypedReader checks that callers read with frames of the slice's
// type.
type typedReader struct {
	typ slicetype.Type
	sliceio.Reader
}

func (r *typedReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if !slicetype.Assignable(r.typ, out) {
		return 0, errTypeError
	}
	return r.Reader.Read(ctx, out)
}

type readerFuncSlice struct {
	slicetype.Type
	nshard int
	read   reflect.Value
}

// ReaderFunc returns a slice whose shards are produced by read, which
// must have the form
//
//	func(shard int, col1 []t1, ..., colN []tN) (int, error)
//
// Each call fills the provided column vectors and returns the number
// of records filled; sliceio.EOF signals the end of the shard. Other
// errors are treated as fatal unless they carry a severity.
//
//	ReaderFunc(nshard, read) Slice<t1, ..., tN>
func ReaderFunc(nshard int, read interface{}) Slice {
	arg, ret, ok := typecheck.Func(read)
	if !ok || arg.NumOut() < 2 || arg.Out(0).Kind() != reflect.Int {
		typecheck.Panicf(1, "readerfunc: invalid reader function type %T", read)
	}
	if ret.NumOut() != 2 || ret.Out(0).Kind() != reflect.Int || ret.Out(1) != typeOfError {
		typecheck.Panicf(1, "readerfunc: function %T does not return (int, error)", read)
	}
	cols := make([]reflect.Type, arg.NumOut()-1)
	for i := range cols {
		t := arg.Out(i + 1)
		if t.Kind() != reflect.Slice {
			typecheck.Panicf(1, "readerfunc: argument %d of %T is not a slice", i+1, read)
		}
		cols[i] = t.Elem()
	}
	return &readerFuncSlice{slicetype.New(cols...), nshard, reflect.ValueOf(read)}
}

func (*readerFuncSlice) Op() string      { return "reader" }
func (r *readerFuncSlice) NumShard() int { return r.nshard }
func (*readerFuncSlice) NumDep() int     { return 0 }
func (*readerFuncSlice) Dep(i int) Dep   { panic("reader: no deps") }

type readerFuncReader struct {
	op    *readerFuncSlice
	shard int
	err   error
}

func (r *readerFuncReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if !slicetype.Assignable(out, r.op) {
		return 0, errTypeError
	}
	args := make([]reflect.Value, len(out)+1)
	args[0] = reflect.ValueOf(r.shard)
	for i := range out {
		args[i+1] = out[i].Value()
	}
	rvs := r.op.read.Call(args)
	n := int(rvs[0].Int())
	if e := rvs[1].Interface(); e != nil {
		if err := e.(error); err == sliceio.EOF || errors.Recover(err).Severity != errors.Unknown {
			r.err = err
		} else {
			r.err = errors.E(errors.Fatal, err)
		}
	}
	return n, r.err
}

func (r *readerFuncSlice) Reader(shard int, deps []sliceio.Reader) sliceio.Reader {
	return &readerFuncReader{op: r, shard: shard}
}

type mapSlice struct {
	Slice
	fval reflect.Value
	out  slicetype.Type
}

// Map returns a slice with fn applied to each record of slice. The
// argument types of fn must match the columns of slice; fn's results
// become the columns of the returned slice. Map keeps the sharding
// and record order of its input.
//
//	Map(Slice<t1, ..., tn>, func(t1, ..., tn) (r1, ..., rm)) Slice<r1, ..., rm>
func Map(slice Slice, fn interface{}) Slice {
	arg, ret, ok := typecheck.Func(fn)
	if !ok {
		typecheck.Panicf(1, "map: invalid map function %T", fn)
	}
	if !typecheck.CanApply(arg, slice) {
		typecheck.Panicf(1, "map: function %T does not match input slice type %s", fn, slicetype.String(slice))
	}
	if ret.NumOut() == 0 {
		typecheck.Panic(1, "map: need at least one output column")
	}
	return &mapSlice{slice, reflect.ValueOf(fn), ret}
}

func (m *mapSlice) NumOut() int            { return m.out.NumOut() }
func (m *mapSlice) Out(c int) reflect.Type { return m.out.Out(c) }
func (*mapSlice) Op() string               { return "map" }
func (*mapSlice) NumDep() int              { return 1 }
func (m *mapSlice) Dep(i int) Dep          { return singleDep(i, m.Slice) }

type mapReader struct {
	op     *mapSlice
	reader sliceio.Reader
	in     frame.Frame
	err    error
}

func (m *mapReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	if !slicetype.Assignable(out, m.op) {
		return 0, errTypeError
	}
	m.in = m.in.Realloc(m.op.Slice, out.Len())
	var n int
	n, m.err = m.reader.Read(ctx, m.in)
	args := make([]reflect.Value, len(m.in))
	for i := 0; i < n; i++ {
		for j := range args {
			args[j] = m.in[j].Index(i)
		}
		for j, v := range m.op.fval.Call(args) {
			out[j].Index(i).Set(v)
		}
	}
	return n, m.err
}

func (m *mapSlice) Reader(shard int, deps []sliceio.Reader) sliceio.Reader {
	return &mapReader{op: m, reader: deps[0]}
}

// String returns a short description of the slice and its lineage,
// such as "map<int> <- const<int>".
func String(slice Slice) string {
	var parts []string
	for {
		types := make([]string, slice.NumOut())
		for i := range types {
			types[i] = slice.Out(i).String()
		}
		parts = append(parts, fmt.Sprintf("%s<%s>", slice.Op(), strings.Join(types, ", ")))
		if slice.NumDep() != 1 {
			break
		}
		slice = slice.Dep(0).Slice
	}
	return strings.Join(parts, " <- ")
}

func singleDep(i int, slice Slice) Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	return Dep{slice}
}
