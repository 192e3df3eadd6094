// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package frame implements frames: fixed, rectangular buffers of
// column vectors through which minislice moves data. Columns are Go
// slices held as reflect values so that a frame can carry any set of
// column types.
package frame

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/grailbio/minislice/slicetype"
	"github.com/grailbio/minislice/typecheck"
)

// Column is a single column vector of a frame. It always holds a Go
// slice.
type Column reflect.Value

// Index returns the value at index i of the column c.
func (c Column) Index(i int) reflect.Value { return reflect.Value(c).Index(i) }

// ElemType returns the element type of the column.
func (c Column) ElemType() reflect.Type { return reflect.Value(c).Type().Elem() }

// Value returns the reflect.Value that represents this column.
func (c Column) Value() reflect.Value { return reflect.Value(c) }

// Slice slices the column.
func (c Column) Slice(i, j int) Column { return Column(reflect.Value(c).Slice(i, j)) }

// Len returns the column's length.
func (c Column) Len() int { return reflect.Value(c).Len() }

// Cap returns the column's capacity.
func (c Column) Cap() int { return reflect.Value(c).Cap() }

// Interface returns the underlying Go slice.
func (c Column) Interface() interface{} { return reflect.Value(c).Interface() }

// A Frame is a list of column vectors of equal length.
type Frame []Column

// Empty is a frame with no columns. It is passed to readers of
// slices without output columns to drive their computation.
var Empty = Frame{}

// Make returns a frame of the given type, length, and capacity. If
// the capacity is omitted it equals the length.
func Make(types slicetype.Type, frameLen int, frameCap ...int) Frame {
	cap := frameLen
	switch len(frameCap) {
	case 0:
	case 1:
		cap = frameCap[0]
	default:
		panic("frame.Make: invalid capacity")
	}
	f := make(Frame, types.NumOut())
	for i := range f {
		f[i] = Column(reflect.MakeSlice(reflect.SliceOf(types.Out(i)), frameLen, cap))
	}
	return f
}

// Columns constructs a frame from a list of Go slices, one per
// column. Columns panics with a typecheck error if any argument is
// not a slice, or if the column lengths differ.
func Columns(cols ...interface{}) Frame {
	f := make(Frame, len(cols))
	n := -1
	for i, col := range cols {
		val := reflect.ValueOf(col)
		if val.Kind() != reflect.Slice {
			typecheck.Panicf(1, "frame.Columns: expected slice, got %T", col)
		}
		if n < 0 {
			n = val.Len()
		} else if val.Len() != n {
			typecheck.Panicf(1, "frame.Columns: column %d has length %d, previous columns have length %d", i, val.Len(), n)
		}
		f[i] = Column(val)
	}
	return f
}

// Append appends the rows of g to f with the semantics of Go's
// append. A nil f takes its column types from g.
func Append(f, g Frame) Frame {
	if f == nil {
		f = make(Frame, len(g))
		for i := range f {
			f[i] = Column(reflect.Zero(g[i].Value().Type()))
		}
	}
	for i := range f {
		f[i] = Column(reflect.AppendSlice(f[i].Value(), g[i].Value()))
	}
	return f
}

// Copy copies rows from src to dst and returns the number of rows
// copied.
func Copy(dst, src Frame) int {
	var n int
	for i := range dst {
		n = reflect.Copy(dst[i].Value(), src[i].Value())
	}
	return n
}

// Slice returns the rows [i, j) of f.
func (f Frame) Slice(i, j int) Frame {
	if f == nil {
		return nil
	}
	if i == 0 && j == f.Len() {
		return f
	}
	g := make(Frame, len(f))
	for k := range g {
		g[k] = f[k].Slice(i, j)
	}
	return g
}

// Len returns the frame's length.
func (f Frame) Len() int {
	if len(f) == 0 {
		return 0
	}
	return f[0].Len()
}

// Cap returns the frame's capacity.
func (f Frame) Cap() int {
	if len(f) == 0 {
		return 0
	}
	return f[0].Cap()
}

// IsZero tells whether f is the zero frame.
func (f Frame) IsZero() bool { return f == nil }

// NumOut implements slicetype.Type.
func (f Frame) NumOut() int { return len(f) }

// Out implements slicetype.Type.
func (f Frame) Out(i int) reflect.Type { return f[i].ElemType() }

// Realloc returns a frame of length n, reusing f when it has the
// capacity. The contents of a reallocated frame are not preserved.
func (f Frame) Realloc(typ slicetype.Type, n int) Frame {
	if n <= f.Cap() {
		return f.Slice(0, n)
	}
	return Make(typ, n)
}

// CopyIndex copies row i into the provided slice of column values.
func (f Frame) CopyIndex(row []reflect.Value, i int) {
	for j := range row {
		row[j] = f[j].Index(i)
	}
}

// Interface returns row i as a slice of empty interfaces.
func (f Frame) Interface(i int) []interface{} {
	row := make([]interface{}, len(f))
	for j := range f {
		row[j] = f[j].Index(i).Interface()
	}
	return row
}

func (f Frame) String() string {
	types := make([]string, len(f))
	for i := range f {
		types[i] = f[i].ElemType().String()
	}
	return fmt.Sprintf("frame[%d]%s", f.Len(), strings.Join(types, ","))
}

// WriteTab writes the frame as a table to w.
func (f Frame) WriteTab(w io.Writer) {
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	types := make([]string, len(f))
	for i := range f {
		types[i] = f[i].ElemType().String()
	}
	fmt.Fprintln(&tw, strings.Join(types, "\t"))
	values := make([]string, len(f))
	for i := 0; i < f.Len(); i++ {
		for j := range f {
			values[j] = fmt.Sprint(f[j].Index(i))
		}
		fmt.Fprintln(&tw, strings.Join(values, "\t"))
	}
	tw.Flush()
}

// TabString returns the frame formatted by WriteTab.
func (f Frame) TabString() string {
	var b bytes.Buffer
	f.WriteTab(&b)
	return b.String()
}

// Equal tells whether f1 and f2 are deeply equal.
func Equal(f1, f2 Frame) bool {
	if len(f1) != len(f2) {
		return false
	}
	for i := range f1 {
		if !reflect.DeepEqual(f1[i].Interface(), f2[i].Interface()) {
			return false
		}
	}
	return true
}
