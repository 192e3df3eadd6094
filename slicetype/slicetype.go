// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package slicetype describes the column types carried by slices,
// frames, and tasks.
package slicetype

import (
	"fmt"
	"reflect"
	"strings"
)

// A Type is the type of a set of columns.
type Type interface {
	// NumOut returns the number of columns.
	NumOut() int
	// Out returns the data type of the ith column.
	Out(i int) reflect.Type
}

type typeSlice []reflect.Type

// New returns a new Type using the provided column types.
func New(types ...reflect.Type) Type {
	return typeSlice(types)
}

func (t typeSlice) NumOut() int            { return len(t) }
func (t typeSlice) Out(i int) reflect.Type { return t[i] }

// Assignable reports whether column type in can be
// assigned to out.
func Assignable(in, out Type) bool {
	if in.NumOut() != out.NumOut() {
		return false
	}
	for i := 0; i < in.NumOut(); i++ {
		if !in.Out(i).AssignableTo(out.Out(i)) {
			return false
		}
	}
	return true
}

// Columns returns the column types of typ.
func Columns(typ Type) []reflect.Type {
	if slice, ok := typ.(typeSlice); ok {
		return slice
	}
	out := make([]reflect.Type, typ.NumOut())
	for i := range out {
		out[i] = typ.Out(i)
	}
	return out
}

// String returns a string such as "slice[int,string]".
func String(typ Type) string {
	elems := make([]string, typ.NumOut())
	for i := range elems {
		elems[i] = typ.Out(i).String()
	}
	return fmt.Sprintf("slice[%s]", strings.Join(elems, ","))
}

// Signature returns a Go function signature for a function that takes the
// provided arguments and returns the provided values.
func Signature(arg, ret Type) string {
	args := make([]string, arg.NumOut())
	for i := range args {
		args[i] = arg.Out(i).String()
	}
	rets := make([]string, ret.NumOut())
	for i := range rets {
		rets[i] = ret.Out(i).String()
	}
	var b strings.Builder
	b.WriteString("func(")
	b.WriteString(strings.Join(args, ", "))
	b.WriteString(")")
	switch len(rets) {
	case 0:
	case 1:
		b.WriteString(" ")
		b.WriteString(rets[0])
	default:
		b.WriteString(" (")
		b.WriteString(strings.Join(rets, ", "))
		b.WriteString(")")
	}
	return b.String()
}
