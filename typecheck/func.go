// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"reflect"

	"github.com/grailbio/minislice/slicetype"
)

// Func deconstructs the function fn into its argument and return
// types. Func returns false if fn is not a func value.
func Func(fn interface{}) (arg, ret slicetype.Type, ok bool) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return nil, nil, false
	}
	in := make([]reflect.Type, t.NumIn())
	for i := range in {
		in[i] = t.In(i)
	}
	out := make([]reflect.Type, t.NumOut())
	for i := range out {
		out[i] = t.Out(i)
	}
	return slicetype.New(in...), slicetype.New(out...), true
}

// CanApply returns whether a function with argument types in may be
// applied to values of type arg.
func CanApply(in, arg slicetype.Type) bool {
	return slicetype.Assignable(arg, in)
}
