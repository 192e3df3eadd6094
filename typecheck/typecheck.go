// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package typecheck contains the typechecking utilities used by
// minislice operators. Errors produced here carry the location of the
// user's call so that misuse is reported where it happened.
package typecheck

import (
	"reflect"

	"github.com/grailbio/minislice/slicetype"
)

// Equal tells whether the the expected and actual slicetypes are equal.
func Equal(expect, actual slicetype.Type) bool {
	if expect.NumOut() != actual.NumOut() {
		return false
	}
	for i := 0; i < expect.NumOut(); i++ {
		if expect.Out(i) != actual.Out(i) {
			return false
		}
	}
	return true
}

// Slices returns the slicetype whose columns are the element types of
// the provided column values. It returns false if any value is not a
// Go slice.
func Slices(columns ...interface{}) (slicetype.Type, bool) {
	types := make([]reflect.Type, len(columns))
	for i, col := range columns {
		t := reflect.TypeOf(col)
		if t == nil || t.Kind() != reflect.Slice {
			return nil, false
		}
		types[i] = t.Elem()
	}
	return slicetype.New(types...), true
}
