// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package slicetype

import (
	"reflect"
	"testing"
)

var (
	typeOfString = reflect.TypeOf("")
	typeOfInt    = reflect.TypeOf(0)
)

func TestType(t *testing.T) {
	types := []reflect.Type{typeOfString, typeOfInt}
	typ := New(types...)
	if got, want := Columns(typ), types; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !Assignable(typ, typ) {
		t.Error("types should be assignable to themselves")
	}
	if Assignable(typ, New(typeOfInt)) {
		t.Error("types of different arity should not be assignable")
	}
	if got, want := String(typ), "slice[string,int]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSignature(t *testing.T) {
	for _, c := range []struct {
		arg, ret Type
		want     string
	}{
		{New(typeOfInt), New(typeOfInt), "func(int) int"},
		{New(), New(), "func()"},
		{New(typeOfInt, typeOfString), New(typeOfString, typeOfInt), "func(int, string) (string, int)"},
	} {
		if got := Signature(c.arg, c.ret); got != c.want {
			t.Errorf("got %v, want %v", got, c.want)
		}
	}
}
