// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"errors"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/grailbio/minislice/slicetype"
)

var (
	typeOfString = reflect.TypeOf("")
	typeOfInt    = reflect.TypeOf(0)
)

func TestEqual(t *testing.T) {
	for _, c := range []struct{ t1, t2 slicetype.Type }{
		{slicetype.New(typeOfString), slicetype.New()},
		{slicetype.New(typeOfInt, typeOfString), slicetype.New(typeOfString, typeOfInt)},
		{slicetype.New(typeOfString), slicetype.New(typeOfInt)},
	} {
		if Equal(c.t1, c.t2) {
			t.Errorf("types %s and %s are equal", slicetype.String(c.t1), slicetype.String(c.t2))
		}
	}
	typ := slicetype.New(typeOfInt, typeOfString)
	if !Equal(typ, typ) {
		t.Errorf("type %s not equal to itself", slicetype.String(typ))
	}
}

func TestSlices(t *testing.T) {
	typ, ok := Slices([]int{1, 2}, []string{"a", "b"})
	if !ok {
		t.Fatal("!ok")
	}
	if got, want := typ, slicetype.New(typeOfInt, typeOfString); !Equal(got, want) {
		t.Errorf("got %v, want %v", slicetype.String(got), slicetype.String(want))
	}
	if _, ok := Slices([]int{1}, 2); ok {
		t.Error("ok")
	}
	if _, ok := Slices(nil); ok {
		t.Error("ok")
	}
}

func TestFunc(t *testing.T) {
	arg, ret, ok := Func(func(int, string) string { return "" })
	if !ok {
		t.Fatal("!ok")
	}
	if got, want := arg, slicetype.New(typeOfInt, typeOfString); !Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := ret, slicetype.New(typeOfString); !Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !CanApply(arg, slicetype.New(typeOfInt, typeOfString)) {
		t.Error("expected function to apply")
	}
	if CanApply(arg, slicetype.New(typeOfInt)) {
		t.Error("unexpected application")
	}
	if _, _, ok := Func(123); ok {
		t.Error("ok")
	}
}

func TestErrorLocation(t *testing.T) {
	_, file, line, _ := runtime.Caller(0)
	err := NewError(0, errors.New("bad column"))
	if got, want := err.File, file; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := err.Line, line+1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	func() {
		defer func() {
			e, ok := recover().(*Error)
			if !ok {
				t.Fatal("expected typecheck error")
			}
			if got, want := e.Error(), "elsewhere.go:7: bad thing 1"; got != want {
				t.Errorf("got %q, want %q", got, want)
			}
		}()
		defer Location("elsewhere.go", 7)
		Panicf(0, "bad thing %d", 1)
	}()
	if !strings.HasSuffix(err.Error(), "bad column") {
		t.Errorf("unexpected error string %q", err.Error())
	}
}
