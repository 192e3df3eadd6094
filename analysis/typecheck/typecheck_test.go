// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"go/types"
	"testing"
)

// The analyzer itself is exercised by running cmd/slicetypecheck over
// typechecktest/wrongarg:
//
//	$ go run github.com/grailbio/minislice/cmd/slicetypecheck \
//		github.com/grailbio/minislice/analysis/typecheck/typechecktest/wrongarg
//	<snip>/wrongarg.go:25:34: minislice type error: func "testFunc" argument "argInt" [0] requires int, but got string
//	<snip>/wrongarg.go:26:14: minislice.Func must be registered in a package-level var declaration

func TestCheckValidFuncArg(t *testing.T) {
	valid := []types.Type{
		types.Typ[types.Int],
		types.NewSlice(types.Typ[types.String]),
		types.NewMap(types.Typ[types.String], types.Typ[types.Int]),
	}
	for _, typ := range valid {
		if err := checkValidFuncArg(typ); err != nil {
			t.Errorf("%s: unexpected error %v", typ, err)
		}
	}
	invalid := []types.Type{
		types.NewChan(types.SendRecv, types.Typ[types.Int]),
		types.NewSignature(nil, nil, nil, false),
		types.NewNamed(types.NewTypeName(0, nil, "callback", nil), types.NewSignature(nil, nil, nil, false), nil),
	}
	for _, typ := range invalid {
		if err := checkValidFuncArg(typ); err == nil {
			t.Errorf("%s: expected error", typ)
		}
	}
}

func TestAnalyzer(t *testing.T) {
	if got, want := Analyzer.Name, "minislice_typecheck"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(Analyzer.Requires) != 1 {
		t.Errorf("unexpected requirements %v", Analyzer.Requires)
	}
}
