// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package typecheck provides a static analyzer for minislice
// programs.
package typecheck

import (
	"fmt"
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
	"golang.org/x/tools/go/types/typeutil"
)

var Analyzer = &analysis.Analyzer{
	Name: "minislice_typecheck",
	Doc: `check minislice func registrations and call arguments

Basic typechecker for minislice programs. It reports minislice.Func
calls made outside of package-level var declarations, since workers
can only agree on func indices if funcs are registered at init time.
It also inspects session.Run and session.Must calls to ensure the
arguments are compatible with the Func. Checks are limited by static
analysis and are best-effort. For example, the call
	session.Must(ctx, chooseFunc(), args...)
cannot be checked, because it uses chooseFunc() instead of a simple
identifier.`,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

const (
	funcFullName     = "github.com/grailbio/minislice.Func"
	execMustFullName = "(*github.com/grailbio/minislice/exec.Session).Must"
	execRunFullName  = "(*github.com/grailbio/minislice/exec.Session).Run"
)

func run(pass *analysis.Pass) (interface{}, error) {
	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	// funcTypes describes the types of package-level minislice.FuncValues.
	funcTypes := map[string]*types.Signature{}
	// registered holds the minislice.Func calls made in package-level
	// var declarations.
	registered := map[*ast.CallExpr]bool{}

	for _, file := range pass.Files {
		for _, decl := range file.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok {
				continue
			}
			for _, spec := range gen.Specs {
				valueSpec, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for valueIdx, value := range valueSpec.Values {
					call, ok := value.(*ast.CallExpr)
					if !ok || !isFuncCall(pass, call) {
						continue
					}
					registered[call] = true
					if sig := checkFunc(pass, call); sig != nil && valueIdx < len(valueSpec.Names) {
						funcTypes[valueSpec.Names[valueIdx].Name] = sig
					}
				}
			}
		}
	}

	inspect.Preorder([]ast.Node{&ast.CallExpr{}}, func(node ast.Node) {
		call := node.(*ast.CallExpr)
		if isFuncCall(pass, call) {
			if !registered[call] {
				pass.ReportRangef(call,
					"minislice.Func must be registered in a package-level var declaration")
			}
			return
		}
		fn := typeutil.StaticCallee(pass.TypesInfo, call)
		if fn == nil {
			return
		}
		if name := fn.FullName(); name != execRunFullName && name != execMustFullName {
			return
		}
		if len(call.Args) < 2 {
			return
		}
		funcValueIdent, ok := call.Args[1].(*ast.Ident)
		if !ok {
			// The func is more complicated than a simple identifier.
			return
		}
		funcType, ok := funcTypes[funcValueIdent.Name]
		if !ok {
			return
		}
		if call.Ellipsis.IsValid() {
			return
		}

		wantArgTypes := funcType.Params()
		gotArgs := call.Args[2:]
		if want, got := wantArgTypes.Len(), len(gotArgs); want != got {
			pass.ReportRangef(funcValueIdent,
				"minislice type error: %s requires %d arguments, but got %d",
				funcValueIdent.Name, want, got)
			return
		}
		for i, gotArg := range gotArgs {
			wantType := wantArgTypes.At(i).Type()
			gotType := pass.TypesInfo.TypeOf(gotArg)
			if !types.AssignableTo(gotType, wantType) {
				pass.ReportRangef(gotArg,
					"minislice type error: func %q argument %q [%d] requires %v, but got %v",
					funcValueIdent.Name, wantArgTypes.At(i).Name(), i, wantType, gotType)
			}
		}
	})

	return nil, nil
}

func isFuncCall(pass *analysis.Pass, call *ast.CallExpr) bool {
	fn := typeutil.StaticCallee(pass.TypesInfo, call)
	return fn != nil && fn.FullName() == funcFullName
}

// checkFunc checks the argument of a minislice.Func call and returns
// the signature of the registered function, or nil if it is invalid.
func checkFunc(pass *analysis.Pass, call *ast.CallExpr) *types.Signature {
	if len(call.Args) != 1 {
		return nil
	}
	implAst := call.Args[0]
	implType := pass.TypesInfo.TypeOf(implAst)
	implSig, ok := implType.Underlying().(*types.Signature)
	if !ok {
		pass.ReportRangef(implAst, "argument to minislice.Func must be a function, not %v", implType)
		return nil
	}
	var invalid bool
	for i := 0; i < implSig.Params().Len(); i++ {
		param := implSig.Params().At(i)
		if err := checkValidFuncArg(param.Type()); err != nil {
			pass.Reportf(param.Pos(),
				"minislice type error: Func argument %q [%d]: %v", param.Name(), i, err)
			invalid = true
		}
	}
	if invalid {
		return nil
	}
	return implSig
}

// checkValidFuncArg returns an error if values of typ cannot be
// transmitted to workers.
func checkValidFuncArg(typ types.Type) error {
	switch typ.Underlying().(type) {
	case *types.Chan, *types.Signature:
		return fmt.Errorf("unsupported argument type: %s (can't be serialized)", typ.String())
	default:
		return nil
	}
}
