// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"errors"
	"fmt"
	"runtime"
)

// Error is a typechecking error annotated with the source location
// to which it is attributed.
type Error struct {
	Err  error
	File string
	Line int
}

// NewError returns an Error for err, attributed to the caller
// calldepth frames above NewError's caller.
func NewError(calldepth int, err error) *Error {
	e := &Error{Err: err}
	var ok bool
	if _, e.File, e.Line, ok = runtime.Caller(calldepth + 1); !ok {
		e.File = "<unknown>"
	}
	return e
}

// Errorf is NewError with a fmt.Errorf-formatted error.
func Errorf(calldepth int, format string, args ...interface{}) *Error {
	return NewError(calldepth+1, fmt.Errorf(format, args...))
}

// Panic panics with a typechecking error carrying message.
func Panic(calldepth int, message string) {
	panic(NewError(calldepth+1, errors.New(message)))
}

// Panicf panics with a formatted typechecking error.
func Panicf(calldepth int, format string, args ...interface{}) {
	panic(Errorf(calldepth+1, format, args...))
}

func (err *Error) Error() string {
	return fmt.Sprintf("%s:%d: %v", err.File, err.Line, err.Err)
}

// Location must be deferred. It recovers a typechecking panic,
// reattributes it to file:line, and panics again. Other panics
// pass through untouched.
//
//	defer typecheck.Location(file, line)
func Location(file string, line int) {
	e := recover()
	if e == nil {
		return
	}
	err, ok := e.(*Error)
	if !ok {
		panic(e)
	}
	err.File, err.Line = file, line
	panic(err)
}
