// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sliceio

import (
	"context"
	"reflect"

	"github.com/grailbio/minislice/frame"
	"github.com/grailbio/minislice/internal/defaultsize"
	"github.com/grailbio/minislice/slicetype"
	"github.com/grailbio/minislice/typecheck"
)

// A Scanner reads records one at a time from a Reader. Scan returns
// true while records remain; once it returns false, Err tells
// whether scanning stopped because of an error.
type Scanner struct {
	typ    slicetype.Type
	reader ReadCloser

	err      error
	in       frame.Frame
	beg, end int
}

// NewScanner returns a scanner of records of type typ read from r.
func NewScanner(typ slicetype.Type, r ReadCloser) *Scanner {
	return &Scanner{typ: typ, reader: r}
}

// Scan stores the next record in the provided column pointers, whose
// arity and types must match the scanned data.
func (s *Scanner) Scan(ctx context.Context, out ...interface{}) bool {
	if s.err != nil {
		return false
	}
	if len(out) != s.typ.NumOut() {
		s.err = typecheck.Errorf(1, "wrong arity: expected %d columns, got %d", s.typ.NumOut(), len(out))
		return false
	}
	for i := range out {
		if got, want := reflect.TypeOf(out[i]), reflect.PtrTo(s.typ.Out(i)); got != want {
			s.err = typecheck.Errorf(1, "wrong type for argument %d: expected %s, got %s", i, want, got)
			return false
		}
	}
	if s.in == nil {
		s.in = frame.Make(s.typ, defaultsize.Chunk)
	}
	for s.beg == s.end {
		if s.reader == nil {
			s.err = EOF
			return false
		}
		n, err := s.reader.Read(ctx, s.in)
		if err != nil && err != EOF {
			s.err = err
			return false
		}
		s.beg, s.end = 0, n
		if err == EOF {
			s.closeReader()
		}
	}
	for i, col := range out {
		reflect.ValueOf(col).Elem().Set(s.in[i].Index(s.beg))
	}
	s.beg++
	return true
}

// Err returns the error that stopped scanning, if any.
func (s *Scanner) Err() error {
	if s.err == EOF {
		return nil
	}
	return s.err
}

// Close releases the scanner's underlying reader.
func (s *Scanner) Close() error {
	if s.err == nil {
		s.err = EOF
	}
	return s.closeReader()
}

func (s *Scanner) closeReader() error {
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}
