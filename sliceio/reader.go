// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sliceio provides the readers, scanners, and codecs through
// which minislice moves frames between tasks, machines, and users.
package sliceio

import (
	"context"
	"io"
	"reflect"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/minislice/frame"
	"github.com/grailbio/minislice/internal/defaultsize"
	"github.com/grailbio/minislice/slicetype"
)

// EOF is returned by Reader.Read when no more data is available. It
// marks a graceful end of output; a stream that ends unexpectedly
// must return a different error.
var EOF = errors.New("EOF")

// A Reader is a stateful stream of records. Each call to Read fills
// the provided frame with the next available records.
type Reader interface {
	// Read reads up to frame.Len() records into frame, whose column
	// types must match those of the underlying data. Read returns the
	// number of records read. EOF is returned when no more records are
	// available; it may be returned together with n > 0.
	//
	// Read should not be called concurrently.
	Read(ctx context.Context, frame frame.Frame) (int, error)
}

// A ReadCloser is a Reader holding resources that must be released.
type ReadCloser interface {
	Reader
	io.Closer
}

type nopCloser struct{ Reader }

func (nopCloser) Close() error { return nil }

// NopCloser returns a ReadCloser whose Close does nothing.
func NopCloser(r Reader) ReadCloser {
	return nopCloser{r}
}

type multiReader struct {
	q   []Reader
	err error
}

// MultiReader returns the logical concatenation of the provided
// readers, read in order. Non-EOF errors are returned immediately and
// are sticky.
func MultiReader(readers ...Reader) Reader {
	return &multiReader{q: readers}
}

func (m *multiReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	for len(m.q) > 0 {
		n, err := m.q[0].Read(ctx, out)
		switch {
		case err == EOF:
			m.q = m.q[1:]
			if n > 0 {
				return n, nil
			}
		case err != nil:
			m.err = err
			return n, err
		case n > 0:
			return n, nil
		}
	}
	return 0, EOF
}

type frameReader struct {
	frame.Frame
}

// FrameReader returns a Reader that reads the provided frame to
// completion.
func FrameReader(f frame.Frame) Reader {
	return &frameReader{f}
}

func (f *frameReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	n := frame.Copy(out, f.Frame)
	f.Frame = f.Frame.Slice(n, f.Frame.Len())
	if f.Frame.Len() == 0 {
		return n, EOF
	}
	return n, nil
}

// ReadAll appends every record of r to the provided column
// pointers, each of which must point to a slice. It is intended for
// tests and small outputs.
func ReadAll(ctx context.Context, r Reader, columns ...interface{}) error {
	ptrs := make([]reflect.Value, len(columns))
	types := make([]reflect.Type, len(columns))
	for i, col := range columns {
		ptrs[i] = reflect.ValueOf(col)
		if ptrs[i].Kind() != reflect.Ptr || ptrs[i].Elem().Kind() != reflect.Slice {
			return errors.E(errors.Invalid, "sliceio.ReadAll: columns must be pointers to slices")
		}
		types[i] = ptrs[i].Type().Elem().Elem()
	}
	buf := frame.Make(slicetype.New(types...), defaultsize.Chunk)
	for {
		n, err := r.Read(ctx, buf)
		if err != nil && err != EOF {
			return err
		}
		for i := range ptrs {
			ptrs[i].Elem().Set(reflect.AppendSlice(ptrs[i].Elem(), buf[i].Slice(0, n).Value()))
		}
		if err == EOF {
			return nil
		}
	}
}

// ReadFull fills f from r. It returns fewer than f.Len() records only
// together with an error (possibly EOF).
func ReadFull(ctx context.Context, r Reader, f frame.Frame) (n int, err error) {
	for n < f.Len() {
		var m int
		m, err = r.Read(ctx, f.Slice(n, f.Len()))
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

type errReader struct{ err error }

// ErrReader returns a reader that returns err on every call to Read.
// ErrReader panics if err is nil.
func ErrReader(err error) Reader {
	if err == nil {
		panic("sliceio.ErrReader: nil error")
	}
	return errReader{err}
}

func (e errReader) Read(ctx context.Context, f frame.Frame) (int, error) {
	return 0, e.err
}

// EmptyReader is a Reader with no records.
type EmptyReader struct{}

// Read implements Reader.
func (EmptyReader) Read(ctx context.Context, f frame.Frame) (int, error) {
	return 0, EOF
}
