// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sliceio

import (
	"bytes"
	"context"
	"math/rand"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/minislice/frame"
	"github.com/grailbio/minislice/slicetype"
)

type testStruct struct{ A, B, C int }

var (
	typeOfString = reflect.TypeOf("")
	typeOfInt    = reflect.TypeOf(0)
)

func TestDecodingReader(t *testing.T) {
	const N = 5000
	fz := fuzz.New()
	fz.NilChance(0)
	fz.NumElements(N, N)
	var (
		col1 []string
		col2 []int
		col3 []testStruct
	)
	fz.Fuzz(&col1)
	fz.Fuzz(&col2)
	fz.Fuzz(&col3)
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := 0; i < N; {
		n := int(rand.Int31n(int32(N-i))) + 1
		if err := enc.Encode(frame.Columns(col1[i:i+n], col2[i:i+n], col3[i:i+n])); err != nil {
			t.Fatal(err)
		}
		i += n
	}
	var (
		col1x []string
		col2x []int
		col3x []testStruct
	)
	if err := ReadAll(context.Background(), NewDecodingReader(&buf), &col1x, &col2x, &col3x); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(col1, col1x) {
		t.Error("col1 mismatch")
	}
	if !reflect.DeepEqual(col2, col2x) {
		t.Error("col2 mismatch")
	}
	if !reflect.DeepEqual(col3, col3x) {
		t.Error("col3 mismatch")
	}
}

func TestEmptyDecodingReader(t *testing.T) {
	r := NewDecodingReader(bytes.NewReader(nil))
	f := frame.Make(slicetype.New(typeOfString, typeOfInt), 100)
	for i := 0; i < 2; i++ {
		n, err := r.Read(context.Background(), f)
		if got, want := n, 0; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := err, EOF; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestDecodingReaderCorrupted(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(frame.Columns([]int{1, 2, 3, 4})); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	// The last byte belongs to the checksum.
	b[len(b)-1] ^= 0x1
	var out []int
	err := ReadAll(context.Background(), NewDecodingReader(bytes.NewReader(b)), &out)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Integrity, err) {
		t.Errorf("unexpected error %v", err)
	}
}
