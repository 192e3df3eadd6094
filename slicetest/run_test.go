// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package slicetest_test

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/slicetest"
)

var words = []string{"few", "espy", "longer", "until", "interesting",
	"thus", "bason", "passage", "classes", "straighten",
	"ill", "property", "combine", "promise", "Chicago",
	"generally", "yellow", "per", "verb", "products",
	"file", "park", "doughty", "changed", "inaureoled",
	"flummoxed", "knife", "ghyll", "none", "bulwark",
	"provide", "background", "purposes", "bivouac", "removed",
	"jr", "adopt", "oil", "clean", "dingle",
	"experience", "population", "coomb", "slightly", "encourage",
	"kill", "mark", "present", "system", "standards",
	"rapid", "mean", "conditions", "control", "within",
	"circlet", "proper", "nothing", "craven", "case",
	"day", "serious", "might", "sound", "hadn't",
	"student", "rhode", "yammer", "caught", "deem",
	"homes", "marry", "stands", "elect", "modern",
	"activity", "servant", "too", "sport", "block",
	"low", "addition", "London", "accept", "unusual",
	"commercial", "grind", "books", "countries", "collect",
	"these", "marriage", "narrow", "honor", "gave",
	"lip", "country", "spring", "watching", "sea",
}

func randString(r *rand.Rand, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(words[r.Intn(len(words))])
	}
	return b.String()
}

func randStringSlice(r *rand.Rand, n int) []string {
	strs := make([]string, n)
	for i := range strs {
		strs[i] = randString(r, r.Intn(5))
	}
	return strs
}

func randIntSlice(r *rand.Rand, n int) []int {
	ints := make([]int, n)
	for i := range ints {
		ints[i] = r.Int()
	}
	return ints
}

var runAndScan = minislice.Func(func(strs []string, ints []int) minislice.Slice {
	return minislice.Const(10, strs, ints)
})

func TestRunAndScan(t *testing.T) {
	const N = 10000
	var (
		r    = rand.New(rand.NewSource(0))
		strs = randStringSlice(r, N)
		ints = randIntSlice(r, N)
	)
	var (
		scannedStrs []string
		scannedInts []int
	)
	args := []interface{}{strs, ints}
	slicetest.RunAndScan(t, runAndScan, args, &scannedStrs, &scannedInts)
	if got, want := len(scannedStrs), N; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := len(scannedInts), N; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	// Results are scanned in collection order.
	if !reflect.DeepEqual(scannedStrs, strs) {
		t.Error("strings do not match")
	}
	if !reflect.DeepEqual(scannedInts, ints) {
		t.Error("ints do not match")
	}
}

var squares = minislice.Func(func(n int) minislice.Slice {
	ints := make([]int, n)
	for i := range ints {
		ints[i] = i + 1
	}
	slice := minislice.Const(2, ints)
	return minislice.Map(slice, func(x int) (int, string) {
		return x * x, fmt.Sprint(x)
	})
})

func ExamplePrint() {
	slicetest.Print(squares, 4)
	// Output:
	// 1 1
	// 4 2
	// 9 3
	// 16 4
}
