// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/exec"
	"github.com/grailbio/minislice/sliceio"
)

// squaresTest squares the integers 0 through n-1, produced by a
// reader func so that the input never travels with the invocation.
var squaresTest = minislice.Func(func(n, nshard int) minislice.Slice {
	slice := minislice.ReaderFunc(nshard, rangeReader(n, nshard))
	return minislice.Map(slice, func(x int) int { return x * x })
})

// rangeReader returns a reader func whose shards, read in order,
// produce 0, 1, ..., n-1.
func rangeReader(n, nshard int) func(int, []int) (int, error) {
	var (
		mu   sync.Mutex
		next = make(map[int]int)
	)
	return func(shard int, vals []int) (int, error) {
		beg, end := shard*n/nshard, (shard+1)*n/nshard
		mu.Lock()
		off, ok := next[shard]
		if !ok {
			off = beg
		}
		k := end - off
		if k > len(vals) {
			k = len(vals)
		}
		next[shard] = off + k
		mu.Unlock()
		for i := range vals[:k] {
			vals[i] = off + i
		}
		if off+k == end {
			return k, sliceio.EOF
		}
		return k, nil
	}
}

func squares(sess *exec.Session, args []string) error {
	var (
		flags  = flag.NewFlagSet("squares", flag.ExitOnError)
		n      = flags.Int("n", 1e7, "number of integers to square")
		nshard = flags.Int("nshard", 0, "number of shards; defaults to the session's parallelism")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: slicer squares [-n N] [-nshard S]`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}
	if *nshard <= 0 {
		*nshard = sess.Parallelism()
	}
	ctx := context.Background()
	res, err := sess.Run(ctx, squaresTest, *n, *nshard)
	if err != nil {
		return err
	}
	scan := res.Scanner()
	defer scan.Close()
	var i, x int
	for scan.Scan(ctx, &x) {
		if x != i*i {
			return errors.E(errors.Integrity, fmt.Sprintf("record %d: got %d, want %d", i, x, i*i))
		}
		i++
	}
	if err := scan.Err(); err != nil {
		return err
	}
	if i != *n {
		return errors.E(errors.Integrity, fmt.Sprintf("got %d records, want %d", i, *n))
	}
	log.Printf("squares: verified %d records over %d shards", i, *nshard)
	return nil
}
