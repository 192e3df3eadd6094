// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestTaskOnceConcurrency(t *testing.T) {
	const N = 10
	var (
		once  taskOnce
		wg    sync.WaitGroup
		count uint32
		errs  = make([]error, N)
	)
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = once.Do(123, func() error {
				atomic.AddUint32(&count, 1)
				return nil
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if got, want := count, uint32(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTaskOnceErrorForget(t *testing.T) {
	var (
		once     taskOnce
		expected = errors.New("expected error")
	)
	if got, want := once.Do(123, func() error { return expected }), expected; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := once.Do(123, func() error { panic("should not be called") }), expected; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	once.Forget(123)
	if err := once.Do(123, func() error { return nil }); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}
