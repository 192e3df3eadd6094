// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ctxsync provides synchronization primitives whose waits
// can be abandoned through a context.
package ctxsync

import (
	"context"
	"sync"
)

// A Cond is a condition variable like sync.Cond, except that Wait
// takes a context and returns early when the context is done. The
// executor uses it to wait for machine capacity.
type Cond struct {
	l     sync.Locker
	waitc chan struct{}
}

// NewCond returns a new Cond guarded by l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{l: l}
}

// Broadcast wakes all current waiters. The caller must hold the
// cond's lock.
func (c *Cond) Broadcast() {
	if c.waitc == nil {
		return
	}
	close(c.waitc)
	c.waitc = nil
}

// Wait releases the cond's lock and waits for the next Broadcast or
// for ctx to be done, reacquiring the lock before returning. Wait
// returns ctx.Err() if ctx finished first. The caller must hold the
// lock.
func (c *Cond) Wait(ctx context.Context) error {
	if c.waitc == nil {
		c.waitc = make(chan struct{})
	}
	waitc := c.waitc
	c.l.Unlock()
	defer c.l.Lock()
	select {
	case <-waitc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
