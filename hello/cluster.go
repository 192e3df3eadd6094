// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hello

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/minislice"
	"github.com/grailbio/minislice/exec"
	"github.com/grailbio/minislice/slicecmd"
	"github.com/grailbio/minislice/sliceflags"
)

// squares is the func evaluated by Collect: items, split into nshard
// shards, squared nsquare times. It is registered at init so that
// workers agree on its index.
var squares = minislice.Func(func(items []int, nshard, nsquare int) minislice.Slice {
	slice := minislice.Const(nshard, items)
	for i := 0; i < nsquare; i++ {
		slice = minislice.Map(slice, square)
	}
	return slice
})

func square(x int) int { return x * x }

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// Cluster is a Framework backed by a minislice session. The session's
// system, the master, is selected by Flags.
type Cluster struct {
	Flags sliceflags.Flags
}

// NewCluster returns a cluster configured by the provided flags.
func NewCluster(fl sliceflags.Flags) *Cluster {
	return &Cluster{Flags: fl}
}

type clusterSession struct {
	*exec.Session
}

func (s *clusterSession) AppName() string { return s.Name() }

// clusterCollection is a lazy plan: Distribute and MapSquare only
// record what Collect evaluates.
type clusterCollection struct {
	sess    *clusterSession
	items   []int
	nsquare int
	// max is the largest magnitude among the planned values.
	max int64
}

func (c *clusterCollection) Session() Session { return c.sess }

// AcquireContext implements Framework. It checks that the configured
// system is reachable and starts a session on it.
func (c *Cluster) AcquireContext(ctx context.Context, appName string) (Session, error) {
	master := c.Flags.Master()
	if appName == "" {
		return nil, &ContextAcquisitionError{master, errors.E(errors.Invalid, "empty application name")}
	}
	fl := c.Flags
	fl.AppName = appName
	sess, err := slicecmd.Init(fl)
	if err != nil {
		return nil, &ContextAcquisitionError{master, err}
	}
	log.Printf("%s: acquired session on %s (executor %s, parallelism %d)",
		appName, master, sess.Executor(), sess.Parallelism())
	return &clusterSession{sess}, nil
}

// Distribute implements Framework.
func (c *Cluster) Distribute(ctx context.Context, sess Session, items []int) (Collection, error) {
	cs, ok := sess.(*clusterSession)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("distribute: session %T does not belong to a cluster", sess))
	}
	if err := CheckItems(items); err != nil {
		return nil, err
	}
	coll := &clusterCollection{sess: cs, items: append([]int{}, items...)}
	for _, x := range items {
		if x := abs(int64(x)); x > coll.max {
			coll.max = x
		}
	}
	return coll, nil
}

// MapSquare implements Framework.
func (c *Cluster) MapSquare(ctx context.Context, coll Collection) (Collection, error) {
	cc, ok := coll.(*clusterCollection)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("map: collection %T does not belong to a cluster", coll))
	}
	if !squarable(cc.max) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("map: square of %d overflows", cc.max))
	}
	squared := *cc
	squared.nsquare++
	squared.max *= squared.max
	return &squared, nil
}

// Collect implements Framework. The collection's items are split
// into one shard per unit of parallelism, up to one shard per item.
func (c *Cluster) Collect(ctx context.Context, coll Collection) ([]int, error) {
	cc, ok := coll.(*clusterCollection)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("collect: collection %T does not belong to a cluster", coll))
	}
	nshard := cc.sess.Parallelism()
	if len(cc.items) < nshard {
		nshard = len(cc.items)
	}
	if nshard < 1 {
		nshard = 1
	}
	res, err := cc.sess.Run(ctx, squares, cc.items, nshard, cc.nsquare)
	if err != nil {
		return nil, &JobExecutionError{err}
	}
	var (
		scan   = res.Scanner()
		result = make([]int, 0, len(cc.items))
		x      int
	)
	defer scan.Close()
	for scan.Scan(ctx, &x) {
		result = append(result, x)
	}
	if err := scan.Err(); err != nil {
		return nil, &JobExecutionError{err}
	}
	return result, nil
}
