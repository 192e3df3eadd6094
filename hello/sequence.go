// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hello

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
)

// Sequence is an in-process Framework that represents collections as
// ordered Go slices. It is intended for tests.
type Sequence struct {
	// Master names the simulated endpoint in errors.
	Master string
	// Unreachable simulates a master that cannot be reached:
	// AcquireContext fails.
	Unreachable bool
	// CollectErr, if set, is the cause of every Collect failure.
	CollectErr error
}

type sequenceSession struct {
	appName string
}

func (s *sequenceSession) AppName() string { return s.appName }
func (*sequenceSession) Shutdown()         {}

type sequenceCollection struct {
	sess  *sequenceSession
	items []int
}

func (c *sequenceCollection) Session() Session { return c.sess }

func (s *Sequence) master() string {
	if s.Master == "" {
		return "sequence"
	}
	return s.Master
}

// AcquireContext implements Framework.
func (s *Sequence) AcquireContext(ctx context.Context, appName string) (Session, error) {
	if s.Unreachable {
		return nil, &ContextAcquisitionError{s.master(), errors.E(errors.Unavailable, "master unreachable")}
	}
	if appName == "" {
		return nil, &ContextAcquisitionError{s.master(), errors.E(errors.Invalid, "empty application name")}
	}
	return &sequenceSession{appName}, nil
}

// Distribute implements Framework.
func (s *Sequence) Distribute(ctx context.Context, sess Session, items []int) (Collection, error) {
	ss, ok := sess.(*sequenceSession)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("distribute: session %T does not belong to a sequence", sess))
	}
	if err := CheckItems(items); err != nil {
		return nil, err
	}
	return &sequenceCollection{ss, append([]int{}, items...)}, nil
}

// MapSquare implements Framework.
func (s *Sequence) MapSquare(ctx context.Context, c Collection) (Collection, error) {
	sc, ok := c.(*sequenceCollection)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("map: collection %T does not belong to a sequence", c))
	}
	if err := CheckItems(sc.items); err != nil {
		return nil, errors.E("map", err)
	}
	squared := make([]int, len(sc.items))
	for i, x := range sc.items {
		squared[i] = square(x)
	}
	return &sequenceCollection{sc.sess, squared}, nil
}

// Collect implements Framework.
func (s *Sequence) Collect(ctx context.Context, c Collection) ([]int, error) {
	sc, ok := c.(*sequenceCollection)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("collect: collection %T does not belong to a sequence", c))
	}
	if s.CollectErr != nil {
		return nil, &JobExecutionError{s.CollectErr}
	}
	if err := ctx.Err(); err != nil {
		return nil, &JobExecutionError{err}
	}
	return append([]int{}, sc.items...), nil
}
