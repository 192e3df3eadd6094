// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hello

import "fmt"

// ContextAcquisitionError is returned by Framework.AcquireContext
// when the cluster cannot be reached or initialized.
type ContextAcquisitionError struct {
	// Master describes the cluster endpoint.
	Master string
	// Err is the framework's error.
	Err error
}

func (e *ContextAcquisitionError) Error() string {
	return fmt.Sprintf("acquire context from %s: %v", e.Master, e.Err)
}

// Unwrap returns the framework's error.
func (e *ContextAcquisitionError) Unwrap() error { return e.Err }

// JobExecutionError is returned by Framework.Collect when the
// distributed computation fails.
type JobExecutionError struct {
	Err error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job execution: %v", e.Err)
}

// Unwrap returns the framework's error.
func (e *JobExecutionError) Unwrap() error { return e.Err }
