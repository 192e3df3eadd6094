// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import "sync"

type onceTask struct {
	once sync.Once
	err  error
}

// TaskOnce runs keyed actions at most once, remembering their
// errors.
type taskOnce sync.Map

// Do invokes do at most once for key and returns its error. Callers
// racing on the same key block until the first invocation completes.
func (t *taskOnce) Do(key interface{}, do func() error) error {
	v, _ := (*sync.Map)(t).LoadOrStore(key, new(onceTask))
	task := v.(*onceTask)
	task.once.Do(func() { task.err = do() })
	return task.err
}

// Forget discards the outcome recorded for key, so that the next Do
// runs again.
func (t *taskOnce) Forget(key interface{}) {
	(*sync.Map)(t).Delete(key)
}
