// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"github.com/grailbio/base/config"
	"github.com/grailbio/bigmachine"
)

// ConfigName is the name of the config instance that provides a
// *Session.
const ConfigName = "minislice"

func init() {
	config.Register(ConfigName, func(constr *config.Constructor) {
		sess := newSession()
		var system bigmachine.System
		constr.IntVar(&sess.p, "parallelism", 1, "allowable parallelism for the job")
		constr.IntVar(&sess.machines, "machines", 0, "number of machines started by the bigmachine executor; 0 derives it from parallelism")
		constr.StringVar(&sess.name, "name", DefaultName, "application name used for status and events")
		constr.InstanceVar(&system, "system", "", "the bigmachine system used for job execution; the local executor is used if empty")
		constr.InstanceVar(&sess.eventer, "eventer", "eventer", "the event logger used to log session events")
		constr.Doc = "minislice configures the minislice runtime"
		constr.New = func() (interface{}, error) {
			if sess.p <= 0 {
				sess.p = 1
			}
			if system != nil {
				sess.executor = newBigmachineExecutor(system)
			} else {
				sess.executor = newLocalExecutor()
			}
			if err := sess.start(); err != nil {
				return nil, err
			}
			return sess, nil
		}
	})
}
