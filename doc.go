// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package minislice implements a small distributed data processing
	engine. Users build computations from ordered, sharded collections
	of data ("slices") and a handful of combinators; package exec
	compiles them into tasks and runs the tasks either in-process or on
	a cluster of bigmachine workers.

	Because Go cannot serialize code, programs follow two rules:

	1. All slices are built inside minislice funcs (minislice.Func), and
	every func is created before exec.Start is called, in the same order
	in every process. Declaring funcs as package-level variables
	satisfies this rule.

	2. The driver binary must match the GOOS and GOARCH of its workers,
	since workers run copies of it.

	A computation looks like:

		var squares = minislice.Func(func(values []int) minislice.Slice {
			slice := minislice.Const(2, values)
			return minislice.Map(slice, func(x int) int { return x * x })
		})

	and is evaluated by an exec.Session:

		sess, err := exec.Start(exec.Local)
		...
		res, err := sess.Run(ctx, squares, []int{1, 2, 3, 4})
*/
package minislice
