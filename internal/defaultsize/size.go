// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package defaultsize holds the sizes of the frames used to move
// records between readers, executors, and workers.
package defaultsize

import "flag"

// Chunk is the default frame size (number of rows), configured by flag.
var Chunk int

func init() {
	flag.IntVar(&Chunk, "minislice-internal-default-chunk-rows", 1024,
		"number of rows in the frames read from tasks and scanners")
}
