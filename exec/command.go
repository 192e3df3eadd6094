// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"os"
	"strings"
)

// shellSafe reports whether arg can appear unquoted in an sh command
// line.
func shellSafe(arg string) bool {
	if arg == "" {
		return false
	}
	for _, r := range arg {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		case strings.ContainsRune("-_./:=@%+,", r):
		default:
			return false
		}
	}
	return true
}

// commandLine renders args as an sh command line that parses back
// into args. Arguments are single-quoted only when needed; embedded
// single quotes become '\''.
func commandLine(args []string) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		if shellSafe(arg) {
			b.WriteString(arg)
			continue
		}
		b.WriteByte('\'')
		b.WriteString(strings.Replace(arg, "'", `'\''`, -1))
		b.WriteByte('\'')
	}
	return b.String()
}

// command returns the command line of the running binary, as
// reported in session events.
func command() string { return commandLine(os.Args) }
