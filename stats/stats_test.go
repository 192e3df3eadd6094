// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import "testing"

func TestMap(t *testing.T) {
	m := NewMap()
	x := m.Int("read")
	_ = m.Int("write")
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	x.Add(123)
	m.Int("read").Add(123)
	snap := m.Snapshot()
	if got, want := snap, (Values{"read": 246, "write": 0}); got.String() != want.String() {
		t.Errorf("got %v, want %v", got, want)
	}
	x.Add(1)
	if got, want := snap["read"], int64(246); got != want {
		t.Errorf("snapshot changed: got %v, want %v", got, want)
	}
}

func TestValues(t *testing.T) {
	total := make(Values)
	total.Add(Values{"read": 1, "write": 2})
	total.Add(Values{"read": 10})
	if got, want := total.String(), "read:11 write:2"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	c := total.Copy()
	c["read"] = 0
	if got, want := total["read"], int64(11); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNilInt(t *testing.T) {
	var x *Int
	x.Add(1)
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
