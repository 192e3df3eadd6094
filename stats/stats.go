// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides named counters for workers. Counters are
// grouped in a Map, whose snapshots are shipped to the driver and
// summed across machines.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Values is a snapshot of the counters in a Map.
type Values map[string]int64

// Add adds each of the values in w to v.
func (v Values) Add(w Values) {
	for k, n := range w {
		v[k] += n
	}
}

// Copy returns a copy of v.
func (v Values) Copy() Values {
	w := make(Values, len(v))
	w.Add(v)
	return w
}

// String returns the values as "key:value" pairs sorted by key.
func (v Values) String() string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters keyed by name.
type Map struct {
	mu     sync.Mutex
	values map[string]*Int
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{values: make(map[string]*Int)}
}

// Int returns the counter with the provided name, creating it if
// needed.
func (m *Map) Int(name string) *Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.values[name]
	if v == nil {
		v = new(Int)
		m.values[name] = v
	}
	return v
}

// Snapshot returns the current value of every counter in m.
func (m *Map) Snapshot() Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals := make(Values, len(m.values))
	for k, v := range m.values {
		vals[k] = v.Get()
	}
	return vals
}

// An Int is an atomic integer counter. A nil Int ignores updates
// and reads as zero.
type Int struct {
	val int64
}

// Add increments v by delta.
func (v *Int) Add(delta int64) {
	if v != nil {
		atomic.AddInt64(&v.val, delta)
	}
}

// Get returns the current value of v.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}
