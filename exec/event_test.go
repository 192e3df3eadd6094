// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/grailbio/base/eventlog"
)

type event struct {
	typ    string
	fields map[string]interface{}
}

// eventRecorder is an eventlog.Eventer that keeps the events it is
// given.
type eventRecorder struct {
	mu     sync.Mutex
	events []event
}

var _ eventlog.Eventer = (*eventRecorder)(nil)

func (r *eventRecorder) Event(typ string, fieldPairs ...interface{}) {
	if len(fieldPairs)%2 != 0 {
		panic(fmt.Sprintf("event %s: odd number of field values", typ))
	}
	fields := make(map[string]interface{})
	for i := 0; i < len(fieldPairs); i += 2 {
		fields[fieldPairs[i].(string)] = fieldPairs[i+1]
	}
	r.mu.Lock()
	r.events = append(r.events, event{typ, fields})
	r.mu.Unlock()
}

func (r *eventRecorder) Events() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event{}, r.events...)
}

func TestSessionEvents(t *testing.T) {
	var rec eventRecorder
	sess, err := Start(Local, Parallelism(3), Name("events"), Eventer(&rec))
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Shutdown()
	events := rec.Events()
	if got, want := len(events), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	start := events[0]
	if got, want := start.typ, "minislice:sessionStart"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for key, want := range map[string]interface{}{
		"name":         "events",
		"executorType": "local",
		"parallelism":  3,
		"command":      command(),
	} {
		if got := start.fields[key]; got != want {
			t.Errorf("%s: got %v, want %v", key, got, want)
		}
	}

	res, err := sess.Run(context.Background(), squaresFunc, []int{1, 2, 3, 4}, 2)
	if err != nil {
		t.Fatal(err)
	}
	events = rec.Events()
	if got, want := len(events), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	run := events[1]
	if got, want := run.typ, "minislice:runStart"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for key, want := range map[string]interface{}{
		"name":       "events",
		"invocation": res.inv.Index,
		"numTasks":   len(res.Tasks()),
	} {
		if got := run.fields[key]; got != want {
			t.Errorf("%s: got %v, want %v", key, got, want)
		}
	}
	if loc, _ := run.fields["location"].(string); !strings.Contains(loc, "event_test.go:") {
		t.Errorf("bad location %q", loc)
	}
}
