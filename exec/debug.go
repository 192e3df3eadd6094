// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/grailbio/base/log"
)

// sortedRoots returns the session's root tasks ordered by name.
func (s *Session) sortedRoots() []*Task {
	s.mu.Lock()
	roots := make([]*Task, 0, len(s.roots))
	for task := range s.roots {
		roots = append(roots, task)
	}
	s.mu.Unlock()
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].Name.String() < roots[j].Name.String()
	})
	return roots
}

// handleTasks writes a plain-text rendering of every task graph
// run by the session.
func (s *Session) handleTasks(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("content-type", "text/plain; charset=utf-8")
	roots := s.sortedRoots()
	if len(roots) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	fmt.Fprintf(w, "session %s (%s executor): %s\n", s.name, s.executor.Name(), stateCounts(roots))
	for _, task := range roots {
		task.WriteGraph(w)
	}
}

// handleTasksGraph serves the session's task graph as JSON nodes
// and links.
func (s *Session) handleTasksGraph(w http.ResponseWriter, r *http.Request) {
	roots := s.sortedRoots()
	isRoot := make(map[*Task]bool, len(roots))
	for _, task := range roots {
		isRoot[task] = true
	}
	tasks := make(map[*Task]bool, 2*len(roots))
	for _, task := range roots {
		task.all(tasks)
	}
	ordered := make([]*Task, 0, len(tasks))
	for task := range tasks {
		ordered = append(ordered, task)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Name.String() < ordered[j].Name.String()
	})
	indexed := make(map[*Task]int, len(ordered))
	for i, task := range ordered {
		indexed[task] = i
	}

	type node struct {
		Name  string `json:"name"`
		State string `json:"state"`
		Root  bool   `json:"root"`
	}
	type link struct {
		Source int `json:"source"`
		Target int `json:"target"`
	}
	var graph struct {
		Nodes []node `json:"nodes"`
		Links []link `json:"links"`
	}
	graph.Nodes = make([]node, len(ordered))
	for i, task := range ordered {
		graph.Nodes[i] = node{
			Name:  task.Name.String(),
			State: task.State().String(),
			Root:  isRoot[task],
		}
		for _, dep := range task.Deps {
			for _, deptask := range dep.Tasks {
				graph.Links = append(graph.Links, link{i, indexed[deptask]})
			}
		}
	}
	w.Header().Add("content-type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(graph); err != nil {
		log.Error.Printf("Session.handleTasksGraph: json.Encode: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
