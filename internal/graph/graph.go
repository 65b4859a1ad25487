// Package graph provides the task dependency graph used for scheduling
// and for validating task graphs at job creation.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ShayCichocki/conclave/pkg/models"
)

// InvalidTaskGraphError indicates a task graph that can never execute:
// duplicate ids, dependencies on unknown tasks, or a dependency cycle.
// Jobs are rejected at creation with this error, never silently repaired.
type InvalidTaskGraphError struct {
	// Reason is a short category: "duplicate_id", "unknown_dependency", "cycle".
	Reason string
	// TaskIDs lists the offending task ids, sorted.
	TaskIDs []string
}

func (e *InvalidTaskGraphError) Error() string {
	return fmt.Sprintf("invalid task graph: %s involving tasks [%s]",
		e.Reason, strings.Join(e.TaskIDs, ", "))
}

// DependencyGraph is a directed acyclic graph of task dependencies.
// Tasks are nodes; edges point from a task to the tasks it depends on.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task id to the task itself.
	nodes map[string]*models.Task
	// edges maps task id to the ids of tasks it depends on.
	edges map[string][]string
	// order preserves insertion order for deterministic traversal.
	order []string
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*models.Task),
		edges: make(map[string][]string),
	}
}

// Build constructs the graph from a slice of tasks and validates it.
// Returns *InvalidTaskGraphError on duplicate ids, unknown dependencies,
// or cycles.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, task := range tasks {
		if _, exists := g.nodes[task.ID]; exists {
			return &InvalidTaskGraphError{Reason: "duplicate_id", TaskIDs: []string{task.ID}}
		}
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
		g.order = append(g.order, task.ID)
	}

	var dangling []string
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				dangling = append(dangling, task.ID)
				continue
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}
	if len(dangling) > 0 {
		sort.Strings(dangling)
		return &InvalidTaskGraphError{Reason: "unknown_dependency", TaskIDs: dedupe(dangling)}
	}

	if cycle := g.findCycleLocked(); len(cycle) > 0 {
		sort.Strings(cycle)
		return &InvalidTaskGraphError{Reason: "cycle", TaskIDs: cycle}
	}

	return nil
}

// findCycleLocked runs DFS with coloring and returns the members of the
// first cycle found, or nil. Caller must hold the lock.
func (g *DependencyGraph) findCycleLocked() []string {
	// 0 = unvisited, 1 = on the current path, 2 = done.
	colors := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge: everything on the stack from depID onward is the cycle.
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
					if stack[i] == depID {
						break
					}
				}
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		stack = stack[:len(stack)-1]
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalSort returns task ids with every dependency before its
// dependents. Returns *InvalidTaskGraphError if the graph has a cycle.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cycle := g.findCycleLocked(); len(cycle) > 0 {
		sort.Strings(cycle)
		return nil, &InvalidTaskGraphError{Reason: "cycle", TaskIDs: cycle}
	}

	visited := make(map[string]bool, len(g.nodes))
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// Task returns the task for an id, or nil if not present.
func (g *DependencyGraph) Task(id string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the ids a task depends on.
func (g *DependencyGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[id]
}

// Dependents returns the ids of tasks that depend on the given task,
// directly or transitively.
func (g *DependencyGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	reached := make(map[string]bool)
	changed := true
	for changed {
		changed = false
		for _, candidate := range g.order {
			if reached[candidate] {
				continue
			}
			for _, depID := range g.edges[candidate] {
				if depID == id || reached[depID] {
					reached[candidate] = true
					changed = true
					break
				}
			}
		}
	}

	var dependents []string
	for _, candidate := range g.order {
		if reached[candidate] {
			dependents = append(dependents, candidate)
		}
	}
	return dependents
}

// Validate checks a task slice without retaining it. Useful for callers
// that want graph validation before any document exists.
func Validate(tasks []*models.Task) error {
	return New().Build(tasks)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
