// Package deps implements the dependency engine: pure, stateless functions
// over a task set. Cycle detection, validation, ordering and graph analysis
// all operate on snapshots; nothing here touches the store.
package deps

import (
	"fmt"
	"sort"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/task/models"
)

// maxChainDepth is the dependency chain length beyond which validation warns.
const maxChainDepth = 10

// bottleneckFanIn is the number of dependents feeding the critical path at
// which a node is flagged as a bottleneck even when off the path itself.
const bottleneckFanIn = 2

// ValidationResult carries the outcome of a full dependency validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// index builds an id → task lookup for a snapshot.
func index(tasks []*models.Task) map[string]*models.Task {
	m := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

// FindCycle runs a depth-first traversal with a visiting set and returns the
// first cycle encountered as a path of task ids, or nil when the graph is
// acyclic. The traversal order is deterministic (ids ascending).
func FindCycle(tasks []*models.Task) []string {
	byID := index(tasks)

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		task := byID[id]
		if task != nil {
			deps := append([]string(nil), task.Dependencies...)
			sort.Strings(deps)
			for _, dep := range deps {
				if _, exists := byID[dep]; !exists {
					continue // dangling edge, reported by Validate
				}
				switch state[dep] {
				case visiting:
					// Back-edge: slice the stack from the first occurrence.
					for i, sid := range stack {
						if sid == dep {
							cycle := append([]string(nil), stack[i:]...)
							return append(cycle, dep)
						}
					}
				case unvisited:
					if cycle := visit(dep); cycle != nil {
						return cycle
					}
				}
			}
		}
		state[id] = done
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
			stack = stack[:0]
		}
	}
	return nil
}

// CheckWrite validates a proposed task against the current snapshot before a
// write that changes dependencies. It rejects self-dependencies, references
// to absent tasks, and edges that would close a cycle. The proposed task may
// be new or replace an existing record with the same id.
func CheckWrite(tasks []*models.Task, proposed *models.Task) error {
	byID := index(tasks)

	for _, dep := range proposed.Dependencies {
		if dep == proposed.ID {
			return apperrors.SelfDependency(proposed.ID)
		}
		if _, ok := byID[dep]; !ok {
			return apperrors.DependencyMissing(dep)
		}
	}

	// Build the hypothetical set with the proposed record substituted in.
	next := make([]*models.Task, 0, len(tasks)+1)
	for _, t := range tasks {
		if t.ID == proposed.ID {
			continue
		}
		next = append(next, t)
	}
	next = append(next, proposed)

	if cycle := FindCycle(next); cycle != nil {
		return apperrors.CycleWouldForm(titlesFor(next, cycle))
	}
	return nil
}

// Validate runs the full error/warning taxonomy over a snapshot:
// errors for cycles (path reported by title), dangling references and
// self-dependencies; warnings for dependencies on completed tasks and for
// chains deeper than maxChainDepth.
func Validate(tasks []*models.Task) ValidationResult {
	byID := index(tasks)
	result := ValidationResult{Errors: []string{}, Warnings: []string{}}

	if cycle := FindCycle(tasks); cycle != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("dependency cycle: %s", joinTitles(tasks, cycle)))
	}

	for _, t := range sortedByID(tasks) {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				result.Errors = append(result.Errors,
					fmt.Sprintf("task %q depends on itself", t.Title))
				continue
			}
			depTask, ok := byID[dep]
			if !ok {
				result.Errors = append(result.Errors,
					fmt.Sprintf("task %q depends on non-existent task '%s'", t.Title, dep))
				continue
			}
			if depTask.Status == models.StatusDone {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("task %q depends on completed task %q", t.Title, depTask.Title))
			}
		}
	}

	for _, t := range sortedByID(tasks) {
		if depth := chainDepth(byID, t.ID, map[string]int{}); depth > maxChainDepth {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("task %q has a dependency chain of depth %d (max recommended %d)",
					t.Title, depth, maxChainDepth))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// chainDepth returns the length of the longest dependency chain below id.
// The memo doubles as the visiting marker; cycles short-circuit to zero so
// validation does not recurse forever (the cycle itself is reported
// separately as an error).
func chainDepth(byID map[string]*models.Task, id string, memo map[string]int) int {
	if d, ok := memo[id]; ok {
		return d
	}
	memo[id] = 0
	t, ok := byID[id]
	if !ok {
		return 0
	}
	max := 0
	for _, dep := range t.Dependencies {
		if _, exists := byID[dep]; !exists {
			continue
		}
		if d := chainDepth(byID, dep, memo) + 1; d > max {
			max = d
		}
	}
	memo[id] = max
	return max
}

// TopologicalSort orders tasks so that every dependency precedes its
// dependents (Kahn's algorithm). Ties among ready nodes break by priority
// (high > medium > low), then createdAt ascending, then id ascending, so the
// order is deterministic for any input. Cyclic input returns CycleWouldForm
// rather than a partial order; callers fall back to SortByPriority.
func TopologicalSort(tasks []*models.Task) ([]*models.Task, error) {
	byID := index(tasks)

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		inDegree[t.ID] += 0
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var ready []*models.Task
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			ready = append(ready, t)
		}
	}

	ordered := make([]*models.Task, 0, len(tasks))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return lessByPriority(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		for _, depID := range dependents[next.ID] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				ready = append(ready, byID[depID])
			}
		}
	}

	if len(ordered) != len(tasks) {
		cycle := FindCycle(tasks)
		return nil, apperrors.CycleWouldForm(titlesFor(tasks, cycle))
	}
	return ordered, nil
}

// SortByPriority orders tasks by priority descending, then createdAt
// ascending, then id. It is the fallback when the graph is cyclic.
func SortByPriority(tasks []*models.Task) []*models.Task {
	out := append([]*models.Task(nil), tasks...)
	sort.Slice(out, func(i, j int) bool { return lessByPriority(out[i], out[j]) })
	return out
}

func lessByPriority(a, b *models.Task) bool {
	wa, wb := models.PriorityWeight(a.Priority), models.PriorityWeight(b.Priority)
	if wa != wb {
		return wa > wb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortedByID(tasks []*models.Task) []*models.Task {
	out := append([]*models.Task(nil), tasks...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func titlesFor(tasks []*models.Task, ids []string) []string {
	byID := index(tasks)
	titles := make([]string, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok && t.Title != "" {
			titles = append(titles, t.Title)
		} else {
			titles = append(titles, id)
		}
	}
	return titles
}

func joinTitles(tasks []*models.Task, ids []string) string {
	titles := titlesFor(tasks, ids)
	out := ""
	for i, title := range titles {
		if i > 0 {
			out += " -> "
		}
		out += title
	}
	return out
}
