package deps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/taskforge/taskforge/internal/task/models"
)

// NodeTiming carries the CPM numbers for one task.
type NodeTiming struct {
	TaskID        string  `json:"taskId"`
	Duration      float64 `json:"duration"`
	EarliestStart float64 `json:"earliestStart"`
	LatestStart   float64 `json:"latestStart"`
	Slack         float64 `json:"slack"`
}

// CriticalPathResult is the outcome of a critical-path analysis.
type CriticalPathResult struct {
	// Path lists task ids in execution order (dependencies first).
	Path []string `json:"path"`
	// Duration is the total weight along the path.
	Duration float64 `json:"duration"`
	// Timings holds per-node earliest/latest start and slack.
	Timings []NodeTiming `json:"timings"`
	// Bottlenecks lists ids whose removal shortens the critical path or
	// which feed multiple critical-path nodes.
	Bottlenecks []string `json:"bottlenecks"`
}

// ImpactResult is the forward/reverse transitive closure for one task.
type ImpactResult struct {
	TaskID string `json:"taskId"`
	// Blocks are tasks transitively depending on this one.
	Blocks []string `json:"blocks"`
	// BlockedBy are tasks this one transitively depends on.
	BlockedBy []string `json:"blockedBy"`
}

// GraphEdge is one dependency edge for graph projections.
type GraphEdge struct {
	From string `json:"from"` // dependent task
	To   string `json:"to"`   // its dependency
}

// duration returns the critical-path weight for a task: its estimate, or
// unit weight when none is present.
func duration(t *models.Task) float64 {
	if t.EstimatedHours > 0 {
		return t.EstimatedHours
	}
	return 1
}

// CriticalPath computes the longest root-to-leaf chain by task duration and
// per-node slack. Cyclic input returns an error; callers validate first.
func CriticalPath(tasks []*models.Task) (*CriticalPathResult, error) {
	ordered, err := TopologicalSort(tasks)
	if err != nil {
		return nil, err
	}
	byID := index(tasks)

	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; ok {
				dependents[dep] = append(dependents[dep], t.ID)
			}
		}
	}

	// Forward pass: earliest start follows dependency finish times.
	earliest := make(map[string]float64, len(tasks))
	var projectEnd float64
	for _, t := range ordered {
		es := 0.0
		for _, dep := range t.Dependencies {
			depTask, ok := byID[dep]
			if !ok {
				continue
			}
			if finish := earliest[dep] + duration(depTask); finish > es {
				es = finish
			}
		}
		earliest[t.ID] = es
		if finish := es + duration(t); finish > projectEnd {
			projectEnd = finish
		}
	}

	// Backward pass: latest start without delaying any dependent.
	latest := make(map[string]float64, len(tasks))
	for i := len(ordered) - 1; i >= 0; i-- {
		t := ordered[i]
		lf := projectEnd
		for _, depID := range dependents[t.ID] {
			if ls := latest[depID]; ls < lf {
				lf = ls
			}
		}
		latest[t.ID] = lf - duration(t)
	}

	timings := make([]NodeTiming, 0, len(ordered))
	for _, t := range ordered {
		timings = append(timings, NodeTiming{
			TaskID:        t.ID,
			Duration:      duration(t),
			EarliestStart: earliest[t.ID],
			LatestStart:   latest[t.ID],
			Slack:         latest[t.ID] - earliest[t.ID],
		})
	}

	path := extractPath(ordered, byID, earliest, projectEnd)

	// A node's removal shortens the critical path exactly when it has zero
	// slack. Off-path nodes qualify as bottlenecks when they feed multiple
	// critical-path nodes.
	onPath := make(map[string]bool, len(path))
	for _, id := range path {
		onPath[id] = true
	}
	var bottlenecks []string
	for _, t := range sortedByID(tasks) {
		if latest[t.ID]-earliest[t.ID] == 0 {
			bottlenecks = append(bottlenecks, t.ID)
			continue
		}
		fanIn := 0
		for _, depID := range dependents[t.ID] {
			if onPath[depID] {
				fanIn++
			}
		}
		if fanIn >= bottleneckFanIn {
			bottlenecks = append(bottlenecks, t.ID)
		}
	}

	return &CriticalPathResult{
		Path:        path,
		Duration:    projectEnd,
		Timings:     timings,
		Bottlenecks: bottlenecks,
	}, nil
}

// extractPath walks backwards from the latest-finishing sink, at each step
// choosing the dependency whose finish time equals the current node's
// earliest start (smallest id on ties), then reverses into execution order.
func extractPath(ordered []*models.Task, byID map[string]*models.Task, earliest map[string]float64, projectEnd float64) []string {
	var sink *models.Task
	for _, t := range ordered {
		if earliest[t.ID]+duration(t) == projectEnd {
			if sink == nil || t.ID < sink.ID {
				sink = t
			}
		}
	}
	if sink == nil {
		return []string{}
	}

	var reversed []string
	current := sink
	for current != nil {
		reversed = append(reversed, current.ID)
		var next *models.Task
		for _, dep := range sortedStrings(current.Dependencies) {
			depTask, ok := byID[dep]
			if !ok {
				continue
			}
			if earliest[dep]+duration(depTask) == earliest[current.ID] && earliest[current.ID] > 0 {
				next = depTask
				break
			}
		}
		current = next
	}

	path := make([]string, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// Impact computes the forward and reverse transitive closures for one task:
// which tasks it blocks, and which it is blocked by.
func Impact(tasks []*models.Task, id string) *ImpactResult {
	byID := index(tasks)

	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	return &ImpactResult{
		TaskID: id,
		Blocks: closure(id, func(n string) []string { return dependents[n] }),
		BlockedBy: closure(id, func(n string) []string {
			if t, ok := byID[n]; ok {
				return t.Dependencies
			}
			return nil
		}),
	}
}

// closure returns the transitive neighborhood of start (excluding start),
// sorted for determinism.
func closure(start string, neighbors func(string) []string) []string {
	seen := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range neighbors(n) {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// Edges returns the dependency edge list sorted by (from, to).
func Edges(tasks []*models.Task) []GraphEdge {
	var edges []GraphEdge
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			edges = append(edges, GraphEdge{From: t.ID, To: dep})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// Visualize renders the graph as indented text, roots first. Dangling and
// cyclic edges are annotated rather than hidden.
func Visualize(tasks []*models.Task) string {
	byID := index(tasks)
	hasDependent := make(map[string]bool)
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			hasDependent[dep] = true
		}
	}

	var b strings.Builder
	var render func(t *models.Task, depth int, trail map[string]bool)
	render = func(t *models.Task, depth int, trail map[string]bool) {
		fmt.Fprintf(&b, "%s- %s [%s/%s] (%s)\n",
			strings.Repeat("  ", depth), t.Title, t.Priority, t.Status, t.ID)
		if trail[t.ID] {
			fmt.Fprintf(&b, "%s  (cycle)\n", strings.Repeat("  ", depth))
			return
		}
		trail[t.ID] = true
		defer delete(trail, t.ID)
		for _, dep := range sortedStrings(t.Dependencies) {
			depTask, ok := byID[dep]
			if !ok {
				fmt.Fprintf(&b, "%s- %s (missing)\n", strings.Repeat("  ", depth+1), dep)
				continue
			}
			render(depTask, depth+1, trail)
		}
	}

	// Roots are tasks nothing depends on; with a fully cyclic graph fall
	// back to rendering every task once.
	rendered := false
	for _, t := range sortedByID(tasks) {
		if !hasDependent[t.ID] {
			render(t, 0, map[string]bool{})
			rendered = true
		}
	}
	if !rendered {
		for _, t := range sortedByID(tasks) {
			render(t, 0, map[string]bool{})
		}
	}
	return b.String()
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
