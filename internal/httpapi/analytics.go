package httpapi

import (
	"math"
	"strings"
	"time"

	"github.com/taskforge/taskforge/internal/task/models"
)

const dayFormat = "2006-01-02"

// AnalyticsReport is the dashboard projection over one environment's tasks.
type AnalyticsReport struct {
	TotalTasks       int            `json:"totalTasks"`
	ByStatus         map[string]int `json:"byStatus"`
	ByPriority       map[string]int `json:"byPriority"`
	CreatedPerDay    map[string]int `json:"createdPerDay"`
	CompletedPerDay  map[string]int `json:"completedPerDay"`
	AvgCompletionHrs float64        `json:"avgCompletionHours"`
	// ProductivityScore is 0-100: completion ratio weighted at 70 points
	// plus up to 30 points for tasks completed in the trailing week.
	ProductivityScore int `json:"productivityScore"`
}

// ComputeAnalytics builds the report from a task snapshot. Pure so both the
// HTTP handler and tests can call it directly.
func ComputeAnalytics(tasks []*models.Task, now time.Time) *AnalyticsReport {
	report := &AnalyticsReport{
		TotalTasks:      len(tasks),
		ByStatus:        map[string]int{},
		ByPriority:      map[string]int{},
		CreatedPerDay:   map[string]int{},
		CompletedPerDay: map[string]int{},
	}

	var totalCompletion time.Duration
	var completed int
	var completedLastWeek int
	weekAgo := now.AddDate(0, 0, -7)

	for _, t := range tasks {
		report.ByStatus[string(t.Status)]++
		report.ByPriority[string(t.Priority)]++
		report.CreatedPerDay[t.CreatedAt.UTC().Format(dayFormat)]++

		doneAt, ok := completionTime(t)
		if !ok {
			continue
		}
		report.CompletedPerDay[doneAt.UTC().Format(dayFormat)]++
		completed++
		if doneAt.After(weekAgo) {
			completedLastWeek++
		}
		if doneAt.After(t.CreatedAt) {
			totalCompletion += doneAt.Sub(t.CreatedAt)
		}
	}

	if completed > 0 {
		report.AvgCompletionHrs = totalCompletion.Hours() / float64(completed)
	}

	if len(tasks) > 0 {
		ratio := float64(completed) / float64(len(tasks))
		throughput := completedLastWeek
		if throughput > 30 {
			throughput = 30
		}
		report.ProductivityScore = int(math.Round(ratio*70)) + throughput
	}

	return report
}

// completionTime resolves when a task reached done: the last recorded
// status change into done, falling back to updatedAt for records whose
// action log was trimmed.
func completionTime(t *models.Task) (time.Time, bool) {
	if t.Status != models.StatusDone {
		return time.Time{}, false
	}
	for i := len(t.ActionLog) - 1; i >= 0; i-- {
		entry := t.ActionLog[i]
		if entry.Action == "status_changed" && strings.HasSuffix(entry.Details, "-> "+string(models.StatusDone)) {
			return entry.Timestamp, true
		}
	}
	return t.UpdatedAt, true
}
