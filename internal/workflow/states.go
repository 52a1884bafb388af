package workflow

import (
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/task/models"
)

// Registered workflow states. The loop walks a feature from product research
// through story breakdown to implemented, tested and committed tasks.
const (
	StateNewFeatureProposed  = "new-feature-proposed"
	StateFeaturesPrioritized = "features-prioritized"
	StateStoriesCreated      = "stories-created"
	StateStoriesPrioritized  = "stories-prioritized"
	StateTasksPrepared       = "tasks-prepared"
	StateTaskInProgress      = "task-in-progress"
	StateTestsCompleted      = "tests-completed"
	StateTaskCompleted       = "task-completed"
)

// Agent profiles bound to transitions.
const (
	ProfileProductResearcher = "product-researcher"
	ProfileProductManager    = "product-manager"
	ProfileStoryWriter       = "story-writer"
	ProfileTechLead          = "tech-lead"
	ProfileDeveloper         = "developer"
)

// EffectSet supplies the concrete effects the state table binds. Production
// wiring uses ActionSet; tests substitute recording fakes.
type EffectSet interface {
	AgentTurn(profile, prompt string) Effect
	TestRun() Effect
	Commit() Effect
	FinishTasks() Effect
}

// BuildMachine assembles the full state table over the given effects.
func BuildMachine(effects EffectSet, log *logger.Logger) *Machine {
	m := NewMachine(log)

	m.AddState(StateNewFeatureProposed, func(tasks []*models.Task, _ *TokenContext) string {
		if len(tasks) == 0 {
			return "retry-product-research"
		}
		return "prioritize-features"
	}).
		Transition("retry-product-research", StateNewFeatureProposed,
			effects.AgentTurn(ProfileProductResearcher,
				"Research the product space and propose the next feature as new tasks.")).
		Transition("prioritize-features", StateFeaturesPrioritized,
			effects.AgentTurn(ProfileProductManager,
				"Review the proposed features and rank them by value."))

	m.AddState(StateFeaturesPrioritized, always("create-stories")).
		Transition("create-stories", StateStoriesCreated,
			effects.AgentTurn(ProfileStoryWriter,
				"Break the top-ranked feature into user stories."))

	m.AddState(StateStoriesCreated, always("prioritize-stories")).
		Transition("prioritize-stories", StateStoriesPrioritized,
			effects.AgentTurn(ProfileProductManager,
				"Order the stories for implementation."))

	m.AddState(StateStoriesPrioritized, always("prepare-tasks")).
		Transition("prepare-tasks", StateTasksPrepared,
			effects.AgentTurn(ProfileTechLead,
				"Turn the prioritized stories into implementable tasks with dependencies."))

	m.AddState(StateTasksPrepared, func(tasks []*models.Task, _ *TokenContext) string {
		if hasActionableTask(tasks) {
			return "start-task"
		}
		return "research-features"
	}).
		Transition("start-task", StateTaskInProgress,
			effects.AgentTurn(ProfileDeveloper,
				"Pick the highest-priority unblocked task and implement it.")).
		Transition("research-features", StateNewFeatureProposed,
			effects.AgentTurn(ProfileProductResearcher,
				"No implementable work remains; research follow-up features."))

	m.AddState(StateTaskInProgress, always("run-tests")).
		Transition("run-tests", StateTestsCompleted, effects.TestRun())

	m.AddState(StateTestsCompleted, func(_ []*models.Task, tctx *TokenContext) string {
		if tctx.LastTestResult != nil && tctx.LastTestResult.Passed {
			return "tests-passing"
		}
		return "tests-failed"
	}).
		Transition("tests-passing", StateTaskCompleted, effects.Commit()).
		Transition("tests-failed", StateTaskInProgress,
			effects.AgentTurn(ProfileDeveloper,
				"Tests failed; inspect the output and fix the implementation."))

	m.AddState(StateTaskCompleted, always("select-next-task")).
		Transition("select-next-task", StateTasksPrepared, effects.FinishTasks())

	return m
}

// always is a decider that unconditionally picks one transition.
func always(transition string) Decider {
	return func([]*models.Task, *TokenContext) string { return transition }
}

// hasActionableTask reports whether any todo task has all dependencies done.
func hasActionableTask(tasks []*models.Task) bool {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		if t.Status != models.StatusTodo {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if d, ok := byID[dep]; !ok || d.Status != models.StatusDone {
				ready = false
				break
			}
		}
		if ready {
			return true
		}
	}
	return false
}
