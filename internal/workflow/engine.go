// Package workflow drives the autonomous development loop: a token-driven
// state machine whose transitions run agent turns, local test runs and
// commits against one environment's task set.
package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/task/models"
)

// TestResult captures one local test run.
type TestResult struct {
	Passed bool      `json:"passed"`
	Output string    `json:"output"`
	RanAt  time.Time `json:"ranAt"`
}

// TokenContext is the mutable per-loop scratch state carried between ticks.
type TokenContext struct {
	LastTestResult  *TestResult
	LastAgentOutput string
	Turns           int
}

// Token is the loop's cursor through the state machine. It is owned by
// exactly one loop and never shared with request handlers.
type Token struct {
	State   string
	Context TokenContext
}

// Effect is the action bound to one transition. A failed effect leaves the
// token in its current state so the next tick can retry.
type Effect interface {
	Name() string
	Run(ctx context.Context, token *Token) error
}

// Decider picks the outbound transition for a state. Deciders are pure over
// the task snapshot and token context.
type Decider func(tasks []*models.Task, tctx *TokenContext) string

// Transition is one registered edge of the state machine.
type Transition struct {
	Name   string
	To     string
	Effect Effect
}

// State is one registered node with its outbound edges.
type State struct {
	Name        string
	Decide      Decider
	transitions map[string]Transition
}

// Transition registers an outbound edge, returning the state for chaining.
func (s *State) Transition(name, to string, effect Effect) *State {
	s.transitions[name] = Transition{Name: name, To: to, Effect: effect}
	return s
}

// Machine holds the registered states. Registration happens once during
// startup wiring; stepping is single-threaded per loop.
type Machine struct {
	states map[string]*State
	logger *logger.Logger
}

// NewMachine creates an empty state machine.
func NewMachine(log *logger.Logger) *Machine {
	return &Machine{
		states: make(map[string]*State),
		logger: log.WithFields(zap.String("component", "workflow")),
	}
}

// AddState registers a state with its decider.
func (m *Machine) AddState(name string, decide Decider) *State {
	s := &State{
		Name:        name,
		Decide:      decide,
		transitions: make(map[string]Transition),
	}
	m.states[name] = s
	return s
}

// Step advances the token by one tick: decide a transition, run its effect,
// move to the destination. The token is only advanced after the effect
// succeeds, so a failed effect is retried from the same state.
func (m *Machine) Step(ctx context.Context, tasks []*models.Task, token *Token) (*Transition, error) {
	state, ok := m.states[token.State]
	if !ok {
		return nil, apperrors.Unknown("workflow token is in an unregistered state: "+token.State, nil)
	}

	name := state.Decide(tasks, &token.Context)
	if name == "" {
		return nil, apperrors.NoTransition(state.Name, "")
	}
	transition, ok := state.transitions[name]
	if !ok {
		return nil, apperrors.NoTransition(state.Name, name)
	}

	m.logger.Debug("Workflow transition chosen",
		zap.String("state", state.Name),
		zap.String("transition", transition.Name),
		zap.Int("tasks", len(tasks)))

	if err := transition.Effect.Run(ctx, token); err != nil {
		return &transition, err
	}

	token.State = transition.To
	m.logger.Info("Workflow state advanced",
		zap.String("transition", transition.Name),
		zap.String("from", state.Name),
		zap.String("to", transition.To))
	return &transition, nil
}
