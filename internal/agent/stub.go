package agent

import (
	"context"
	"sync"
)

// StubResponder produces the output for one stubbed turn.
type StubResponder func(profile, prompt string) (string, error)

// StubTransport is an in-process transport for tests and test mode. It
// records every turn and answers via the configured responder.
type StubTransport struct {
	responder StubResponder

	mu       sync.Mutex
	Turns    []StubTurn
	Sessions []string
	Closed   int
}

// StubTurn records one turn seen by the stub.
type StubTurn struct {
	Profile string
	Prompt  string
}

// NewStubTransport creates a stub. A nil responder echoes the prompt.
func NewStubTransport(responder StubResponder) *StubTransport {
	if responder == nil {
		responder = func(profile, prompt string) (string, error) {
			return prompt, nil
		}
	}
	return &StubTransport{responder: responder}
}

func (t *StubTransport) StartSession(ctx context.Context, profile string) (Session, error) {
	t.mu.Lock()
	t.Sessions = append(t.Sessions, profile)
	t.mu.Unlock()
	return &stubSession{transport: t, profile: profile}, nil
}

type stubSession struct {
	transport *StubTransport
	profile   string
}

func (s *stubSession) Profile() string {
	return s.profile
}

func (s *stubSession) Turn(ctx context.Context, prompt string, extra map[string]interface{}) (*TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.transport.mu.Lock()
	s.transport.Turns = append(s.transport.Turns, StubTurn{Profile: s.profile, Prompt: prompt})
	s.transport.mu.Unlock()

	output, err := s.transport.responder(s.profile, prompt)
	if err != nil {
		return nil, err
	}
	return &TurnResult{Output: output}, nil
}

func (s *stubSession) Close() error {
	s.transport.mu.Lock()
	s.transport.Closed++
	s.transport.mu.Unlock()
	return nil
}
