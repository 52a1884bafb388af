// Package agent abstracts the coding-agent endpoint the workflow engine
// drives. A Session is one profile-bound conversation; switching profiles
// terminates the previous session.
package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/config"
	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
)

// TurnResult is one completed agent turn.
type TurnResult struct {
	Output string                 `json:"output"`
	Raw    map[string]interface{} `json:"raw,omitempty"`
}

// Session is one profile-bound agent conversation.
type Session interface {
	Profile() string
	Turn(ctx context.Context, prompt string, extra map[string]interface{}) (*TurnResult, error)
	Close() error
}

// Transport creates sessions against a concrete agent backend.
type Transport interface {
	StartSession(ctx context.Context, profile string) (Session, error)
}

// Manager holds the single active session and enforces the turn deadline.
type Manager struct {
	transport   Transport
	turnTimeout time.Duration
	current     Session
	mu          sync.Mutex
	logger      *logger.Logger
}

// NewManager builds a manager from config. Transport selection follows the
// agent.transport key: "stub" for the in-process fake, anything else is the
// HTTP backend.
func NewManager(cfg config.AgentConfig, log *logger.Logger) *Manager {
	var transport Transport
	if cfg.Transport == "stub" {
		transport = NewStubTransport(nil)
	} else {
		transport = NewHTTPTransport(cfg.AgentBaseURL(), log)
	}
	return NewManagerWithTransport(transport, time.Duration(cfg.TurnTimeout)*time.Second, log)
}

// NewManagerWithTransport wires an explicit transport, used by tests.
func NewManagerWithTransport(transport Transport, turnTimeout time.Duration, log *logger.Logger) *Manager {
	return &Manager{
		transport:   transport,
		turnTimeout: turnTimeout,
		logger:      log.WithFields(zap.String("component", "agent")),
	}
}

// RunTurn runs one prompt against the given profile, reusing the current
// session when the profile matches and rotating it otherwise. A turn that
// outlives the deadline returns SessionTimeout.
func (m *Manager) RunTurn(ctx context.Context, profile, prompt string, extra map[string]interface{}) (*TurnResult, error) {
	session, err := m.ensureSession(ctx, profile)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithTimeout(ctx, m.turnTimeout)
	defer cancel()

	result, err := session.Turn(turnCtx, prompt, extra)
	if err != nil {
		if turnCtx.Err() == context.DeadlineExceeded {
			// The session is in an unknown state after a timeout; drop it.
			m.dropSession()
			return nil, apperrors.SessionTimeout(profile)
		}
		return nil, apperrors.Transport("agent turn failed", err)
	}
	return result, nil
}

// CloseSession terminates the active session, if any.
func (m *Manager) CloseSession() {
	m.dropSession()
}

func (m *Manager) ensureSession(ctx context.Context, profile string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Profile() == profile {
		return m.current, nil
	}
	if m.current != nil {
		m.logger.Info("Switching agent profile",
			zap.String("from", m.current.Profile()),
			zap.String("to", profile))
		if err := m.current.Close(); err != nil {
			m.logger.Warn("Failed to close agent session", zap.Error(err))
		}
		m.current = nil
	}

	session, err := m.transport.StartSession(ctx, profile)
	if err != nil {
		return nil, apperrors.Transport("failed to start agent session", err)
	}
	m.current = session
	return session, nil
}

func (m *Manager) dropSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		if err := m.current.Close(); err != nil {
			m.logger.Warn("Failed to close agent session", zap.Error(err))
		}
		m.current = nil
	}
}
