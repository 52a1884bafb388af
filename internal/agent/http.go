package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/logger"
)

// HTTPTransport speaks to an agent endpoint over JSON-over-HTTP.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewHTTPTransport creates a transport for the given base URL. The HTTP
// client carries no timeout of its own; per-turn deadlines come from the
// caller's context.
func NewHTTPTransport(baseURL string, log *logger.Logger) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  log.WithFields(zap.String("component", "agent_http")),
	}
}

// StartSession mints a session id; the backend is stateless per request, so
// starting a session is purely local.
func (t *HTTPTransport) StartSession(ctx context.Context, profile string) (Session, error) {
	return &httpSession{
		transport: t,
		profile:   profile,
		sessionID: uuid.New().String(),
	}, nil
}

type httpSession struct {
	transport *HTTPTransport
	profile   string
	sessionID string
}

func (s *httpSession) Profile() string {
	return s.profile
}

// turnRequest is the wire format sent to the agent endpoint.
type turnRequest struct {
	SessionID string                 `json:"sessionId"`
	Profile   string                 `json:"profile"`
	Prompt    string                 `json:"prompt"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

func (s *httpSession) Turn(ctx context.Context, prompt string, extra map[string]interface{}) (*TurnResult, error) {
	body, err := json.Marshal(turnRequest{
		SessionID: s.sessionID,
		Profile:   s.profile,
		Prompt:    prompt,
		Context:   extra,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.transport.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.transport.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("agent endpoint returned %d: %s", resp.StatusCode, string(payload))
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}

	output, _ := raw["output"].(string)
	s.transport.logger.Debug("Agent turn completed",
		zap.String("profile", s.profile),
		zap.Duration("duration", time.Since(start)))

	return &TurnResult{Output: output, Raw: raw}, nil
}

func (s *httpSession) Close() error {
	return nil
}
