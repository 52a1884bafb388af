package tcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/environment"
)

// HandlerFunc executes one command against a resolved environment. conn is
// the issuing connection, used by monitoring verbs to mirror notifications.
type HandlerFunc func(ctx context.Context, conn *Conn, env *environment.Services, data json.RawMessage) (interface{}, error)

// Dispatcher routes command verbs to handlers.
type Dispatcher struct {
	registry *environment.Registry
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
	logger   *logger.Logger
}

// NewDispatcher creates an empty dispatcher bound to the environment
// registry.
func NewDispatcher(registry *environment.Registry, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		handlers: make(map[string]HandlerFunc),
		logger:   log.WithFields(zap.String("component", "tcp_dispatcher")),
	}
}

// Register binds a verb to a handler. Registering twice is a programming
// error and panics during startup wiring.
func (d *Dispatcher) Register(command string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[command]; exists {
		panic(fmt.Sprintf("tcp: duplicate handler for command %q", command))
	}
	d.handlers[command] = handler
}

// Commands returns the registered verbs, sorted.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for cmd := range d.handlers {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

// Dispatch resolves the environment, runs the handler and converts the
// outcome into a response frame. Handler panics become error responses so
// one bad command cannot take the daemon down.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Conn, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Command handler panic",
				zap.String("command", req.Command),
				zap.Any("panic", r))
			resp = errResponse(apperrors.Unknown(fmt.Sprintf("internal error handling '%s'", req.Command), nil))
		}
	}()

	d.mu.RLock()
	handler, ok := d.handlers[req.Command]
	d.mu.RUnlock()
	if !ok {
		return errResponse(apperrors.Validation(fmt.Sprintf("unknown command '%s'", req.Command)))
	}

	env, err := d.registry.Resolve(resolveEnvironment(req))
	if err != nil {
		return errResponse(err)
	}

	data, err := handler(ctx, conn, env, req.Data)
	if err != nil {
		d.logger.Debug("Command failed",
			zap.String("command", req.Command),
			zap.String("environment", env.Name),
			zap.Error(err))
		return errResponse(err)
	}
	return okResponse(data)
}

// resolveEnvironment picks the target environment: the request's explicit
// field wins, then an "environment" key inside the data payload, then the
// configured default (the empty string).
func resolveEnvironment(req *Request) string {
	if req.Environment != "" {
		return req.Environment
	}
	if len(req.Data) > 0 {
		var peek struct {
			Environment string `json:"environment"`
		}
		if err := json.Unmarshal(req.Data, &peek); err == nil {
			return peek.Environment
		}
	}
	return ""
}
