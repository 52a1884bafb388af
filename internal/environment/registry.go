// Package environment wires the per-environment service stack: store,
// audit journal, task service, monitoring sessions and scheduler, one set
// per configured environment directory.
package environment

import (
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/audit"
	"github.com/taskforge/taskforge/internal/common/config"
	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/events/bus"
	"github.com/taskforge/taskforge/internal/monitor"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/task/service"
	"github.com/taskforge/taskforge/internal/task/store"
)

// Services is the full per-environment stack.
type Services struct {
	Name      string
	Store     *store.Store
	Journal   *audit.Journal
	Tasks     *service.Service
	Monitor   *monitor.Manager
	Scheduler *scheduler.Scheduler
}

// Close releases everything the environment owns, newest dependency first.
func (s *Services) Close() {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Monitor != nil {
		s.Monitor.Close()
	}
	if s.Journal != nil {
		_ = s.Journal.Close()
	}
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

// Registry owns every configured environment and resolves names to stacks.
type Registry struct {
	cfg    config.EnvironmentsConfig
	envs   map[string]*Services
	mu     sync.RWMutex
	logger *logger.Logger
}

// NewRegistry opens every configured environment. Opening is all-or-nothing:
// a LockHeld on any directory closes what was already opened and propagates,
// so the caller can refuse to start beside another daemon.
func NewRegistry(cfg config.EnvironmentsConfig, eventBus bus.EventBus, log *logger.Logger) (*Registry, error) {
	r := &Registry{
		cfg:    cfg,
		envs:   make(map[string]*Services, len(cfg.Names)),
		logger: log.WithFields(zap.String("component", "environments")),
	}

	for _, name := range cfg.Names {
		env, err := r.open(name, eventBus, log)
		if err != nil {
			r.CloseAll()
			return nil, err
		}
		r.envs[name] = env
		r.logger.Info("Environment opened",
			zap.String("environment", name),
			zap.String("path", env.Store.Path()))
	}
	return r, nil
}

func (r *Registry) open(name string, eventBus bus.EventBus, log *logger.Logger) (*Services, error) {
	dir := filepath.Join(r.cfg.BasePath, name)

	st, err := store.Open(dir)
	if err != nil {
		return nil, err
	}

	journal, err := audit.Open(dir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	tasks := service.NewService(name, st, journal, eventBus, log)

	mon, err := monitor.NewManager(name, eventBus, log)
	if err != nil {
		_ = journal.Close()
		_ = st.Close()
		return nil, err
	}

	sched, err := scheduler.New(dir, tasks, log)
	if err != nil {
		mon.Close()
		_ = journal.Close()
		_ = st.Close()
		return nil, err
	}
	sched.Start()

	return &Services{
		Name:      name,
		Store:     st,
		Journal:   journal,
		Tasks:     tasks,
		Monitor:   mon,
		Scheduler: sched,
	}, nil
}

// CloseAll releases every environment.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, env := range r.envs {
		env.Close()
		delete(r.envs, name)
	}
}

// Resolve maps an environment name to its stack; the empty string selects
// the configured default.
func (r *Registry) Resolve(name string) (*Services, error) {
	if name == "" {
		name = r.cfg.Default
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.envs[name]
	if !ok {
		return nil, apperrors.NotFound("environment", name)
	}
	return env, nil
}

// Names returns the configured environment names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.envs))
	for name := range r.envs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Processing returns the stacks the workflow loop drives.
func (r *Registry) Processing() []*Services {
	var out []*Services
	for _, name := range r.cfg.ProcessingEnvironments() {
		if env, err := r.Resolve(name); err == nil {
			out = append(out, env)
		}
	}
	return out
}
