// Command taskforged runs the task-manager daemon: the embedded task store
// behind a TCP command port, an HTTP/WebSocket API and the per-environment
// workflow loops.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/taskforge/internal/common/config"
	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/environment"
	"github.com/taskforge/taskforge/internal/events/bus"
	"github.com/taskforge/taskforge/internal/gateway/websocket"
	"github.com/taskforge/taskforge/internal/httpapi"
	"github.com/taskforge/taskforge/internal/tcp"
	"github.com/taskforge/taskforge/internal/workflow"
)

// shutdownGrace bounds how long in-flight HTTP handlers get on stop.
const shutdownGrace = 5 * time.Second

// auditPruneInterval is how often old audit entries are swept. Retention
// itself comes from audit.retentionDays.
const auditPruneInterval = 6 * time.Hour

// daemonControl maps the daemon lifecycle verbs onto the process.
type daemonControl struct {
	cancel     context.CancelFunc
	runner     *workflow.Runner
	restarting *atomic.Bool
	logger     *logger.Logger
}

func (d *daemonControl) Stop() {
	d.logger.Info("Stop requested")
	// Grace period so the acknowledging response reaches the client.
	time.AfterFunc(time.Second, d.cancel)
}

func (d *daemonControl) Restart() {
	d.logger.Info("Restart requested")
	d.restarting.Store(true)
	time.AfterFunc(time.Second, d.cancel)
}

func (d *daemonControl) PauseWorkflow(env string) error {
	if d.runner == nil {
		return apperrors.Validation("workflow loop is disabled")
	}
	return d.runner.Pause(env)
}

func (d *daemonControl) ResumeWorkflow(env string) error {
	if d.runner == nil {
		return apperrors.Validation("workflow loop is disabled")
	}
	return d.runner.Resume(env)
}

func (d *daemonControl) WorkflowStates() map[string]string {
	if d.runner == nil {
		return map[string]string{}
	}
	return d.runner.States()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting taskforged",
		zap.Int("tcp_port", cfg.Server.TCPPort),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Strings("environments", cfg.Environments.Names))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: NATS when configured, in-memory otherwise.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	registry, err := environment.NewRegistry(cfg.Environments, eventBus, log)
	if err != nil {
		if apperrors.IsLockHeld(err) {
			// Another daemon owns the directory; defer to it.
			log.Warn("Environment directory is locked by another daemon, exiting", zap.Error(err))
			os.Exit(0)
		}
		log.Fatal("Failed to open environments", zap.Error(err))
	}
	defer registry.CloseAll()

	var runner *workflow.Runner
	if cfg.Workflow.TestMode {
		log.Info("Workflow loops disabled (test mode)")
	} else {
		runner = workflow.NewRunner(registry.Processing(), cfg, log)
	}

	restarting := &atomic.Bool{}
	control := &daemonControl{
		cancel:     cancel,
		runner:     runner,
		restarting: restarting,
		logger:     log,
	}

	hub := websocket.NewHub(log)
	subs, err := hub.BindBus(eventBus)
	if err != nil {
		log.Fatal("Failed to bind event bus to WebSocket hub", zap.Error(err))
	}
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	wsHandler := websocket.NewHandler(hub, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.SetupRoutes(router, registry, control, wsHandler, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if cfg.Server.SkipTCP {
		log.Info("TCP command server disabled")
	} else {
		dispatcher := tcp.NewDispatcher(registry, log)
		tcp.RegisterTaskCommands(dispatcher)
		tcp.RegisterDepsCommands(dispatcher)
		tcp.RegisterAuditCommands(dispatcher)
		tcp.RegisterMonitorCommands(dispatcher)
		tcp.RegisterScheduleCommands(dispatcher)
		tcp.RegisterDaemonCommands(dispatcher, control, time.Now())

		tcpServer := tcp.NewServer(cfg.Server.Host, cfg.Server.TCPPort, dispatcher, log)
		g.Go(func() error { return tcpServer.Start(ctx) })
	}

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if runner != nil {
		g.Go(func() error { return runner.Run(ctx) })
	}

	g.Go(func() error {
		ticker := time.NewTicker(auditPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, name := range registry.Names() {
					env, err := registry.Resolve(name)
					if err != nil {
						continue
					}
					removed, err := env.Journal.Prune(cfg.Audit.RetentionDays)
					if err != nil {
						log.Warn("Audit prune failed",
							zap.String("environment", name), zap.Error(err))
						continue
					}
					if removed > 0 {
						log.Info("Pruned audit entries",
							zap.String("environment", name), zap.Int("removed", removed))
					}
				}
			}
		}
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			log.Info("Received signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Daemon terminated with error", zap.Error(err))
		registry.CloseAll()
		os.Exit(1)
	}

	if restarting.Load() {
		// Environments must be released before the replacement opens them.
		registry.CloseAll()
		spawnReplacement(log)
	}
	log.Info("Daemon stopped")
}

// spawnReplacement launches a detached copy of this process with the same
// arguments and environment.
func spawnReplacement(log *logger.Logger) {
	exe, err := os.Executable()
	if err != nil {
		log.Error("Failed to resolve executable for restart", zap.Error(err))
		return
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		log.Error("Failed to spawn replacement process", zap.Error(err))
		return
	}
	log.Info("Spawned replacement process", zap.Int("pid", cmd.Process.Pid))
}
