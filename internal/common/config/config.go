// Package config provides configuration management for the TaskForge daemon.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the daemon.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Environments EnvironmentsConfig `mapstructure:"environments"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Audit        AuditConfig        `mapstructure:"audit"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	TCPPort       int    `mapstructure:"tcpPort"`       // line-delimited command protocol
	HTTPPort      int    `mapstructure:"httpPort"`      // REST + WebSocket upgrades
	DashboardPort int    `mapstructure:"dashboardPort"` // reserved for the dashboard proxy
	SkipTCP       bool   `mapstructure:"skipTcp"`       // headless runs without the command port
	ReadTimeout   int    `mapstructure:"readTimeout"`   // in seconds
	WriteTimeout  int    `mapstructure:"writeTimeout"`  // in seconds
}

// EnvironmentsConfig describes the isolated environment directories.
type EnvironmentsConfig struct {
	BasePath string   `mapstructure:"basePath"`
	Names    []string `mapstructure:"names"`
	Default  string   `mapstructure:"default"`
	// Process lists the environments the workflow loop drives. Empty means
	// only the default environment unless ProcessAll is set.
	Process    []string `mapstructure:"process"`
	ProcessAll bool     `mapstructure:"processAll"`
}

// AgentConfig holds agent session transport configuration.
type AgentConfig struct {
	// Transport selects the session transport: "http" or "stub".
	Transport   string `mapstructure:"transport"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Path        string `mapstructure:"path"`
	TurnTimeout int    `mapstructure:"turnTimeout"` // in seconds
}

// WorkflowConfig holds workflow loop tuning.
type WorkflowConfig struct {
	// TestMode disables the workflow loops entirely.
	TestMode     bool `mapstructure:"testMode"`
	TickInterval int  `mapstructure:"tickInterval"` // in seconds
	ErrorBackoff int  `mapstructure:"errorBackoff"` // in seconds
	// RepoPath is the working tree the test and commit effects operate on.
	RepoPath string `mapstructure:"repoPath"`
	// TestCommand is run by the test effect through `sh -c`.
	TestCommand string `mapstructure:"testCommand"`
	// CommitEnabled gates the commit effect; disabled trees skip committing.
	CommitEnabled bool `mapstructure:"commitEnabled"`
}

// AuditConfig holds audit journal configuration.
type AuditConfig struct {
	RetentionDays int `mapstructure:"retentionDays"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TurnTimeoutDuration returns the agent turn timeout as a time.Duration.
func (a *AgentConfig) TurnTimeoutDuration() time.Duration {
	return time.Duration(a.TurnTimeout) * time.Second
}

// TickDuration returns the workflow tick interval as a time.Duration.
func (w *WorkflowConfig) TickDuration() time.Duration {
	return time.Duration(w.TickInterval) * time.Second
}

// BackoffDuration returns the workflow error backoff as a time.Duration.
func (w *WorkflowConfig) BackoffDuration() time.Duration {
	return time.Duration(w.ErrorBackoff) * time.Second
}

// ProcessingEnvironments resolves which environments the workflow loop
// drives: the explicit list, all configured names, or just the default.
func (e *EnvironmentsConfig) ProcessingEnvironments() []string {
	if e.ProcessAll {
		return e.Names
	}
	if len(e.Process) > 0 {
		return e.Process
	}
	return []string{e.Default}
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("TASKFORGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.tcpPort", 3001)
	v.SetDefault("server.httpPort", 3000)
	v.SetDefault("server.dashboardPort", 3002)
	v.SetDefault("server.skipTcp", false)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Environment defaults
	v.SetDefault("environments.basePath", "./data")
	v.SetDefault("environments.names", []string{"default"})
	v.SetDefault("environments.default", "default")
	v.SetDefault("environments.process", []string{})
	v.SetDefault("environments.processAll", false)

	// Agent transport defaults
	v.SetDefault("agent.transport", "http")
	v.SetDefault("agent.host", "localhost")
	v.SetDefault("agent.port", 8700)
	v.SetDefault("agent.path", "/api/session")
	v.SetDefault("agent.turnTimeout", 30)

	// Workflow defaults
	v.SetDefault("workflow.testMode", false)
	v.SetDefault("workflow.tickInterval", 2)
	v.SetDefault("workflow.errorBackoff", 5)
	v.SetDefault("workflow.repoPath", ".")
	v.SetDefault("workflow.testCommand", "make test")
	v.SetDefault("workflow.commitEnabled", false)

	// Audit defaults
	v.SetDefault("audit.retentionDays", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "taskforge-daemon")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TASKFORGE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/taskforge/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TASKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("server.tcpPort", "TASKFORGE_SERVER_TCP_PORT")
	_ = v.BindEnv("server.httpPort", "TASKFORGE_SERVER_HTTP_PORT")
	_ = v.BindEnv("server.dashboardPort", "TASKFORGE_SERVER_DASHBOARD_PORT")
	_ = v.BindEnv("server.skipTcp", "TASKFORGE_SERVER_SKIP_TCP")
	_ = v.BindEnv("environments.basePath", "TASKFORGE_ENVIRONMENTS_BASE_PATH")
	_ = v.BindEnv("environments.processAll", "TASKFORGE_ENVIRONMENTS_PROCESS_ALL")
	_ = v.BindEnv("agent.turnTimeout", "TASKFORGE_AGENT_TURN_TIMEOUT")
	_ = v.BindEnv("workflow.testMode", "TASKFORGE_WORKFLOW_TEST_MODE")
	_ = v.BindEnv("workflow.tickInterval", "TASKFORGE_WORKFLOW_TICK_INTERVAL")
	_ = v.BindEnv("workflow.errorBackoff", "TASKFORGE_WORKFLOW_ERROR_BACKOFF")
	_ = v.BindEnv("workflow.repoPath", "TASKFORGE_WORKFLOW_REPO_PATH")
	_ = v.BindEnv("workflow.testCommand", "TASKFORGE_WORKFLOW_TEST_COMMAND")
	_ = v.BindEnv("workflow.commitEnabled", "TASKFORGE_WORKFLOW_COMMIT_ENABLED")
	_ = v.BindEnv("audit.retentionDays", "TASKFORGE_AUDIT_RETENTION_DAYS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/taskforge/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.TCPPort <= 0 || cfg.Server.TCPPort > 65535 {
		errs = append(errs, "server.tcpPort must be between 1 and 65535")
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		errs = append(errs, "server.httpPort must be between 1 and 65535")
	}

	if cfg.Environments.BasePath == "" {
		errs = append(errs, "environments.basePath is required")
	}
	if len(cfg.Environments.Names) == 0 {
		errs = append(errs, "environments.names must contain at least one environment")
	}
	if cfg.Environments.Default == "" {
		errs = append(errs, "environments.default is required")
	}
	if !containsString(cfg.Environments.Names, cfg.Environments.Default) {
		errs = append(errs, "environments.default must appear in environments.names")
	}
	for _, name := range cfg.Environments.Process {
		if !containsString(cfg.Environments.Names, name) {
			errs = append(errs, fmt.Sprintf("environments.process entry '%s' is not a configured environment", name))
		}
	}

	switch cfg.Agent.Transport {
	case "http", "stub":
	default:
		errs = append(errs, "agent.transport must be one of: http, stub")
	}
	if cfg.Agent.TurnTimeout <= 0 {
		errs = append(errs, "agent.turnTimeout must be positive")
	}

	if cfg.Workflow.TickInterval <= 0 {
		errs = append(errs, "workflow.tickInterval must be positive")
	}
	if cfg.Workflow.ErrorBackoff <= 0 {
		errs = append(errs, "workflow.errorBackoff must be positive")
	}
	if cfg.Workflow.TestCommand == "" {
		errs = append(errs, "workflow.testCommand is required")
	}

	if cfg.Audit.RetentionDays <= 0 {
		errs = append(errs, "audit.retentionDays must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// AgentBaseURL returns the base URL of the agent session transport.
func (a *AgentConfig) AgentBaseURL() string {
	return fmt.Sprintf("http://%s:%d%s", a.Host, a.Port, a.Path)
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
