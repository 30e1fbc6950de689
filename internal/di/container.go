// Package di wires the service together: infrastructure adapters into
// application ports, application services into the HTTP layer.
package di

import (
	"fmt"
	"net/http"
	"time"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/application/service"
	"browser-bridge/internal/application/usecase"
	rodbrowser "browser-bridge/internal/infrastructure/browser/rod"
	"browser-bridge/internal/infrastructure/httpapi"
	"browser-bridge/internal/infrastructure/llm"
	"browser-bridge/internal/infrastructure/llm/prompts"
	"browser-bridge/internal/infrastructure/logger"
	"browser-bridge/internal/infrastructure/media"
	"browser-bridge/internal/infrastructure/store/gormstore"
)

type Config struct {
	AppEnv   string
	LogLevel string

	DefaultProvider string
	Providers       map[string]output.ProviderConfig

	BrowserHeadless bool
	MaxSessions     int
	ActionTimeout   time.Duration

	MaxSteps     int
	TaskDeadline time.Duration
	MaxRunning   int
	Backpressure string

	DBPath   string
	MediaDir string
}

type Container struct {
	Logger   output.LoggerPort
	Registry *service.TaskRegistry
	Handler  http.Handler

	sessions output.SessionManager
}

func NewContainer(cfg Config) (*Container, error) {
	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	providers, err := llm.NewFactory(llm.FactoryConfig{
		Default:   cfg.DefaultProvider,
		Providers: cfg.Providers,
		Retry:     llm.DefaultRetryConfig(),
		Builder:   prompts.DefaultBuilderConfig(),
		Logger:    log,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("providers: %w", err)
	}

	browserCfg := rodbrowser.DefaultManagerConfig()
	browserCfg.Headless = cfg.BrowserHeadless
	if cfg.MaxSessions > 0 {
		browserCfg.Capacity = int64(cfg.MaxSessions)
	}
	sessions := rodbrowser.NewManager(browserCfg, log)

	var store output.TaskStore
	if cfg.DBPath != "" {
		gs, err := gormstore.Open(cfg.DBPath)
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("task store: %w", err)
		}
		store = gs
	}

	mediaStore, err := media.NewFileStore(cfg.MediaDir)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("media store: %w", err)
	}

	executor := usecase.NewActionExecutor(cfg.ActionTimeout, log)

	runnerCfg := usecase.DefaultRunnerConfig()
	if cfg.MaxSteps > 0 {
		runnerCfg.MaxSteps = cfg.MaxSteps
	}
	if cfg.TaskDeadline > 0 {
		runnerCfg.TaskDeadline = cfg.TaskDeadline
	}
	runner := usecase.NewTaskRunner(sessions, providers, executor, mediaStore, log, runnerCfg)

	registryCfg := service.DefaultRegistryConfig()
	if cfg.MaxRunning > 0 {
		registryCfg.MaxRunning = cfg.MaxRunning
	}
	if cfg.Backpressure != "" {
		registryCfg.Backpressure = service.BackpressurePolicy(cfg.Backpressure)
	}
	registry := service.NewTaskRegistry(runner, store, log, registryCfg)

	server := httpapi.NewServer(registry)

	return &Container{
		Logger:   log,
		Registry: registry,
		Handler:  server.Router("browser-bridge"),
		sessions: sessions,
	}, nil
}

func (c *Container) Close() {
	c.sessions.Close()
	_ = c.Logger.Close()
}
