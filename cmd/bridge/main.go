package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/di"
	"browser-bridge/internal/infrastructure/env"
)

func main() {
	envService := env.NewEnvService()

	cfg := di.Config{
		AppEnv:          envService.Get("APP_ENV", "dev"),
		LogLevel:        envService.Get("LOG_LEVEL", ""),
		DefaultProvider: envService.Get("DEFAULT_AI_PROVIDER", "openai"),
		Providers:       providerConfigs(envService),
		BrowserHeadless: !envService.GetBool("BROWSER_USE_HEADFUL", false),
		MaxSessions:     envService.GetInt("MAX_CONCURRENT_SESSIONS", 4),
		ActionTimeout:   envService.GetDuration("ACTION_TIMEOUT", 30*time.Second),
		MaxSteps:        envService.GetInt("MAX_STEPS", 25),
		TaskDeadline:    envService.GetDuration("TASK_TIMEOUT", 10*time.Minute),
		MaxRunning:      envService.GetInt("MAX_RUNNING_TASKS", 4),
		Backpressure:    envService.Get("BACKPRESSURE_POLICY", "queue"),
		DBPath:          envService.Get("DB_PATH", ""),
		MediaDir:        envService.Get("MEDIA_DIR", "media"),
	}

	container, err := di.NewContainer(cfg)
	if err != nil {
		log.Fatalf("initialization failed: %v", err)
	}
	defer container.Close()

	port := envService.Get("PORT", "8000")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           container.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		container.Logger.Info("HTTP server listening", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	container.Logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		container.Logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := container.Registry.Shutdown(shutdownCtx); err != nil {
		container.Logger.Warn("Task shutdown incomplete", "error", err)
	}
}

// providerConfigs builds the backend configurations from environment
// variables. A provider is enabled when its key variables are present.
func providerConfigs(envService *env.EnvService) map[string]output.ProviderConfig {
	providers := make(map[string]output.ProviderConfig)

	if key := envService.Get("OPENAI_API_KEY", ""); key != "" {
		providers["openai"] = output.ProviderConfig{
			Kind:    "openai",
			APIKey:  key,
			Model:   envService.Get("OPENAI_MODEL_ID", "gpt-4o"),
			BaseURL: envService.Get("OPENAI_BASE_URL", ""),
			Timeout: envService.GetDuration("MODEL_TIMEOUT", 120*time.Second),
		}
	}

	if envService.GetBool("OLLAMA_ENABLED", false) || envService.Get("OLLAMA_HOST", "") != "" {
		providers["ollama"] = output.ProviderConfig{
			Kind:    "ollama",
			Model:   envService.Get("OLLAMA_MODEL_ID", "llama3"),
			BaseURL: envService.Get("OLLAMA_HOST", "http://localhost:11434"),
			Timeout: envService.GetDuration("MODEL_TIMEOUT", 120*time.Second),
		}
	}

	if len(providers) == 0 {
		fmt.Fprintln(os.Stderr, "no model providers configured: set OPENAI_API_KEY or OLLAMA_HOST")
	}
	return providers
}
