// Package rod implements the browser session pool on go-rod. Every task
// gets its own Chrome process, so cookies, storage, and history never
// leak across tasks.
package rod

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/semaphore"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

type ManagerConfig struct {
	// Capacity caps concurrently open browser processes.
	Capacity int64
	// Headless is the default mode; a session acquired with Headful true
	// overrides it.
	Headless bool
	// Blocking makes Acquire wait for capacity; when false, Acquire fails
	// immediately with entity.ErrResourceExhausted.
	Blocking bool
	// ElementTimeout bounds individual element lookups inside a session.
	ElementTimeout time.Duration
	SlowMotion     time.Duration
	NoSandbox      bool
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Capacity:       4,
		Headless:       true,
		Blocking:       true,
		ElementTimeout: 10 * time.Second,
		NoSandbox:      true,
	}
}

// Manager owns the process pool. Acquire launches a dedicated browser per
// session; Release tears the process down and frees the slot.
type Manager struct {
	cfg    ManagerConfig
	sem    *semaphore.Weighted
	logger output.LoggerPort
}

var _ output.SessionManager = (*Manager)(nil)

func NewManager(cfg ManagerConfig, logger output.LoggerPort) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultManagerConfig().Capacity
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = DefaultManagerConfig().ElementTimeout
	}
	return &Manager{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.Capacity),
		logger: logger,
	}
}

func (m *Manager) Acquire(ctx context.Context, taskID string, opts output.SessionOptions) (output.BrowserSession, error) {
	if m.cfg.Blocking {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("waiting for browser capacity: %w", err)
		}
	} else if !m.sem.TryAcquire(1) {
		return nil, entity.ErrResourceExhausted
	}

	session, err := m.launch(taskID, opts)
	if err != nil {
		m.sem.Release(1)
		return nil, err
	}
	m.logger.Info("Browser session acquired", "task", taskID, "headful", opts.Headful)
	return session, nil
}

func (m *Manager) launch(taskID string, opts output.SessionOptions) (*Session, error) {
	headless := m.cfg.Headless && !opts.Headful

	l := launcher.New().
		Headless(headless).
		NoSandbox(m.cfg.NoSandbox).
		Delete("use-mock-keychain").
		Set("disable-web-security").
		Set("allow-running-insecure-content").
		Set("disable-setuid-sandbox")

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if m.cfg.SlowMotion > 0 {
		browser = browser.SlowMotion(m.cfg.SlowMotion)
	}
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("open blank page: %w", err)
	}

	return newSession(m, taskID, browser, l, page), nil
}

// Close is a no-op for the pool itself; each session owns its process and
// tears it down on Release.
func (m *Manager) Close() {}

func (m *Manager) release(s *Session) {
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	m.sem.Release(1)
	m.logger.Info("Browser session released", "task", s.taskID)
}
