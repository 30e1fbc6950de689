package output

import (
	"context"

	"browser-bridge/internal/domain/entity"
)

// SessionOptions is the per-acquisition browser configuration.
type SessionOptions struct {
	Headful bool
}

// BrowserSession is one isolated browser context bound to exactly one task.
// Operations are not safe for concurrent use; the owning loop executes them
// strictly sequentially. Release must be called on every exit path and is
// idempotent.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	PressEnter(ctx context.Context) error
	Scroll(ctx context.Context, direction string, amount int) error
	ExtractText(ctx context.Context, selector string) (string, error)
	WaitVisible(ctx context.Context, selector string) error

	Observe(ctx context.Context) (*entity.Observation, error)
	Screenshot(ctx context.Context) (*entity.Screenshot, error)

	CurrentURL() string
	Release()
}

// SessionManager owns the browser-process pool. Acquire blocks until
// capacity frees (or fails with entity.ErrResourceExhausted under the
// non-blocking policy) and hands out a session isolated from all others.
type SessionManager interface {
	Acquire(ctx context.Context, taskID string, opts SessionOptions) (BrowserSession, error)
	Close()
}
