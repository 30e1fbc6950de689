package rod

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

const (
	maxInventoryElements = 200
	screenshotMaxWidth   = 1024
)

// Session drives one dedicated browser process for one task.
type Session struct {
	manager  *Manager
	taskID   string
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
	timeout  time.Duration

	releaseOnce sync.Once
}

var _ output.BrowserSession = (*Session)(nil)

func newSession(m *Manager, taskID string, browser *rod.Browser, l *launcher.Launcher, page *rod.Page) *Session {
	return &Session{
		manager:  m,
		taskID:   taskID,
		browser:  browser,
		launcher: l,
		page:     page,
		timeout:  m.cfg.ElementTimeout,
	}
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page load: %w", err)
	}
	page.WaitIdle(5 * time.Second)
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	s.page.Context(ctx).WaitIdle(2 * time.Second)
	return nil
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return fmt.Errorf("field not found: %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("input failed: %w", err)
	}
	return nil
}

func (s *Session) PressEnter(ctx context.Context) error {
	el, err := s.page.Context(ctx).Timeout(s.timeout).Element("body")
	if err != nil {
		return fmt.Errorf("body not found: %w", err)
	}
	if err := el.Input("\r"); err != nil {
		return fmt.Errorf("press enter failed: %w", err)
	}
	s.page.Context(ctx).WaitIdle(time.Second)
	return nil
}

func (s *Session) Scroll(ctx context.Context, direction string, amount int) error {
	if amount <= 0 {
		amount = 1
	}
	page := s.page.Context(ctx)
	var err error
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "down":
		_, err = page.Eval(`(n) => window.scrollBy(0, window.innerHeight * n)`, amount)
	case "up":
		_, err = page.Eval(`(n) => window.scrollBy(0, -window.innerHeight * n)`, amount)
	case "top":
		_, err = page.Eval(`() => window.scrollTo(0, 0)`)
	case "bottom":
		_, err = page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	default:
		return fmt.Errorf("unknown scroll direction: %s", direction)
	}
	if err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	page.WaitIdle(800 * time.Millisecond)
	return nil
}

func (s *Session) ExtractText(ctx context.Context, selector string) (string, error) {
	el, err := s.element(ctx, selector)
	if err != nil {
		return "", fmt.Errorf("element not found: %s: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait visible: %w", err)
	}
	return nil
}

// Observe summarizes the page: URL, title, cleaned visible text, and the
// interactive element inventory.
func (s *Session) Observe(ctx context.Context) (*entity.Observation, error) {
	page := s.page.Context(ctx)
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}

	obs := &entity.Observation{URL: info.URL, Title: info.Title}
	if info.URL == "about:blank" {
		obs.Text = "(blank page, nothing loaded yet)"
		return obs, nil
	}

	if body, err := page.Timeout(s.timeout).Element("body"); err == nil {
		if html, err := body.HTML(); err == nil {
			obs.Text = VisibleText(html)
		}
	}

	obs.Elements = s.inventory(ctx)
	return obs, nil
}

// inventory collects clickable and fillable elements the way a user would
// scan the page: buttons, inputs, links.
func (s *Session) inventory(ctx context.Context) []entity.UIElement {
	page := s.page.Context(ctx)
	var result []entity.UIElement
	seen := make(map[string]bool)
	counter := 0

	add := func(el *rod.Element, typ string) {
		if el == nil || counter >= maxInventoryElements {
			return
		}
		visible, err := el.Visible()
		if err != nil || !visible {
			return
		}
		selector, err := el.GetXPath(true)
		if err != nil || selector == "" {
			return
		}
		if seen[selector] {
			return
		}
		seen[selector] = true

		text, _ := el.Text()
		aria, _ := el.Attribute("aria-label")
		role, _ := el.Attribute("role")

		result = append(result, entity.UIElement{
			ID:        fmt.Sprintf("ui-%04d", counter),
			Type:      typ,
			Text:      strings.TrimSpace(text),
			AriaLabel: deref(aria),
			Role:      deref(role),
			Selector:  selector,
		})
		counter++
	}

	groups := []struct {
		query string
		typ   string
	}{
		{"button, [role='button'], [aria-label]:not([aria-label=''])", "button"},
		{"input, textarea, select", "input"},
		{"a[href]", "link"},
	}
	for _, g := range groups {
		if elements, err := page.Elements(g.query); err == nil {
			for _, el := range elements {
				add(el, g.typ)
			}
		}
	}
	return result
}

func (s *Session) Screenshot(ctx context.Context) (*entity.Screenshot, error) {
	imgBytes, err := s.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(80),
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}
	if img.Bounds().Dx() > screenshotMaxWidth {
		img = imaging.Resize(img, screenshotMaxWidth, 0, imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}

	return &entity.Screenshot{
		Data:   buf.Bytes(),
		Format: "jpeg",
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}, nil
}

func (s *Session) CurrentURL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Release tears down the browser process and frees the pool slot. Safe to
// call more than once.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		s.manager.release(s)
	})
}

// element resolves a CSS or XPath selector with the session timeout.
func (s *Session) element(ctx context.Context, selector string) (*rod.Element, error) {
	page := s.page.Context(ctx).Timeout(s.timeout)
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return page.ElementX(selector)
	}
	return page.Element(selector)
}

func deref(s *string) string {
	if s != nil {
		return *s
	}
	return ""
}
