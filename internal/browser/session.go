package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ibeckermayer/postpilot/internal/types"
)

// Launch starts a browser with the configured driver and opens one tab
func Launch(ctx context.Context, o Options) (Page, error) {
	o = o.withDefaults()
	switch o.Driver {
	case DriverChromedp:
		return launchChrome(ctx, o)
	case DriverRod:
		return launchRod(ctx, o)
	}
	return nil, fmt.Errorf("unknown browser driver %q", o.Driver)
}

// Session owns one page for one platform. Exactly one state machine may
// drive it at a time.
type Session struct {
	Page     Page
	Platform types.Platform

	keepOpen bool

	mu     sync.Mutex
	busy   bool
	closed bool
}

// NewSession wraps page. With keepOpen the browser survives Close so the
// user can inspect it.
func NewSession(page Page, platform types.Platform, keepOpen bool) *Session {
	return &Session{Page: page, Platform: platform, keepOpen: keepOpen}
}

// Acquire claims exclusive use of the page. Call the returned func to give
// it back.
func (s *Session) Acquire() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.busy {
		return nil, ErrSessionBusy
	}
	s.busy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		})
	}, nil
}

// KeepOpen reports whether Close leaves the browser running
func (s *Session) KeepOpen() bool { return s.keepOpen }

// Close releases the browser unless the session was opened with keepOpen.
// It reports whether the browser was actually closed.
func (s *Session) Close() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true, nil
	}
	if s.keepOpen {
		return false, nil
	}
	s.closed = true
	return true, s.Page.Close()
}

// ForceClose closes the browser even when keepOpen was requested. Used when
// the global timeout fires and by the operator shutting kept sessions down.
func (s *Session) ForceClose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.Page.Close()
}

// Screenshot writes a PNG named <platform>_<step>_<timestamp>.png to dir
func (s *Session) Screenshot(ctx context.Context, dir, step string) (string, error) {
	buf, err := s.Page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s.png", s.Platform, step, time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// SaveHTML writes the current DOM next to screenshots for offline debugging
func (s *Session) SaveHTML(ctx context.Context, dir, step string) (string, error) {
	html, err := s.Page.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s.html", s.Platform, step, time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(html), 0644); err != nil {
		return "", err
	}
	return path, nil
}
