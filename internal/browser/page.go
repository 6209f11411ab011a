package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ibeckermayer/postpilot/internal/dom"
	"github.com/ibeckermayer/postpilot/internal/types"
)

var (
	ErrElementNotFound = errors.New("element not found")
	ErrSessionBusy     = errors.New("browser session already in use")
	ErrSessionClosed   = errors.New("browser session closed")
	ErrWaitTimeout     = errors.New("timed out waiting for page condition")
)

// Key is a named keyboard key
type Key string

const (
	KeyEnter     Key = "Enter"
	KeyBackspace Key = "Backspace"
	KeyA         Key = "a"
)

// Modifier is a key held while another key is pressed
type Modifier int

const (
	ModCtrl Modifier = iota + 1
	ModMeta
	ModShift
)

// Page is one browser tab. Implementations are not safe for concurrent use;
// Session serialises access.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)

	// Snapshot describes every element matching query in document order
	Snapshot(ctx context.Context, query string) ([]dom.Element, error)

	// MarkByText finds the smallest visible element matching query whose
	// text contains any of texts, tags it with marker and returns a selector
	// for it. ErrElementNotFound when nothing matches.
	MarkByText(ctx context.Context, query string, texts []string, marker string) (string, error)

	Click(ctx context.Context, selector string) error
	ScriptClick(ctx context.Context, selector string) error
	Focus(ctx context.Context, selector string) error

	// SendKeys types text into the focused element
	SendKeys(ctx context.Context, text string) error
	Press(ctx context.Context, key Key, mods ...Modifier) error
	MouseMove(ctx context.Context, x, y float64) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	Screenshot(ctx context.Context) ([]byte, error)

	SetCookies(ctx context.Context, cookies []types.Cookie) error
	Cookies(ctx context.Context) ([]types.Cookie, error)

	Close() error
}

// Exists reports whether selector matches at least one element
func Exists(ctx context.Context, p Page, selector string) (bool, error) {
	els, err := p.Snapshot(ctx, selector)
	if err != nil {
		return false, err
	}
	return len(els) > 0, nil
}

// Interactable reports whether the first match of selector passes the
// visibility predicate
func Interactable(ctx context.Context, p Page, selector string) (bool, error) {
	els, err := p.Snapshot(ctx, selector)
	if err != nil {
		return false, err
	}
	return len(els) > 0 && els[0].Visible(), nil
}

// Editable reports whether the first match of selector accepts typed text
func Editable(ctx context.Context, p Page, selector string) (bool, error) {
	els, err := p.Snapshot(ctx, selector)
	if err != nil {
		return false, err
	}
	return len(els) > 0 && els[0].Editable(), nil
}

// AnyInteractable returns the first selector whose first match is
// interactable, or "" if none is
func AnyInteractable(ctx context.Context, p Page, selectors []string) (string, error) {
	for _, sel := range selectors {
		ok, err := Interactable(ctx, p, sel)
		if err != nil {
			return "", err
		}
		if ok {
			return sel, nil
		}
	}
	return "", nil
}

// Poll evaluates cond every interval until it returns true, an error, or
// timeout elapses. cond always runs at least once. Returns ErrWaitTimeout on
// expiry.
func Poll(ctx context.Context, timeout, interval time.Duration, cond func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// WaitAny polls until one of selectors is interactable and returns it.
// Returns ErrElementNotFound when timeout elapses first.
func WaitAny(ctx context.Context, p Page, selectors []string, timeout, poll time.Duration) (string, error) {
	var found string
	err := Poll(ctx, timeout, poll, func(ctx context.Context) (bool, error) {
		sel, err := AnyInteractable(ctx, p, selectors)
		found = sel
		return sel != "", err
	})
	if errors.Is(err, ErrWaitTimeout) {
		return "", fmt.Errorf("waiting for %v: %w", selectors, ErrElementNotFound)
	}
	return found, err
}
