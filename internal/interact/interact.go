// Package interact runs ordered fallback strategies for one logical action
package interact

import (
	"context"
	"errors"
	"fmt"

	"github.com/ibeckermayer/postpilot/internal/browser"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// Strategy is one way of performing an action
type Strategy struct {
	Name string
	Do   func(ctx context.Context) error
}

// TryInOrder runs strategies until one succeeds and returns its name. If all
// fail the joined errors come back as an InteractionFailure. Context
// cancellation stops the chain immediately.
func TryInOrder(ctx context.Context, op string, strategies ...Strategy) (string, error) {
	var errs []error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := s.Do(ctx)
		if err == nil {
			return s.Name, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	if len(errs) == 0 {
		return "", types.Fail(types.InteractionFailure, op, errors.New("no strategies"))
	}
	return "", types.Fail(types.InteractionFailure, op, errors.Join(errs...))
}

// ClickStrategies is the fallback chain for pressing a button: direct
// click, then a script click, then keyboard submission from the focused field.
func ClickStrategies(page browser.Page, selector string) []Strategy {
	return []Strategy{
		{Name: "click", Do: func(ctx context.Context) error {
			return page.Click(ctx, selector)
		}},
		{Name: "script-click", Do: func(ctx context.Context) error {
			return page.ScriptClick(ctx, selector)
		}},
		{Name: "enter", Do: func(ctx context.Context) error {
			return page.Press(ctx, browser.KeyEnter)
		}},
		{Name: "ctrl-enter", Do: func(ctx context.Context) error {
			return page.Press(ctx, browser.KeyEnter, browser.ModCtrl)
		}},
	}
}

// PointerStrategies clicks selector without the keyboard fallbacks
func PointerStrategies(page browser.Page, selector string) []Strategy {
	return ClickStrategies(page, selector)[:2]
}

// Clear focuses selector and deletes any residual content with select-all
// and Backspace. Both Ctrl and Meta are sent so it works on every OS.
func Clear(ctx context.Context, page browser.Page, selector string) error {
	if _, err := TryInOrder(ctx, "focus "+selector, PointerStrategies(page, selector)...); err != nil {
		if ferr := page.Focus(ctx, selector); ferr != nil {
			return err
		}
	}
	for _, mod := range []browser.Modifier{browser.ModCtrl, browser.ModMeta} {
		if err := page.Press(ctx, browser.KeyA, mod); err != nil {
			return fmt.Errorf("select all in %s: %w", selector, err)
		}
	}
	if err := page.Press(ctx, browser.KeyBackspace); err != nil {
		return fmt.Errorf("clear %s: %w", selector, err)
	}
	return nil
}
