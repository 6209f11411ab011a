package browsertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpilot/internal/browser"
)

func TestPage_TypeAndClear(t *testing.T) {
	ctx := context.Background()
	p := New(`<textarea id="t"></textarea>`)

	require.NoError(t, p.Focus(ctx, "#t"))
	require.NoError(t, p.SendKeys(ctx, "hel"))
	require.NoError(t, p.SendKeys(ctx, "lo"))
	assert.Equal(t, "hello", p.TypedInto("#t"))

	require.NoError(t, p.Press(ctx, browser.KeyBackspace))
	assert.Equal(t, "hell", p.TypedInto("#t"))

	require.NoError(t, p.Press(ctx, browser.KeyA, browser.ModCtrl))
	require.NoError(t, p.Press(ctx, browser.KeyBackspace))
	assert.Equal(t, "", p.TypedInto("#t"))
	assert.Equal(t, []string{"Backspace", "Ctrl+a", "Backspace"}, p.Presses)
}

func TestPage_ClickHooksAndErrors(t *testing.T) {
	ctx := context.Background()
	p := New(`<button id="go">Go</button><button id="hidden" style="display:none">x</button>`)
	p.OnClick["#go"] = func(p *Page) { p.SetHTML(`<p id="done">ok</p>`) }

	err := p.Click(ctx, "#missing")
	assert.ErrorIs(t, err, browser.ErrElementNotFound)

	err = p.Click(ctx, "#hidden")
	assert.Error(t, err)

	require.NoError(t, p.Click(ctx, "#go"))
	ok, err := browser.Exists(ctx, p, "#done")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPage_MarkByText(t *testing.T) {
	ctx := context.Background()
	p := New(`<div role="button" style="width:600px;height:200px">
		<span>What's on your mind, Sam?</span>
	</div>`)

	sel, err := p.MarkByText(ctx, `[role="button"], span`, []string{"what's on your mind"}, "composer")
	require.NoError(t, err)
	assert.Equal(t, `[data-pp-mark="composer"]`, sel)

	els, err := p.Snapshot(ctx, sel)
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "span", els[0].Tag, "smallest match wins")

	_, err = p.MarkByText(ctx, "span", []string{"nope"}, "x")
	assert.ErrorIs(t, err, browser.ErrElementNotFound)
}

func TestPage_NavigateRoutes(t *testing.T) {
	ctx := context.Background()
	p := New(`<p>start</p>`)
	p.Routes["https://x.com/home"] = `<div data-testid="primaryColumn"></div>`
	p.FailNavigations = 1

	assert.Error(t, p.Navigate(ctx, "https://x.com/home"))
	require.NoError(t, p.Navigate(ctx, "https://x.com/home"))

	url, err := p.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/home", url)
	ok, err := browser.Exists(ctx, p, `[data-testid="primaryColumn"]`)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, p.Navigations, 2)
}
