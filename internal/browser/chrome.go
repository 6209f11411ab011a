package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/ibeckermayer/postpilot/internal/dom"
	"github.com/ibeckermayer/postpilot/internal/types"
)

const clickTimeout = 5 * time.Second

// chromePage is the chromedp backend. ctx is the tab context; every call
// derives from it and is additionally bounded by the caller's context.
type chromePage struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	pageTimeout time.Duration
}

func launchChrome(ctx context.Context, o Options) (*chromePage, error) {
	// The browser outlives the launch call, so it hangs off Background.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(o)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	// chromedp's cancel funcs wait on the browser and must only run once.
	cancelTab = sync.OnceFunc(cancelTab)

	p := &chromePage{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: sync.OnceFunc(cancelAlloc),
		pageTimeout: o.PageTimeout,
	}

	// The first Run allocates the browser and binds its process to the
	// context it is given, so it must run on the tab context itself. A
	// cancelled caller tears the tab down instead.
	stop := context.AfterFunc(ctx, cancelTab)
	err := startChrome(tabCtx)
	if !stop() || ctx.Err() != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start chrome: %w", ctx.Err())
	}
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}
	return p, nil
}

// startChrome launches the browser for a fresh tab context
var startChrome = func(tabCtx context.Context) error {
	return chromedp.Run(tabCtx)
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.pageTimeout)
	defer cancel()
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Snapshot(ctx context.Context, query string) ([]dom.Element, error) {
	var out []dom.Element
	if err := p.run(ctx, chromedp.Evaluate(invoke(snapshotFn, query), &out)); err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", query, err)
	}
	return out, nil
}

func (p *chromePage) MarkByText(ctx context.Context, query string, texts []string, marker string) (string, error) {
	var sel string
	if err := p.run(ctx, chromedp.Evaluate(invoke(markByTextFn, query, texts, marker), &sel)); err != nil {
		return "", err
	}
	if sel == "" {
		return "", fmt.Errorf("text %v in %q: %w", texts, query, ErrElementNotFound)
	}
	return sel, nil
}

// present guards chromedp queries, which otherwise wait for the element
// until the context ends
func (p *chromePage) present(ctx context.Context, selector string) error {
	ok, err := Exists(ctx, p, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", selector, ErrElementNotFound)
	}
	return nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	if err := p.present(ctx, selector); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, clickTimeout)
	defer cancel()
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromePage) ScriptClick(ctx context.Context, selector string) error {
	var ok bool
	if err := p.run(ctx, chromedp.Evaluate(invoke(scriptClickFn, selector), &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", selector, ErrElementNotFound)
	}
	return nil
}

func (p *chromePage) Focus(ctx context.Context, selector string) error {
	if err := p.present(ctx, selector); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, clickTimeout)
	defer cancel()
	return p.run(ctx, chromedp.Focus(selector, chromedp.ByQuery))
}

func (p *chromePage) SendKeys(ctx context.Context, text string) error {
	return p.run(ctx, chromedp.KeyEvent(text))
}

func (p *chromePage) Press(ctx context.Context, key Key, mods ...Modifier) error {
	k := string(key)
	switch key {
	case KeyEnter:
		k = kb.Enter
	case KeyBackspace:
		k = kb.Backspace
	}

	var cdpMods []input.Modifier
	for _, m := range mods {
		switch m {
		case ModCtrl:
			cdpMods = append(cdpMods, input.ModifierCtrl)
		case ModMeta:
			cdpMods = append(cdpMods, input.ModifierMeta)
		case ModShift:
			cdpMods = append(cdpMods, input.ModifierShift)
		}
	}
	return p.run(ctx, chromedp.KeyEvent(k, chromedp.KeyModifiers(cdpMods...)))
}

func (p *chromePage) MouseMove(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

func (p *chromePage) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := p.present(ctx, selector); err != nil {
		return err
	}
	return p.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.FullScreenshot(&buf, 90))
	return buf, err
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	return p.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				req := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly)
				if c.SameSite != "" {
					req = req.WithSameSite(network.CookieSameSite(c.SameSite))
				}
				if c.Expires > 0 {
					exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
					req = req.WithExpires(&exp)
				}
				if err := req.Do(ctx); err != nil {
					return fmt.Errorf("set cookie %s: %w", c.Name, err)
				}
			}
			return nil
		}),
	)
}

func (p *chromePage) Cookies(ctx context.Context) ([]types.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			raw, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}

	out := make([]types.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func (p *chromePage) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	return nil
}
