package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/ibeckermayer/postpilot/internal/dom"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// rodPage is the go-rod backend with stealth evasions applied to the tab
type rodPage struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	opts     Options
}

func launchRod(ctx context.Context, o Options) (*rodPage, error) {
	l := launcher.New().
		Headless(o.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", fmt.Sprintf("%d,%d", o.Width, o.Height)).
		Set("user-agent", o.UserAgent)

	if o.ExecPath != "" {
		l = l.Bin(o.ExecPath)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}
	if o.UserDataDir != "" {
		l = l.UserDataDir(o.UserDataDir)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The browser outlives the launch call, so the launcher keeps its own context.
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		b.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	return &rodPage{launcher: l, browser: b, page: page, opts: o}, nil
}

func (p *rodPage) eval(ctx context.Context, fn string, out any, args ...any) error {
	res, err := p.page.Context(ctx).Eval(fn, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// element looks selector up once, without rod's default retry-until-found
func (p *rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%s: %w", selector, ErrElementNotFound)
		}
		return nil, err
	}
	return el, nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.PageTimeout)
	defer cancel()

	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Snapshot(ctx context.Context, query string) ([]dom.Element, error) {
	var out []dom.Element
	if err := p.eval(ctx, snapshotFn, &out, query); err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", query, err)
	}
	return out, nil
}

func (p *rodPage) MarkByText(ctx context.Context, query string, texts []string, marker string) (string, error) {
	var sel string
	if err := p.eval(ctx, markByTextFn, &sel, query, texts, marker); err != nil {
		return "", err
	}
	if sel == "" {
		return "", fmt.Errorf("text %v in %q: %w", texts, query, ErrElementNotFound)
	}
	return sel, nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, clickTimeout)
	defer cancel()
	return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) ScriptClick(ctx context.Context, selector string) error {
	var ok bool
	if err := p.eval(ctx, scriptClickFn, &ok, selector); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", selector, ErrElementNotFound)
	}
	return nil
}

func (p *rodPage) Focus(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Context(ctx).Focus()
}

func (p *rodPage) SendKeys(ctx context.Context, text string) error {
	return p.page.Context(ctx).InsertText(text)
}

var rodKeys = map[Key]input.Key{
	KeyEnter:     input.Enter,
	KeyBackspace: input.Backspace,
	KeyA:         input.KeyA,
}

var rodMods = map[Modifier]input.Key{
	ModCtrl:  input.ControlLeft,
	ModMeta:  input.MetaLeft,
	ModShift: input.ShiftLeft,
}

func (p *rodPage) Press(ctx context.Context, key Key, mods ...Modifier) error {
	k, ok := rodKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	held := make([]input.Key, 0, len(mods))
	for _, m := range mods {
		held = append(held, rodMods[m])
	}
	return p.page.Context(ctx).KeyActions().Press(held...).Type(k).Do()
}

func (p *rodPage) MouseMove(ctx context.Context, x, y float64) error {
	return proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMouseMoved,
		X:    x,
		Y:    y,
	}.Call(p.page.Context(ctx))
}

func (p *rodPage) SetFiles(ctx context.Context, selector string, paths []string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Context(ctx).SetFiles(paths)
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
			Expires:  proto.TimeSinceEpoch(c.Expires),
		})
	}
	return p.page.Context(ctx).SetCookies(params)
}

func (p *rodPage) Cookies(ctx context.Context) ([]types.Cookie, error) {
	raw, err := p.page.Context(ctx).Cookies(nil)
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
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func (p *rodPage) Close() error {
	err := p.browser.Close()
	p.launcher.Kill()
	p.launcher.Cleanup()
	return err
}
