// Package browsertest provides an in-memory browser.Page backed by goquery
// for exercising the automation flows without Chrome.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/postpilot/internal/browser"
	"github.com/ibeckermayer/postpilot/internal/dom"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// Page is a scripted fake. Configure the exported hook fields before use;
// the recorded fields are safe to read once the code under test returns.
type Page struct {
	// Routes maps a URL to the HTML served when it is navigated to
	Routes map[string]string
	// OnClick runs after a successful click (direct or scripted) on a selector
	OnClick map[string]func(*Page)
	// OnPress runs after every key press
	OnPress func(p *Page, key browser.Key, mods []browser.Modifier)
	// ClickErr and ScriptClickErr force failures for specific selectors
	ClickErr       map[string]error
	ScriptClickErr map[string]error
	// FailNavigations makes the next n navigations fail
	FailNavigations int
	ScreenshotErr   error
	HTMLErr         error

	Clicks       []string
	ScriptClicks []string
	Presses      []string
	Navigations  []string
	Typed        map[string]string
	Files        map[string][]string
	MouseMoves   int
	Closed       bool

	mu        sync.Mutex
	doc       *goquery.Document
	url       string
	focused   string
	selectAll bool
	cookies   []types.Cookie
}

var _ browser.Page = (*Page)(nil)

// New returns a fake showing html
func New(html string) *Page {
	p := &Page{
		Routes:         make(map[string]string),
		OnClick:        make(map[string]func(*Page)),
		ClickErr:       make(map[string]error),
		ScriptClickErr: make(map[string]error),
		Typed:          make(map[string]string),
		Files:          make(map[string][]string),
	}
	p.SetHTML(html)
	return p
}

// SetHTML replaces the document, as a client-side navigation would
func (p *Page) SetHTML(html string) {
	doc, err := dom.Parse(html)
	if err != nil {
		panic(fmt.Sprintf("browsertest: %v", err))
	}
	p.mu.Lock()
	p.doc = doc
	p.focused = ""
	p.selectAll = false
	p.mu.Unlock()
}

// TypedInto returns the text currently typed into selector
func (p *Page) TypedInto(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Typed[selector]
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	if p.FailNavigations > 0 {
		p.FailNavigations--
		p.mu.Unlock()
		return fmt.Errorf("navigate %s: net::ERR_CONNECTION_RESET", url)
	}
	p.url = url
	html, ok := p.Routes[url]
	p.mu.Unlock()

	if ok {
		p.SetHTML(html)
	}
	return nil
}

func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.HTMLErr != nil {
		return "", p.HTMLErr
	}
	return goquery.OuterHtml(p.doc.Selection)
}

func (p *Page) Snapshot(_ context.Context, query string) ([]dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dom.FromDocument(p.doc, query), nil
}

func (p *Page) MarkByText(_ context.Context, query string, texts []string, marker string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *goquery.Selection
	bestArea := 0.0
	p.doc.Find(query).Each(func(i int, s *goquery.Selection) {
		e := dom.FromSelection(s, i)
		hay := strings.ToLower(e.Text + " " + e.AriaLabel + " " + e.Placeholder)
		matched := false
		for _, t := range texts {
			if strings.Contains(hay, strings.ToLower(t)) {
				matched = true
				break
			}
		}
		if !matched || !e.Visible() {
			return
		}
		if best == nil || e.Rect.Area() < bestArea {
			best, bestArea = s, e.Rect.Area()
		}
	})
	if best == nil {
		return "", fmt.Errorf("text %v in %q: %w", texts, query, browser.ErrElementNotFound)
	}
	best.SetAttr(browser.MarkAttr, marker)
	return fmt.Sprintf(`[%s="%s"]`, browser.MarkAttr, marker), nil
}

func (p *Page) first(selector string) (dom.Element, bool) {
	els := dom.FromDocument(p.doc, selector)
	if len(els) == 0 {
		return dom.Element{}, false
	}
	return els[0], true
}

func (p *Page) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	el, ok := p.first(selector)
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", selector, browser.ErrElementNotFound)
	}
	if err := p.ClickErr[selector]; err != nil {
		p.mu.Unlock()
		return err
	}
	if !el.Visible() {
		p.mu.Unlock()
		return fmt.Errorf("%s: element not interactable", selector)
	}
	p.Clicks = append(p.Clicks, selector)
	p.focused = selector
	hook := p.OnClick[selector]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) ScriptClick(_ context.Context, selector string) error {
	p.mu.Lock()
	if _, ok := p.first(selector); !ok {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", selector, browser.ErrElementNotFound)
	}
	if err := p.ScriptClickErr[selector]; err != nil {
		p.mu.Unlock()
		return err
	}
	p.ScriptClicks = append(p.ScriptClicks, selector)
	hook := p.OnClick[selector]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Focus(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.first(selector); !ok {
		return fmt.Errorf("%s: %w", selector, browser.ErrElementNotFound)
	}
	p.focused = selector
	return nil
}

func (p *Page) SendKeys(_ context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.focused == "" {
		return fmt.Errorf("send keys: no focused element")
	}
	if p.selectAll {
		p.Typed[p.focused] = ""
		p.selectAll = false
	}
	p.Typed[p.focused] += text
	return nil
}

func (p *Page) Press(_ context.Context, key browser.Key, mods ...browser.Modifier) error {
	p.mu.Lock()
	name := string(key)
	selecting := false
	for _, m := range mods {
		switch m {
		case browser.ModCtrl:
			name = "Ctrl+" + name
			selecting = key == browser.KeyA
		case browser.ModMeta:
			name = "Meta+" + name
			selecting = key == browser.KeyA
		case browser.ModShift:
			name = "Shift+" + name
		}
	}
	p.Presses = append(p.Presses, name)

	switch {
	case selecting:
		p.selectAll = true
	case key == browser.KeyBackspace && p.focused != "":
		if p.selectAll {
			p.Typed[p.focused] = ""
			p.selectAll = false
		} else if t := p.Typed[p.focused]; t != "" {
			r := []rune(t)
			p.Typed[p.focused] = string(r[:len(r)-1])
		}
	}
	hook := p.OnPress
	p.mu.Unlock()

	if hook != nil {
		hook(p, key, mods)
	}
	return nil
}

func (p *Page) MouseMove(context.Context, float64, float64) error {
	p.mu.Lock()
	p.MouseMoves++
	p.mu.Unlock()
	return nil
}

func (p *Page) SetFiles(_ context.Context, selector string, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.first(selector); !ok {
		return fmt.Errorf("%s: %w", selector, browser.ErrElementNotFound)
	}
	p.Files[selector] = append([]string(nil), paths...)
	return nil
}

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) SetCookies(_ context.Context, cookies []types.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range cookies {
		replaced := false
		for i := range p.cookies {
			if p.cookies[i].Name == c.Name && p.cookies[i].Domain == c.Domain {
				p.cookies[i] = c
				replaced = true
			}
		}
		if !replaced {
			p.cookies = append(p.cookies, c)
		}
	}
	return nil
}

func (p *Page) Cookies(context.Context) ([]types.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Cookie(nil), p.cookies...), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.Closed = true
	p.mu.Unlock()
	return nil
}
