package dom

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Static HTML has no layout engine, so elements get this box unless an inline
// style says otherwise.
var defaultRect = Rect{X: 10, Y: 10, Width: 120, Height: 32}

const maxTextLen = 200

// Parse parses an HTML document for repeated queries
func Parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}

// FromHTML snapshots every element matching query in document order
func FromHTML(html, query string) ([]Element, error) {
	doc, err := Parse(html)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, query), nil
}

// FromDocument snapshots every element matching query in document order
func FromDocument(doc *goquery.Document, query string) []Element {
	matches := doc.Find(query)
	if matches.Length() == 0 {
		return nil
	}

	pos := make(map[*html.Node]int)
	doc.Find("*").Each(func(i int, s *goquery.Selection) {
		pos[s.Get(0)] = i
	})

	out := make([]Element, 0, matches.Length())
	matches.Each(func(i int, s *goquery.Selection) {
		e := FromSelection(s, i)
		e.Pos = pos[s.Get(0)]
		out = append(out, e)
	})
	return out
}

// FromSelection converts the first node of s. Visibility is derived from
// attributes and inline styles on the node and its ancestors.
func FromSelection(s *goquery.Selection, index int) Element {
	tag := goquery.NodeName(s)
	e := Element{
		Index:        index,
		Tag:          tag,
		Type:         s.AttrOr("type", ""),
		Name:         s.AttrOr("name", ""),
		ID:           s.AttrOr("id", ""),
		Placeholder:  s.AttrOr("placeholder", ""),
		AriaLabel:    s.AttrOr("aria-label", ""),
		Role:         s.AttrOr("role", ""),
		TestID:       s.AttrOr("data-testid", ""),
		Autocomplete: s.AttrOr("autocomplete", ""),
		Text:         collapse(s.Text()),
		Rect:         defaultRect,
	}
	switch tag {
	case "input":
		e.Value = s.AttrOr("value", "")
	case "textarea":
		e.Value = s.Text()
	}

	if ce := s.Closest("[contenteditable]"); ce.Length() > 0 {
		e.ContentEditable = strings.ToLower(ce.AttrOr("contenteditable", "")) != "false"
	}

	_, e.Disabled = s.Attr("disabled")
	e.AriaDisabled = s.AttrOr("aria-disabled", "") == "true"
	e.AriaHidden = s.Closest(`[aria-hidden="true"]`).Length() > 0
	e.HiddenAttr = s.Closest("[hidden]").Length() > 0

	own := parseStyle(s.AttrOr("style", ""))
	applyBox(&e, own)

	// Inherited effects: display:none and opacity:0 on any ancestor hide the
	// element; visibility is inherited unless overridden closer in.
	visibilitySet := false
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		st := parseStyle(cur.AttrOr("style", ""))
		if st["display"] == "none" {
			if cur.IsSelection(s) {
				e.DisplayNone = true
			} else {
				e.Rect.Width, e.Rect.Height = 0, 0
			}
		}
		if v, ok := st["opacity"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f == 0 {
				e.Transparent = true
			}
		}
		if v, ok := st["visibility"]; ok && !visibilitySet {
			visibilitySet = true
			e.VisibilityHidden = v == "hidden"
		}
	}
	return e
}

func applyBox(e *Element, st map[string]string) {
	if v, ok := px(st["width"]); ok {
		e.Rect.Width = v
	}
	if v, ok := px(st["height"]); ok {
		e.Rect.Height = v
	}
	left, lok := px(st["left"])
	top, tok := px(st["top"])
	if lok {
		e.Rect.X = left
	}
	if tok {
		e.Rect.Y = top
	}
	if e.Rect.X+e.Rect.Width <= 0 || e.Rect.Y+e.Rect.Height <= 0 {
		e.OutOfViewport = true
	}
}

func parseStyle(style string) map[string]string {
	out := make(map[string]string)
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func px(v string) (float64, bool) {
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func collapse(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxTextLen {
		s = s[:maxTextLen]
	}
	return s
}
