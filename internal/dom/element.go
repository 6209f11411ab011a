// Package dom describes page elements in a driver-neutral form so that
// discovery and ranking can run without a live browser.
package dom

import "strings"

// MinVisibleSize is the smallest width/height (px) counted as laid out
const MinVisibleSize = 2.0

// Rect is an element bounding box in CSS pixels
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns width * height
func (r Rect) Area() float64 { return r.Width * r.Height }

// Element is a snapshot of one DOM element. The zero value of every
// boolean means "not hidden", so fakes only need to set what differs.
type Element struct {
	// Index is the position within the query result, Pos the position among
	// all elements of the document.
	Index           int    `json:"index"`
	Pos             int    `json:"pos"`
	Tag             string `json:"tag"`
	Type            string `json:"type"`
	Name            string `json:"name"`
	ID              string `json:"id"`
	Placeholder     string `json:"placeholder"`
	AriaLabel       string `json:"ariaLabel"`
	Role            string `json:"role"`
	TestID          string `json:"testId"`
	Autocomplete    string `json:"autocomplete"`
	Value           string `json:"value"`
	Text            string `json:"text"`
	ContentEditable bool   `json:"contentEditable"`
	Rect            Rect   `json:"rect"`

	DisplayNone      bool `json:"displayNone"`
	VisibilityHidden bool `json:"visibilityHidden"`
	Transparent      bool `json:"transparent"`
	Disabled         bool `json:"disabled"`
	AriaDisabled     bool `json:"ariaDisabled"`
	AriaHidden       bool `json:"ariaHidden"`
	HiddenAttr       bool `json:"hiddenAttr"`
	OutOfViewport    bool `json:"outOfViewport"`
}

// Visible is the interactability predicate: laid out, styled visible,
// enabled, not hidden from assistive tech and inside the viewport.
func (e Element) Visible() bool {
	if e.Rect.Area() <= 0 {
		return false
	}
	if e.DisplayNone || e.VisibilityHidden || e.Transparent {
		return false
	}
	if e.Disabled || e.AriaDisabled {
		return false
	}
	if e.AriaHidden || e.HiddenAttr {
		return false
	}
	if e.Rect.Width <= MinVisibleSize || e.Rect.Height <= MinVisibleSize {
		return false
	}
	return !e.OutOfViewport
}

// Editable reports whether text can be typed straight into the element
func (e Element) Editable() bool {
	if e.ContentEditable || e.Tag == "textarea" || e.Role == "textbox" {
		return true
	}
	if e.Tag != "input" {
		return false
	}
	switch strings.ToLower(e.Type) {
	case "submit", "button", "checkbox", "radio", "file", "hidden", "image", "reset":
		return false
	}
	return true
}
