// Package challenge detects checkpoint, 2FA and CAPTCHA screens that need a
// human to continue.
package challenge

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/postpilot/internal/dom"
)

// Keywords are matched case-insensitively against visible body text
var Keywords = []string{"security", "checkpoint", "verification", "confirm", "identify", "suspicious"}

// Selectors match code-entry inputs and security-themed images
var Selectors = []string{
	`input[name*="code"]`,
	`input[id*="code"]`,
	`input[autocomplete="one-time-code"]`,
	`input[name="approvals_code"]`,
	`img[alt*="security"]`,
	`img[alt*="Security"]`,
	`img[alt*="captcha"]`,
	`img[alt*="CAPTCHA"]`,
	`iframe[src*="captcha"]`,
}

// Finding is the detector verdict with the first matching evidence
type Finding struct {
	Challenged bool
	Reason     string
}

// Detect reports whether html shows a security challenge. It is a pure
// predicate and does not consider whether the page also looks logged in.
func Detect(html string) (Finding, error) {
	doc, err := dom.Parse(html)
	if err != nil {
		return Finding{}, err
	}
	return DetectDocument(doc), nil
}

// DetectDocument is Detect over an already parsed document
func DetectDocument(doc *goquery.Document) Finding {
	for _, sel := range Selectors {
		if doc.Find(sel).Length() > 0 {
			return Finding{Challenged: true, Reason: "selector " + sel}
		}
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, template").Remove()
	text := strings.ToLower(body.Text())

	for _, kw := range Keywords {
		if strings.Contains(text, kw) {
			return Finding{Challenged: true, Reason: "keyword " + kw}
		}
	}
	return Finding{}
}

// HTMLSource is the part of a page the detector needs
type HTMLSource interface {
	HTML(ctx context.Context) (string, error)
}

// Check captures the page HTML and runs Detect on it
func Check(ctx context.Context, page HTMLSource) (Finding, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return Finding{}, fmt.Errorf("challenge check: %w", err)
	}
	return Detect(html)
}
