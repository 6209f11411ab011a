// Package browser drives a real Chrome instance behind a small Page
// interface, with chromedp as the default backend and rod as an alternate.
package browser

import (
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is a realistic Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Driver names accepted in Options.Driver
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Options configures a browser launch
type Options struct {
	Driver      string
	Headless    bool
	Timeout     time.Duration // overall browser operation timeout
	PageTimeout time.Duration // per-navigation timeout
	UserAgent   string
	Width       int
	Height      int
	ExecPath    string
	UserDataDir string
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = DriverChromedp
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = 1920, 1080
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 30 * time.Second
	}
	return o
}

// allocatorOptions returns chromedp allocator options with anti-bot-detection
// measures. Every chromedp launch goes through here.
func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),

		// Prevent navigator.webdriver = true detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.UserAgent(o.UserAgent),
		chromedp.WindowSize(o.Width, o.Height),

		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	if o.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(o.UserDataDir))
	}

	return opts
}
