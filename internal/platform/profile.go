// Package platform holds the per-site URLs, cookies and selectors the login
// and composer flows are driven by.
package platform

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ibeckermayer/postpilot/internal/types"
)

// Profile describes one platform. Fixed selectors are tried before
// heuristic discovery; empty lists simply fall through to discovery.
type Profile struct {
	Platform types.Platform `yaml:"-"`

	HomeURL      string `yaml:"home_url"`
	LoginURL     string `yaml:"login_url"`
	CookieDomain string `yaml:"cookie_domain"`

	// CriticalCookies must all be present and unexpired for the cookie fast path
	CriticalCookies []string `yaml:"critical_cookies"`
	LoggedInMarkers []string `yaml:"logged_in_markers"`

	ComposerTriggers []string `yaml:"composer_triggers"`
	// ComposerTexts are free-text prompts searched within ComposerTextScope
	ComposerTexts     []string `yaml:"composer_texts"`
	ComposerTextScope string   `yaml:"composer_text_scope"`
	ComposerContainer string   `yaml:"composer_container"`

	TextInputs    []string `yaml:"text_inputs"`
	SubmitButtons []string `yaml:"submit_buttons"`
	SubmitTexts   []string `yaml:"submit_texts"`

	SuccessMarkers []string `yaml:"success_markers"`
	SuccessTexts   []string `yaml:"success_texts"`

	FileInput string `yaml:"file_input"`
	// MediaFirst platforms take the upload before the caption and cannot post
	// text alone; AdvanceTexts name the buttons between the two steps.
	MediaFirst   bool     `yaml:"media_first"`
	AdvanceTexts []string `yaml:"advance_texts"`
	AdvanceSteps int      `yaml:"advance_steps"`
}

func twitter() Profile {
	return Profile{
		Platform:        types.Twitter,
		HomeURL:         "https://x.com/home",
		LoginURL:        "https://x.com/i/flow/login",
		CookieDomain:    ".x.com",
		CriticalCookies: []string{"auth_token", "ct0"},
		LoggedInMarkers: []string{TwitterHomeIndicator, TwitterFeedContainer, TwitterAccountMenu},

		ComposerTriggers:  []string{TwitterComposeInline, TwitterHomeIndicator, TwitterComposeLink},
		ComposerTexts:     []string{"What's happening", "What is happening"},
		ComposerTextScope: `[role="textbox"], [contenteditable="true"], div`,
		ComposerContainer: TwitterComposeInline,

		TextInputs:    []string{TwitterComposeInline},
		SubmitButtons: []string{TwitterPostButton, TwitterPostInline},
		SubmitTexts:   []string{"Post", "Tweet"},

		SuccessMarkers: []string{TwitterToast},
		SuccessTexts:   []string{"Your post was sent", "Your Tweet was sent"},

		FileInput: TwitterFileInput,
	}
}

func facebook() Profile {
	return Profile{
		Platform:        types.Facebook,
		HomeURL:         "https://www.facebook.com/",
		LoginURL:        "https://www.facebook.com/login",
		CookieDomain:    ".facebook.com",
		CriticalCookies: []string{"c_user", "xs"},
		LoggedInMarkers: []string{FacebookFeed, FacebookCreatePost, FacebookNavigation},

		ComposerTriggers:  []string{FacebookCreatePost},
		ComposerTexts:     []string{"What's on your mind", "Whats on your mind", "Write something"},
		ComposerTextScope: FacebookTriggerArea,
		ComposerContainer: FacebookDialog,

		TextInputs:    []string{FacebookTextbox},
		SubmitButtons: []string{FacebookPostButton},
		SubmitTexts:   []string{"Post"},

		SuccessTexts: []string{"Your post is now published", "Posted"},

		FileInput: FacebookFileInput,
	}
}

func instagram() Profile {
	return Profile{
		Platform:        types.Instagram,
		HomeURL:         "https://www.instagram.com/",
		LoginURL:        "https://www.instagram.com/accounts/login/",
		CookieDomain:    ".instagram.com",
		CriticalCookies: []string{"sessionid", "ds_user_id", "csrftoken"},
		LoggedInMarkers: []string{InstagramHome, InstagramNewPost},

		ComposerTriggers:  []string{InstagramNewPost, InstagramCreateLink},
		ComposerTexts:     []string{"Create", "New post"},
		ComposerTextScope: `a, [role="link"], [role="button"]`,
		ComposerContainer: InstagramDialog,

		TextInputs:  []string{InstagramCaption},
		SubmitTexts: []string{"Share"},

		SuccessMarkers: []string{InstagramShared},
		SuccessTexts:   []string{"Your post has been shared", "Post shared"},

		FileInput:    InstagramFileInput,
		MediaFirst:   true,
		AdvanceTexts: []string{"Next"},
		AdvanceSteps: 2,
	}
}

// Registry resolves profiles, with optional YAML overrides applied
type Registry struct {
	profiles map[types.Platform]Profile
}

// NewRegistry returns the built-in profiles
func NewRegistry() *Registry {
	return &Registry{profiles: map[types.Platform]Profile{
		types.Twitter:   twitter(),
		types.Facebook:  facebook(),
		types.Instagram: instagram(),
	}}
}

// Get returns a copy of the profile for p
func (r *Registry) Get(p types.Platform) (Profile, error) {
	prof, ok := r.profiles[p]
	if !ok {
		return Profile{}, fmt.Errorf("no profile for platform %q", p)
	}
	return prof.clone(), nil
}

// LoadOverrides merges a YAML file keyed by platform name into the registry.
// A missing file is not an error.
func (r *Registry) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read platform overrides: %w", err)
	}

	var raw map[string]Profile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse platform overrides: %w", err)
	}
	for name, o := range raw {
		p, err := types.ParsePlatform(name)
		if err != nil {
			return fmt.Errorf("platform overrides: %w", err)
		}
		base := r.profiles[p]
		base.merge(o)
		r.profiles[p] = base
	}
	return nil
}

func (p Profile) clone() Profile {
	c := p
	c.CriticalCookies = slices.Clone(p.CriticalCookies)
	c.LoggedInMarkers = slices.Clone(p.LoggedInMarkers)
	c.ComposerTriggers = slices.Clone(p.ComposerTriggers)
	c.ComposerTexts = slices.Clone(p.ComposerTexts)
	c.TextInputs = slices.Clone(p.TextInputs)
	c.SubmitButtons = slices.Clone(p.SubmitButtons)
	c.SubmitTexts = slices.Clone(p.SubmitTexts)
	c.SuccessMarkers = slices.Clone(p.SuccessMarkers)
	c.SuccessTexts = slices.Clone(p.SuccessTexts)
	c.AdvanceTexts = slices.Clone(p.AdvanceTexts)
	return c
}

// merge overwrites fields that o sets
func (p *Profile) merge(o Profile) {
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	list := func(dst *[]string, v []string) {
		if len(v) > 0 {
			*dst = v
		}
	}

	str(&p.HomeURL, o.HomeURL)
	str(&p.LoginURL, o.LoginURL)
	str(&p.CookieDomain, o.CookieDomain)
	str(&p.ComposerTextScope, o.ComposerTextScope)
	str(&p.ComposerContainer, o.ComposerContainer)
	str(&p.FileInput, o.FileInput)

	list(&p.CriticalCookies, o.CriticalCookies)
	list(&p.LoggedInMarkers, o.LoggedInMarkers)
	list(&p.ComposerTriggers, o.ComposerTriggers)
	list(&p.ComposerTexts, o.ComposerTexts)
	list(&p.TextInputs, o.TextInputs)
	list(&p.SubmitButtons, o.SubmitButtons)
	list(&p.SubmitTexts, o.SubmitTexts)
	list(&p.SuccessMarkers, o.SuccessMarkers)
	list(&p.SuccessTexts, o.SuccessTexts)
	list(&p.AdvanceTexts, o.AdvanceTexts)

	if o.AdvanceSteps > 0 {
		p.AdvanceSteps = o.AdvanceSteps
	}
	if o.MediaFirst {
		p.MediaFirst = true
	}
}
