package types

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies a supported social network
type Platform string

const (
	Facebook  Platform = "facebook"
	Instagram Platform = "instagram"
	Twitter   Platform = "twitter"
)

// AllPlatforms returns every supported platform in a stable order
func AllPlatforms() []Platform {
	return []Platform{Facebook, Instagram, Twitter}
}

// ParsePlatform accepts a platform name or one of its common aliases
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "facebook", "fb":
		return Facebook, nil
	case "instagram", "ig", "insta":
		return Instagram, nil
	case "twitter", "x", "twit":
		return Twitter, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Role is the semantic purpose of an element we need to locate
type Role string

const (
	UsernameField       Role = "username_field"
	PasswordField       Role = "password_field"
	SubmitButton        Role = "submit_button"
	PostComposerTrigger Role = "post_composer_trigger"
	PostTextInput       Role = "post_text_input"
	PostSubmitButton    Role = "post_submit_button"
)

// Roles lists every role discovery knows about
func Roles() []Role {
	return []Role{UsernameField, PasswordField, SubmitButton, PostComposerTrigger, PostTextInput, PostSubmitButton}
}

// ParseRole converts a role name back to a Role
func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CandidateSelector is one ranked discovery result. Recomputed per page load.
type CandidateSelector struct {
	Selector string `json:"selector"`
	Role     Role   `json:"role"`
	Score    int    `json:"score"`
}

// Screen is what the login flow observed on the page
type Screen string

const (
	UsernameScreen    Screen = "username_screen"
	PasswordScreen    Screen = "password_screen"
	LoggedIn          Screen = "logged_in"
	SecurityChallenge Screen = "security_challenge"
	Unknown           Screen = "unknown"
)

// LoginAttemptResult is produced once per login attempt
type LoginAttemptResult struct {
	Success bool        `json:"success"`
	Screen  Screen      `json:"screen_observed"`
	Error   string      `json:"error,omitempty"`
	Kind    FailureKind `json:"kind,omitempty"`

	// UsedCookies is true when the cookie fast path produced the login
	UsedCookies bool `json:"used_cookies"`
}

// PostResult is the terminal value handed back to the caller
type PostResult struct {
	RunID          string   `json:"run_id"`
	Platform       Platform `json:"platform"`
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	ScreenshotPath string   `json:"screenshot_path,omitempty"`
	AttemptsUsed   int      `json:"attempts_used"`
}

// Cookie mirrors the browser cookie shape written to the cookie file
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires"` // unix seconds, <= 0 for session cookies
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Expired reports whether the cookie has a concrete expiry in the past
func (c Cookie) Expired(now time.Time) bool {
	if c.Expires <= 0 {
		return false
	}
	return time.Unix(int64(c.Expires), 0).Before(now)
}

// CookieRecord is a saved cookie set for one platform
type CookieRecord struct {
	Platform Platform  `json:"platform"`
	Cookies  []Cookie  `json:"cookies"`
	SavedAt  time.Time `json:"-"`
}
