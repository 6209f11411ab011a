package discovery

import (
	"strings"

	"github.com/ibeckermayer/postpilot/internal/dom"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// Tag sets enumerated for each kind of role
const (
	fieldQuery    = `input`
	buttonQuery   = `button, [role="button"], input[type="submit"]`
	triggerQuery  = `[role="button"], button, [role="textbox"], [contenteditable="true"], textarea, a[href*="compose"]`
	textareaQuery = `textarea, [contenteditable="true"], [role="textbox"]`
)

type roleSpec struct {
	query    string
	fullTags []string // tags whose every element the query enumerates
	button   bool
	keywords []string
	exclude  []string
	types    []string // accepted input types; empty means any

	// editableFallback admits editable elements that matched no keyword
	editableFallback bool
}

var specs = map[types.Role]roleSpec{
	types.UsernameField: {
		query:    fieldQuery,
		fullTags: []string{"input"},
		keywords: []string{"email", "user", "login", "phone", "mobile", "identifier", "account"},
		exclude:  []string{"password", "search"},
		types:    []string{"", "text", "email", "tel"},
	},
	types.PasswordField: {
		query:    fieldQuery,
		fullTags: []string{"input"},
		keywords: []string{"password", "pass"},
		exclude:  []string{"author"},
		types:    []string{"", "password", "text"},
	},
	types.SubmitButton: {
		query:    buttonQuery,
		fullTags: []string{"button"},
		button:   true,
		keywords: []string{"log", "sign", "in", "next", "submit", "continue"},
		exclude:  []string{"forgot", "with", "create", "sign up", "signup", "new account"},
	},
	types.PostComposerTrigger: {
		query:    triggerQuery,
		fullTags: []string{"button", "textarea"},
		button:   true,
		keywords: []string{
			"what's on your mind", "whats on your mind", "what's happening", "what is happening",
			"create post", "new post", "compose", "tweet", "post", "create",
		},
		exclude: []string{"comment", "reply", "search", "message", "repost"},
	},
	types.PostTextInput: {
		query:    textareaQuery,
		fullTags: []string{"textarea"},
		keywords: []string{
			"what's on your mind", "what's happening", "what is happening",
			"write", "caption", "post", "tweet", "text",
		},
		exclude:          []string{"comment", "reply", "search", "message"},
		editableFallback: true,
	},
	types.PostSubmitButton: {
		query:    buttonQuery,
		fullTags: []string{"button"},
		button:   true,
		keywords: []string{"post", "tweet", "share", "publish", "submit"},
		exclude:  []string{"comment", "reply", "schedule", "draft", "repost", "retweet", "boost"},
	},
}

// Query returns the CSS tag set enumerated for role
func Query(role types.Role) string {
	return specs[role].query
}

func (s roleSpec) coversTag(tag string) bool {
	for _, t := range s.fullTags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s roleSpec) accepts(e dom.Element) bool {
	if e.Tag != "input" || len(s.types) == 0 {
		return true
	}
	t := strings.ToLower(e.Type)
	for _, ok := range s.types {
		if t == ok {
			return true
		}
	}
	return false
}

func (s roleSpec) haystack(e dom.Element) string {
	var parts []string
	if s.button {
		parts = []string{e.Text, e.AriaLabel, e.Type, e.ID, e.Value, e.TestID}
	} else {
		parts = []string{e.Placeholder, e.Name, e.ID, e.Type, e.Autocomplete, e.AriaLabel, e.TestID}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// hits counts matched keywords; any excluded term vetoes the element
func (s roleSpec) hits(e dom.Element) int {
	hay := s.haystack(e)
	for _, x := range s.exclude {
		if strings.Contains(hay, x) {
			return 0
		}
	}

	var words map[string]bool
	n := 0
	for _, kw := range s.keywords {
		if len(kw) <= 2 {
			if words == nil {
				words = wordSet(hay)
			}
			if words[kw] {
				n++
			}
			continue
		}
		if strings.Contains(hay, kw) {
			n++
		}
	}
	return n
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		out[w] = true
	}
	return out
}
