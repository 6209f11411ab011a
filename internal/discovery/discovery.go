// Package discovery ranks CSS selectors for semantic roles (username field,
// post button, ...) from a snapshot of the page's elements.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ibeckermayer/postpilot/internal/dom"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// Specificity bands. Keyword bonuses stay below the gap between bands.
const (
	scoreName    = 300
	scoreID      = 200
	scoreTestID  = 150
	scoreAria    = 120
	scoreType    = 100
	scoreTag     = 50
	maxBonus     = 49
	bonusPerHit  = 10
	scoreProfile = 1000

	minSelectorLen = 5
)

// Snapshotter returns element descriptors for a CSS query in document order
type Snapshotter interface {
	Snapshot(ctx context.Context, query string) ([]dom.Element, error)
}

// Discover snapshots the role's tag set, ranks it and keeps the selectors
// whose first match on the whole page is the element they were built from.
// An empty result is not an error; the error return is reserved for a broken
// page connection.
func Discover(ctx context.Context, page Snapshotter, role types.Role) ([]types.CandidateSelector, error) {
	spec, ok := specs[role]
	if !ok {
		return nil, fmt.Errorf("discovery: unknown role %q", role)
	}
	elements, err := page.Snapshot(ctx, spec.query)
	if err != nil {
		return nil, fmt.Errorf("discovery: snapshot for %s: %w", role, err)
	}

	var out []types.CandidateSelector
	for _, r := range rank(elements, role) {
		els, err := page.Snapshot(ctx, r.Selector)
		if err != nil {
			return nil, fmt.Errorf("discovery: snapshot %q: %w", r.Selector, err)
		}
		if len(els) == 0 || els[0].Pos != r.pos {
			continue
		}
		out = append(out, r.CandidateSelector)
	}
	return out, nil
}

// Require is Discover with an empty result turned into a DiscoveryFailure
func Require(ctx context.Context, page Snapshotter, role types.Role) ([]types.CandidateSelector, error) {
	cands, err := Discover(ctx, page, role)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, types.Fail(types.DiscoveryFailure, "discover "+string(role),
			fmt.Errorf("no interactable element for role %s", role))
	}
	return cands, nil
}

// First returns the best selector for role or a DiscoveryFailure
func First(ctx context.Context, page Snapshotter, role types.Role) (string, error) {
	cands, err := Require(ctx, page, role)
	if err != nil {
		return "", err
	}
	return cands[0].Selector, nil
}

// FromProfile keeps the fixed selectors whose first match is interactable,
// scored above anything heuristic discovery produces and in the given order.
func FromProfile(ctx context.Context, page Snapshotter, role types.Role, selectors []string) ([]types.CandidateSelector, error) {
	var out []types.CandidateSelector
	for i, sel := range selectors {
		els, err := page.Snapshot(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("discovery: snapshot %q: %w", sel, err)
		}
		if len(els) == 0 || !els[0].Visible() {
			continue
		}
		out = append(out, types.CandidateSelector{Selector: sel, Role: role, Score: scoreProfile - i})
	}
	return out, nil
}

// Rank filters elements to interactable keyword matches for role and returns
// deduplicated selectors, best first. elements must be in document order.
// Rank only sees the role's tag set; Discover also checks each selector
// against the whole page.
func Rank(elements []dom.Element, role types.Role) []types.CandidateSelector {
	ranked := rank(elements, role)
	out := make([]types.CandidateSelector, len(ranked))
	for i, r := range ranked {
		out[i] = r.CandidateSelector
	}
	return out
}

// ranked is a candidate with the document position of its element
type ranked struct {
	types.CandidateSelector
	pos int
}

func rank(elements []dom.Element, role types.Role) []ranked {
	spec, ok := specs[role]
	if !ok {
		return nil
	}

	best := make(map[string]ranked)
	for i, e := range elements {
		if !spec.accepts(e) {
			continue
		}
		// Visibility first: off-screen decoys must never reach keyword matching.
		if !e.Visible() {
			continue
		}
		hits := spec.hits(e)
		if hits == 0 && !(spec.editableFallback && e.Editable()) {
			continue
		}

		bonus := min(hits*bonusPerHit, maxBonus)
		for _, c := range buildSelectors(e) {
			if len(c.selector) < minSelectorLen {
				continue
			}
			// A bare tag reaches elements outside the snapshot unless the
			// query enumerates every element of that tag.
			if c.bare && !spec.coversTag(e.Tag) {
				continue
			}
			// Only keep selectors that resolve to this element and not to an
			// earlier (possibly hidden) one.
			if firstMatch(elements, c.match) != i {
				continue
			}
			score := c.base + bonus
			if prev, ok := best[c.selector]; ok && prev.Score >= score {
				continue
			}
			best[c.selector] = ranked{
				CandidateSelector: types.CandidateSelector{Selector: c.selector, Role: role, Score: score},
				pos:               e.Pos,
			}
		}
	}

	out := make([]ranked, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Selector < out[j].Selector
	})
	return out
}

// Selectors flattens candidates to their selector strings
func Selectors(cands []types.CandidateSelector) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Selector
	}
	return out
}

type built struct {
	selector string
	base     int
	bare     bool
	match    func(dom.Element) bool
}

var cssIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

func buildSelectors(e dom.Element) []built {
	var out []built
	tag := e.Tag

	if e.Name != "" {
		name := e.Name
		out = append(out, built{
			selector: fmt.Sprintf(`%s[name=%s]`, tag, quote(name)),
			base:     scoreName,
			match:    func(o dom.Element) bool { return o.Tag == tag && o.Name == name },
		})
	}
	if e.ID != "" {
		id := e.ID
		sel := "#" + id
		if !cssIdent.MatchString(id) {
			sel = fmt.Sprintf(`[id=%s]`, quote(id))
		}
		out = append(out, built{
			selector: sel,
			base:     scoreID,
			match:    func(o dom.Element) bool { return o.ID == id },
		})
	}
	if e.TestID != "" {
		tid := e.TestID
		out = append(out, built{
			selector: fmt.Sprintf(`[data-testid=%s]`, quote(tid)),
			base:     scoreTestID,
			match:    func(o dom.Element) bool { return o.TestID == tid },
		})
	}
	if e.AriaLabel != "" {
		label := e.AriaLabel
		out = append(out, built{
			selector: fmt.Sprintf(`%s[aria-label=%s]`, tag, quote(label)),
			base:     scoreAria,
			match:    func(o dom.Element) bool { return o.Tag == tag && o.AriaLabel == label },
		})
	}
	if e.Type != "" {
		typ := e.Type
		out = append(out, built{
			selector: fmt.Sprintf(`%s[type=%s]`, tag, quote(typ)),
			base:     scoreType,
			match:    func(o dom.Element) bool { return o.Tag == tag && o.Type == typ },
		})
	}

	if e.Role != "" {
		role := e.Role
		out = append(out, built{
			selector: fmt.Sprintf(`%s[role=%s]`, tag, quote(role)),
			base:     scoreTag,
			match:    func(o dom.Element) bool { return o.Tag == tag && o.Role == role },
		})
	} else {
		out = append(out, built{
			selector: tag,
			base:     scoreTag,
			bare:     true,
			match:    func(o dom.Element) bool { return o.Tag == tag },
		})
	}
	return out
}

func firstMatch(elements []dom.Element, match func(dom.Element) bool) int {
	for i, e := range elements {
		if match(e) {
			return i
		}
	}
	return -1
}

func quote(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}
