package composer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ibeckermayer/postpilot/internal/browser"
	"github.com/ibeckermayer/postpilot/internal/browser/browsertest"
	"github.com/ibeckermayer/postpilot/internal/humanoid"
	"github.com/ibeckermayer/postpilot/internal/platform"
	"github.com/ibeckermayer/postpilot/internal/types"
)

const (
	fbHome = `<html><body>
		<div role="navigation">Menu</div>
		<div aria-label="Create a post" role="button"><span>What's on your mind, Ann?</span></div>
		<div role="feed">Stories from friends</div>
	</body></html>`

	fbHomeTextOnly = `<html><body>
		<div role="navigation">Menu</div>
		<div class="prompt"><span>What's on your mind, Ann?</span></div>
		<div role="feed">Stories from friends</div>
	</body></html>`

	fbDialog = `<html><body>
		<div role="feed">Stories from friends</div>
		<div role="dialog">
			<div contenteditable="true" role="textbox" aria-label="What's on your mind, Ann?"></div>
			<input type="file" style="display:none">
			<div aria-label="Post" role="button">Post</div>
		</div>
	</body></html>`

	fbDialogNoFile = `<html><body>
		<div role="dialog">
			<div contenteditable="true" role="textbox" aria-label="What's on your mind, Ann?"></div>
			<div aria-label="Post" role="button">Post</div>
		</div>
	</body></html>`

	fbAfterPost = `<html><body>
		<div role="navigation">Menu</div>
		<div role="feed">Hello world</div>
	</body></html>`

	twHome = `<html><body>
		<div data-testid="primaryColumn">
			<div data-testid="tweetTextarea_0" contenteditable="true" role="textbox" aria-label="Post text"></div>
			<button data-testid="tweetButtonInline">Post</button>
		</div>
	</body></html>`

	twSent = `<html><body>
		<div data-testid="primaryColumn">
			<div data-testid="tweetTextarea_0" contenteditable="true" role="textbox" aria-label="Post text"></div>
			<button data-testid="tweetButtonInline">Post</button>
		</div>
		<div data-testid="toast">Your post was sent.</div>
	</body></html>`

	igHome = `<html><body>
		<a href="#" role="link"><svg aria-label="Home"></svg></a>
		<a href="#" role="link"><svg aria-label="New post"></svg></a>
	</body></html>`

	igUpload = `<html><body><div role="dialog">
		<h2>Create new post</h2>
		<input type="file" style="display:none">
		<button>Select from computer</button>
	</div></body></html>`

	igCrop = `<html><body><div role="dialog">
		<h2>Crop</h2><div role="button">Next</div>
	</div></body></html>`

	igFilter = `<html><body><div role="dialog">
		<h2>Edit</h2><div role="button">Next</div>
	</div></body></html>`

	igCaption = `<html><body><div role="dialog">
		<div aria-label="Write a caption..." contenteditable="true" role="textbox"></div>
		<div role="button">Share</div>
	</div></body></html>`

	igShared = `<html><body><div role="dialog">
		<img alt="Animated checkmark" src="check.gif">
		<span>Your post has been shared.</span>
	</div></body></html>`
)

const (
	fbTrigger = `[aria-label="Create a post"]`
	fbTextbox = `div[role="dialog"] [contenteditable="true"][role="textbox"]`
	fbPost    = `div[role="dialog"] [aria-label="Post"][role="button"]`
)

func newComposer(t *testing.T, verify time.Duration) *Composer {
	t.Helper()
	human := humanoid.New(humanoid.DefaultConfig(), 3, humanoid.WithSleeper(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))
	return New(human, Options{ScreenWait: 100 * time.Millisecond, VerifyTimeout: verify, PollInterval: 5 * time.Millisecond}, zaptest.NewLogger(t))
}

func profile(t *testing.T, p types.Platform) platform.Profile {
	t.Helper()
	prof, err := platform.NewRegistry().Get(p)
	require.NoError(t, err)
	return prof
}

func facebookPage() *browsertest.Page {
	page := browsertest.New(fbHome)
	page.OnClick[fbTrigger] = func(p *browsertest.Page) { p.SetHTML(fbDialog) }
	page.OnClick[fbPost] = func(p *browsertest.Page) { p.SetHTML(fbAfterPost) }
	return page
}

func publish(t *testing.T, c *Composer, page *browsertest.Page, p types.Platform, post Post) (State, *types.StepLog, error) {
	t.Helper()
	steps := types.NewStepLog()
	state, err := c.Publish(context.Background(), browser.NewSession(page, p, false), profile(t, p), post, steps)
	return state, steps, err
}

func stepErr(steps *types.StepLog, name string) (types.Step, bool) {
	for _, s := range steps.Steps() {
		if s.Name == name {
			return s, true
		}
	}
	return types.Step{}, false
}

func TestPublish_FacebookVerifiedWhenDialogCloses(t *testing.T) {
	c := newComposer(t, 100*time.Millisecond)
	page := facebookPage()
	page.Typed[fbTextbox] = "stale draft"

	state, steps, err := publish(t, c, page, types.Facebook, Post{Caption: "Hello world"})
	require.NoError(t, err)
	assert.Equal(t, Verified, state)
	assert.Equal(t, "Hello world", page.TypedInto(fbTextbox), "residual text is cleared before typing")
	assert.Contains(t, page.Clicks, fbTrigger)
	assert.Contains(t, page.Clicks, fbPost)
	assert.Positive(t, page.MouseMoves)

	for _, name := range []string{"open_composer", "enter_text", "submit", "verify"} {
		s, ok := stepErr(steps, name)
		require.True(t, ok, name)
		assert.True(t, s.Success, name)
	}
}

func TestPublish_UnverifiedWhenComposerPersists(t *testing.T) {
	c := newComposer(t, 60*time.Millisecond)
	page := facebookPage()
	delete(page.OnClick, fbPost)

	state, steps, err := publish(t, c, page, types.Facebook, Post{Caption: "Hello world"})
	require.Error(t, err)
	assert.Equal(t, Unverified, state)
	assert.ErrorIs(t, err, types.ErrUnverified)
	assert.Equal(t, types.VerificationInconclusive, types.KindOf(err))
	assert.True(t, types.Retryable(err))

	s, ok := stepErr(steps, "verify")
	require.True(t, ok)
	assert.False(t, s.Success)
}

func TestPublish_ScriptClickFallback(t *testing.T) {
	c := newComposer(t, 100*time.Millisecond)
	page := facebookPage()
	page.ClickErr[fbPost] = errors.New("Other element would receive the click")

	state, _, err := publish(t, c, page, types.Facebook, Post{Caption: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, Verified, state)
	assert.Equal(t, []string{fbPost}, page.ScriptClicks)
}

func TestPublish_FreeTextTrigger(t *testing.T) {
	c := newComposer(t, 100*time.Millisecond)
	page := browsertest.New(fbHomeTextOnly)
	marked := `[data-pp-mark="pp-trigger"]`
	page.OnClick[marked] = func(p *browsertest.Page) { p.SetHTML(fbDialog) }
	page.OnClick[fbPost] = func(p *browsertest.Page) { p.SetHTML(fbAfterPost) }

	state, _, err := publish(t, c, page, types.Facebook, Post{Caption: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, Verified, state)
	assert.Contains(t, page.Clicks, marked)
}

func TestPublish_NoTriggerIsDiscoveryFailure(t *testing.T) {
	c := newComposer(t, 50*time.Millisecond)
	page := browsertest.New(`<html><body><div role="feed"></div></body></html>`)

	state, _, err := publish(t, c, page, types.Facebook, Post{Caption: "Hi"})
	assert.Equal(t, Idle, state)
	assert.ErrorIs(t, err, types.ErrDiscovery)
	assert.Contains(t, err.Error(), string(types.PostComposerTrigger))
}

func TestPublish_MediaFailureDegradesToText(t *testing.T) {
	c := newComposer(t, 100*time.Millisecond)
	page := facebookPage()
	page.OnClick[fbTrigger] = func(p *browsertest.Page) { p.SetHTML(fbDialogNoFile) }

	state, steps, err := publish(t, c, page, types.Facebook, Post{Caption: "Hi", MediaPath: "/tmp/cat.jpg"})
	require.NoError(t, err)
	assert.Equal(t, Verified, state)
	assert.Empty(t, page.Files)

	s, ok := stepErr(steps, "media")
	require.True(t, ok)
	assert.False(t, s.Success)
}

func TestPublish_MediaAttached(t *testing.T) {
	c := newComposer(t, 100*time.Millisecond)
	page := facebookPage()

	_, _, err := publish(t, c, page, types.Facebook, Post{Caption: "Hi", MediaPath: "/tmp/cat.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/cat.jpg"}, page.Files[platform.FacebookFileInput])
}

func TestPublish_TwitterEditableTriggerAndToast(t *testing.T) {
	c := newComposer(t, 100*time.Millisecond)
	page := browsertest.New(twHome)
	page.OnClick[platform.TwitterPostInline] = func(p *browsertest.Page) { p.SetHTML(twSent) }

	state, _, err := publish(t, c, page, types.Twitter, Post{Caption: "Shipping it"})
	require.NoError(t, err)
	assert.Equal(t, Verified, state)
	assert.Equal(t, "Shipping it", page.TypedInto(platform.TwitterComposeInline))
	assert.Equal(t, platform.TwitterComposeInline, page.Clicks[0], "inline composer clicked as the trigger")
}

func TestPublish_KeyboardSubmitLast(t *testing.T) {
	c := newComposer(t, 100*time.Millisecond)
	page := browsertest.New(twHome)
	page.ClickErr[platform.TwitterPostInline] = errors.New("covered")
	page.ScriptClickErr[platform.TwitterPostInline] = errors.New("detached")
	page.OnPress = func(p *browsertest.Page, key browser.Key, _ []browser.Modifier) {
		if key == browser.KeyEnter {
			p.SetHTML(twSent)
		}
	}

	state, _, err := publish(t, c, page, types.Twitter, Post{Caption: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, Verified, state)
	assert.Contains(t, page.Presses, "Enter")
}

func TestPublish_InstagramRequiresMedia(t *testing.T) {
	c := newComposer(t, 50*time.Millisecond)
	page := browsertest.New(igHome)

	state, _, err := publish(t, c, page, types.Instagram, Post{Caption: "Hi"})
	assert.Equal(t, Idle, state)
	assert.ErrorIs(t, err, ErrMediaRequired)
	assert.ErrorIs(t, err, types.ErrInteraction)
	assert.Empty(t, page.Clicks)
}

func TestPublish_InstagramMediaFirst(t *testing.T) {
	c := newComposer(t, 100*time.Millisecond)
	page := browsertest.New(igHome)
	page.OnClick[platform.InstagramNewPost] = func(p *browsertest.Page) { p.SetHTML(igUpload) }
	page.OnClick[`[data-pp-mark="pp-advance-1"]`] = func(p *browsertest.Page) { p.SetHTML(igFilter) }
	page.OnClick[`[data-pp-mark="pp-advance-2"]`] = func(p *browsertest.Page) { p.SetHTML(igCaption) }

	shared := false
	page.OnClick[`div[role="button"]`] = func(p *browsertest.Page) {
		shared = true
		p.SetHTML(igShared)
	}

	uploaded := false
	sess := browser.NewSession(&uploadPage{Page: page, after: igCrop, done: &uploaded}, types.Instagram, false)

	state, err := c.Publish(context.Background(), sess, profile(t, types.Instagram),
		Post{Caption: "Sunset", MediaPath: "/tmp/sunset.jpg"}, types.NewStepLog())
	require.NoError(t, err)
	assert.Equal(t, Verified, state)
	assert.True(t, uploaded)
	assert.True(t, shared)
	assert.Equal(t, []string{"/tmp/sunset.jpg"}, page.Files[platform.InstagramFileInput])
	assert.Equal(t, "Sunset", page.TypedInto(platform.InstagramCaption))
}

// uploadPage swaps in the next screen once files are set
type uploadPage struct {
	*browsertest.Page
	after string
	done  *bool
}

func (u *uploadPage) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := u.Page.SetFiles(ctx, selector, paths); err != nil {
		return err
	}
	*u.done = true
	u.Page.SetHTML(u.after)
	return nil
}

func TestPublish_SessionBusy(t *testing.T) {
	c := newComposer(t, 50*time.Millisecond)
	sess := browser.NewSession(facebookPage(), types.Facebook, false)
	release, err := sess.Acquire()
	require.NoError(t, err)
	defer release()

	_, err = c.Publish(context.Background(), sess, profile(t, types.Facebook), Post{Caption: "x"}, nil)
	assert.ErrorIs(t, err, browser.ErrSessionBusy)
}
