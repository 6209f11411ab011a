package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ibeckermayer/postpilot/internal/auth"
	"github.com/ibeckermayer/postpilot/internal/browser"
	"github.com/ibeckermayer/postpilot/internal/browser/browsertest"
	"github.com/ibeckermayer/postpilot/internal/composer"
	"github.com/ibeckermayer/postpilot/internal/config"
	"github.com/ibeckermayer/postpilot/internal/platform"
	"github.com/ibeckermayer/postpilot/internal/store"
	"github.com/ibeckermayer/postpilot/internal/types"
)

const (
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

	checkpoint = `<html><body>
		<h1>Security check</h1>
		<input name="approvals_code" type="text">
	</body></html>`

	twitterHome = "https://x.com/home"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.PathsConfig{
		CookieDir:         filepath.Join(dir, "cookies"),
		ScreenshotDir:     filepath.Join(dir, "screenshots"),
		ReportDir:         filepath.Join(dir, "reports"),
		Database:          filepath.Join(dir, "postpilot.db"),
		PlatformOverrides: filepath.Join(dir, "platforms.yaml"),
	}
	cfg.Browser.TimeoutMs = 5000
	cfg.Login.MarkerTimeoutMs = 100
	cfg.Login.ScreenWaitMs = 100
	cfg.Login.PollIntervalMs = 5
	cfg.Post.VerifyTimeoutMs = 50
	cfg.Post.RetryDelayMs = 1
	cfg.Accounts = nil
	return cfg
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	app      *App
	out      *bytes.Buffer
	launches atomic.Int32
}

// newHarness builds an App whose every launch gets a fresh page from newPage
func newHarness(t *testing.T, cfg *config.Config, newPage func() *browsertest.Page, opts ...Option) *harness {
	t.Helper()
	h := &harness{out: &bytes.Buffer{}}
	launch := func(ctx context.Context, _ browser.Options) (browser.Page, error) {
		h.launches.Add(1)
		return newPage(), nil
	}
	opts = append([]Option{WithLauncher(launch), WithOutput(h.out), WithSleeper(noSleep)}, opts...)
	a, err := New(cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	h.app = a
	return h
}

func seedTwitterCookies(t *testing.T, a *App) {
	t.Helper()
	exp := float64(time.Now().Add(24 * time.Hour).Unix())
	require.NoError(t, a.Cookies().Save(types.CookieRecord{
		Platform: types.Twitter,
		Cookies: []types.Cookie{
			{Name: "auth_token", Value: "tok", Domain: ".x.com", Path: "/", Expires: exp},
			{Name: "ct0", Value: "csrf", Domain: ".x.com", Path: "/", Expires: exp},
		},
	}))
}

func twitterPage() *browsertest.Page {
	page := browsertest.New(`<html><body></body></html>`)
	page.Routes[twitterHome] = twHome
	return page
}

func TestPost_Success(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.New(cfg.Paths.Database)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	page := twitterPage()
	page.OnClick[platform.TwitterPostInline] = func(p *browsertest.Page) { p.SetHTML(twSent) }
	h := newHarness(t, cfg, func() *browsertest.Page { return page }, WithStore(st))
	seedTwitterCookies(t, h.app)

	res, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "Shipping it"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.AttemptsUsed)
	assert.NotEmpty(t, res.RunID)
	assert.Contains(t, h.out.String(), "SUCCESS")
	assert.Contains(t, h.out.String(), "Posted:")
	assert.NotContains(t, h.out.String(), "Browser kept open")
	assert.True(t, page.Closed)
	assert.Equal(t, []string{twitterHome}, page.Navigations, "cookie fast path leaves the page on home")
	assert.FileExists(t, res.ScreenshotPath)

	run, err := st.GetRun(res.RunID)
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, "post", run.Kind)
	assert.NotEmpty(t, run.Steps)

	report, err := store.LatestReport(cfg.Paths.ReportDir, types.Twitter)
	require.NoError(t, err)
	loaded, err := store.LoadReport[store.Report](report)
	require.NoError(t, err)
	assert.Equal(t, "Shipping it", loaded.Caption)
	assert.True(t, loaded.Result.Success)
}

func TestPost_DefaultCaption(t *testing.T) {
	cfg := testConfig(t)
	cfg.Post.DefaultCaption = "Hello from tests"
	page := twitterPage()
	page.OnClick[platform.TwitterPostInline] = func(p *browsertest.Page) { p.SetHTML(twSent) }
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	_, err := h.app.Post(context.Background(), types.Twitter, composer.Post{})
	require.NoError(t, err)
	assert.Equal(t, "Hello from tests", page.TypedInto(platform.TwitterComposeInline))
}

func TestPost_UnverifiedRetriesThenFails(t *testing.T) {
	cfg := testConfig(t)
	page := twitterPage()
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	res, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnverified)
	assert.NotErrorIs(t, err, ErrTimeout)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.AttemptsUsed)
	assert.Len(t, page.Navigations, 3, "one cookie check plus a home navigation per retry")
	assert.Contains(t, h.out.String(), "FAILED")
	assert.True(t, page.Closed)

	require.NotEmpty(t, res.ScreenshotPath)
	assert.FileExists(t, res.ScreenshotPath)
	html, err := filepath.Glob(filepath.Join(cfg.Paths.ScreenshotDir, "*.html"))
	require.NoError(t, err)
	assert.Len(t, html, 1)
}

func TestPost_SecurityChallengeIsTerminal(t *testing.T) {
	cfg := testConfig(t)
	page := twitterPage()
	// The first attempt goes unverified, then the account gets checkpointed
	page.OnClick[platform.TwitterPostInline] = func(p *browsertest.Page) {
		p.Routes[twitterHome] = checkpoint
	}
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	res, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSecurityChallenge)
	assert.Equal(t, types.SecurityChallengeEncountered, types.KindOf(err))
	assert.Equal(t, 2, res.AttemptsUsed)
	assert.Len(t, page.Navigations, 2)
	assert.Contains(t, h.out.String(), "FAILED")
}

func TestPost_ChallengeBeatsLoggedInMarkers(t *testing.T) {
	cfg := testConfig(t)
	page := browsertest.New(`<html><body></body></html>`)
	page.Routes[twitterHome] = `<html><body>
		<div data-testid="primaryColumn">
			<p>Security checkpoint: suspicious activity, confirm your identity</p>
			<input name="approvals_code" type="text">
			<div data-testid="tweetTextarea_0" contenteditable="true" role="textbox" aria-label="Post text"></div>
			<button data-testid="tweetButtonInline">Post</button>
		</div>
	</body></html>`
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	res, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.SecurityChallengeEncountered, types.KindOf(err))
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.AttemptsUsed)
	assert.Empty(t, page.TypedInto(platform.TwitterComposeInline), "nothing is typed past a challenge")
	assert.Empty(t, page.Clicks)
}

func TestPost_ChallengeCheckErrorStopsAttempt(t *testing.T) {
	cfg := testConfig(t)
	page := twitterPage()
	page.HTMLErr = errors.New("target closed")
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	res, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.NetworkOrNavigationFailure, types.KindOf(err))
	assert.Equal(t, 3, res.AttemptsUsed, "capture failures stay retryable")
	assert.Empty(t, page.TypedInto(platform.TwitterComposeInline))
}

func TestPost_LoginNavigationRetried(t *testing.T) {
	cfg := testConfig(t)
	page := twitterPage()
	page.FailNavigations = 2
	page.OnClick[platform.TwitterPostInline] = func(p *browsertest.Page) { p.SetHTML(twSent) }
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	res, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, page.Navigations, 3)
}

func TestPost_LoginNavigationRetriesBounded(t *testing.T) {
	cfg := testConfig(t)
	page := twitterPage()
	page.FailNavigations = 10
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	res, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "hello"})
	require.Error(t, err)
	assert.Equal(t, types.NetworkOrNavigationFailure, types.KindOf(err))
	assert.Len(t, page.Navigations, cfg.Login.NavigationRetries)
	assert.Zero(t, res.AttemptsUsed, "posting never started")
}

func TestPost_GlobalTimeoutForceClosesBrowser(t *testing.T) {
	cfg := testConfig(t)
	cfg.Browser.TimeoutMs = 100
	cfg.Browser.KeepOpen = true
	cfg.Post.VerifyTimeoutMs = 10_000
	page := twitterPage()
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	start := time.Now()
	_, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, page.Closed, "timeout closes the browser even with keep-open")
	assert.Zero(t, h.app.KeptOpen())
	assert.NotContains(t, h.out.String(), "Browser kept open")
}

func TestPost_KeepOpenUntilShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Browser.KeepOpen = true
	page := twitterPage()
	page.OnClick[platform.TwitterPostInline] = func(p *browsertest.Page) { p.SetHTML(twSent) }
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	_, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "hello"})
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "Browser kept open")
	assert.False(t, page.Closed)
	assert.Equal(t, 1, h.app.KeptOpen())

	h.app.Shutdown()
	assert.True(t, page.Closed)
	assert.Zero(t, h.app.KeptOpen())
}

func TestPost_InstagramRequiresMediaBeforeLaunch(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, twitterPage)

	res, err := h.app.Post(context.Background(), types.Instagram, composer.Post{Caption: "no picture"})
	require.Error(t, err)
	assert.ErrorIs(t, err, composer.ErrMediaRequired)
	assert.Equal(t, types.InteractionFailure, types.KindOf(err))
	assert.False(t, res.Success)
	assert.Zero(t, h.launches.Load())
	assert.Contains(t, h.out.String(), "FAILED")
}

func TestPost_MissingMediaFile(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, twitterPage)

	_, err := h.app.Post(context.Background(), types.Twitter, composer.Post{Caption: "x", MediaPath: "/nonexistent/cat.png"})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, h.launches.Load())
}

func TestPostAll(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, func() *browsertest.Page { return browsertest.New(`<html><body></body></html>`) })

	results, err := h.app.PostAll(context.Background(), composer.Post{Caption: "everywhere"})
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrNoCredentials)
	assert.Len(t, results, 2)
	assert.EqualValues(t, 2, h.launches.Load())
	assert.Contains(t, h.out.String(), "SKIPPED: instagram")

	got := map[types.Platform]bool{}
	for _, r := range results {
		got[r.Platform] = true
		assert.False(t, r.Success)
	}
	assert.True(t, got[types.Facebook])
	assert.True(t, got[types.Twitter])
}

func TestLogin_UsesStoredCookies(t *testing.T) {
	cfg := testConfig(t)
	page := twitterPage()
	h := newHarness(t, cfg, func() *browsertest.Page { return page })
	seedTwitterCookies(t, h.app)

	res, err := h.app.Login(context.Background(), types.Twitter)
	require.NoError(t, err)
	assert.True(t, res.UsedCookies)
	assert.Equal(t, types.LoggedIn, res.Screen)
	assert.Contains(t, h.out.String(), "SUCCESS")
	assert.True(t, page.Closed)
}

func TestLogoutAndIsAuthenticated(t *testing.T) {
	h := newHarness(t, testConfig(t), twitterPage)
	assert.False(t, h.app.IsAuthenticated(types.Twitter))

	seedTwitterCookies(t, h.app)
	assert.True(t, h.app.IsAuthenticated(types.Twitter))

	require.NoError(t, h.app.Logout(types.Twitter))
	assert.False(t, h.app.IsAuthenticated(types.Twitter))
}

func TestBotTest(t *testing.T) {
	cfg := testConfig(t)
	page := browsertest.New(`<html><body></body></html>`)
	page.Routes[BotTestURL] = `<html><body><table><tr><td>WebDriver</td><td>missing</td></tr></table></body></html>`
	h := newHarness(t, cfg, func() *browsertest.Page { return page })

	shot, err := h.app.BotTest(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, shot)
	assert.Equal(t, []string{BotTestURL}, page.Navigations)
	assert.True(t, page.Closed)
}
