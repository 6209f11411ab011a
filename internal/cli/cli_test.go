package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpilot/internal/app"
	"github.com/ibeckermayer/postpilot/internal/auth"
	"github.com/ibeckermayer/postpilot/internal/browser"
	"github.com/ibeckermayer/postpilot/internal/browser/browsertest"
	"github.com/ibeckermayer/postpilot/internal/observability"
	"github.com/ibeckermayer/postpilot/internal/platform"
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
		<div data-testid="primaryColumn"></div>
		<div data-testid="toast">Your post was sent.</div>
	</body></html>`

	fastConfig = `
[login]
marker_timeout_ms = 100
screen_wait_ms = 100
poll_interval_ms = 5

[post]
verify_timeout_ms = 50
retry_delay_ms = 1
`
)

type cliHarness struct {
	t       *testing.T
	cfgPath string
	cfgDir  string
	page    *browsertest.Page
	opened  []string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, "cache"))
	for _, k := range []string{"HEADLESS", "KEEP_BROWSER_OPEN", "BROWSER_TIMEOUT", "BROWSER_DRIVER", "TWIT_USERNAME", "TWIT_PASSWORD"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	h := &cliHarness{
		t:       t,
		cfgDir:  filepath.Join(home, "config", "postpilot"),
		cfgPath: filepath.Join(home, "config", "postpilot", "config.toml"),
	}
	require.NoError(t, os.MkdirAll(h.cfgDir, 0700))
	require.NoError(t, os.WriteFile(h.cfgPath, []byte(fastConfig), 0600))

	h.page = browsertest.New(`<html><body></body></html>`)
	h.page.Routes["https://x.com/home"] = twHome
	return h
}

func (h *cliHarness) seedCookies() {
	exp := float64(time.Now().Add(time.Hour).Unix())
	cs := auth.NewCookieStore(filepath.Join(h.cfgDir, "cookies"))
	require.NoError(h.t, cs.Save(types.CookieRecord{Platform: types.Twitter, Cookies: []types.Cookie{
		{Name: "auth_token", Value: "tok", Domain: ".x.com", Expires: exp},
		{Name: "ct0", Value: "csrf", Domain: ".x.com", Expires: exp},
	}}))
}

func (h *cliHarness) run(ctx context.Context, args ...string) (string, error) {
	h.t.Helper()
	observability.ResetForTest()

	e := &env{
		openFile: func(path string) error {
			h.opened = append(h.opened, path)
			return nil
		},
		appOpts: []app.Option{
			app.WithLauncher(func(context.Context, browser.Options) (browser.Page, error) { return h.page, nil }),
			app.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		},
	}
	root := newRootCmd(e)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", h.cfgPath}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitTimeout, ExitCode(fmt.Errorf("twitter: %w", app.ErrTimeout)))
	assert.Equal(t, ExitFailure, ExitCode(types.Fail(types.VerificationInconclusive, "verify", nil)))
}

func TestPost_Success(t *testing.T) {
	h := newCLIHarness(t)
	h.seedCookies()
	h.page.OnClick[platform.TwitterPostInline] = func(p *browsertest.Page) { p.SetHTML(twSent) }

	out, err := h.run(context.Background(), "post", "twitter", "Hello", "world")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "Posted:")
	assert.Equal(t, "Hello world", h.page.TypedInto(platform.TwitterComposeInline))
	assert.True(t, h.page.Closed)

	out, err = h.run(context.Background(), "history")
	require.NoError(t, err)
	assert.Contains(t, out, "twitter")
	assert.Contains(t, out, "post")

	_, err = h.run(context.Background(), "history", "--html")
	require.NoError(t, err)
	require.Len(t, h.opened, 1)
	data, err := os.ReadFile(h.opened[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "1 succeeded")
	assert.Contains(t, string(data), "launch_browser")
}

func TestPost_UnverifiedExitsOne(t *testing.T) {
	h := newCLIHarness(t)
	h.seedCookies()

	out, err := h.run(context.Background(), "post", "x", "nobody sees this")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Contains(t, out, "FAILED")
}

func TestPost_KeepOpenWaitsForInterrupt(t *testing.T) {
	h := newCLIHarness(t)
	h.seedCookies()
	h.page.OnClick[platform.TwitterPostInline] = func(p *browsertest.Page) { p.SetHTML(twSent) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(time.Second, cancel)

	start := time.Now()
	out, err := h.run(ctx, "post", "twitter", "hi", "--keep-open")
	require.NoError(t, err)
	assert.Contains(t, out, "Browser kept open")
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond, "waits for the interrupt")
	assert.True(t, h.page.Closed, "interrupt closes the kept browser")
}

func TestPost_UnknownPlatform(t *testing.T) {
	h := newCLIHarness(t)
	_, err := h.run(context.Background(), "post", "myspace", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown platform")
}

func TestLogoutAndCookies(t *testing.T) {
	h := newCLIHarness(t)
	h.seedCookies()

	out, err := h.run(context.Background(), "cookies", "twitter")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
	assert.Contains(t, out, "twitter_cookies.json")

	out, err = h.run(context.Background(), "logout", "twitter")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared cookies for twitter")
	assert.NoFileExists(t, filepath.Join(h.cfgDir, "cookies", "twitter_cookies.json"))

	out, err = h.run(context.Background(), "cookies", "twitter")
	require.NoError(t, err)
	assert.Contains(t, out, "none")
}

func TestDiscover(t *testing.T) {
	h := newCLIHarness(t)
	file := filepath.Join(t.TempDir(), "login.html")
	require.NoError(t, os.WriteFile(file, []byte(`<html><body><form>
		<input name="username" type="text" autocomplete="username">
		<input name="password" type="password">
		<button type="submit">Log in</button>
	</form></body></html>`), 0644))

	out, err := h.run(context.Background(), "discover", file, "password_field")
	require.NoError(t, err)
	assert.Contains(t, out, "password_field")
	assert.Contains(t, out, `input[name="password"]`)

	_, err = h.run(context.Background(), "discover", file, "not_a_role")
	assert.Error(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	h := newCLIHarness(t)
	t.Setenv("TWIT_PASSWORD", "hunter2")

	_, err := h.run(context.Background(), "config", "init")
	require.Error(t, err, "refuses to overwrite")

	out, err := h.run(context.Background(), "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, h.cfgPath)

	data, err := os.ReadFile(h.cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[browser]")
	assert.Contains(t, string(data), "timeout_ms = 300000")

	out, err = h.run(context.Background(), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `driver = "chromedp"`)
	assert.NotContains(t, out, "hunter2", "credentials are never written")
}

func TestOpen(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run(context.Background(), "open", "screenshots")
	require.NoError(t, err)
	require.Len(t, h.opened, 1)
	assert.DirExists(t, h.opened[0])

	_, err = h.run(context.Background(), "open", "config")
	require.NoError(t, err)
	assert.Equal(t, h.cfgPath, h.opened[1])

	_, err = h.run(context.Background(), "open", "elsewhere")
	assert.Error(t, err)
}
