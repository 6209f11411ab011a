// Package app is the run driver: it owns one browser session per platform
// and sequences login, the pre-post checks and the composer with bounded
// retries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/postpilot/internal/auth"
	"github.com/ibeckermayer/postpilot/internal/browser"
	"github.com/ibeckermayer/postpilot/internal/composer"
	"github.com/ibeckermayer/postpilot/internal/config"
	"github.com/ibeckermayer/postpilot/internal/humanoid"
	"github.com/ibeckermayer/postpilot/internal/platform"
	"github.com/ibeckermayer/postpilot/internal/store"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// ErrTimeout means the global browser timeout fired and the browser was
// force-closed
var ErrTimeout = errors.New("run exceeded the browser timeout")

// BotTestURL is the fingerprint audit page opened by BotTest
const BotTestURL = "https://bot.sannysoft.com"

// diagnosticTimeout bounds the screenshot and HTML capture after a failure
const diagnosticTimeout = 10 * time.Second

// Launcher starts a browser and returns its first tab
type Launcher func(ctx context.Context, o browser.Options) (browser.Page, error)

// App holds the application state
type App struct {
	cfg      *config.Config
	registry *platform.Registry
	cookies  *auth.CookieStore
	auth     *auth.Manager
	composer *composer.Composer
	store    *store.Store // optional
	launch   Launcher
	sleep    humanoid.Sleeper
	newID    func() string
	now      func() time.Time
	logger   *zap.Logger

	outMu sync.Mutex
	out   io.Writer

	keptMu sync.Mutex
	kept   []*browser.Session
}

// Option customizes an App
type Option func(*App)

// WithLauncher replaces the real browser launch
func WithLauncher(l Launcher) Option {
	return func(a *App) { a.launch = l }
}

// WithOutput redirects the user-facing status lines (stdout by default)
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithStore records every run in the history database
func WithStore(s *store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSleeper replaces every real sleep, including typing cadence
func WithSleeper(s humanoid.Sleeper) Option {
	return func(a *App) { a.sleep = s }
}

// New creates a new App instance
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		launch: browser.Launch,
		sleep:  humanoid.Sleep,
		newID:  uuid.NewString,
		now:    time.Now,
		logger: logger.Named("app"),
		out:    os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}

	a.registry = platform.NewRegistry()
	if err := a.registry.LoadOverrides(cfg.Paths.PlatformOverrides); err != nil {
		return nil, err
	}

	human := humanoid.New(humanoidConfig(cfg.Humanoid), 0, humanoid.WithSleeper(a.sleep))

	a.cookies = auth.NewCookieStore(cfg.Paths.CookieDir)
	a.auth = auth.NewManager(a.cookies, human, auth.Options{
		MarkerTimeout:    config.Ms(cfg.Login.MarkerTimeoutMs),
		ScreenWait:       config.Ms(cfg.Login.ScreenWaitMs),
		PollInterval:     config.Ms(cfg.Login.PollIntervalMs),
		UsernameAttempts: cfg.Login.UsernameAttempts,
	}, logger)
	a.composer = composer.New(human, composer.Options{
		ScreenWait:    config.Ms(cfg.Login.ScreenWaitMs),
		VerifyTimeout: config.Ms(cfg.Post.VerifyTimeoutMs),
		PollInterval:  config.Ms(cfg.Login.PollIntervalMs),
	}, logger)
	return a, nil
}

func humanoidConfig(c config.HumanoidConfig) humanoid.Config {
	hc := humanoid.DefaultConfig()
	hc.KeyDelayMin = config.Ms(c.KeyDelayMinMs)
	hc.KeyDelayMax = config.Ms(c.KeyDelayMaxMs)
	hc.ThinkChance = c.ThinkChance
	hc.ThinkMin = config.Ms(c.ThinkMinMs)
	hc.ThinkMax = config.Ms(c.ThinkMaxMs)
	return hc
}

// Registry exposes the effective platform profiles
func (a *App) Registry() *platform.Registry { return a.registry }

// Cookies exposes the cookie store
func (a *App) Cookies() *auth.CookieStore { return a.cookies }

// IsAuthenticated reports whether valid session cookies are stored for p
func (a *App) IsAuthenticated(p types.Platform) bool {
	prof, err := a.registry.Get(p)
	if err != nil {
		return false
	}
	return a.auth.IsAuthenticated(prof)
}

// Logout clears stored cookies for p
func (a *App) Logout(p types.Platform) error {
	if err := a.auth.Logout(p); err != nil {
		return err
	}
	a.logger.Info("Cookies cleared", zap.String("platform", string(p)))
	return nil
}

func (a *App) browserOptions() browser.Options {
	b := a.cfg.Browser
	return browser.Options{
		Driver:      b.Driver,
		Headless:    b.Headless,
		Timeout:     a.cfg.Timeout(),
		PageTimeout: a.cfg.PageTimeout(),
		UserAgent:   b.UserAgent,
		ExecPath:    b.ExecPath,
	}
}

func (a *App) credentials(p types.Platform) auth.Credentials {
	acct, _ := a.cfg.Account(p)
	return auth.Credentials{Username: acct.Username, Password: acct.Password}
}

// Post logs in and publishes post on p. The returned result is always
// populated; err is nil only when the post was verified. A global timeout
// is reported as ErrTimeout.
func (a *App) Post(ctx context.Context, p types.Platform, post composer.Post) (types.PostResult, error) {
	r := a.newRun(p, kindPost)
	if post.Caption == "" {
		post.Caption = a.cfg.Post.DefaultCaption
	}
	r.post = post

	err := r.do(ctx, func(ctx context.Context) error {
		if _, err := r.login(ctx); err != nil {
			return err
		}
		return r.publish(ctx)
	}, a.precheck)

	if err != nil {
		a.printf(color.FgRed, "FAILED: %s: %v\n", p, err)
	} else {
		a.printf(color.FgGreen, "SUCCESS: Posted: %q to %s\n", post.Caption, p)
	}
	return r.res, err
}

// Login runs only the login flow for p, refreshing the stored cookies
func (a *App) Login(ctx context.Context, p types.Platform) (types.LoginAttemptResult, error) {
	r := a.newRun(p, kindLogin)
	var login types.LoginAttemptResult
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		login, err = r.login(ctx)
		return err
	}, nil)

	if err != nil {
		a.printf(color.FgRed, "FAILED: login to %s: %v\n", p, err)
	} else {
		a.printf(color.FgGreen, "SUCCESS: Logged in to %s (cookies saved)\n", p)
	}
	return login, err
}

// BotTest opens the fingerprint audit page with the configured driver and
// saves a screenshot of it
func (a *App) BotTest(ctx context.Context) (string, error) {
	r := a.newRun(types.Platform("bottest"), kindBotTest)
	var shot string
	err := r.do(ctx, func(ctx context.Context) error {
		if err := r.sess.Page.Navigate(ctx, BotTestURL); err != nil {
			return types.Fail(types.NetworkOrNavigationFailure, "navigate bot test", err)
		}
		if _, err := browser.WaitAny(ctx, r.sess.Page, []string{"table", "body"}, a.cfg.PageTimeout(), config.Ms(a.cfg.Login.PollIntervalMs)); err != nil {
			return err
		}
		var err error
		shot, err = r.sess.Screenshot(ctx, a.cfg.Paths.ScreenshotDir, "bot_test")
		r.steps.RecordShot("screenshot", err, shot)
		return err
	}, nil)
	if err == nil {
		a.printf(color.FgGreen, "SUCCESS: Bot test screenshot saved to %s\n", shot)
	}
	return shot, err
}

// PostAll posts to every platform concurrently, each in its own browser.
// Media-first platforms are skipped when no media is given.
func (a *App) PostAll(ctx context.Context, post composer.Post) ([]types.PostResult, error) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		results []types.PostResult
		errs    []error
	)
	for _, p := range types.AllPlatforms() {
		prof, err := a.registry.Get(p)
		if err != nil {
			return nil, err
		}
		if prof.MediaFirst && post.MediaPath == "" {
			a.printf(color.FgYellow, "SKIPPED: %s requires --media\n", p)
			continue
		}
		g.Go(func() error {
			res, err := a.Post(ctx, p, post)
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
			}
			return nil
		})
	}
	g.Wait()
	return results, errors.Join(errs...)
}

// Shutdown force-closes every browser that was kept open
func (a *App) Shutdown() {
	a.keptMu.Lock()
	kept := a.kept
	a.kept = nil
	a.keptMu.Unlock()

	for _, s := range kept {
		if err := s.ForceClose(); err != nil {
			a.logger.Warn("Failed to close kept browser", zap.String("platform", string(s.Platform)), zap.Error(err))
		}
	}
}

// KeptOpen reports how many browsers are waiting for Shutdown
func (a *App) KeptOpen() int {
	a.keptMu.Lock()
	defer a.keptMu.Unlock()
	return len(a.kept)
}

func (a *App) keep(s *browser.Session) {
	a.keptMu.Lock()
	a.kept = append(a.kept, s)
	a.keptMu.Unlock()
}

func (a *App) printf(attr color.Attribute, format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	color.New(attr).Fprintf(a.out, format, args...)
}

// precheck rejects runs that cannot succeed before a browser is launched
func (a *App) precheck(r *run) error {
	if r.prof.MediaFirst && r.post.MediaPath == "" {
		err := types.Fail(types.InteractionFailure, "upload media", fmt.Errorf("%s: %w", r.prof.Platform, composer.ErrMediaRequired))
		r.steps.Record("media", err)
		return err
	}
	if r.post.MediaPath != "" {
		if _, err := os.Stat(r.post.MediaPath); err != nil {
			return fmt.Errorf("media file: %w", err)
		}
	}
	return nil
}
