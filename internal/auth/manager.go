package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/postpilot/internal/browser"
	"github.com/ibeckermayer/postpilot/internal/challenge"
	"github.com/ibeckermayer/postpilot/internal/discovery"
	"github.com/ibeckermayer/postpilot/internal/humanoid"
	"github.com/ibeckermayer/postpilot/internal/interact"
	"github.com/ibeckermayer/postpilot/internal/platform"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// ErrNoCredentials means the cookie fast path failed and no account is configured
var ErrNoCredentials = errors.New("no credentials configured")

// Credentials for one platform account
type Credentials struct {
	Username string
	Password string
}

// Options tunes the login waits
type Options struct {
	// MarkerTimeout bounds the wait for logged-in markers after submit
	MarkerTimeout time.Duration
	// ScreenWait bounds each wait for a login screen to render
	ScreenWait       time.Duration
	PollInterval     time.Duration
	UsernameAttempts int
}

// DefaultOptions returns the stock login timings
func DefaultOptions() Options {
	return Options{
		MarkerTimeout:    15 * time.Second,
		ScreenWait:       10 * time.Second,
		PollInterval:     500 * time.Millisecond,
		UsernameAttempts: 3,
	}
}

// Manager drives the login state machine for any platform profile
type Manager struct {
	cookieStore *CookieStore
	human       *humanoid.Simulator
	opts        Options
	logger      *zap.Logger
	now         func() time.Time
}

// NewManager creates a new auth manager
func NewManager(cookieStore *CookieStore, human *humanoid.Simulator, opts Options, logger *zap.Logger) *Manager {
	if opts.UsernameAttempts <= 0 {
		opts.UsernameAttempts = DefaultOptions().UsernameAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cookieStore: cookieStore,
		human:       human,
		opts:        opts,
		logger:      logger.Named("login"),
		now:         time.Now,
	}
}

// IsAuthenticated reports whether stored cookies would take the fast path
func (m *Manager) IsAuthenticated(prof platform.Profile) bool {
	rec, err := m.cookieStore.Load(prof.Platform)
	if err != nil {
		return false
	}
	return IsValid(rec, prof.CriticalCookies, m.now())
}

// Logout clears stored cookies for p
func (m *Manager) Logout(p types.Platform) error {
	return m.cookieStore.Clear(p)
}

// Login runs one login attempt on the session's page. The result is always
// populated; err is non-nil exactly when the attempt did not reach LoggedIn.
func (m *Manager) Login(ctx context.Context, sess *browser.Session, prof platform.Profile, creds Credentials, steps *types.StepLog) (types.LoginAttemptResult, error) {
	release, err := sess.Acquire()
	if err != nil {
		return types.LoginAttemptResult{Screen: types.Unknown, Error: err.Error()}, err
	}
	defer release()

	a := &attempt{Manager: m, page: sess.Page, prof: prof, steps: steps,
		log: m.logger.With(zap.String("platform", string(prof.Platform)))}

	screen, err := a.run(ctx, creds)
	res := types.LoginAttemptResult{Success: err == nil, Screen: screen, UsedCookies: a.usedCookies}
	if err != nil {
		res.Error = err.Error()
		res.Kind = types.KindOf(err)
		a.log.Warn("Login attempt failed", zap.String("screen", string(screen)), zap.Error(err))
		return res, err
	}
	a.log.Info("Logged in", zap.Bool("cookies", a.usedCookies))
	return res, nil
}

// attempt holds the state of one Login call
type attempt struct {
	*Manager
	page        browser.Page
	prof        platform.Profile
	steps       *types.StepLog
	log         *zap.Logger
	usedCookies bool
}

func (a *attempt) run(ctx context.Context, creds Credentials) (types.Screen, error) {
	ok, err := a.cookieCheck(ctx)
	if err != nil {
		return types.Unknown, err
	}
	if ok {
		a.usedCookies = true
		return types.LoggedIn, nil
	}

	if creds.Username == "" || creds.Password == "" {
		return types.Unknown, fmt.Errorf("%s: %w", a.prof.Platform, ErrNoCredentials)
	}

	err = a.page.Navigate(ctx, a.prof.LoginURL)
	a.steps.Record("navigate_login", err)
	if err != nil {
		return types.Unknown, types.Fail(types.NetworkOrNavigationFailure, "navigate login", err)
	}

	screen, err := a.usernameScreen(ctx, creds.Username)
	if err != nil || screen == types.LoggedIn {
		return screen, err
	}
	return a.passwordScreen(ctx, creds.Password)
}

// cookieCheck injects valid saved cookies and looks for logged-in markers.
// false means fall through to credential entry.
func (a *attempt) cookieCheck(ctx context.Context) (bool, error) {
	rec, err := a.cookieStore.Load(a.prof.Platform)
	if err == nil {
		err = Validate(rec, a.prof.CriticalCookies, a.now())
	}
	if err != nil {
		a.log.Debug("Cookie fast path unavailable", zap.Error(err))
		a.steps.Record("cookie_check", err)
		return false, nil
	}

	if err := a.page.SetCookies(ctx, rec.Cookies); err != nil {
		a.steps.Record("cookie_check", err)
		return false, fmt.Errorf("inject cookies: %w", err)
	}
	if err := a.page.Navigate(ctx, a.prof.HomeURL); err != nil {
		a.steps.Record("cookie_check", err)
		return false, types.Fail(types.NetworkOrNavigationFailure, "navigate home", err)
	}

	_, err = browser.WaitAny(ctx, a.page, a.prof.LoggedInMarkers, a.opts.ScreenWait, a.opts.PollInterval)
	if errors.Is(err, browser.ErrElementNotFound) {
		a.log.Info("Saved cookies did not produce a session, logging in with credentials")
		a.steps.Record("cookie_check", errors.New("logged-in markers not found"))
		return false, nil
	}
	a.steps.Record("cookie_check", err)
	return err == nil, err
}

// usernameScreen enters the username until the password screen shows. A
// re-prompted username field is retried up to UsernameAttempts times.
func (a *attempt) usernameScreen(ctx context.Context, username string) (types.Screen, error) {
	for i := 1; i <= a.opts.UsernameAttempts; i++ {
		field, err := a.waitRole(ctx, types.UsernameField)
		if err != nil {
			a.steps.Record("username", err)
			return types.Unknown, err
		}

		if err := a.fill(ctx, field, username); err != nil {
			a.steps.Record("username", err)
			return types.UsernameScreen, err
		}

		// combined forms show the password field alongside the username
		cands, err := discovery.Discover(ctx, a.page, types.PasswordField)
		if err != nil {
			return types.UsernameScreen, err
		}
		if len(cands) > 0 {
			a.steps.Record("username", nil)
			return types.PasswordScreen, nil
		}

		if err := a.clickRole(ctx, types.SubmitButton, "next"); err != nil {
			a.steps.Record("username", err)
			return types.UsernameScreen, err
		}

		screen, err := a.afterUsername(ctx, field)
		if err != nil {
			a.steps.Record("username", err)
			return screen, err
		}
		switch screen {
		case types.PasswordScreen:
			a.steps.Record("username", nil)
			return screen, nil
		case types.LoggedIn:
			a.steps.Record("username", nil)
			return screen, a.saveCookies(ctx)
		}
		a.log.Info("Username screen repeated", zap.Int("attempt", i))
	}

	err := types.Fail(types.InteractionFailure, "username",
		fmt.Errorf("username screen repeated %d times", a.opts.UsernameAttempts))
	a.steps.Record("username", err)
	return types.UsernameScreen, err
}

// afterUsername races the password field against a repeated (empty) username
// field, logged-in markers and a challenge.
func (a *attempt) afterUsername(ctx context.Context, field string) (types.Screen, error) {
	screen := types.Unknown
	err := browser.Poll(ctx, a.opts.ScreenWait, a.opts.PollInterval, func(ctx context.Context) (bool, error) {
		cands, err := discovery.Discover(ctx, a.page, types.PasswordField)
		if err != nil {
			return false, err
		}
		if len(cands) > 0 {
			screen = types.PasswordScreen
			return true, nil
		}

		sel, err := browser.AnyInteractable(ctx, a.page, a.prof.LoggedInMarkers)
		if err != nil {
			return false, err
		}
		if sel != "" {
			screen = types.LoggedIn
			return true, nil
		}

		f, err := challenge.Check(ctx, a.page)
		if err != nil {
			return false, err
		}
		if f.Challenged {
			screen = types.SecurityChallenge
			return true, types.Fail(types.SecurityChallengeEncountered, "username", errors.New(f.Reason))
		}

		repeated, err := a.emptyField(ctx, types.UsernameField)
		if err != nil {
			return false, err
		}
		if repeated {
			screen = types.UsernameScreen
		}
		return repeated, nil
	})
	if errors.Is(err, browser.ErrWaitTimeout) {
		return types.UsernameScreen, types.Fail(types.DiscoveryFailure, "discover "+string(types.PasswordField),
			fmt.Errorf("no password field within %s", a.opts.ScreenWait))
	}
	return screen, err
}

// emptyField reports whether the best candidate for role is visible and
// holds no value, which is how a re-prompt looks
func (a *attempt) emptyField(ctx context.Context, role types.Role) (bool, error) {
	cands, err := discovery.Discover(ctx, a.page, role)
	if err != nil || len(cands) == 0 {
		return false, err
	}
	els, err := a.page.Snapshot(ctx, cands[0].Selector)
	if err != nil || len(els) == 0 {
		return false, err
	}
	return els[0].Visible() && els[0].Value == "", nil
}

func (a *attempt) passwordScreen(ctx context.Context, password string) (types.Screen, error) {
	field, err := a.waitRole(ctx, types.PasswordField)
	if err == nil {
		err = a.fill(ctx, field, password)
	}
	if err == nil {
		err = a.clickRole(ctx, types.SubmitButton, "login")
	}
	a.steps.Record("password", err)
	if err != nil {
		return types.PasswordScreen, err
	}

	return a.submitted(ctx)
}

// submitted polls for logged-in markers, then falls back to the challenge
// detector once MarkerTimeout elapses
func (a *attempt) submitted(ctx context.Context) (types.Screen, error) {
	_, err := browser.WaitAny(ctx, a.page, a.prof.LoggedInMarkers, a.opts.MarkerTimeout, a.opts.PollInterval)
	if err == nil {
		a.steps.Record("logged_in", nil)
		return types.LoggedIn, a.saveCookies(ctx)
	}
	if !errors.Is(err, browser.ErrElementNotFound) {
		a.steps.Record("logged_in", err)
		return types.Unknown, err
	}

	f, cerr := challenge.Check(ctx, a.page)
	if cerr != nil {
		return types.Unknown, cerr
	}
	if f.Challenged {
		err := types.Fail(types.SecurityChallengeEncountered, "login", errors.New(f.Reason))
		a.steps.Record("logged_in", err)
		return types.SecurityChallenge, err
	}

	err = fmt.Errorf("logged-in markers not seen within %s", a.opts.MarkerTimeout)
	a.steps.Record("logged_in", err)
	if ok, _ := a.emptyField(ctx, types.PasswordField); ok {
		return types.PasswordScreen, err
	}
	return types.Unknown, err
}

// waitRole polls discovery for role until ScreenWait, then fails naming it
func (a *attempt) waitRole(ctx context.Context, role types.Role) (string, error) {
	var sel string
	err := browser.Poll(ctx, a.opts.ScreenWait, a.opts.PollInterval, func(ctx context.Context) (bool, error) {
		cands, err := discovery.Discover(ctx, a.page, role)
		if err != nil || len(cands) == 0 {
			return false, err
		}
		sel = cands[0].Selector
		return true, nil
	})
	if errors.Is(err, browser.ErrWaitTimeout) {
		return discovery.First(ctx, a.page, role)
	}
	return sel, err
}

func (a *attempt) fill(ctx context.Context, selector, text string) error {
	if err := interact.Clear(ctx, a.page, selector); err != nil {
		return err
	}
	if err := a.human.TypeLikeHuman(ctx, a.page, selector, text); err != nil {
		return types.Fail(types.InteractionFailure, "type into "+selector, err)
	}
	return a.human.Delay(ctx, 300*time.Millisecond, 900*time.Millisecond)
}

func (a *attempt) clickRole(ctx context.Context, role types.Role, op string) error {
	sel, err := discovery.First(ctx, a.page, role)
	if err != nil {
		return err
	}
	name, err := interact.TryInOrder(ctx, op, interact.ClickStrategies(a.page, sel)...)
	if err != nil {
		return err
	}
	a.log.Debug("Clicked", zap.String("op", op), zap.String("selector", sel), zap.String("strategy", name))
	return nil
}

// saveCookies stores the platform's cookies. A failed save is logged but
// does not undo the login.
func (a *attempt) saveCookies(ctx context.Context) error {
	cookies, err := a.page.Cookies(ctx)
	if err == nil {
		err = a.cookieStore.Save(types.CookieRecord{
			Platform: a.prof.Platform,
			Cookies:  DomainCookies(cookies, a.prof.CookieDomain),
			SavedAt:  a.now(),
		})
	}
	a.steps.Record("save_cookies", err)
	if err != nil {
		a.log.Warn("Failed to save cookies", zap.Error(err))
	}
	return nil
}
