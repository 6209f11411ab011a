package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/ibeckermayer/postpilot/internal/browser"
	"github.com/ibeckermayer/postpilot/internal/challenge"
	"github.com/ibeckermayer/postpilot/internal/composer"
	"github.com/ibeckermayer/postpilot/internal/config"
	"github.com/ibeckermayer/postpilot/internal/platform"
	"github.com/ibeckermayer/postpilot/internal/store"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// run is one browser session from launch to close
type run struct {
	*App
	kind     string
	platform types.Platform
	prof     platform.Profile
	post     composer.Post
	sess     *browser.Session
	steps    *types.StepLog
	res      types.PostResult
	log      *zap.Logger
	started  time.Time

	usedCookies bool
}

func (a *App) newRun(p types.Platform, kind string) *run {
	id := a.newID()
	return &run{
		App:      a,
		kind:     kind,
		platform: p,
		steps:    types.NewStepLog(),
		res:      types.PostResult{RunID: id, Platform: p},
		log:      a.logger.With(zap.String("platform", string(p)), zap.String("run_id", id)),
	}
}

// do launches the browser, runs body under the global timeout and always
// releases the session, records the run and captures diagnostics on failure.
// pre runs before launch.
func (r *run) do(ctx context.Context, body func(ctx context.Context) error, pre func(*run) error) (err error) {
	r.started = r.now()
	defer func() { r.finish(err) }()

	if r.kind != kindBotTest {
		prof, perr := r.registry.Get(r.platform)
		if perr != nil {
			return perr
		}
		r.prof = prof
	}
	if pre != nil {
		if err := pre(r); err != nil {
			return err
		}
	}

	timeout := r.cfg.Timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.log.Info("Launching browser", zap.String("driver", r.cfg.Browser.Driver), zap.Bool("headless", r.cfg.Browser.Headless))
	page, err := r.launch(ctx, r.browserOptions())
	r.steps.Record("launch_browser", err)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w (%s): %w", ErrTimeout, timeout, err)
		}
		return fmt.Errorf("launch browser: %w", err)
	}
	r.sess = browser.NewSession(page, r.platform, r.cfg.Browser.KeepOpen)

	forced := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(forced)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.log.Error("Browser timeout reached, closing browser", zap.Duration("timeout", timeout))
			if err := r.sess.ForceClose(); err != nil {
				r.log.Warn("Force close failed", zap.Error(err))
			}
		}
	})

	err = body(ctx)
	if !stop() {
		<-forced
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w (%s): %w", ErrTimeout, timeout, err)
	}

	if err != nil {
		r.diagnose(ctx, "failure")
	} else if r.kind == kindPost {
		r.diagnose(ctx, "posted")
	}
	r.close()
	return err
}

const (
	kindPost    = "post"
	kindLogin   = "login"
	kindBotTest = "bot-test"
)

// login retries only navigation failures
func (r *run) login(ctx context.Context) (types.LoginAttemptResult, error) {
	attempts := max(r.cfg.Login.NavigationRetries, 1)
	creds := r.credentials(r.platform)
	for i := 1; ; i++ {
		res, err := r.auth.Login(ctx, r.sess, r.prof, creds, r.steps)
		if err == nil {
			r.usedCookies = res.UsedCookies
			return res, nil
		}
		if types.KindOf(err) != types.NetworkOrNavigationFailure || i >= attempts || ctx.Err() != nil {
			return res, err
		}
		r.log.Warn("Login navigation failed, retrying", zap.Int("attempt", i), zap.Error(err))
		if serr := r.sleep(ctx, config.Ms(r.cfg.Post.RetryDelayMs)); serr != nil {
			return res, err
		}
	}
}

// publish retries whole post attempts until one verifies, a non-retryable
// failure occurs or the attempts run out
func (r *run) publish(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= r.cfg.Post.Attempts; attempt++ {
		r.res.AttemptsUsed = attempt
		if attempt > 1 {
			r.log.Info("Retrying post", zap.Int("attempt", attempt), zap.Int("of", r.cfg.Post.Attempts))
			if serr := r.sleep(ctx, config.Ms(r.cfg.Post.RetryDelayMs)); serr != nil {
				return err
			}
		}

		err = r.attempt(ctx, attempt)
		if err == nil {
			r.res.Message = fmt.Sprintf("Posted to %s", r.platform)
			return nil
		}
		r.log.Warn("Post attempt failed", zap.Int("attempt", attempt), zap.String("kind", string(types.KindOf(err))), zap.Error(err))
		if !types.Retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (r *run) attempt(ctx context.Context, n int) error {
	// The cookie fast path already left the page on HomeURL
	if n > 1 || !r.usedCookies {
		err := r.sess.Page.Navigate(ctx, r.prof.HomeURL)
		if err != nil {
			err = types.Fail(types.NetworkOrNavigationFailure, "navigate home", err)
		}
		r.steps.Record("navigate_home", err)
		if err != nil {
			return err
		}
	}

	if err := r.gate(ctx); err != nil {
		return err
	}

	state, err := r.composer.Publish(ctx, r.sess, r.prof, r.post, r.steps)
	r.log.Info("Post attempt finished", zap.Int("attempt", n), zap.String("state", string(state)))
	return err
}

// gate stops before posting when the page shows a security challenge. The
// check runs even when logged-in markers are present.
func (r *run) gate(ctx context.Context) error {
	finding, err := challenge.Check(ctx, r.sess.Page)
	if err != nil {
		r.log.Warn("Challenge check failed", zap.Error(err))
		err = types.Fail(types.NetworkOrNavigationFailure, "check home page", err)
		r.steps.Record("challenge_check", err)
		return err
	}
	if finding.Challenged {
		err := types.Fail(types.SecurityChallengeEncountered, "check home page", errors.New(finding.Reason))
		r.steps.Record("challenge_check", err)
		return err
	}
	return nil
}

// diagnose saves a screenshot and the DOM. It runs on a fresh context so a
// timed out run still gets its evidence when the browser is alive.
func (r *run) diagnose(ctx context.Context, step string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticTimeout)
	defer cancel()

	dir := r.cfg.Paths.ScreenshotDir
	shot, err := r.sess.Screenshot(dctx, dir, step)
	r.steps.RecordShot(step+"_screenshot", err, shot)
	if err != nil {
		r.log.Warn("Failed to capture screenshot", zap.String("step", step), zap.Error(err))
	} else {
		r.res.ScreenshotPath = shot
		r.log.Info("Screenshot saved", zap.String("path", shot))
	}

	if step != "failure" {
		return
	}
	html, err := r.sess.SaveHTML(dctx, dir, step)
	if err != nil {
		r.log.Warn("Failed to save page HTML", zap.Error(err))
		return
	}
	r.log.Info("Page HTML saved", zap.String("path", html))
}

func (r *run) close() {
	closed, err := r.sess.Close()
	if err != nil {
		r.log.Warn("Failed to close browser", zap.Error(err))
	}
	if !closed {
		r.keep(r.sess)
		r.printf(color.FgYellow, "Browser kept open for %s. Press Ctrl+C to close it.\n", r.platform)
	}
}

// finish stamps the result and writes the run history and report
func (r *run) finish(err error) {
	r.res.Success = err == nil
	if err != nil {
		r.res.Message = err.Error()
	}
	finished := r.now()
	steps := r.steps.Steps()

	if r.store != nil {
		rec := &store.Run{
			ID:             r.res.RunID,
			Platform:       r.platform,
			Kind:           r.kind,
			Success:        r.res.Success,
			Message:        r.res.Message,
			FailureKind:    string(types.KindOf(err)),
			ScreenshotPath: r.res.ScreenshotPath,
			AttemptsUsed:   r.res.AttemptsUsed,
			StartedAt:      r.started,
			FinishedAt:     finished,
			Steps:          steps,
		}
		if serr := r.store.SaveRun(rec); serr != nil {
			r.log.Warn("Failed to record run", zap.Error(serr))
		}
	}

	if dir := r.cfg.Paths.ReportDir; dir != "" {
		report := store.Report{
			Result:     r.res,
			Kind:       r.kind,
			Caption:    r.post.Caption,
			MediaPath:  r.post.MediaPath,
			StartedAt:  r.started,
			FinishedAt: finished,
			Steps:      steps,
		}
		path, serr := store.SaveReport(dir, r.platform, r.res.RunID, report)
		if serr != nil {
			r.log.Warn("Failed to write report", zap.Error(serr))
		} else {
			r.log.Debug("Report written", zap.String("path", path))
		}
	}

	r.log.Info("Run finished",
		zap.String("kind", r.kind),
		zap.Bool("success", r.res.Success),
		zap.Int("attempts", r.res.AttemptsUsed),
		zap.Duration("elapsed", finished.Sub(r.started)))
}
