// Package composer drives a platform's post composer from the logged-in home
// page to a verified (or unverified) submission.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/postpilot/internal/browser"
	"github.com/ibeckermayer/postpilot/internal/discovery"
	"github.com/ibeckermayer/postpilot/internal/dom"
	"github.com/ibeckermayer/postpilot/internal/humanoid"
	"github.com/ibeckermayer/postpilot/internal/interact"
	"github.com/ibeckermayer/postpilot/internal/platform"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// State of the composer machine
type State string

const (
	Idle         State = "idle"
	ComposerOpen State = "composer_open"
	TextEntered  State = "text_entered"
	Submitted    State = "submitted"
	Verified     State = "verified"
	Unverified   State = "unverified"
)

// ErrMediaRequired is returned for media-first platforms when no file is given
var ErrMediaRequired = errors.New("platform cannot post without media")

const advanceQuery = `button, [role="button"]`

// Post is what gets published
type Post struct {
	Caption   string
	MediaPath string
}

// Options tunes the composer waits
type Options struct {
	// ScreenWait bounds each wait for a composer element to appear
	ScreenWait    time.Duration
	VerifyTimeout time.Duration
	PollInterval  time.Duration
}

// DefaultOptions returns the stock composer timings
func DefaultOptions() Options {
	return Options{
		ScreenWait:    10 * time.Second,
		VerifyTimeout: 8 * time.Second,
		PollInterval:  500 * time.Millisecond,
	}
}

// Composer publishes posts through the web UI
type Composer struct {
	human  *humanoid.Simulator
	opts   Options
	logger *zap.Logger
}

// New creates a composer
func New(human *humanoid.Simulator, opts Options, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{human: human, opts: opts, logger: logger.Named("composer")}
}

// Publish runs one end-to-end post attempt and returns the state reached.
// err is nil only for Verified. Verified means "probably posted": every
// signal is a UI heuristic.
func (c *Composer) Publish(ctx context.Context, sess *browser.Session, prof platform.Profile, post Post, steps *types.StepLog) (State, error) {
	if prof.MediaFirst && post.MediaPath == "" {
		err := types.Fail(types.InteractionFailure, "upload media", fmt.Errorf("%s: %w", prof.Platform, ErrMediaRequired))
		steps.Record("media", err)
		return Idle, err
	}

	release, err := sess.Acquire()
	if err != nil {
		return Idle, err
	}
	defer release()

	r := &run{Composer: c, page: sess.Page, prof: prof, post: post, steps: steps,
		log: c.logger.With(zap.String("platform", string(prof.Platform)))}
	state, err := r.run(ctx)
	if err != nil {
		r.log.Warn("Post attempt failed", zap.String("state", string(state)), zap.Error(err))
	} else {
		r.log.Info("Post verified")
	}
	return state, err
}

// run is the state of one Publish call
type run struct {
	*Composer
	page  browser.Page
	prof  platform.Profile
	post  Post
	steps *types.StepLog
	log   *zap.Logger

	input string
}

func (r *run) run(ctx context.Context) (State, error) {
	trigger, err := r.open(ctx)
	r.steps.Record("open_composer", err)
	if err != nil {
		return Idle, err
	}

	if r.prof.MediaFirst {
		err := r.uploadFirst(ctx)
		r.steps.Record("media", err)
		if err != nil {
			return ComposerOpen, err
		}
	}

	if ok, _ := browser.Editable(ctx, r.page, trigger); ok && !r.prof.MediaFirst {
		r.log.Debug("Trigger is the text input", zap.String("selector", trigger))
		r.input = trigger
	}

	err = r.enterText(ctx)
	r.steps.Record("enter_text", err)
	if err != nil {
		return ComposerOpen, err
	}

	if !r.prof.MediaFirst && r.post.MediaPath != "" {
		if err := r.attach(ctx); err != nil {
			r.log.Warn("Media upload failed, posting text only", zap.Error(err))
			r.steps.Record("media", err)
		} else {
			r.steps.Record("media", nil)
		}
	}

	containerWasOpen := false
	if r.prof.ComposerContainer != "" {
		containerWasOpen, _ = browser.Exists(ctx, r.page, r.prof.ComposerContainer)
	}

	err = r.submit(ctx)
	r.steps.Record("submit", err)
	if err != nil {
		return TextEntered, err
	}

	signal, err := r.verify(ctx, containerWasOpen)
	if err != nil {
		r.steps.Record("verify", err)
		return Unverified, err
	}
	r.log.Info("Post success signal", zap.String("signal", signal))
	r.steps.Record("verify", nil)
	return Verified, nil
}

// candidates yields trigger selectors lazily, in priority order
type candidates func(ctx context.Context) ([]string, error)

func (r *run) profileCands(role types.Role, sels []string) candidates {
	return func(ctx context.Context) ([]string, error) {
		cands, err := discovery.FromProfile(ctx, r.page, role, sels)
		return discovery.Selectors(cands), err
	}
}

func (r *run) discoveredCands(role types.Role) candidates {
	return func(ctx context.Context) ([]string, error) {
		cands, err := discovery.Discover(ctx, r.page, role)
		return discovery.Selectors(cands), err
	}
}

func (r *run) textCands(scope string, texts []string, marker string) candidates {
	return func(ctx context.Context) ([]string, error) {
		if len(texts) == 0 {
			return nil, nil
		}
		sel, err := r.page.MarkByText(ctx, scope, texts, marker)
		if errors.Is(err, browser.ErrElementNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []string{sel}, nil
	}
}

// firstCands waits for the first source that yields anything
func (r *run) firstCands(ctx context.Context, role types.Role, sources ...candidates) ([]string, error) {
	var found []string
	err := browser.Poll(ctx, r.opts.ScreenWait, r.opts.PollInterval, func(ctx context.Context) (bool, error) {
		for _, src := range sources {
			sels, err := src(ctx)
			if err != nil {
				return false, err
			}
			if len(sels) > 0 {
				found = sels
				return true, nil
			}
		}
		return false, nil
	})
	if errors.Is(err, browser.ErrWaitTimeout) {
		return nil, types.Fail(types.DiscoveryFailure, "discover "+string(role),
			fmt.Errorf("no interactable element for role %s", role))
	}
	return found, err
}

// open is Idle -> ComposerOpen. It returns the trigger that was clicked.
func (r *run) open(ctx context.Context) (string, error) {
	if err := r.human.MoveMouseRandomly(ctx, r.page); err != nil {
		r.log.Debug("Mouse move failed", zap.Error(err))
	}

	sels, err := r.firstCands(ctx, types.PostComposerTrigger,
		r.profileCands(types.PostComposerTrigger, r.prof.ComposerTriggers),
		r.discoveredCands(types.PostComposerTrigger),
		r.textCands(r.prof.ComposerTextScope, r.prof.ComposerTexts, "pp-trigger"),
	)
	if err != nil {
		return "", err
	}

	var errs []error
	for _, sel := range sels {
		name, err := interact.TryInOrder(ctx, "open composer", interact.PointerStrategies(r.page, sel)...)
		if err == nil {
			r.log.Debug("Opened composer", zap.String("selector", sel), zap.String("strategy", name))
			return sel, r.human.Delay(ctx, time.Second, 2*time.Second)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
	}
	return "", types.Fail(types.InteractionFailure, "open composer", errors.Join(errs...))
}

// enterText is ComposerOpen -> TextEntered
func (r *run) enterText(ctx context.Context) error {
	if r.input == "" {
		sels, err := r.firstCands(ctx, types.PostTextInput,
			r.profileCands(types.PostTextInput, r.prof.TextInputs),
			r.discoveredCands(types.PostTextInput),
		)
		if err != nil {
			return err
		}
		r.input = sels[0]
	}

	if err := interact.Clear(ctx, r.page, r.input); err != nil {
		return err
	}
	if err := r.human.TypeLikeHuman(ctx, r.page, r.input, r.post.Caption); err != nil {
		return types.Fail(types.InteractionFailure, "type caption", err)
	}
	return r.human.Delay(ctx, 500*time.Millisecond, 1500*time.Millisecond)
}

// attach uploads media after the caption; callers treat failure as soft
func (r *run) attach(ctx context.Context) error {
	if r.prof.FileInput == "" {
		return fmt.Errorf("no file input known for %s", r.prof.Platform)
	}
	ok, err := browser.Exists(ctx, r.page, r.prof.FileInput)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("file input %s: %w", r.prof.FileInput, browser.ErrElementNotFound)
	}
	if err := r.page.SetFiles(ctx, r.prof.FileInput, []string{r.post.MediaPath}); err != nil {
		return err
	}
	return r.human.Delay(ctx, 2*time.Second, 3*time.Second)
}

// uploadFirst handles media-first composers: upload, then click through
// the advance screens until the caption input is reachable
func (r *run) uploadFirst(ctx context.Context) error {
	var present bool
	err := browser.Poll(ctx, r.opts.ScreenWait, r.opts.PollInterval, func(ctx context.Context) (bool, error) {
		ok, err := browser.Exists(ctx, r.page, r.prof.FileInput)
		present = ok
		return ok, err
	})
	if err != nil && !errors.Is(err, browser.ErrWaitTimeout) {
		return err
	}
	if !present {
		return types.Fail(types.InteractionFailure, "upload media",
			fmt.Errorf("file input %s: %w", r.prof.FileInput, browser.ErrElementNotFound))
	}
	if err := r.page.SetFiles(ctx, r.prof.FileInput, []string{r.post.MediaPath}); err != nil {
		return types.Fail(types.InteractionFailure, "upload media", err)
	}
	if err := r.human.Delay(ctx, 2*time.Second, 3*time.Second); err != nil {
		return err
	}

	for i := 1; i <= r.prof.AdvanceSteps; i++ {
		marker := fmt.Sprintf("pp-advance-%d", i)
		sels, err := r.firstCands(ctx, types.SubmitButton, r.textCands(advanceQuery, r.prof.AdvanceTexts, marker))
		if err != nil {
			return err
		}
		if _, err := interact.TryInOrder(ctx, "advance", interact.PointerStrategies(r.page, sels[0])...); err != nil {
			return err
		}
		if err := r.human.Delay(ctx, time.Second, 2*time.Second); err != nil {
			return err
		}
	}
	return nil
}

// submit is TextEntered -> Submitted
func (r *run) submit(ctx context.Context) error {
	sels, err := r.firstCands(ctx, types.PostSubmitButton,
		r.profileCands(types.PostSubmitButton, r.prof.SubmitButtons),
		r.discoveredCands(types.PostSubmitButton),
		r.textCands(advanceQuery, r.prof.SubmitTexts, "pp-submit"),
	)
	if err != nil {
		return err
	}

	sel := sels[0]
	name, err := interact.TryInOrder(ctx, "submit post", interact.ClickStrategies(r.page, sel)...)
	if err != nil {
		return err
	}
	r.log.Debug("Submitted", zap.String("selector", sel), zap.String("strategy", name))
	return nil
}

// verify is Submitted -> Verified, an OR of weak signals
func (r *run) verify(ctx context.Context, containerWasOpen bool) (string, error) {
	var signal string
	err := browser.Poll(ctx, r.opts.VerifyTimeout, r.opts.PollInterval, func(ctx context.Context) (bool, error) {
		s, err := r.successSignal(ctx, containerWasOpen)
		signal = s
		return s != "", err
	})
	if errors.Is(err, browser.ErrWaitTimeout) {
		return "", types.Fail(types.VerificationInconclusive, "verify post",
			fmt.Errorf("no success signal within %s", r.opts.VerifyTimeout))
	}
	return signal, err
}

func (r *run) successSignal(ctx context.Context, containerWasOpen bool) (string, error) {
	for _, sel := range r.prof.SuccessMarkers {
		ok, err := browser.Exists(ctx, r.page, sel)
		if err != nil {
			return "", err
		}
		if ok {
			return "marker " + sel, nil
		}
	}

	if len(r.prof.SuccessTexts) > 0 {
		html, err := r.page.HTML(ctx)
		if err != nil {
			return "", err
		}
		doc, err := dom.Parse(html)
		if err != nil {
			return "", err
		}
		text := strings.ToLower(doc.Find("body").Text())
		for _, t := range r.prof.SuccessTexts {
			if strings.Contains(text, strings.ToLower(t)) {
				return "text " + t, nil
			}
		}
	}

	if containerWasOpen {
		ok, err := browser.Exists(ctx, r.page, r.prof.ComposerContainer)
		if err != nil {
			return "", err
		}
		if !ok {
			return "composer closed", nil
		}
	}

	ok, err := browser.Exists(ctx, r.page, r.input)
	if err != nil {
		return "", err
	}
	if !ok {
		return "input gone", nil
	}
	return "", nil
}
