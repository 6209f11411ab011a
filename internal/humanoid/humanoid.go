// Package humanoid paces browser input like a person would: randomized
// delays, per-character typing cadence and idle mouse movement.
package humanoid

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"unicode"

	"github.com/ibeckermayer/postpilot/internal/browser"
)

// ErrTargetGone means the element being typed into left the DOM
var ErrTargetGone = fmt.Errorf("typing target disappeared: %w", browser.ErrElementNotFound)

// recheckEvery is how many characters are typed between stale-target checks
const recheckEvery = 8

// Config holds the cadence parameters
type Config struct {
	KeyDelayMin time.Duration
	KeyDelayMax time.Duration

	// Extra delay after a space and after punctuation, drawn from [0, max]
	SpacePauseMax time.Duration
	PunctPauseMax time.Duration

	ThinkChance float64
	ThinkMin    time.Duration
	ThinkMax    time.Duration

	ViewportWidth  int
	ViewportHeight int
}

// DefaultConfig returns the cadence used for real runs
func DefaultConfig() Config {
	return Config{
		KeyDelayMin:    50 * time.Millisecond,
		KeyDelayMax:    150 * time.Millisecond,
		SpacePauseMax:  120 * time.Millisecond,
		PunctPauseMax:  250 * time.Millisecond,
		ThinkChance:    0.10,
		ThinkMin:       300 * time.Millisecond,
		ThinkMax:       800 * time.Millisecond,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Simulator generates human-like input. Safe for concurrent use.
type Simulator struct {
	cfg   Config
	sleep Sleeper

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customizes a Simulator
type Option func(*Simulator)

// WithSleeper replaces the real sleep, typically with a recorder in tests
func WithSleeper(s Sleeper) Option {
	return func(sim *Simulator) { sim.sleep = s }
}

// New creates a Simulator. seed 0 picks a time-based seed.
func New(cfg Config, seed int64, opts ...Option) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Simulator{
		cfg:   cfg,
		sleep: Sleep,
		rng:   rand.New(rand.NewSource(seed)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Simulator) between(min, max time.Duration) time.Duration {
	if min > max {
		min, max = max, min
	}
	if max == min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + time.Duration(s.rng.Int63n(int64(max-min)+1))
}

func (s *Simulator) chance(p float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < p
}

// Delay suspends for a uniformly random duration in [min, max]
func (s *Simulator) Delay(ctx context.Context, min, max time.Duration) error {
	return s.sleep(ctx, s.between(min, max))
}

// nextDelay is the pause after typing r
func (s *Simulator) nextDelay(r rune) time.Duration {
	d := s.between(s.cfg.KeyDelayMin, s.cfg.KeyDelayMax)
	switch {
	case unicode.IsSpace(r):
		d += s.between(0, s.cfg.SpacePauseMax)
	case unicode.IsPunct(r):
		d += s.between(0, s.cfg.PunctPauseMax)
	}
	if s.chance(s.cfg.ThinkChance) {
		d += s.between(s.cfg.ThinkMin, s.cfg.ThinkMax)
	}
	return d
}

// TypeLikeHuman focuses selector and types text one character at a time.
// Returns ErrTargetGone as soon as the target is found missing.
func (s *Simulator) TypeLikeHuman(ctx context.Context, page browser.Page, selector, text string) error {
	if err := s.ensure(ctx, page, selector); err != nil {
		return err
	}
	if err := page.Focus(ctx, selector); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			return fmt.Errorf("%s: %w", selector, ErrTargetGone)
		}
		return fmt.Errorf("focus %s: %w", selector, err)
	}

	for i, r := range []rune(text) {
		if i > 0 && i%recheckEvery == 0 {
			if err := s.ensure(ctx, page, selector); err != nil {
				return err
			}
		}
		if err := page.SendKeys(ctx, string(r)); err != nil {
			if gone := s.ensure(ctx, page, selector); gone != nil {
				return gone
			}
			return fmt.Errorf("type into %s: %w", selector, err)
		}
		if err := s.sleep(ctx, s.nextDelay(r)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) ensure(ctx context.Context, page browser.Page, selector string) error {
	ok, err := browser.Exists(ctx, page, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", selector, ErrTargetGone)
	}
	return nil
}

// MoveMouseRandomly issues 1-3 pointer moves to random points in the viewport
func (s *Simulator) MoveMouseRandomly(ctx context.Context, page browser.Page) error {
	w, h := s.cfg.ViewportWidth, s.cfg.ViewportHeight
	if w <= 0 || h <= 0 {
		w, h = 1280, 720
	}

	s.mu.Lock()
	n := 1 + s.rng.Intn(3)
	s.mu.Unlock()

	for range n {
		s.mu.Lock()
		x := float64(s.rng.Intn(w))
		y := float64(s.rng.Intn(h))
		s.mu.Unlock()

		if err := page.MouseMove(ctx, x, y); err != nil {
			return fmt.Errorf("mouse move: %w", err)
		}
		if err := s.Delay(ctx, 50*time.Millisecond, 200*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}
