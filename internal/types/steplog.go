package types

import (
	"sync"
	"time"
)

// Step is one entry of the automation step log
type Step struct {
	Name           string    `json:"name"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
}

// StepLog is an append-only record of a run. It is only used for reporting.
type StepLog struct {
	mu    sync.Mutex
	steps []Step
	now   func() time.Time
}

// NewStepLog creates an empty step log
func NewStepLog() *StepLog {
	return &StepLog{now: time.Now}
}

// Record appends a step. A nil err marks the step successful.
func (l *StepLog) Record(name string, err error) {
	l.append(name, err, "")
}

// RecordShot appends a step with an associated screenshot
func (l *StepLog) RecordShot(name string, err error, screenshot string) {
	l.append(name, err, screenshot)
}

func (l *StepLog) append(name string, err error, screenshot string) {
	if l == nil {
		return
	}
	s := Step{Name: name, Success: err == nil, ScreenshotPath: screenshot}
	if err != nil {
		s.Error = err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now == nil {
		l.now = time.Now
	}
	s.Timestamp = l.now()
	l.steps = append(l.steps, s)
}

// Steps returns a copy of the recorded steps
func (l *StepLog) Steps() []Step {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}
