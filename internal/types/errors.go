package types

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an automation step gave up
type FailureKind string

const (
	DiscoveryFailure             FailureKind = "discovery_failure"
	InteractionFailure           FailureKind = "interaction_failure"
	SecurityChallengeEncountered FailureKind = "security_challenge"
	VerificationInconclusive     FailureKind = "verification_inconclusive"
	NetworkOrNavigationFailure   FailureKind = "network_or_navigation_failure"
)

var (
	ErrDiscovery         = errors.New("no selector candidates matched")
	ErrInteraction       = errors.New("element interaction failed")
	ErrSecurityChallenge = errors.New("security challenge requires manual intervention")
	ErrUnverified        = errors.New("post could not be verified")
	ErrNavigation        = errors.New("network or navigation failure")
)

var sentinels = map[FailureKind]error{
	DiscoveryFailure:             ErrDiscovery,
	InteractionFailure:           ErrInteraction,
	SecurityChallengeEncountered: ErrSecurityChallenge,
	VerificationInconclusive:     ErrUnverified,
	NetworkOrNavigationFailure:   ErrNavigation,
}

// Failure is a classified state-machine error
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, sentinels[f.Kind])
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, sentinels[f.Kind], f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is lets errors.Is match a Failure against its kind's sentinel
func (f *Failure) Is(target error) bool {
	return sentinels[f.Kind] == target
}

// Fail builds a classified failure. err may be nil.
func Fail(kind FailureKind, op string, err error) error {
	return &Failure{Kind: kind, Op: op, Err: err}
}

// KindOf returns the failure kind carried by err, or "" if unclassified
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Retryable reports whether a whole-attempt retry may help.
// Security challenges need a human and are never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrSecurityChallenge)
}
