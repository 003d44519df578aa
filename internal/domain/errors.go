package domain

import "errors"

// Typed errors returned synchronously to callers (API gateway, scheduler).
// Tick-loop failures are logged at the loop boundary, never propagated as
// process-fatal.
var (
	// ErrAlreadyActive is returned by Start when a session is Active.
	ErrAlreadyActive = errors.New("a focus session is already active")

	// ErrNotActive is returned by Stop when no session is Active.
	ErrNotActive = errors.New("no focus session is active")

	// ErrStrictLockout is returned by Stop when a strict session has not
	// reached its minimum lock duration and no passphrase was supplied.
	ErrStrictLockout = errors.New("strict mode lockout: too early to stop without passphrase")

	// ErrWrongPassphrase is returned by Stop when the supplied passphrase
	// does not match the required one.
	ErrWrongPassphrase = errors.New("incorrect passphrase")

	// ErrProbeUnavailable indicates the platform has no usable foreground
	// window probe. The tracking loop degrades, it does not crash.
	ErrProbeUnavailable = errors.New("foreground window probe unavailable on this platform")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed values rejected at the
	// gateway before they reach core state.
	ErrInvalidInput = errors.New("invalid input")
)
