package vksync

import (
	"github.com/pkg/errors"
)

// The error taxonomy of this package. Everything an operation can fail with
// wraps one of these sentinels, so callers classify with errors.Is.
var (
	// ErrAllocationExhausted indicates the allocator or the native API ran
	// out of memory. Recoverable: release resources, Collect, retry.
	ErrAllocationExhausted = errors.New("vksync: allocation exhausted")

	// ErrDeviceLost is fatal. Once observed the whole DeviceContext is
	// latched unusable; every live resource is gone with the device and the
	// only recovery is to build a new context.
	ErrDeviceLost = errors.New("vksync: device lost")

	// ErrInvalidState signals a caller bug: an operation was attempted on a
	// Recorder or Resource in the wrong lifecycle state.
	ErrInvalidState = errors.New("vksync: invalid state")

	// ErrTimeout is returned by WaitUntil when the deadline expires before
	// the marker completes. The GPU work itself is unaffected.
	ErrTimeout = errors.New("vksync: timeout")

	// ErrHazardViolation is a defensive check that should be unreachable if
	// the hazard tracker is correct. It is only surfaced when
	// Options.DebugChecks is on; silently continuing risks GPU corruption.
	ErrHazardViolation = errors.New("vksync: hazard violation")

	// ErrNotRecorded indicates a recorder handed to Submit had not been
	// ended.
	ErrNotRecorded = errors.New("vksync: recorder not ended")
)
