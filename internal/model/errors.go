package model

import "errors"

// Error taxonomy. Hardware and peer failures degrade the affected field and
// never abort the control loops; only configuration errors are returned
// synchronously to the caller of the offending request.
var (
	// ErrDeviceUnavailable: no device assigned, or a read/write failed.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrConfiguration: a request is invalid as configured (zero pump
	// calibration, bad calibration point, non-positive manual dose).
	ErrConfiguration = errors.New("configuration error")

	// ErrInterlocked: a deliberate safety skip, not a fault.
	ErrInterlocked = errors.New("dosing interlocked")

	// ErrPeerUnreachable: a remote zone cannot be reached right now.
	ErrPeerUnreachable = errors.New("peer unreachable")
)
