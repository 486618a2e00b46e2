package ebrmap

import (
	"github.com/cockroachdb/errors"
)

// Error kinds are intentionally few and coarse: configuration
// errors and allocation failures are the only two conditions this library
// treats as fatal. Everything else — absent key, CAS loss, migration in
// progress — is either an ordinary (value, present) return or handled
// internally and never surfaced.

// ErrConfiguration is the sentinel wrapped by configuration errors (the
// participant limit exceeded at registration, raised as a panic). Out-of-
// range option values, such as a negative size exponent, are ignored
// rather than reported. Use errors.Is(err, ErrConfiguration) to test for
// this class.
var ErrConfiguration = errors.New("ebrmap: configuration error")

// ErrAllocation is the sentinel for allocation failures. The library does
// not attempt degraded operation when allocation fails; Go surfaces an
// allocation failure as a runtime panic, which the library does not
// intercept, and no code path in the library currently wraps this
// sentinel.
var ErrAllocation = errors.New("ebrmap: allocation error")

func newConfigError(msg string) error {
	return errors.WithStack(errors.Wrap(ErrConfiguration, msg))
}

func newAllocationError(msg string) error {
	return errors.WithStack(errors.Wrap(ErrAllocation, msg))
}
