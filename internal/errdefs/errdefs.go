// Package errdefs defines the error taxonomy shared by services, backends and
// the HTTP layer. Callers classify with errors.Is and attach detail with
// fmt.Errorf("...: %w", Err...).
package errdefs

import "errors"

var (
	// ErrValidation marks input rejected before touching any process or file.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks duplicate domains or mode mismatches.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
	// ErrProcess marks a spawn or signal failure of the backend process.
	ErrProcess = errors.New("process error")
	// ErrConfigInvalid marks generated config rejected by the backend's own
	// syntax check. The previously applied config stays active.
	ErrConfigInvalid = errors.New("config invalid")
	// ErrAlreadyRunning marks a start attempt against a live process.
	ErrAlreadyRunning = errors.New("already running")
	// ErrExternalService marks a DNS or tunnel-provider API failure.
	ErrExternalService = errors.New("external service error")
	// ErrAuth marks bad credentials or an expired/mismatched session. The
	// caller-facing message is always generic.
	ErrAuth = errors.New("authentication failed")
)
