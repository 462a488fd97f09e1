package ringpool

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a pool or registry is built from
	// invalid parameters. Nothing is opened when it is returned.
	ErrConfiguration = errors.New("ringpool: invalid configuration")

	// ErrConnectionOpen is matched by every *OpenError.
	ErrConnectionOpen = errors.New("ringpool: unable to open connection")

	// ErrAlreadyInUse is returned when a connection that is already handed out
	// is claimed again.
	ErrAlreadyInUse = errors.New("ringpool: connection is already in use")

	// ErrDoubleRelease is returned by Connection.Close on a connection that
	// was already returned to the pool.
	ErrDoubleRelease = errors.New("ringpool: connection returned that was never out")

	// ErrPoolClosed is returned by every acquisition after Pool.Close.
	ErrPoolClosed = errors.New("ringpool: pool is closed")

	// ErrRegistryClosed is returned by Registry.Get after Registry.Close.
	ErrRegistryClosed = errors.New("ringpool: registry is closed")

	// ErrUnknownDatabase is returned by Registry.Get for a name that has no
	// configuration entry.
	ErrUnknownDatabase = errors.New("ringpool: unknown database")
)

// OpenError reports a failure of the driver to open a raw connection.
type OpenError struct {
	Op  string // "fill", "recycle", "standalone"
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("ringpool: %s: unable to open connection: %v", e.Op, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Is reports ErrConnectionOpen as a match so callers can test the class of
// failure without a type assertion.
func (e *OpenError) Is(target error) bool {
	return target == ErrConnectionOpen
}

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConfiguration}, args...)...)
}
