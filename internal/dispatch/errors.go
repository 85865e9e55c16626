package dispatch

import "errors"

var (
	// ErrAlreadyExists is returned when creating a device model whose id is
	// already registered.
	ErrAlreadyExists = errors.New("dispatch: device model already exists")

	// ErrNotFound is returned for lookups of unknown device models, clients
	// or registrations.
	ErrNotFound = errors.New("dispatch: not found")

	// ErrInvalidConfig is returned for malformed doorbell or interrupt
	// registrations.
	ErrInvalidConfig = errors.New("dispatch: invalid configuration")

	// ErrConflict is returned when a doorbell registration clashes with an
	// existing one on the same handle and address.
	ErrConflict = errors.New("dispatch: conflicting registration")

	// ErrDetached is returned by Attach when the client is being destroyed
	// or stopped. Consumers treat it as a clean end of their loop.
	ErrDetached = errors.New("dispatch: client detached")

	// ErrBusy is returned when a notification handle is already watched by
	// the interrupt server.
	ErrBusy = errors.New("dispatch: handle busy")

	// ErrBackend wraps failed hypervisor boundary calls.
	ErrBackend = errors.New("dispatch: hypervisor boundary call failed")
)
