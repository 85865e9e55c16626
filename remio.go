// Package remio dispatches para-virtual I/O between hypervisor-trapped
// guest accesses and backend device models. A Registry owns the device
// models; each device model routes trapped accesses to I/O clients by
// address range, converts doorbell writes into notifications, and injects
// virtual interrupts when a backend signals completion.
package remio

import (
	"github.com/baovirt/remio/internal/dispatch"
	"github.com/baovirt/remio/internal/hyp"
	"github.com/baovirt/remio/internal/notify"
	"github.com/baovirt/remio/internal/shmem"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal/dispatch
// -----------------------------------------------------------------------------

// Registry owns every active device model.
type Registry = dispatch.Registry

// DeviceModel is one backend device instance.
type DeviceModel = dispatch.DeviceModel

// IOClient is a named consumer of I/O requests for one device model.
type IOClient = dispatch.IOClient

// Info describes a device model.
type Info = dispatch.Info

// Options configures a Registry.
type Options = dispatch.Options

// DoorbellConfig registers or removes a doorbell notification.
type DoorbellConfig = dispatch.DoorbellConfig

// IRQConfig registers or removes an interrupt notification handle.
type IRQConfig = dispatch.IRQConfig

// TriggerMode selects how device model dispatch is scheduled.
type TriggerMode = dispatch.TriggerMode

// Handler processes one I/O request on behalf of an in-process client.
type Handler = dispatch.Handler

// Request is one trapped guest access.
type Request = hyp.Request

// Transport is the hypervisor boundary the dispatcher drives.
type Transport = hyp.Transport

// Op is the access kind of a request.
type Op = hyp.Op

// Notifier is the signal-only side of a notification handle.
type Notifier = notify.Notifier

// Watchable is a notification handle that can also be watched.
type Watchable = notify.Watchable

// Region is a mapped shared-memory window.
type Region = shmem.Region

// Access kinds.
const (
	OpWrite  = hyp.OpWrite
	OpRead   = hyp.OpRead
	OpAsk    = hyp.OpAsk
	OpNotify = hyp.OpNotify
)

// Trigger modes.
const (
	TriggerInterrupt = dispatch.TriggerInterrupt
	TriggerPolling   = dispatch.TriggerPolling
)

// Common sentinel errors.
var (
	ErrAlreadyExists = dispatch.ErrAlreadyExists
	ErrNotFound      = dispatch.ErrNotFound
	ErrInvalidConfig = dispatch.ErrInvalidConfig
	ErrConflict      = dispatch.ErrConflict
	ErrDetached      = dispatch.ErrDetached
	ErrBusy          = dispatch.ErrBusy
	ErrBackend       = dispatch.ErrBackend
	ErrNoPending     = hyp.ErrNoPending
	ErrClosed        = notify.ErrClosed
)

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// New creates an empty device model registry.
//
// The caller must call Close when finished to tear down every device model
// that is still registered.
func New(opts Options) (*Registry, error) {
	return dispatch.NewRegistry(opts)
}

// NewLoopback returns an in-memory Transport that buffers injected requests
// and records completions, for tests and self-contained deployments.
func NewLoopback() *hyp.Loopback {
	return hyp.NewLoopback()
}

// NewChannel returns an in-process notification handle backed by Go
// channels, usable wherever an eventfd is not available.
func NewChannel() *notify.Channel {
	return notify.NewChannel()
}

// MapAnonymous maps a private anonymous region instead of physical memory,
// for tests and self-contained deployments. Pass it as Options.MapShmem.
func MapAnonymous(base, size uint64) (*Region, error) {
	return shmem.MapAnonymous(base, size)
}
