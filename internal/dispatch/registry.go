package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baovirt/remio/internal/hyp"
	"github.com/baovirt/remio/internal/shmem"
)

// MapFunc maps a DM's shared-memory window. The default reaches physical
// memory; tests and the loopback daemon substitute anonymous mappings.
type MapFunc func(base, size uint64) (*shmem.Region, error)

// HandleMinter creates the external handle returned by Info snapshots.
// Handle exposure is a control-surface concern, so the minter is injected.
type HandleMinter func(info Info) (int, error)

// Options configures a Registry.
type Options struct {
	Transport hyp.Transport

	// Trigger selects interrupt-driven or polling drive loops for every DM.
	Trigger TriggerMode

	// PollInterval is the polling-mode timer period.
	PollInterval time.Duration

	// MapShmem defaults to shmem.Map.
	MapShmem MapFunc

	// Minter defaults to a process-local counter.
	Minter HandleMinter
}

// Registry owns every active device model. It is the single injectable
// entry point of the subsystem: all components hang off a DM, and all DMs
// hang off the registry.
type Registry struct {
	transport hyp.Transport
	trigger   TriggerMode
	interval  time.Duration
	mapShmem  MapFunc
	minter    HandleMinter

	mu         sync.Mutex
	dms        map[uint32]*DeviceModel
	reserved   map[uint32]bool
	nextHandle int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Transport == nil {
		return nil, hyp.ErrNoTransport
	}
	r := &Registry{
		transport: opts.Transport,
		trigger:   opts.Trigger,
		interval:  opts.PollInterval,
		mapShmem:  opts.MapShmem,
		minter:    opts.Minter,
		dms:       make(map[uint32]*DeviceModel),
		reserved:  make(map[uint32]bool),
	}
	if r.mapShmem == nil {
		r.mapShmem = shmem.Map
	}
	if r.minter == nil {
		r.minter = r.mintCounter
	}
	return r, nil
}

func (r *Registry) mintCounter(Info) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHandle++
	return r.nextHandle, nil
}

// Create builds a device model: maps its shared memory, starts its drive
// engine, creates the control and doorbell clients and the interrupt
// server. The id is reserved under one critical section, so two racing
// Creates with the same id cannot both succeed, but the DM is published
// only once fully initialized: a concurrent Get, Kick or Destroy never
// observes a half-built DM.
func (r *Registry) Create(info Info) (*DeviceModel, error) {
	r.mu.Lock()
	if _, ok := r.dms[info.ID]; ok || r.reserved[info.ID] {
		r.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	r.reserved[info.ID] = true
	r.mu.Unlock()

	dm := &DeviceModel{
		info:      info,
		transport: r.transport,
	}
	if err := r.initDM(dm); err != nil {
		r.mu.Lock()
		delete(r.reserved, info.ID)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	delete(r.reserved, info.ID)
	r.dms[info.ID] = dm
	r.mu.Unlock()

	// Kicks for this DM were dropped while it was unpublished; schedule one
	// pass to pick up anything that arrived in the window.
	dm.engine.Kick()
	return dm, nil
}

func (r *Registry) initDM(dm *DeviceModel) error {
	region, err := r.mapShmem(dm.info.ShmemAddr, dm.info.ShmemSize)
	if err != nil {
		return fmt.Errorf("dispatch: map shmem for dm %d: %w", dm.info.ID, err)
	}
	dm.region = region

	dm.engine = newEngine(dm, r.trigger, r.interval)
	dm.irq = newIRQServer(dm.info.ID, r.transport)

	// Control first so it is the fallback, then the doorbell client with
	// its write-matching handler. Control creation replays any backlog
	// already buffered at the boundary.
	if _, err := newIOClient(dm, nil, true, clientName("control", dm.info.ID)); err != nil {
		dm.destroy()
		return err
	}
	if _, err := newIOClient(dm, dm.doorbellHandler, false, clientName("doorbell", dm.info.ID)); err != nil {
		dm.destroy()
		return err
	}
	return nil
}

// Get returns the DM registered under id.
func (r *Registry) Get(id uint32) (*DeviceModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dm, ok := r.dms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return dm, nil
}

// Info returns a snapshot of the DM descriptor with a freshly minted
// external handle.
func (r *Registry) Info(id uint32) (Info, error) {
	dm, err := r.Get(id)
	if err != nil {
		return Info{}, err
	}
	info := dm.info
	handle, err := r.minter(info)
	if err != nil {
		return Info{}, fmt.Errorf("dispatch: mint handle for dm %d: %w", id, err)
	}
	info.Handle = handle
	return info, nil
}

// Destroy removes the DM from the registry and tears it down: shared
// memory unmapped, interrupt server stopped, every client detached and
// destroyed under the dispatcher pause bracket. A second Destroy of the
// same id reports ErrNotFound.
func (r *Registry) Destroy(id uint32) error {
	r.mu.Lock()
	dm, ok := r.dms[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.dms, id)
	r.mu.Unlock()

	dm.destroy()
	return nil
}

// Kick schedules a drive pass for the DM, normally in response to an
// interrupt delivery.
func (r *Registry) Kick(id uint32) error {
	dm, err := r.Get(id)
	if err != nil {
		return err
	}
	dm.Kick()
	return nil
}

// KickAll schedules a drive pass for every registered DM, the shared
// interrupt-line case.
func (r *Registry) KickAll() {
	r.mu.Lock()
	dms := make([]*DeviceModel, 0, len(r.dms))
	for _, dm := range r.dms {
		dms = append(dms, dm)
	}
	r.mu.Unlock()
	for _, dm := range dms {
		dm.Kick()
	}
}

// IDs returns the ids of all registered DMs.
func (r *Registry) IDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint32, 0, len(r.dms))
	for id := range r.dms {
		ids = append(ids, id)
	}
	return ids
}

// Close destroys every registered DM. Different DMs tear down in parallel;
// each DM's own teardown stays serialized.
func (r *Registry) Close() error {
	var g errgroup.Group
	for _, id := range r.IDs() {
		id := id
		g.Go(func() error {
			if err := r.Destroy(id); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
