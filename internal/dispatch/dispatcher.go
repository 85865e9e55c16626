package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/baovirt/remio/internal/hyp"
)

// TriggerMode selects how a device model's drive loop is scheduled.
type TriggerMode int

const (
	// TriggerInterrupt schedules a drive pass whenever Kick is called,
	// normally from an interrupt delivery.
	TriggerInterrupt TriggerMode = iota

	// TriggerPolling schedules drive passes on a fixed-interval timer.
	TriggerPolling
)

// DefaultPollInterval is used in polling mode when no interval is
// configured.
const DefaultPollInterval = time.Millisecond

// engine serializes drive passes for one device model. At most one pass
// runs at a time; Pause blocks until any in-flight pass has returned, so a
// paused engine is guaranteed not to route requests into a client that is
// mid-teardown.
type engine struct {
	dm       *DeviceModel
	mode     TriggerMode
	interval time.Duration

	kick chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	paused bool
}

func newEngine(dm *DeviceModel, mode TriggerMode, interval time.Duration) *engine {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	e := &engine{
		dm:       dm,
		mode:     mode,
		interval: interval,
		kick:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *engine) loop() {
	defer e.wg.Done()

	var tickC <-chan time.Time
	if e.mode == TriggerPolling {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-e.quit:
			return
		case <-e.kick:
		case <-tickC:
		}

		e.mu.Lock()
		if !e.paused {
			e.drain()
		}
		e.mu.Unlock()
	}
}

// drain pulls requests from the boundary until it reports none pending or
// fails. A boundary failure aborts this pass only; the next trigger retries.
func (e *engine) drain() {
	for {
		remaining, err := e.dm.dispatchOne()
		if err != nil {
			if !errors.Is(err, hyp.ErrNoPending) {
				slog.Error("dispatch: drive pass aborted",
					"dm", e.dm.info.ID, "error", err)
			}
			return
		}
		if remaining <= 0 {
			return
		}
	}
}

// Kick schedules one drive pass. Kicks arriving while a pass is pending are
// coalesced.
func (e *engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Pause unhooks the trigger and waits for any in-flight pass to finish.
func (e *engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume re-hooks the trigger and schedules one pass, so a request that
// arrived while paused is not lost.
func (e *engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.Kick()
}

// Stop terminates the drive loop for good, waiting for an in-flight pass.
func (e *engine) Stop() {
	close(e.quit)
	e.wg.Wait()
}

// dispatchOne pulls the next pending request for the DM and routes it to
// the owning client: first client whose range set covers the access wins,
// the control client is the fallback. Returns the number of requests still
// pending at the boundary.
func (dm *DeviceModel) dispatchOne() (int, error) {
	if dm.destroying.Load() {
		return 0, nil
	}

	req, remaining, err := dm.transport.Ask(dm.info.ID)
	if err != nil {
		if errors.Is(err, hyp.ErrNoPending) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: ask dm %d: %w", ErrBackend, dm.info.ID, err)
	}

	if client := dm.findClient(req); client != nil {
		client.push(req)
	}
	return remaining, nil
}

// findClient resolves the owning client for a request. The client set is
// held only while resolving and enqueuing, never across a blocking call.
func (dm *DeviceModel) findClient(req hyp.Request) *IOClient {
	dm.clientsMu.RLock()
	defer dm.clientsMu.RUnlock()
	for _, c := range dm.clients {
		if c.ownsRange(req.Addr, req.AccessWidth) {
			return c
		}
	}
	return dm.control
}
