package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/baovirt/remio/internal/hyp"
	"github.com/baovirt/remio/internal/notify"
)

// IRQConfig registers (or, with Deassign, removes) a notification handle
// whose signals are converted into virtual interrupt injections for the DM.
type IRQConfig struct {
	Handle   notify.Watchable
	Deassign bool
}

// irqServer watches a DM's registered notification handles. Each handle has
// a watcher goroutine; a hangup on a handle is handed to a single teardown
// worker instead of being handled inline, so the watcher never re-enters
// the registration list it is being removed from.
type irqServer struct {
	dmID      uint32
	transport hyp.Transport

	mu   sync.Mutex
	regs map[notify.Watchable]*irqReg

	teardown chan notify.Watchable
	quit     chan struct{}
	wg       sync.WaitGroup
}

type irqReg struct {
	w    notify.Watchable
	stop chan struct{}
}

func newIRQServer(dmID uint32, transport hyp.Transport) *irqServer {
	s := &irqServer{
		dmID:      dmID,
		transport: transport,
		regs:      make(map[notify.Watchable]*irqReg),
		teardown:  make(chan notify.Watchable),
		quit:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.teardownLoop()
	return s
}

// ConfigIRQ registers or removes an interrupt notification handle.
func (dm *DeviceModel) ConfigIRQ(cfg IRQConfig) error {
	if dm.destroying.Load() {
		return ErrNotFound
	}
	if cfg.Handle == nil {
		return ErrInvalidConfig
	}
	if cfg.Deassign {
		return dm.irq.unregister(cfg.Handle)
	}
	return dm.irq.register(cfg.Handle)
}

// register starts watching a handle. A handle that was signaled before
// registration is picked up immediately: its pending edge is already
// buffered on the Signaled channel.
func (s *irqServer) register(w notify.Watchable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[w]; ok {
		return ErrBusy
	}
	reg := &irqReg{w: w, stop: make(chan struct{})}
	s.regs[w] = reg

	s.wg.Add(1)
	go s.watch(reg)
	return nil
}

// unregister stops watching a handle and releases it.
func (s *irqServer) unregister(w notify.Watchable) error {
	s.mu.Lock()
	reg, ok := s.regs[w]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.regs, w)
	s.mu.Unlock()

	close(reg.stop)
	if err := w.Close(); err != nil {
		slog.Error("dispatch: close irq handle", "dm", s.dmID, "error", err)
	}
	return nil
}

// watch converts signals on one handle into notify calls. Injection
// failures are reported but watching continues; only stop, server shutdown
// or a hangup end the watch.
func (s *irqServer) watch(reg *irqReg) {
	defer s.wg.Done()
	for {
		select {
		case <-reg.stop:
			return
		case <-s.quit:
			return
		case <-reg.w.Signaled():
			if err := s.inject(); err != nil {
				slog.Error("dispatch: inject irq", "dm", s.dmID, "error", err)
			}
		case <-reg.w.Hangup():
			select {
			case s.teardown <- reg.w:
			case <-s.quit:
			}
			return
		}
	}
}

func (s *irqServer) inject() error {
	if err := s.transport.Notify(s.dmID); err != nil {
		return fmt.Errorf("%w: notify dm %d: %w", ErrBackend, s.dmID, err)
	}
	return nil
}

// teardownLoop drains hangup-initiated removals on a dedicated worker.
func (s *irqServer) teardownLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case w := <-s.teardown:
			if err := s.unregister(w); err != nil && !errors.Is(err, ErrNotFound) {
				slog.Error("dispatch: irq teardown", "dm", s.dmID, "error", err)
			}
		}
	}
}

// close stops the workers and releases every registration.
func (s *irqServer) close() {
	close(s.quit)
	s.wg.Wait()

	s.mu.Lock()
	regs := s.regs
	s.regs = make(map[notify.Watchable]*irqReg)
	s.mu.Unlock()

	for w := range regs {
		if err := w.Close(); err != nil {
			slog.Error("dispatch: close irq handle", "dm", s.dmID, "error", err)
		}
	}
}
