package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/baovirt/remio/internal/hyp"
	"github.com/baovirt/remio/internal/shmem"
)

// Info describes one device model: its id, the shared-memory window it
// exchanges payloads through, and its interrupt line. Handle is only filled
// in by Registry.Info snapshots.
type Info struct {
	ID        uint32
	ShmemAddr uint64
	ShmemSize uint64
	IRQ       uint32
	Handle    int
}

// DeviceModel is one backend device instance. It owns its I/O clients, its
// doorbell registrations, its interrupt server and its shared-memory
// mapping. Created and destroyed through the Registry only.
type DeviceModel struct {
	info      Info
	transport hyp.Transport
	region    *shmem.Region

	destroying atomic.Bool

	clientsMu sync.RWMutex
	clients   []*IOClient
	control   *IOClient
	doorbell  *IOClient

	doorbellsMu sync.Mutex
	doorbells   []*doorbellReg

	irq *irqServer

	engine *engine
}

// Info returns the DM descriptor without a handle.
func (dm *DeviceModel) Info() Info { return dm.info }

// Shmem returns the DM's mapped shared-memory window, or nil once the DM is
// destroyed.
func (dm *DeviceModel) Shmem() *shmem.Region { return dm.region }

// ControlClient returns the DM's default client, serviced by an external
// consumer through Attach.
func (dm *DeviceModel) ControlClient() *IOClient {
	dm.clientsMu.RLock()
	defer dm.clientsMu.RUnlock()
	return dm.control
}

// Kick schedules a drive pass, the interrupt-mode equivalent of an
// interrupt delivery for this DM.
func (dm *DeviceModel) Kick() { dm.engine.Kick() }

// destroyClient tears one client down under a pause/resume bracket so no
// in-flight drive pass can route into it mid-teardown.
func (dm *DeviceModel) destroyClient(c *IOClient) {
	dm.engine.Pause()

	c.markDestroying()

	if !c.isControl {
		if c == dm.doorbellClient() {
			dm.teardownDoorbells()
		}
		c.stop()
		<-c.done
	}

	c.clearRanges()

	dm.clientsMu.Lock()
	if c.isControl {
		dm.control = nil
	} else if dm.doorbell == c {
		dm.doorbell = nil
	}
	for i, other := range dm.clients {
		if other == c {
			dm.clients = append(dm.clients[:i], dm.clients[i+1:]...)
			break
		}
	}
	dm.clientsMu.Unlock()

	dm.engine.Resume()
}

func (dm *DeviceModel) doorbellClient() *IOClient {
	dm.clientsMu.RLock()
	defer dm.clientsMu.RUnlock()
	return dm.doorbell
}

// destroy tears the whole DM down. The registry has already removed it, so
// no new configuration can arrive; destroying stops request admission.
func (dm *DeviceModel) destroy() {
	dm.destroying.Store(true)

	if dm.region != nil {
		if err := dm.region.Unmap(); err != nil {
			slog.Error("dispatch: unmap shmem", "dm", dm.info.ID, "error", err)
		}
		dm.region = nil
	}

	dm.irq.close()

	dm.clientsMu.RLock()
	clients := make([]*IOClient, len(dm.clients))
	copy(clients, dm.clients)
	dm.clientsMu.RUnlock()
	for _, c := range clients {
		dm.destroyClient(c)
	}

	dm.engine.Stop()
}

func clientName(kind string, id uint32) string {
	return fmt.Sprintf("remio-%s-%d", kind, id)
}
