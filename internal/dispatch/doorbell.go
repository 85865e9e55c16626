package dispatch

import (
	"log/slog"
	"math"

	"github.com/baovirt/remio/internal/hyp"
	"github.com/baovirt/remio/internal/notify"
)

// DoorbellConfig describes one doorbell registration: writes of Data (or of
// any value, when DataMatch is false) to [Addr, Addr+Len) signal the
// notifier. Deassign removes the registration for the same handle instead.
type DoorbellConfig struct {
	Notifier  notify.Notifier
	Addr      uint64
	Len       uint32
	Data      uint64
	DataMatch bool
	Deassign  bool
}

// doorbellReg is a stored registration. wildcard mirrors the inverse of
// DataMatch.
type doorbellReg struct {
	n        notify.Notifier
	addr     uint64
	length   uint64
	data     uint64
	wildcard bool
}

// ConfigDoorbell registers or removes a doorbell for the DM.
func (dm *DeviceModel) ConfigDoorbell(cfg DoorbellConfig) error {
	if dm.destroying.Load() {
		return ErrNotFound
	}
	if cfg.Notifier == nil {
		return ErrInvalidConfig
	}
	if cfg.Deassign {
		return dm.unregisterDoorbell(cfg.Notifier)
	}
	return dm.registerDoorbell(cfg)
}

func doorbellConfigValid(cfg DoorbellConfig) bool {
	switch cfg.Len {
	case 1, 2, 4, 8:
	default:
		return false
	}
	// The registered window must not wrap the address space.
	return cfg.Addr <= math.MaxUint64-uint64(cfg.Len)
}

func (dm *DeviceModel) registerDoorbell(cfg DoorbellConfig) error {
	if !doorbellConfigValid(cfg) {
		return ErrInvalidConfig
	}

	reg := &doorbellReg{
		n:        cfg.Notifier,
		addr:     cfg.Addr,
		length:   uint64(cfg.Len),
		data:     cfg.Data,
		wildcard: !cfg.DataMatch,
	}

	client := dm.doorbellClient()
	if client == nil {
		return ErrNotFound
	}

	dm.doorbellsMu.Lock()
	defer dm.doorbellsMu.Unlock()

	// Two registrations on the same handle and address conflict unless both
	// match on data and the data differs.
	for _, p := range dm.doorbells {
		if p.n == reg.n && p.addr == reg.addr &&
			(p.wildcard || reg.wildcard || p.data == reg.data) {
			return ErrConflict
		}
	}

	if err := client.RangeAdd(reg.addr, reg.addr+reg.length-1); err != nil {
		return err
	}
	dm.doorbells = append(dm.doorbells, reg)
	return nil
}

// unregisterDoorbell removes the first registration on the handle and
// releases it.
func (dm *DeviceModel) unregisterDoorbell(n notify.Notifier) error {
	client := dm.doorbellClient()

	dm.doorbellsMu.Lock()
	defer dm.doorbellsMu.Unlock()

	for i, p := range dm.doorbells {
		if p.n != n {
			continue
		}
		if client != nil {
			client.RangeDel(p.addr, p.addr+p.length-1)
		}
		dm.doorbells = append(dm.doorbells[:i], dm.doorbells[i+1:]...)
		if err := p.n.Close(); err != nil {
			slog.Error("dispatch: close doorbell handle",
				"dm", dm.info.ID, "addr", p.addr, "error", err)
		}
		return nil
	}
	return ErrNotFound
}

// teardownDoorbells drops every registration and releases the handles.
// Called while the doorbell client is being destroyed.
func (dm *DeviceModel) teardownDoorbells() {
	dm.doorbellsMu.Lock()
	regs := dm.doorbells
	dm.doorbells = nil
	dm.doorbellsMu.Unlock()

	for _, p := range regs {
		if err := p.n.Close(); err != nil {
			slog.Error("dispatch: close doorbell handle",
				"dm", dm.info.ID, "addr", p.addr, "error", err)
		}
	}
}

// doorbellHandler services requests routed to the doorbell client. Reads of
// a doorbell register are side-effect free and return zero. Writes signal
// the first matching registration; an unmatched write is silently ignored.
func (dm *DeviceModel) doorbellHandler(_ *IOClient, req *hyp.Request) error {
	if req.Op == hyp.OpRead {
		req.Value = 0
		return nil
	}

	dm.doorbellsMu.Lock()
	defer dm.doorbellsMu.Unlock()
	for _, p := range dm.doorbells {
		if p.addr == req.Addr && p.length >= req.AccessWidth &&
			(p.wildcard || p.data == req.Value) {
			if err := p.n.Signal(); err != nil {
				slog.Error("dispatch: signal doorbell",
					"dm", dm.info.ID, "addr", p.addr, "error", err)
			}
			break
		}
	}
	return nil
}
