package dispatch

import (
	"errors"
	"testing"

	"github.com/baovirt/remio/internal/hyp"
	"github.com/baovirt/remio/internal/notify"
)

func signaled(w *notify.Channel) bool {
	select {
	case <-w.Signaled():
		return true
	default:
		return false
	}
}

func TestConfigDoorbellValidation(t *testing.T) {
	r, _ := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name string
		cfg  DoorbellConfig
		want error
	}{
		{"nil notifier", DoorbellConfig{Addr: 0x100, Len: 4}, ErrInvalidConfig},
		{"zero len", DoorbellConfig{Notifier: notify.NewChannel(), Addr: 0x100}, ErrInvalidConfig},
		{"odd len", DoorbellConfig{Notifier: notify.NewChannel(), Addr: 0x100, Len: 3}, ErrInvalidConfig},
		{"wraps address space", DoorbellConfig{Notifier: notify.NewChannel(), Addr: ^uint64(0) - 2, Len: 4}, ErrInvalidConfig},
		{"deassign unknown", DoorbellConfig{Notifier: notify.NewChannel(), Addr: 0x100, Len: 4, Deassign: true}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := dm.ConfigDoorbell(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDoorbellConflicts(t *testing.T) {
	r, _ := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	bell := notify.NewChannel()
	if err := dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Addr: 0x100, Len: 4}); err != nil {
		t.Fatalf("first registration: %v", err)
	}

	// Same handle, same address: always a conflict against a wildcard.
	err = dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Addr: 0x100, Len: 4})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("wildcard duplicate: got %v, want ErrConflict", err)
	}
	err = dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Addr: 0x100, Len: 4, Data: 5, DataMatch: true})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("datamatch against wildcard: got %v, want ErrConflict", err)
	}

	// Same handle at a different address is fine.
	if err := dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Addr: 0x200, Len: 4, Data: 5, DataMatch: true}); err != nil {
		t.Fatalf("second address: %v", err)
	}
	// Two datamatch registrations with distinct values coexist.
	err = dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Addr: 0x200, Len: 4, Data: 6, DataMatch: true})
	if err != nil {
		t.Fatalf("distinct datamatch: %v", err)
	}
	err = dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Addr: 0x200, Len: 4, Data: 6, DataMatch: true})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("equal datamatch duplicate: got %v, want ErrConflict", err)
	}

	// A different handle never conflicts.
	other := notify.NewChannel()
	if err := dm.ConfigDoorbell(DoorbellConfig{Notifier: other, Addr: 0x100, Len: 4}); err != nil {
		t.Fatalf("different handle: %v", err)
	}
}

func TestDoorbellDeassign(t *testing.T) {
	r, lb := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	bell := notify.NewChannel()
	if err := dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Addr: 0x100, Len: 4}); err != nil {
		t.Fatalf("ConfigDoorbell: %v", err)
	}
	if err := dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Deassign: true}); err != nil {
		t.Fatalf("Deassign: %v", err)
	}
	err = dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Deassign: true})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("second Deassign: got %v, want ErrNotFound", err)
	}

	// The window is released: writes there now land on the control client.
	lb.Inject(hyp.Request{DMID: 1, Addr: 0x100, Op: hyp.OpWrite, Value: 1, AccessWidth: 4})
	c := dm.ControlClient()
	waitUntil(t, "released range routed to control", func() bool {
		return c.Pending() == 1
	})
	if signaled(bell) {
		t.Error("deassigned doorbell still signaled")
	}
}

func TestDoorbellDataMatch(t *testing.T) {
	r, lb := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	matched := notify.NewChannel()
	err = dm.ConfigDoorbell(DoorbellConfig{Notifier: matched, Addr: 0x100, Len: 4, Data: 0xCAFE, DataMatch: true})
	if err != nil {
		t.Fatalf("ConfigDoorbell: %v", err)
	}

	lb.Inject(hyp.Request{DMID: 1, Addr: 0x100, Op: hyp.OpWrite, Value: 0xBEEF, AccessWidth: 4, RequestID: 1})
	waitUntil(t, "non-matching write completion", func() bool {
		return len(lb.Completed()) == 1
	})
	if signaled(matched) {
		t.Fatal("signaled on non-matching value")
	}

	lb.Inject(hyp.Request{DMID: 1, Addr: 0x100, Op: hyp.OpWrite, Value: 0xCAFE, AccessWidth: 4, RequestID: 2})
	waitUntil(t, "matching write completion", func() bool {
		return len(lb.Completed()) == 2
	})
	if !signaled(matched) {
		t.Fatal("matching value did not signal")
	}
}

func TestDoorbellReadReturnsZero(t *testing.T) {
	r, lb := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	bell := notify.NewChannel()
	if err := dm.ConfigDoorbell(DoorbellConfig{Notifier: bell, Addr: 0x100, Len: 4}); err != nil {
		t.Fatalf("ConfigDoorbell: %v", err)
	}

	lb.Inject(hyp.Request{DMID: 1, Addr: 0x100, Op: hyp.OpRead, Value: 0xFF, AccessWidth: 4})
	waitUntil(t, "read completion", func() bool {
		return len(lb.Completed()) == 1
	})
	if got := lb.Completed()[0]; got.Value != 0 {
		t.Errorf("doorbell read returned %#x, want 0", got.Value)
	}
	if signaled(bell) {
		t.Error("read signaled the notifier")
	}
}

func TestDoorbellFirstMatchWins(t *testing.T) {
	r, lb := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := notify.NewChannel()
	second := notify.NewChannel()
	if err := dm.ConfigDoorbell(DoorbellConfig{Notifier: first, Addr: 0x100, Len: 4}); err != nil {
		t.Fatalf("ConfigDoorbell: %v", err)
	}
	if err := dm.ConfigDoorbell(DoorbellConfig{Notifier: second, Addr: 0x100, Len: 4}); err != nil {
		t.Fatalf("ConfigDoorbell: %v", err)
	}

	lb.Inject(hyp.Request{DMID: 1, Addr: 0x100, Op: hyp.OpWrite, Value: 1, AccessWidth: 4})
	waitUntil(t, "write completion", func() bool {
		return len(lb.Completed()) == 1
	})
	if !signaled(first) {
		t.Error("first registration not signaled")
	}
	if signaled(second) {
		t.Error("later registration signaled as well")
	}
}
