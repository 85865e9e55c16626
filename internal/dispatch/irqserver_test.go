package dispatch

import (
	"errors"
	"testing"

	"github.com/baovirt/remio/internal/notify"
)

func TestConfigIRQValidation(t *testing.T) {
	r, _ := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := dm.ConfigIRQ(IRQConfig{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil handle: got %v, want ErrInvalidConfig", err)
	}
	err = dm.ConfigIRQ(IRQConfig{Handle: notify.NewChannel(), Deassign: true})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("deassign unknown: got %v, want ErrNotFound", err)
	}
}

func TestIRQSignalInjects(t *testing.T) {
	r, lb := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := notify.NewChannel()
	if err := dm.ConfigIRQ(IRQConfig{Handle: w}); err != nil {
		t.Fatalf("ConfigIRQ: %v", err)
	}

	if err := w.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	waitUntil(t, "interrupt injection", func() bool {
		return lb.Notified(1) >= 1
	})
}

func TestIRQSignalBeforeRegister(t *testing.T) {
	r, lb := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A handle signaled before registration carries its pending edge in; the
	// watcher must deliver it without a fresh signal.
	w := notify.NewChannel()
	if err := w.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if err := dm.ConfigIRQ(IRQConfig{Handle: w}); err != nil {
		t.Fatalf("ConfigIRQ: %v", err)
	}
	waitUntil(t, "deferred injection", func() bool {
		return lb.Notified(1) >= 1
	})
}

func TestIRQDuplicateHandle(t *testing.T) {
	r, _ := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := notify.NewChannel()
	if err := dm.ConfigIRQ(IRQConfig{Handle: w}); err != nil {
		t.Fatalf("ConfigIRQ: %v", err)
	}
	if err := dm.ConfigIRQ(IRQConfig{Handle: w}); !errors.Is(err, ErrBusy) {
		t.Errorf("duplicate handle: got %v, want ErrBusy", err)
	}
}

func TestIRQDeassign(t *testing.T) {
	r, lb := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := notify.NewChannel()
	if err := dm.ConfigIRQ(IRQConfig{Handle: w}); err != nil {
		t.Fatalf("ConfigIRQ: %v", err)
	}
	if err := dm.ConfigIRQ(IRQConfig{Handle: w, Deassign: true}); err != nil {
		t.Fatalf("Deassign: %v", err)
	}
	err = dm.ConfigIRQ(IRQConfig{Handle: w, Deassign: true})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("second Deassign: got %v, want ErrNotFound", err)
	}

	// The handle was released on deassign.
	if err := w.Signal(); !errors.Is(err, notify.ErrClosed) {
		t.Errorf("Signal after Deassign: got %v, want ErrClosed", err)
	}
	if lb.Notified(1) != 0 {
		t.Errorf("injections after Deassign: %d", lb.Notified(1))
	}
}

func TestIRQHangupTearsDown(t *testing.T) {
	r, _ := newTestRegistry(t, TriggerInterrupt)
	dm, err := r.Create(testInfo(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := notify.NewChannel()
	if err := dm.ConfigIRQ(IRQConfig{Handle: w}); err != nil {
		t.Fatalf("ConfigIRQ: %v", err)
	}

	// Peer-side release: the registration must disappear on its own, so a
	// later registration of the same handle stops being a duplicate.
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitUntil(t, "hangup teardown", func() bool {
		err := dm.ConfigIRQ(IRQConfig{Handle: w})
		if err == nil {
			return true
		}
		if !errors.Is(err, ErrBusy) {
			t.Fatalf("re-register: %v", err)
		}
		return false
	})
}
