//go:build ignore

// This file demonstrates every public API in the remio package.
// It is excluded from the build and serves as a reference and compile-time check.

package main

import (
	"errors"
	"fmt"
	"os"

	remio "github.com/baovirt/remio"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// =========================================================================
	// New - registry construction over a transport
	// =========================================================================
	lb := remio.NewLoopback()
	r, err := remio.New(remio.Options{
		Transport: lb,
		Trigger:   remio.TriggerInterrupt,
		MapShmem:  remio.MapAnonymous, // omit to map physical memory
	})
	if err != nil {
		return fmt.Errorf("new registry: %w", err)
	}
	defer r.Close()

	// Hook interrupt deliveries to the dispatcher trigger.
	lb.SetArrivalFunc(func(id uint32) { _ = r.Kick(id) })

	// =========================================================================
	// Create / Get / Info / IDs - device model lifecycle
	// =========================================================================
	dm, err := r.Create(remio.Info{
		ID:        0,
		ShmemAddr: 0x8000_0000,
		ShmemSize: 0x10000,
		IRQ:       44,
	})
	if err != nil {
		return fmt.Errorf("create dm: %w", err)
	}

	dm, err = r.Get(0)
	if err != nil {
		return fmt.Errorf("get dm: %w", err)
	}

	info, err := r.Info(0) // snapshot with a freshly minted handle
	if err != nil {
		return fmt.Errorf("dm info: %w", err)
	}
	_ = info.Handle
	_ = r.IDs()

	// Shared memory mapped for the DM.
	region := dm.Shmem()
	_ = region.Bytes()
	_ = region.Base()
	_ = region.Size()

	// =========================================================================
	// ConfigDoorbell - guest writes converted into notifications
	// =========================================================================
	bell := remio.NewChannel()
	err = dm.ConfigDoorbell(remio.DoorbellConfig{
		Notifier:  bell,
		Addr:      0x100,
		Len:       4,
		Data:      1,
		DataMatch: true, // false = wildcard, any written value signals
	})
	if err != nil {
		return fmt.Errorf("config doorbell: %w", err)
	}

	// =========================================================================
	// ConfigIRQ - backend signals converted into interrupt injections
	// =========================================================================
	irq := remio.NewChannel()
	if err := dm.ConfigIRQ(remio.IRQConfig{Handle: irq}); err != nil {
		return fmt.Errorf("config irq: %w", err)
	}
	_ = irq.Signal() // injects a virtual interrupt for the DM

	// =========================================================================
	// Attach / NextRequest - the external consumer loop
	// =========================================================================
	lb.Inject(remio.Request{DMID: 0, Addr: 0x200, Op: remio.OpWrite, Value: 7, AccessWidth: 4})

	c := dm.ControlClient()
	if err := c.Attach(); err != nil {
		if errors.Is(err, remio.ErrDetached) {
			return nil // DM torn down while waiting
		}
		return fmt.Errorf("attach: %w", err)
	}
	for {
		req, ok := c.NextRequest()
		if !ok {
			break
		}
		switch req.Op {
		case remio.OpRead:
			req.Value = 0 // fill in the value read
		case remio.OpWrite:
			_ = req.Value
		}
	}

	// =========================================================================
	// Kick / KickAll - manual dispatch triggers
	// =========================================================================
	dm.Kick()
	_ = r.Kick(0)
	r.KickAll()

	// =========================================================================
	// Deassign and Destroy
	// =========================================================================
	if err := dm.ConfigDoorbell(remio.DoorbellConfig{Notifier: bell, Deassign: true}); err != nil {
		return fmt.Errorf("deassign doorbell: %w", err)
	}
	if err := dm.ConfigIRQ(remio.IRQConfig{Handle: irq, Deassign: true}); err != nil {
		return fmt.Errorf("deassign irq: %w", err)
	}
	if err := r.Destroy(0); err != nil {
		return fmt.Errorf("destroy dm: %w", err)
	}
	return nil
}
