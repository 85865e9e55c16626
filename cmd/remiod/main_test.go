package main

import (
	"testing"
	"time"

	remio "github.com/baovirt/remio"
)

func TestServeCompletesControlRequests(t *testing.T) {
	lb := remio.NewLoopback()
	r, err := remio.New(remio.Options{
		Transport: lb,
		Trigger:   remio.TriggerInterrupt,
		MapShmem:  remio.MapAnonymous,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()
	lb.SetArrivalFunc(func(id uint32) { _ = r.Kick(id) })

	dm, err := r.Create(remio.Info{ID: 1, ShmemAddr: 0x8000_0000, ShmemSize: 0x1000, IRQ: 44})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	served := make(chan error, 1)
	go func() {
		served <- serve(dm, lb)
	}()

	lb.Inject(remio.Request{DMID: 1, Addr: 0x200, Op: remio.OpWrite, Value: 3, AccessWidth: 4, RequestID: 5})
	lb.Inject(remio.Request{DMID: 1, Addr: 0x208, Op: remio.OpRead, Value: 0xFF, AccessWidth: 4, RequestID: 6})

	deadline := time.Now().Add(2 * time.Second)
	for len(lb.Completed()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("control requests not completed: %d", len(lb.Completed()))
		}
		time.Sleep(time.Millisecond)
	}

	byID := make(map[uint64]remio.Request)
	for _, req := range lb.Completed() {
		byID[req.RequestID] = req
	}
	if req, ok := byID[5]; !ok || req.Value != 3 {
		t.Errorf("write completion: %+v, %v", req, ok)
	}
	if req, ok := byID[6]; !ok || req.Value != 0 {
		t.Errorf("read completion carries %#x, want 0", req.Value)
	}

	// Tearing the DM down ends the consumer cleanly.
	if err := r.Destroy(1); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after Destroy")
	}
}
