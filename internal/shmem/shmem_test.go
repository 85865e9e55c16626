package shmem

import "testing"

func TestMapAnonymous(t *testing.T) {
	r, err := MapAnonymous(0x1000, 0x2000)
	if err != nil {
		t.Fatalf("MapAnonymous failed: %v", err)
	}

	if r.Base() != 0x1000 {
		t.Fatalf("Base = %#x, want 0x1000", r.Base())
	}
	if r.Size() != 0x2000 {
		t.Fatalf("Size = %#x, want 0x2000", r.Size())
	}

	// The window must be writable and zeroed.
	b := r.Bytes()
	if b[0] != 0 || b[len(b)-1] != 0 {
		t.Fatal("fresh region is not zeroed")
	}
	b[42] = 0xaa
	if r.Bytes()[42] != 0xaa {
		t.Fatal("write did not stick")
	}

	if err := r.Unmap(); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if err := r.Unmap(); err != nil {
		t.Fatalf("second Unmap = %v, want nil", err)
	}
}

func TestMapZeroSize(t *testing.T) {
	if _, err := MapAnonymous(0, 0); err == nil {
		t.Fatal("MapAnonymous(0, 0) succeeded, want error")
	}
}
