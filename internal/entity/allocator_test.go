package entity

import "testing"

func TestAllocateFreeGenerationBump(t *testing.T) {
	a := NewAllocator()

	h1, err := a.Allocate(0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.IsAlive(h1) {
		t.Fatal("freshly allocated handle should be alive")
	}

	if err := a.Free(h1); err != nil {
		t.Fatalf("unexpected error freeing: %v", err)
	}
	if a.IsAlive(h1) {
		t.Error("freed handle should not be alive")
	}

	h2, err := a.Allocate(0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h2.RawID() != h1.RawID() {
		t.Fatalf("expected raw id reuse via free list, got %d vs %d", h2.RawID(), h1.RawID())
	}
	if h2.Generation() == h1.Generation() {
		t.Error("generation must bump on reuse")
	}
	if h1 == h2 {
		t.Error("h1 and h2 must compare unequal")
	}
}

func TestFreeStaleHandleFails(t *testing.T) {
	a := NewAllocator()
	h, _ := a.Allocate(0, 0)
	a.Free(h)

	if err := a.Free(h); err != ErrStale {
		t.Errorf("double free: got err=%v, want ErrStale", err)
	}
}

func TestLocationOfStaleHandle(t *testing.T) {
	a := NewAllocator()
	h1, _ := a.Allocate(0, 5)
	a.Free(h1)
	a.Allocate(0, 9) // reuse the slot with a bumped generation

	if _, err := a.LocationOf(h1); err != ErrStale {
		t.Errorf("LocationOf(stale) = %v, want ErrStale", err)
	}
}

func TestSetLocation(t *testing.T) {
	a := NewAllocator()
	h, _ := a.Allocate(0, 3)

	if err := a.SetLocation(h, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row, err := a.LocationOf(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row != 7 {
		t.Errorf("LocationOf = %d, want 7", row)
	}
}

func TestUnknownKind(t *testing.T) {
	a := NewAllocator()
	h := pack(0, 0, 0, 3)
	if a.IsAlive(h) {
		t.Error("handle for never-allocated kind should not be alive")
	}
	if _, err := a.LocationOf(h); err != ErrUnknownKind {
		t.Errorf("LocationOf unknown kind = %v, want ErrUnknownKind", err)
	}
}

func TestHandlePacking(t *testing.T) {
	h := pack(0x1, 0x2345, 0xabcdef, 0x9876)
	if h.Flags() != 0x1 {
		t.Errorf("Flags() = %x, want 1", h.Flags())
	}
	if h.Generation() != 0x2345 {
		t.Errorf("Generation() = %x, want 2345", h.Generation())
	}
	if h.RawID() != 0xabcdef {
		t.Errorf("RawID() = %x, want abcdef", h.RawID())
	}
	if h.Kind() != 0x9876 {
		t.Errorf("Kind() = %x, want 9876", h.Kind())
	}
}

func TestInvalidHandleIsZero(t *testing.T) {
	if Invalid.IsValid() {
		t.Error("Invalid must not be valid")
	}
	if pack(0, 0, 0, 0) != Invalid {
		t.Error("all-zero packed handle should equal Invalid")
	}
}
