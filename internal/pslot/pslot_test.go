package pslot

import "testing"

func TestAllocateInRange(t *testing.T) {
	a := NewAllocator(10)
	slot, err := a.Allocate("svc")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if slot < 0 || slot >= 10 {
		t.Errorf("slot %d outside range [0,10)", slot)
	}
}

func TestAllocateIdempotent(t *testing.T) {
	a := NewAllocator(10)
	s1, _ := a.Allocate("svc")
	s2, err := a.Allocate("svc")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if s1 != s2 {
		t.Errorf("idempotent allocate returned different slots: %d vs %d", s1, s2)
	}
}

func TestAllocateDifferentServices(t *testing.T) {
	a := NewAllocator(10)
	s1, _ := a.Allocate("a")
	s2, _ := a.Allocate("b")
	if s1 == s2 {
		t.Errorf("two services got same slot: %d", s1)
	}
}

func TestReserveConflict(t *testing.T) {
	a := NewAllocator(10)
	if err := a.Reserve("a", 3); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := a.Reserve("b", 3); err == nil {
		t.Error("expected error reserving a slot already taken by another service")
	}
}

func TestReleaseAndReuse(t *testing.T) {
	a := NewAllocator(1)
	s1, err := a.Allocate("a")
	if err != nil {
		t.Fatalf("Allocate a: %v", err)
	}
	a.Release("a")

	s2, err := a.Allocate("b")
	if err != nil {
		t.Fatalf("Allocate b after release: %v", err)
	}
	if s1 != s2 {
		t.Errorf("expected reuse of slot %d, got %d", s1, s2)
	}
}

func TestSlotLookupUnknownReturnsNegOne(t *testing.T) {
	a := NewAllocator(10)
	if got := a.Slot("nonexistent"); got != -1 {
		t.Errorf("got %d, want -1", got)
	}
}

func TestExhaustion(t *testing.T) {
	a := NewAllocator(1)
	if _, err := a.Allocate("a"); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	if _, err := a.Allocate("b"); err == nil {
		t.Error("expected error when table is exhausted")
	}
}
