package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
}

func TestUUIDv7_Uniqueness(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("UUIDv7: duplicate at iteration %d", i)
		}
		seen[id] = struct{}{}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("flow_", Sequence(""))
	if got := gen(); got != "flow_1" {
		t.Fatalf("Prefixed: got %q, want %q", got, "flow_1")
	}
}

func TestSequence_Concurrent(t *testing.T) {
	gen := Sequence("s")
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := gen()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 400 {
		t.Fatalf("Sequence: got %d unique ids, want 400", len(seen))
	}
}

func TestDerive_Stable(t *testing.T) {
	a := Derive("fp_", "page-1", "#login")
	b := Derive("fp_", "page-1", "#login")
	if a != b {
		t.Fatalf("Derive: not stable: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "fp_") || len(a) != len("fp_")+16 {
		t.Fatalf("Derive: unexpected shape %q", a)
	}
	if Derive("fp_", "a", "") == Derive("fp_", "", "a") {
		t.Fatal("Derive: part boundaries must matter")
	}
}
