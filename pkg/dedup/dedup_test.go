package dedup

import "testing"

func TestTryAddRejectsDuplicates(t *testing.T) {
	s := New(10)
	if !s.TryAdd("a") {
		t.Fatal("first TryAdd of a fresh key should succeed")
	}
	if s.TryAdd("a") {
		t.Fatal("second TryAdd of the same key should fail")
	}
}

func TestEvictsOldestOnOverflow(t *testing.T) {
	s := New(2)
	s.TryAdd("a")
	s.TryAdd("b")
	s.TryAdd("c") // evicts "a"

	if s.Contains("a") {
		t.Fatal("oldest entry was not evicted")
	}
	if !s.Contains("b") || !s.Contains("c") {
		t.Fatal("surviving entries should still be present")
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

// After a stream of distinct keys longer than capacity, exactly the
// most recent capacity-many keys remain.
func TestSlidingWindowKeepsNewestEntries(t *testing.T) {
	const capacity = 10
	s := New(capacity)
	keys := []string{"k00", "k01", "k02", "k03", "k04", "k05", "k06", "k07", "k08", "k09", "k10", "k11", "k12"}
	for _, k := range keys {
		if !s.TryAdd(k) {
			t.Fatalf("TryAdd(%q) failed for a fresh key", k)
		}
	}

	if s.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", s.Len(), capacity)
	}
	for _, k := range keys[:len(keys)-capacity] {
		if s.Contains(k) {
			t.Fatalf("%q should have been evicted", k)
		}
	}
	for _, k := range keys[len(keys)-capacity:] {
		if !s.Contains(k) {
			t.Fatalf("%q should still be present", k)
		}
	}
}

func TestDefaultCapacity(t *testing.T) {
	s := New(0)
	if s.capacity != DefaultCapacity {
		t.Fatalf("capacity = %d, want %d", s.capacity, DefaultCapacity)
	}
}
