package health

import (
	"testing"
	"time"
)

func TestRingLastKnownOnly(t *testing.T) {
	r := NewRing(1)
	if _, ok := r.Last(); ok {
		t.Fatalf("empty ring should have no last record")
	}
	r.Push(Record{State: StateStarting, Time: time.Now()})
	r.Push(Record{State: StateHealthy, Time: time.Now()})
	last, ok := r.Last()
	if !ok || last.State != StateHealthy {
		t.Fatalf("last = %+v, ok=%v", last, ok)
	}
	if got := r.All(); len(got) != 1 || got[0].State != StateHealthy {
		t.Fatalf("capacity-1 ring retained %+v", got)
	}
}

func TestRingBoundedHistory(t *testing.T) {
	r := NewRing(3)
	for _, s := range []State{StateStarting, StateHealthy, StateDegraded, StateUnhealthy} {
		r.Push(Record{State: s})
	}
	got := r.All()
	if len(got) != 3 {
		t.Fatalf("expected 3 retained records, got %d", len(got))
	}
	// Oldest first, with the very first sample evicted.
	want := []State{StateHealthy, StateDegraded, StateUnhealthy}
	for i, s := range want {
		if got[i].State != s {
			t.Fatalf("record %d = %s, want %s", i, got[i].State, s)
		}
	}
}

func TestStatePredicates(t *testing.T) {
	if !StateStopped.Terminal() || !StateFailed.Terminal() {
		t.Fatalf("stopped/failed must be terminal")
	}
	if StateHealthy.Terminal() || StateStarting.Terminal() {
		t.Fatalf("live states must not be terminal")
	}
	if !StateUnhealthy.Bad() || !StateFailed.Bad() {
		t.Fatalf("unhealthy/failed must be bad")
	}
	if StateStopped.Bad() || StateDegraded.Bad() {
		t.Fatalf("stopped/degraded should not fail a status query")
	}
}
