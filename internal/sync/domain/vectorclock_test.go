package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func vc(m map[string]uint64) VectorClock { return NewVectorClock(m) }

func TestVectorClock_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b VectorClock
		want Ordering
	}{
		{"empty", vc(nil), vc(nil), Equal},
		{"missing entries are zero", vc(map[string]uint64{"d1": 1, "d2": 0}), vc(map[string]uint64{"d1": 1}), Equal},
		{"after", vc(map[string]uint64{"d1": 2}), vc(map[string]uint64{"d1": 1}), After},
		{"before via missing key", vc(map[string]uint64{"d1": 1}), vc(map[string]uint64{"d1": 1, "d2": 1}), Before},
		{"concurrent", vc(map[string]uint64{"d1": 1}), vc(map[string]uint64{"d1": 0, "d2": 1}), Concurrent},
		{"concurrent crossed", vc(map[string]uint64{"d1": 2, "d2": 1}), vc(map[string]uint64{"d1": 1, "d2": 2}), Concurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVectorClock_Trichotomy(t *testing.T) {
	clocks := []VectorClock{
		vc(nil),
		vc(map[string]uint64{"a": 1}),
		vc(map[string]uint64{"b": 1}),
		vc(map[string]uint64{"a": 1, "b": 1}),
		vc(map[string]uint64{"a": 2, "b": 1}),
		vc(map[string]uint64{"a": 1, "b": 2, "c": 3}),
	}
	for _, a := range clocks {
		for _, b := range clocks {
			n := 0
			if a.Dominates(b) {
				n++
			}
			if b.Dominates(a) {
				n++
			}
			if a.ConcurrentWith(b) {
				n++
			}
			if a.Compare(b) == Equal {
				n++
			}
			if n != 1 {
				t.Errorf("%v vs %v: %d relations hold", a, b, n)
			}
			if a.ConcurrentWith(b) != b.ConcurrentWith(a) {
				t.Errorf("concurrency not symmetric for %v, %v", a, b)
			}
		}
	}
}

func TestVectorClock_Immutable(t *testing.T) {
	src := map[string]uint64{"d1": 1}
	a := NewVectorClock(src)
	src["d1"] = 9
	if a.Get("d1") != 1 {
		t.Fatal("clock shares caller map")
	}
	b := a.Increment("d1")
	if a.Get("d1") != 1 || b.Get("d1") != 2 {
		t.Fatalf("Increment mutated receiver: a=%v b=%v", a, b)
	}
	c := a.Counters()
	c["d1"] = 5
	if a.Get("d1") != 1 {
		t.Fatal("Counters leaked the internal map")
	}
}

func TestVectorClock_Merge(t *testing.T) {
	a := vc(map[string]uint64{"d1": 3, "d2": 1})
	b := vc(map[string]uint64{"d2": 4, "d3": 1})
	m := a.Merge(b)
	if m.String() != "{d1:3,d2:4,d3:1}" {
		t.Errorf("Merge = %v", m)
	}
	if !m.Dominates(a) || !m.Dominates(b) {
		t.Error("merge should dominate both inputs")
	}
}

func TestVectorClock_JSON(t *testing.T) {
	var v VectorClock
	if err := json.Unmarshal([]byte(`{"d1":2,"d2":0}`), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v.Len() != 1 || v.Get("d1") != 2 {
		t.Errorf("clock = %v", v)
	}
	if err := json.Unmarshal([]byte(`{"d1":-1}`), &v); err == nil {
		t.Error("negative counter accepted")
	}
	b, err := json.Marshal(VectorClock{})
	if err != nil || string(b) != "{}" {
		t.Errorf("Marshal zero = %s, %v", b, err)
	}
}

func TestDetectConflicts_TwoDevices(t *testing.T) {
	now := time.Now()
	e1 := &Event{ID: "e1", DeviceID: "D1", EntityType: "THREAD", EntityID: "x", VectorClock: vc(map[string]uint64{"D1": 1}), RecordedAt: now}
	e2 := &Event{ID: "e2", DeviceID: "D2", EntityType: "THREAD", EntityID: "x", VectorClock: vc(map[string]uint64{"D1": 0, "D2": 1}), RecordedAt: now.Add(time.Second)}
	e3 := &Event{ID: "e3", DeviceID: "D1", EntityType: "THREAD", EntityID: "y", VectorClock: vc(map[string]uint64{"D1": 1}), RecordedAt: now}

	got := DetectConflicts([]*Event{e2, e3, e1}, now)
	if len(got) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(got))
	}
	c := got[0]
	if c.EntityID != "x" || len(c.EventIDs) != 2 || c.EventIDs[0] != "e1" || c.EventIDs[1] != "e2" {
		t.Errorf("conflict = %+v", c)
	}
	again := DetectConflicts([]*Event{e1, e2}, now)
	if again[0].ID != c.ID {
		t.Error("conflict id is not deterministic")
	}
}

func TestDetectConflicts_CausalChainIsNotAConflict(t *testing.T) {
	e1 := &Event{ID: "e1", EntityType: "DOC", EntityID: "x", VectorClock: vc(map[string]uint64{"D1": 1})}
	e2 := &Event{ID: "e2", EntityType: "DOC", EntityID: "x", VectorClock: vc(map[string]uint64{"D1": 1, "D2": 1})}
	if got := DetectConflicts([]*Event{e1, e2}, time.Now()); len(got) != 0 {
		t.Fatalf("conflicts = %+v", got)
	}
}

func TestLatestEvent(t *testing.T) {
	now := time.Now()
	a := &Event{ID: "a", RecordedAt: now}
	b := &Event{ID: "b", RecordedAt: now}
	c := &Event{ID: "c", RecordedAt: now.Add(-time.Second)}
	if got := LatestEvent([]*Event{a, c, b}); got != b {
		t.Errorf("LatestEvent = %v", got.ID)
	}
	if LatestEvent(nil) != nil {
		t.Error("empty slice should return nil")
	}
}
