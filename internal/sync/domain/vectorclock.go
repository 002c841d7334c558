package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Ordering is the causal relation between two vector clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// VectorClock maps device ids to logical counters. The zero value is the
// empty clock. A VectorClock never shares its map with callers: constructors
// and mutators copy, so values can be passed around freely.
type VectorClock struct {
	counters map[string]uint64
}

// NewVectorClock returns a clock holding a copy of counters. Zero entries are
// dropped since a missing entry already counts as zero.
func NewVectorClock(counters map[string]uint64) VectorClock {
	m := make(map[string]uint64, len(counters))
	for d, c := range counters {
		if c > 0 {
			m[d] = c
		}
	}
	return VectorClock{counters: m}
}

// Get returns the counter for deviceID, 0 when absent.
func (v VectorClock) Get(deviceID string) uint64 {
	return v.counters[deviceID]
}

// Len returns the number of non-zero entries.
func (v VectorClock) Len() int { return len(v.counters) }

// Counters returns a copy of the underlying map.
func (v VectorClock) Counters() map[string]uint64 {
	m := make(map[string]uint64, len(v.counters))
	for d, c := range v.counters {
		m[d] = c
	}
	return m
}

// Increment returns a new clock with deviceID's counter advanced by one.
func (v VectorClock) Increment(deviceID string) VectorClock {
	m := v.Counters()
	m[deviceID]++
	return VectorClock{counters: m}
}

// Merge returns the element-wise maximum of v and o.
func (v VectorClock) Merge(o VectorClock) VectorClock {
	m := v.Counters()
	for d, c := range o.counters {
		if c > m[d] {
			m[d] = c
		}
	}
	return VectorClock{counters: m}
}

// Compare returns how v relates to o. Missing entries count as zero.
func (v VectorClock) Compare(o VectorClock) Ordering {
	var less, greater bool
	for d, c := range v.counters {
		oc := o.counters[d]
		if c > oc {
			greater = true
		} else if c < oc {
			less = true
		}
	}
	for d, oc := range o.counters {
		if _, ok := v.counters[d]; !ok && oc > 0 {
			less = true
		}
	}
	switch {
	case less && greater:
		return Concurrent
	case greater:
		return After
	case less:
		return Before
	default:
		return Equal
	}
}

// Dominates reports whether every counter in v is >= the one in o and at
// least one is strictly greater.
func (v VectorClock) Dominates(o VectorClock) bool {
	return v.Compare(o) == After
}

// ConcurrentWith reports whether neither clock dominates the other and they
// are not equal.
func (v VectorClock) ConcurrentWith(o VectorClock) bool {
	return v.Compare(o) == Concurrent
}

// String renders the clock with sorted keys, e.g. {d1:2,d2:1}.
func (v VectorClock) String() string {
	keys := make([]string, 0, len(v.counters))
	for d := range v.counters {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, d := range keys {
		parts[i] = fmt.Sprintf("%s:%d", d, v.counters[d])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (v VectorClock) MarshalJSON() ([]byte, error) {
	if v.counters == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v.counters)
}

func (v *VectorClock) UnmarshalJSON(b []byte) error {
	var m map[string]uint64
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("vector clock: %w", err)
	}
	*v = NewVectorClock(m)
	return nil
}
