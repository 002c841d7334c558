package domain

import (
	"sort"
	"time"

	"unified-ai/backend/internal/platform/ids"
)

// DetectConflicts groups events by entity and returns one open conflict for
// every group that contains a concurrent pair. Conflicts are ordered by
// entity key; member ids are sorted so the conflict id is deterministic.
func DetectConflicts(events []*Event, now time.Time) []*Conflict {
	groups := make(map[EntityKey][]*Event)
	var keys []EntityKey
	for _, e := range events {
		if e == nil {
			continue
		}
		k := e.Key()
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ID < keys[j].ID
	})

	var out []*Conflict
	for _, k := range keys {
		group := groups[k]
		if !hasConcurrentPair(group) {
			continue
		}
		eventIDs := uniqueIDs(group)
		out = append(out, &Conflict{
			ID:         ids.ConflictID(eventIDs),
			EntityType: k.Type,
			EntityID:   k.ID,
			EventIDs:   eventIDs,
			Status:     ConflictOpen,
			CreatedAt:  now,
		})
	}
	return out
}

func hasConcurrentPair(group []*Event) bool {
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			if group[i].VectorClock.ConcurrentWith(group[j].VectorClock) {
				return true
			}
		}
	}
	return false
}

func uniqueIDs(group []*Event) []string {
	seen := make(map[string]struct{}, len(group))
	out := make([]string, 0, len(group))
	for _, e := range group {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e.ID)
	}
	sort.Strings(out)
	return out
}

// LatestEvent returns the event with the greatest RecordedAt, breaking ties by
// id. It returns nil for an empty slice.
func LatestEvent(events []*Event) *Event {
	var latest *Event
	for _, e := range events {
		if latest == nil || e.RecordedAt.After(latest.RecordedAt) ||
			(e.RecordedAt.Equal(latest.RecordedAt) && e.ID > latest.ID) {
			latest = e
		}
	}
	return latest
}
