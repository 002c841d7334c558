package ids

import (
	"crypto/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// conflictNamespace scopes UUIDv5 conflict ids.
var conflictNamespace = uuid.MustParse("8f5d3c1e-6a2b-4c7d-9e0f-1a2b3c4d5e6f")

// New returns a random UUID for users, devices, sessions and memberships.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s is a UUID in the canonical hyphenated form New
// produces. Client-supplied ids are checked with it before they reach a UUID
// column.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// NewEventID returns a lexicographically sortable ULID for t. Ids generated
// within the same millisecond are monotonic.
func NewEventID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ConflictID derives a stable id from a set of event ids, independent of order.
func ConflictID(eventIDs []string) string {
	sorted := append([]string(nil), eventIDs...)
	sort.Strings(sorted)
	return uuid.NewSHA1(conflictNamespace, []byte(strings.Join(sorted, ","))).String()
}
