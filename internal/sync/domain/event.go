package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Operation is the kind of change a SyncEvent records.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// ParseOperation normalizes s and reports whether it is a known operation.
func ParseOperation(s string) (Operation, bool) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return op, true
	}
	return "", false
}

// Event is one recorded change to an entity made on a device. Only the
// conflict resolution fields change after it is recorded.
type Event struct {
	ID                 string
	DeviceID           string
	UserID             string
	EntityType         string
	EntityID           string
	Operation          Operation
	VectorClock        VectorClock
	Payload            json.RawMessage
	ConflictResolved   bool
	ResolutionStrategy Strategy
	RecordedAt         time.Time
}

// EntityKey identifies the entity an event targets.
type EntityKey struct {
	Type string
	ID   string
}

func (k EntityKey) String() string { return k.Type + ":" + k.ID }

// Key returns the entity key of e.
func (e *Event) Key() EntityKey {
	return EntityKey{Type: e.EntityType, ID: e.EntityID}
}
