package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "LAST_WRITE_WINS"
	StrategyManual        Strategy = "MANUAL"
	StrategyMerge         Strategy = "MERGE"
)

// ParseStrategy normalizes s and reports whether it names a known strategy.
func ParseStrategy(s string) (Strategy, bool) {
	st := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StrategyLastWriteWins, StrategyManual, StrategyMerge:
		return st, true
	}
	return "", false
}

type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// Conflict groups the events of one entity that contain at least one
// concurrent pair.
type Conflict struct {
	ID         string
	EntityType string
	EntityID   string
	EventIDs   []string
	Status     ConflictStatus
	Strategy   Strategy
	// WinningEventID is set for LAST_WRITE_WINS and MANUAL resolutions.
	WinningEventID string
	// MergedPayload is set for MERGE resolutions.
	MergedPayload json.RawMessage
	// ExplicitSelection records that the winner was chosen by the caller
	// rather than by the strategy.
	ExplicitSelection bool
	ResolvedBy        string
	CreatedAt         time.Time
	ResolvedAt        *time.Time
}

// IsOpen reports whether c still awaits resolution.
func (c *Conflict) IsOpen() bool {
	return c != nil && c.Status == ConflictOpen
}

// HasEvent reports whether eventID is a member of c.
func (c *Conflict) HasEvent(eventID string) bool {
	for _, id := range c.EventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}
