package models

import "time"

// Severity grades a reported drone fault.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// BreakageEvent is one entry of the append-only fault log. Created when a drone
// reports broken; resolved when an operator repairs the drone, which closes all
// open events for it.
type BreakageEvent struct {
	ID               string     `db:"id" json:"id"`
	DroneID          string     `db:"drone_id" json:"drone_id"`
	Location         Location   `db:"location" json:"location"`
	Issue            string     `db:"issue" json:"issue"`
	Severity         Severity   `db:"severity" json:"severity"`
	WasCarryingOrder bool       `db:"was_carrying_order" json:"was_carrying_order"`
	OrderID          *string    `db:"order_id" json:"order_id,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes  *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
}
