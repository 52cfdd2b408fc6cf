package models

import "time"

// Location is an immutable geographic position. It is embedded (never referenced)
// wherever a position is recorded; in SQLite each embedding becomes a prefixed
// column group (current_, home_, origin_, dest_, pickup_).
type Location struct {
	Latitude  float64    `db:"latitude" json:"latitude"`
	Longitude float64    `db:"longitude" json:"longitude"`
	Altitude  *float64   `db:"altitude" json:"altitude,omitempty"`
	Address   *string    `db:"address" json:"address,omitempty"`
	Timestamp *time.Time `db:"timestamp" json:"timestamp,omitempty"`
}
