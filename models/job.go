package models

import "time"

// JobType distinguishes regular deliveries from rescue pickups.
type JobType string

const (
	JobTypeDelivery JobType = "delivery"
	JobTypeRescue   JobType = "rescue"
)

// JobStatus tracks the lifecycle of a job assignment.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusAssigned  JobStatus = "assigned"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Priority orders jobs in the scheduler queue. Rescue jobs are always created
// with PriorityHigh so they preempt normal deliveries.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Job is a unit of work a drone can reserve. Every job belongs to exactly one
// order; at most one job per order may be open (pending or assigned) at a time.
type Job struct {
	ID      string  `db:"id" json:"id"`
	Type    JobType `db:"type" json:"type"`
	OrderID string  `db:"order_id" json:"order_id"`
	// BrokenDroneID references the drone being rescued; set only on rescue jobs.
	BrokenDroneID *string `db:"broken_drone_id" json:"broken_drone_id,omitempty"`
	// PickupLocation is the order origin for deliveries, the breakage site for
	// rescues.
	PickupLocation  Location   `db:"pickup" json:"pickup_location"`
	Priority        Priority   `db:"priority" json:"priority"`
	Status          JobStatus  `db:"status" json:"status"`
	AssignedDroneID *string    `db:"assigned_drone_id" json:"assigned_drone_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
