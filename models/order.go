package models

import "time"

// OrderStatus represents the current progress of an order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusAssigned       OrderStatus = "assigned"
	OrderStatusPickedUp       OrderStatus = "picked_up"
	OrderStatusInTransit      OrderStatus = "in_transit"
	OrderStatusAwaitingRescue OrderStatus = "awaiting_rescue"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// PackageDetails describes the parcel attached to an order.
type PackageDetails struct {
	WeightKg        float64  `db:"weight" json:"weight"`
	LengthCm        float64  `db:"length" json:"length"`
	WidthCm         float64  `db:"width" json:"width"`
	HeightCm        float64  `db:"height" json:"height"`
	Fragile         bool     `db:"fragile" json:"fragile"`
	Description     *string  `db:"description" json:"description,omitempty"`
	SpecialHandling []string `db:"special_handling" json:"special_handling,omitempty"`
}

// Order represents a delivery order.
// AssignedDroneID is a weak back-reference to Drone; the at-most-one-active-order
// invariant is enforced by the scheduler's atomic assignment, not the schema.
type Order struct {
	ID                    string         `db:"id" json:"id"`
	UserID                string         `db:"user_id" json:"user_id"`
	Status                OrderStatus    `db:"status" json:"status"`
	Origin                Location       `db:"origin" json:"origin"`
	Destination           Location       `db:"dest" json:"destination"`
	Package               PackageDetails `db:"package" json:"package_details"`
	AssignedDroneID       *string        `db:"assigned_drone_id" json:"assigned_drone_id,omitempty"`
	Cost                  float64        `db:"cost" json:"cost"`
	EstimatedPickupTime   time.Time      `db:"estimated_pickup_time" json:"estimated_pickup_time"`
	EstimatedDeliveryTime time.Time      `db:"estimated_delivery_time" json:"estimated_delivery_time"`
	ActualPickupTime      *time.Time     `db:"actual_pickup_time" json:"actual_pickup_time,omitempty"`
	ActualDeliveryTime    *time.Time     `db:"actual_delivery_time" json:"actual_delivery_time,omitempty"`
	ScheduledPickupTime   *time.Time     `db:"scheduled_pickup_time" json:"scheduled_pickup_time,omitempty"`
	FailureReason         *string        `db:"failure_reason" json:"failure_reason,omitempty"`
	CancelledAt           *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
}

// OrderModification is one entry of the append-only audit log kept for
// admin-initiated origin/destination changes.
type OrderModification struct {
	ID              string    `db:"id" json:"id"`
	OrderID         string    `db:"order_id" json:"order_id"`
	PrevOrigin      Location  `db:"prev_origin" json:"previous_origin"`
	PrevDestination Location  `db:"prev_dest" json:"previous_destination"`
	NewOrigin       Location  `db:"new_origin" json:"new_origin"`
	NewDestination  Location  `db:"new_dest" json:"new_destination"`
	Reason          string    `db:"reason" json:"reason"`
	Author          string    `db:"author" json:"author"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
