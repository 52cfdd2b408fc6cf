package models

import "time"

// DroneStatus represents the operational state of a drone.
type DroneStatus string

const (
	DroneStatusOperational DroneStatus = "operational"
	DroneStatusBroken      DroneStatus = "broken"
	DroneStatusInTransit   DroneStatus = "in_transit"
	DroneStatusIdle        DroneStatus = "idle"
	// DroneStatusOffline is a derived view, never stored: a drone whose last
	// heartbeat is older than the offline timeout is reported offline.
	DroneStatusOffline DroneStatus = "offline"
)

// Drone represents a delivery drone.
// CurrentOrderID is a weak back-reference to Order (nullable when unassigned);
// a drone carries at most one active order, enforced by the scheduler.
type Drone struct {
	ID              string      `db:"id" json:"id"`
	Model           string      `db:"model" json:"model"`
	Status          DroneStatus `db:"status" json:"status"`
	CurrentLocation Location    `db:"current" json:"current_location"`
	HomeBase        Location    `db:"home" json:"home_base"`
	BatteryLevel    int         `db:"battery_level" json:"battery_level"`
	// Capabilities is a set of tags used for job matching (e.g. "standard",
	// "heavy", "fragile"). Stored comma-joined.
	Capabilities    []string   `db:"capabilities" json:"capabilities"`
	MaxPayloadKg    float64    `db:"max_payload" json:"max_payload"`
	MaxRangeKm      float64    `db:"max_range" json:"max_range"`
	SpeedKmh        float64    `db:"speed" json:"speed"`
	CurrentOrderID  *string    `db:"current_order_id" json:"current_order_id,omitempty"`
	LastHeartbeat   *time.Time `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	TotalDeliveries int        `db:"total_deliveries" json:"total_deliveries"`
	// TotalFlightTime accumulates hours spent in transit.
	TotalFlightTime   float64    `db:"total_flight_time" json:"total_flight_time"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	LastMaintenanceAt *time.Time `db:"last_maintenance_at" json:"last_maintenance_at,omitempty"`
}

// EffectiveStatus reports the status visible to operators: the stored status,
// unless the drone has not sent a heartbeat within offlineTimeout.
func (d *Drone) EffectiveStatus(now time.Time, offlineTimeout time.Duration) DroneStatus {
	if d.Status == DroneStatusBroken {
		return d.Status
	}
	if d.LastHeartbeat == nil || now.Sub(*d.LastHeartbeat) > offlineTimeout {
		return DroneStatusOffline
	}
	return d.Status
}
