package mqtt

import "time"

// Point is the wire shape of a position report.
type Point struct {
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	Altitude  *float64 `json:"alt,omitempty"`
}

// HeartbeatMessage is a drone's periodic telemetry push.
type HeartbeatMessage struct {
	DroneID   string    `json:"droneId"`
	Location  Point     `json:"location"`
	Battery   int       `json:"battery"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"ts"`
	// Token optionally carries the drone's bearer credential when the
	// broker does not authenticate clients itself.
	Token string `json:"token,omitempty"`
}

// Drone-reported status values on the status topic.
const (
	ReportBroken    = "broken"
	ReportPickedUp  = "picked_up"
	ReportDelivered = "delivered"
	ReportFailed    = "failed"
)

// StatusMessage is a drone's out-of-band state report: a fault, a pickup
// confirmation, or a delivery outcome.
type StatusMessage struct {
	DroneID  string `json:"droneId"`
	Status   string `json:"status"`
	Location Point  `json:"location"`
	Issue    string `json:"issue,omitempty"`
	Severity string `json:"severity,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Token    string `json:"token,omitempty"`
}

// JobInfo summarizes the active job inside a heartbeat acknowledgment.
type JobInfo struct {
	OrderID string    `json:"orderId"`
	DestLat float64   `json:"destLat"`
	DestLon float64   `json:"destLon"`
	ETA     time.Time `json:"eta"`
}

// HeartbeatAck is the engine's answer on the heartbeat ack topic.
type HeartbeatAck struct {
	Status       string    `json:"status"`
	CurrentJob   *JobInfo  `json:"currentJob,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	ServerTime   time.Time `json:"serverTime"`
}

// StatusAck is the engine's answer on the status ack topic.
type StatusAck struct {
	Accepted   bool      `json:"accepted"`
	Error      string    `json:"error,omitempty"`
	ServerTime time.Time `json:"serverTime"`
}

// Command types the engine can push to a drone.
const (
	CommandReturnToBase  = "return_to_base"
	CommandRouteChange   = "route_change"
	CommandEmergencyLand = "emergency_land"
	CommandSpeedLimit    = "speed_limit"
)

// Command is an engine-to-drone instruction, delivered on the command topic
// with a stronger delivery guarantee than telemetry.
type Command struct {
	Type     string            `json:"type"`
	Params   map[string]string `json:"params,omitempty"`
	IssuedAt time.Time         `json:"issuedAt"`
}

// LocationBroadcast is the per-order tracking message for observers.
type LocationBroadcast struct {
	OrderID   string    `json:"orderId"`
	DroneID   string    `json:"droneId"`
	Location  Point     `json:"location"`
	Speed     float64   `json:"speed"`
	ETA       time.Time `json:"eta"`
	Timestamp time.Time `json:"ts"`
}

// ServerStatus is the retained liveness record on the server status topic;
// the broker publishes the offline form as the engine's last will.
type ServerStatus struct {
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"ts"`
}
