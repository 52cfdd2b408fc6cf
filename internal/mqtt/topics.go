// Package mqtt bridges the dispatch engine onto an MQTT broker: drones push
// heartbeats and status reports, the engine answers with acknowledgments and
// commands, and observers follow per-order location broadcasts.
package mqtt

import "strings"

// Topic layout. Drone and order ids live in the topic path; wildcard
// subscriptions cover the whole fleet.
const (
	ServerStatusTopic = "system/server/status"

	heartbeatWildcard = "drones/+/heartbeat"
	statusWildcard    = "drones/+/status"
)

func DroneHeartbeatTopic(droneID string) string {
	return "drones/" + droneID + "/heartbeat"
}

func DroneStatusTopic(droneID string) string {
	return "drones/" + droneID + "/status"
}

func DroneCommandTopic(droneID string) string {
	return "drones/" + droneID + "/commands"
}

func OrderLocationTopic(orderID string) string {
	return "orders/" + orderID + "/location"
}

// AckTopic names the reply topic for a request received on topic.
func AckTopic(topic string) string {
	return topic + "/ack"
}

// ExtractDroneID pulls the drone id out of a drones/{id}/... topic.
func ExtractDroneID(topic string) (string, bool) {
	return extractID(topic, "drones")
}

// ExtractOrderID pulls the order id out of an orders/{id}/... topic.
func ExtractOrderID(topic string) (string, bool) {
	return extractID(topic, "orders")
}

func extractID(topic, prefix string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != prefix || parts[1] == "" || parts[1] == "+" {
		return "", false
	}
	return parts[1], true
}
