package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{DroneHeartbeatTopic("dr-1"), "drones/dr-1/heartbeat"},
		{DroneStatusTopic("dr-1"), "drones/dr-1/status"},
		{DroneCommandTopic("dr-1"), "drones/dr-1/commands"},
		{OrderLocationTopic("ord-9"), "orders/ord-9/location"},
		{AckTopic("drones/dr-1/heartbeat"), "drones/dr-1/heartbeat/ack"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestExtractDroneID(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"drones/dr-1/heartbeat", "dr-1", true},
		{"drones/dr-1/status", "dr-1", true},
		{"drones/dr-1/heartbeat/ack", "dr-1", true},
		{"orders/ord-9/location", "", false},
		{"drones//heartbeat", "", false},
		{"drones/+/heartbeat", "", false},
		{"drones", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		id, ok := ExtractDroneID(tt.topic)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("ExtractDroneID(%q) = %q, %v; want %q, %v", tt.topic, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestExtractOrderID(t *testing.T) {
	if id, ok := ExtractOrderID("orders/ord-9/location"); !ok || id != "ord-9" {
		t.Errorf("ExtractOrderID = %q, %v; want ord-9, true", id, ok)
	}
	if _, ok := ExtractOrderID("drones/dr-1/heartbeat"); ok {
		t.Errorf("ExtractOrderID accepted a drone topic")
	}
}
