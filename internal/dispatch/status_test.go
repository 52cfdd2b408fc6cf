package dispatch

import (
	"testing"

	"droneDispatch/models"
)

func TestDeriveStatus(t *testing.T) {
	const threshold = 20
	tests := []struct {
		name     string
		stored   models.DroneStatus
		battery  int
		hasOrder bool
		want     models.DroneStatus
	}{
		{"broken sticks", models.DroneStatusBroken, 90, true, models.DroneStatusBroken},
		{"broken sticks even on low battery", models.DroneStatusBroken, 5, false, models.DroneStatusBroken},
		{"low battery grounds the drone", models.DroneStatusInTransit, 10, true, models.DroneStatusIdle},
		{"battery at threshold is not low", models.DroneStatusIdle, 20, false, models.DroneStatusOperational},
		{"carrying an order means in transit", models.DroneStatusOperational, 80, true, models.DroneStatusInTransit},
		{"free and charged means operational", models.DroneStatusIdle, 80, false, models.DroneStatusOperational},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.stored, tt.battery, tt.hasOrder, threshold)
			if got != tt.want {
				t.Errorf("DeriveStatus(%s, %d, %v) = %s, want %s", tt.stored, tt.battery, tt.hasOrder, got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to models.OrderStatus }{
		{models.OrderStatusPending, models.OrderStatusAssigned},
		{models.OrderStatusPending, models.OrderStatusCancelled},
		{models.OrderStatusAssigned, models.OrderStatusPickedUp},
		{models.OrderStatusAssigned, models.OrderStatusAwaitingRescue},
		{models.OrderStatusAssigned, models.OrderStatusCancelled},
		{models.OrderStatusPickedUp, models.OrderStatusInTransit},
		{models.OrderStatusPickedUp, models.OrderStatusAwaitingRescue},
		{models.OrderStatusInTransit, models.OrderStatusDelivered},
		{models.OrderStatusInTransit, models.OrderStatusFailed},
		{models.OrderStatusInTransit, models.OrderStatusAwaitingRescue},
		{models.OrderStatusAwaitingRescue, models.OrderStatusAssigned},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to models.OrderStatus }{
		{models.OrderStatusPending, models.OrderStatusDelivered},
		{models.OrderStatusPickedUp, models.OrderStatusCancelled},
		{models.OrderStatusInTransit, models.OrderStatusCancelled},
		{models.OrderStatusDelivered, models.OrderStatusPending},
		{models.OrderStatusCancelled, models.OrderStatusAssigned},
		{models.OrderStatusFailed, models.OrderStatusInTransit},
	}
	for _, tr := range denied {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tr.from, tr.to)
		}
	}
}
