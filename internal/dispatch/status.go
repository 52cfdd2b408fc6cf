package dispatch

import "droneDispatch/models"

// DeriveStatus recomputes a drone's stored status from one heartbeat. The rule
// is pure so it can be tested apart from persistence:
//
//	broken sticks until an operator repairs the drone;
//	low battery parks the drone idle (it is told to return to base);
//	a carried order means in transit;
//	otherwise the drone is operational and available.
func DeriveStatus(stored models.DroneStatus, battery int, hasOrder bool, lowBatteryThreshold int) models.DroneStatus {
	if stored == models.DroneStatusBroken {
		return models.DroneStatusBroken
	}
	if battery < lowBatteryThreshold {
		return models.DroneStatusIdle
	}
	if hasOrder {
		return models.DroneStatusInTransit
	}
	return models.DroneStatusOperational
}

// orderTransitions is the ledger's state table. Any transition not listed here
// fails with ErrConflict. Delivered, failed, and cancelled are terminal.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:        {models.OrderStatusAssigned, models.OrderStatusCancelled},
	models.OrderStatusAssigned:       {models.OrderStatusPickedUp, models.OrderStatusAwaitingRescue, models.OrderStatusCancelled},
	models.OrderStatusPickedUp:       {models.OrderStatusInTransit, models.OrderStatusAwaitingRescue, models.OrderStatusFailed},
	models.OrderStatusInTransit:      {models.OrderStatusDelivered, models.OrderStatusFailed, models.OrderStatusAwaitingRescue},
	models.OrderStatusAwaitingRescue: {models.OrderStatusAssigned},
	models.OrderStatusDelivered:      {},
	models.OrderStatusFailed:         {},
	models.OrderStatusCancelled:      {},
}

// CanTransition reports whether from -> to is in the order state table.
func CanTransition(from, to models.OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
