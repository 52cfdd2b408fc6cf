package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"droneDispatch/internal/auth"
	"droneDispatch/internal/config"
	"droneDispatch/internal/geo"
	"droneDispatch/models"
	"droneDispatch/repository"
)

// TelemetryService ingests heartbeats and confirms geofenced pickup and
// delivery actions.
type TelemetryService struct {
	drones repository.DroneStore
	orders repository.OrderStore
	jobs   repository.JobStore
	ledger *OrderService
	cfg    config.ServiceConfig
	log    *zap.Logger
}

func NewTelemetryService(drones repository.DroneStore, orders repository.OrderStore, jobs repository.JobStore, ledger *OrderService, cfg config.ServiceConfig, log *zap.Logger) *TelemetryService {
	return &TelemetryService{drones: drones, orders: orders, jobs: jobs, ledger: ledger, cfg: cfg, log: log}
}

// JobSnapshot is the active-job summary returned to a drone in a heartbeat
// acknowledgment.
type JobSnapshot struct {
	OrderID     string
	Destination models.Location
	ETA         time.Time
}

// HeartbeatResult is the engine's answer to one heartbeat.
type HeartbeatResult struct {
	Status       models.DroneStatus
	CurrentJob   *JobSnapshot
	Instructions string
	ServerTime   time.Time
}

// Heartbeat records one telemetry message. Location, battery, and speed are
// latest-value fields, so replayed messages are harmless. Flight time accrues
// from the gap between consecutive telemetry timestamps while the drone is
// in transit.
func (s *TelemetryService) Heartbeat(ctx context.Context, droneID string, loc models.Location, battery int, speed float64, at time.Time) (*HeartbeatResult, error) {
	if _, err := auth.RequireDroneSelf(ctx, droneID); err != nil {
		return nil, err
	}
	d, err := s.drones.GetByID(ctx, droneID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFoundf("drone %s", droneID)
	}

	var flightHours float64
	if d.Status == models.DroneStatusInTransit && d.LastHeartbeat != nil {
		if gap := at.Sub(*d.LastHeartbeat); gap > 0 {
			flightHours = gap.Hours()
		}
	}
	status := DeriveStatus(d.Status, battery, d.CurrentOrderID != nil, s.cfg.LowBatteryThreshold)
	if err := s.drones.UpdateTelemetry(ctx, droneID, loc, battery, speed, status, at, flightHours); err != nil {
		return nil, err
	}

	res := &HeartbeatResult{Status: status, ServerTime: time.Now().UTC()}
	if battery < s.cfg.LowBatteryThreshold {
		res.Instructions = "Battery low. Return to base after delivery."
	}

	if d.CurrentOrderID != nil {
		o, err := s.orders.GetByID(ctx, *d.CurrentOrderID)
		if err != nil {
			return nil, err
		}
		if o != nil {
			// First heartbeat after pickup puts the order in flight.
			if o.Status == models.OrderStatusPickedUp {
				if err := s.ledger.applyTransition(ctx, o, models.OrderStatusInTransit, repository.TransitionTimes{}); err != nil {
					s.log.Warn("in-transit promotion failed",
						zap.String("order_id", o.ID), zap.Error(err))
				}
			}
			distKm := geo.DistanceKm(loc.Latitude, loc.Longitude, o.Destination.Latitude, o.Destination.Longitude)
			eta := geo.ETA(time.Now().UTC(), distKm, effectiveSpeed(speed, s.cfg.AverageSpeedKmh))
			if err := s.orders.UpdateEstimatedDelivery(ctx, o.ID, eta); err != nil {
				s.log.Warn("eta update failed", zap.String("order_id", o.ID), zap.Error(err))
			}
			res.CurrentJob = &JobSnapshot{OrderID: o.ID, Destination: o.Destination, ETA: eta}
		}
	}
	return res, nil
}

// GrabOrder confirms a pickup. The drone must report a position within the
// tolerance radius of its job's pickup location; the order then moves to
// PICKED_UP and the actual pickup time is stamped.
func (s *TelemetryService) GrabOrder(ctx context.Context, droneID string, loc models.Location) (*models.Order, error) {
	if _, err := auth.RequireDroneSelf(ctx, droneID); err != nil {
		return nil, err
	}
	d, err := s.drones.GetByID(ctx, droneID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFoundf("drone %s", droneID)
	}
	if d.CurrentOrderID == nil {
		return nil, conflictf("drone %s has no order to pick up", droneID)
	}
	j, err := s.jobs.GetAssignedToDrone(ctx, droneID)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, conflictf("drone %s has no assigned job", droneID)
	}
	if !geo.WithinRadius(loc.Latitude, loc.Longitude, j.PickupLocation.Latitude, j.PickupLocation.Longitude, s.cfg.LocationToleranceMeters) {
		return nil, validationf("drone %s is not at the pickup point", droneID)
	}

	o, err := s.orders.GetByID(ctx, j.OrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, notFoundf("order %s", j.OrderID)
	}
	now := time.Now().UTC()
	if err := s.ledger.applyTransition(ctx, o, models.OrderStatusPickedUp, repository.TransitionTimes{ActualPickupTime: &now}); err != nil {
		return nil, err
	}
	s.log.Info("package picked up",
		zap.String("order_id", o.ID),
		zap.String("drone_id", droneID),
		zap.String("job_type", string(j.Type)))
	return o, nil
}

// CompleteDelivery confirms arrival. The drone must report a position within
// the tolerance radius of the order's destination; the order is then marked
// DELIVERED, the job completed, and the drone released.
func (s *TelemetryService) CompleteDelivery(ctx context.Context, droneID string, loc models.Location) (*models.Order, error) {
	if _, err := auth.RequireDroneSelf(ctx, droneID); err != nil {
		return nil, err
	}
	d, j, o, err := s.activeAssignment(ctx, droneID)
	if err != nil {
		return nil, err
	}
	if !geo.WithinRadius(loc.Latitude, loc.Longitude, o.Destination.Latitude, o.Destination.Longitude, s.cfg.LocationToleranceMeters) {
		return nil, validationf("drone %s is not at the destination", droneID)
	}

	now := time.Now().UTC()
	if o.Status == models.OrderStatusPickedUp {
		if err := s.ledger.applyTransition(ctx, o, models.OrderStatusInTransit, repository.TransitionTimes{}); err != nil {
			return nil, err
		}
	}
	if err := s.ledger.applyTransition(ctx, o, models.OrderStatusDelivered, repository.TransitionTimes{ActualDeliveryTime: &now}); err != nil {
		return nil, err
	}
	if err := s.jobs.Complete(ctx, j.ID, now); err != nil {
		return nil, err
	}
	if err := s.drones.ClearCurrentOrder(ctx, d.ID, models.DroneStatusIdle, true); err != nil {
		return nil, err
	}
	s.log.Info("delivery completed",
		zap.String("order_id", o.ID),
		zap.String("drone_id", droneID))
	return o, nil
}

// FailDelivery abandons an in-progress delivery with a reason. The order is
// terminal after this; the drone goes back to the idle pool.
func (s *TelemetryService) FailDelivery(ctx context.Context, droneID, reason string) (*models.Order, error) {
	if _, err := auth.RequireDroneSelf(ctx, droneID); err != nil {
		return nil, err
	}
	d, j, o, err := s.activeAssignment(ctx, droneID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.applyTransition(ctx, o, models.OrderStatusFailed, repository.TransitionTimes{FailureReason: &reason}); err != nil {
		return nil, err
	}
	if err := s.jobs.Complete(ctx, j.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.drones.ClearCurrentOrder(ctx, d.ID, models.DroneStatusIdle, false); err != nil {
		return nil, err
	}
	s.log.Warn("delivery failed",
		zap.String("order_id", o.ID),
		zap.String("drone_id", droneID),
		zap.String("reason", reason))
	return o, nil
}

// activeAssignment resolves the drone, its assigned job, and the bound order,
// failing when any link in the chain is missing.
func (s *TelemetryService) activeAssignment(ctx context.Context, droneID string) (*models.Drone, *models.Job, *models.Order, error) {
	d, err := s.drones.GetByID(ctx, droneID)
	if err != nil {
		return nil, nil, nil, err
	}
	if d == nil {
		return nil, nil, nil, notFoundf("drone %s", droneID)
	}
	if d.CurrentOrderID == nil {
		return nil, nil, nil, conflictf("drone %s is not carrying an order", droneID)
	}
	j, err := s.jobs.GetAssignedToDrone(ctx, droneID)
	if err != nil {
		return nil, nil, nil, err
	}
	if j == nil {
		return nil, nil, nil, conflictf("drone %s has no assigned job", droneID)
	}
	o, err := s.orders.GetByID(ctx, j.OrderID)
	if err != nil {
		return nil, nil, nil, err
	}
	if o == nil {
		return nil, nil, nil, notFoundf("order %s", j.OrderID)
	}
	return d, j, o, nil
}
