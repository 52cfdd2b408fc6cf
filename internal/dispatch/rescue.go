package dispatch

import (
	"context"

	"go.uber.org/zap"

	"droneDispatch/internal/auth"
	"droneDispatch/models"
	"droneDispatch/repository"
)

// RescueService handles broken-drone reports and arranges package recovery.
type RescueService struct {
	drones repository.DroneStore
	orders repository.OrderStore
	jobs   repository.JobStore
	faults repository.BreakageStore
	ledger *OrderService
	log    *zap.Logger
}

func NewRescueService(drones repository.DroneStore, orders repository.OrderStore, jobs repository.JobStore, faults repository.BreakageStore, ledger *OrderService, log *zap.Logger) *RescueService {
	return &RescueService{drones: drones, orders: orders, jobs: jobs, faults: faults, ledger: ledger, log: log}
}

// BreakageReport is a drone's own fault report.
type BreakageReport struct {
	DroneID  string
	Location models.Location
	Issue    string
	Severity models.Severity
}

// ReportBroken grounds a drone. The fault is logged, and if the drone was
// carrying an order the order is parked in AWAITING_RESCUE with a high
// priority rescue job queued at the breakage location. A missing rescue job
// is repaired later by the reconciler, so a partial failure here never
// strands the order permanently.
func (s *RescueService) ReportBroken(ctx context.Context, rep BreakageReport) (*models.BreakageEvent, error) {
	if _, err := auth.RequireDroneSelf(ctx, rep.DroneID); err != nil {
		return nil, err
	}
	if rep.Issue == "" {
		return nil, validationf("issue description is required")
	}
	d, err := s.drones.GetByID(ctx, rep.DroneID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFoundf("drone %s", rep.DroneID)
	}

	if err := s.drones.MarkBroken(ctx, rep.DroneID, rep.Location); err != nil {
		return nil, err
	}

	carrying := d.CurrentOrderID != nil
	ev := &models.BreakageEvent{
		DroneID:          rep.DroneID,
		Location:         rep.Location,
		Issue:            rep.Issue,
		Severity:         rep.Severity,
		WasCarryingOrder: carrying,
		OrderID:          d.CurrentOrderID,
	}
	ev, err = s.faults.Create(ctx, ev)
	if err != nil {
		return nil, err
	}
	s.log.Warn("drone reported broken",
		zap.String("drone_id", rep.DroneID),
		zap.String("issue", rep.Issue),
		zap.String("severity", string(rep.Severity)),
		zap.Bool("was_carrying_order", carrying))

	if !carrying {
		return ev, nil
	}
	if err := s.strandOrder(ctx, *d.CurrentOrderID, rep.DroneID, rep.Location); err != nil {
		// The fault is recorded and the drone grounded; the reconciler
		// re-queues the rescue on its next pass.
		s.log.Error("rescue arrangement failed",
			zap.String("order_id", *d.CurrentOrderID),
			zap.String("drone_id", rep.DroneID),
			zap.Error(err))
	}
	return ev, nil
}

// strandOrder moves the carried order to AWAITING_RESCUE, retires the broken
// drone's job, queues the rescue, and drops the drone's order reference.
func (s *RescueService) strandOrder(ctx context.Context, orderID, droneID string, at models.Location) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return notFoundf("order %s", orderID)
	}
	if err := s.jobs.CancelOpenByOrder(ctx, orderID); err != nil {
		return err
	}
	if err := s.ledger.applyTransition(ctx, o, models.OrderStatusAwaitingRescue, repository.TransitionTimes{}); err != nil {
		return err
	}
	rescue := &models.Job{
		OrderID:        orderID,
		Type:           models.JobTypeRescue,
		Priority:       models.PriorityHigh,
		PickupLocation: at,
		BrokenDroneID:  &droneID,
	}
	if _, err := s.jobs.Create(ctx, rescue); err != nil {
		return err
	}
	if err := s.drones.ClearCurrentOrder(ctx, droneID, models.DroneStatusBroken, false); err != nil {
		return err
	}
	s.log.Info("rescue job queued",
		zap.String("order_id", orderID),
		zap.String("broken_drone_id", droneID))
	return nil
}
