package dispatch

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"droneDispatch/internal/auth"
	"droneDispatch/internal/config"
	"droneDispatch/internal/geo"
	"droneDispatch/models"
	"droneDispatch/repository"
)

const (
	baseCostPerKm     = 2.5
	baseCostPerKg     = 5.0
	pickupLeadMinutes = 30
)

// OrderService owns order records, their state machine, and the modification
// audit log.
type OrderService struct {
	orders repository.OrderStore
	jobs   repository.JobStore
	drones repository.DroneStore
	cfg    config.ServiceConfig
	log    *zap.Logger
}

func NewOrderService(orders repository.OrderStore, jobs repository.JobStore, drones repository.DroneStore, cfg config.ServiceConfig, log *zap.Logger) *OrderService {
	return &OrderService{orders: orders, jobs: jobs, drones: drones, cfg: cfg, log: log}
}

// CreateOrderRequest is the input for placing a new order.
type CreateOrderRequest struct {
	Origin              models.Location
	Destination         models.Location
	Package             models.PackageDetails
	ScheduledPickupTime *time.Time
}

// Create places a new order for the calling user: validates the route and
// package, prices the delivery, and estimates pickup and delivery times.
// The scheduler picks the order up through the reconciler.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	p, err := auth.RequireEndUserOrAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateLocation(req.Origin); err != nil {
		return nil, err
	}
	if err := validateLocation(req.Destination); err != nil {
		return nil, err
	}
	if req.Package.WeightKg <= 0 {
		return nil, validationf("package weight must be positive")
	}

	distKm := geo.DistanceKm(req.Origin.Latitude, req.Origin.Longitude, req.Destination.Latitude, req.Destination.Longitude)
	if distKm > s.cfg.ServiceAreaRadiusKm {
		return nil, validationf("route of %.1f km exceeds the %.0f km service area", distKm, s.cfg.ServiceAreaRadiusKm)
	}

	now := time.Now().UTC()
	o := &models.Order{
		UserID:                p.Name,
		Status:                models.OrderStatusPending,
		Origin:                req.Origin,
		Destination:           req.Destination,
		Package:               req.Package,
		Cost:                  roundCents(distKm*baseCostPerKm + req.Package.WeightKg*baseCostPerKg),
		EstimatedPickupTime:   now.Add(pickupLeadMinutes * time.Minute),
		EstimatedDeliveryTime: geo.ETA(now, distKm, s.cfg.AverageSpeedKmh),
		ScheduledPickupTime:   req.ScheduledPickupTime,
	}
	created, err := s.orders.Create(ctx, o)
	if err != nil {
		return nil, err
	}
	s.log.Info("order created",
		zap.String("order_id", created.ID),
		zap.String("user_id", created.UserID),
		zap.Float64("cost", created.Cost))
	return created, nil
}

// Get returns an order. End users only see their own orders; a foreign order
// reads as not found rather than leaking its existence.
func (s *OrderService) Get(ctx context.Context, id string) (*models.Order, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil || (p.Kind == auth.KindEndUser && o.UserID != p.Name) {
		return nil, notFoundf("order %s", id)
	}
	return o, nil
}

// ListForUser returns a page of the calling user's orders, newest first.
func (s *OrderService) ListForUser(ctx context.Context, pageSize int, after time.Time, afterID string) ([]models.Order, error) {
	p, err := auth.RequireEndUserOrAdmin(ctx)
	if err != nil {
		return nil, err
	}
	return s.orders.ListByUserPage(ctx, p.Name, pageSize, after, afterID)
}

// CancelResult reports the outcome of a cancellation.
type CancelResult struct {
	OrderID      string
	Status       models.OrderStatus
	RefundAmount float64
	CancelledAt  time.Time
}

// Cancel cancels an order. Permitted only from pending (100% refund) or
// assigned (50%); anything later is a conflict. Cancelling an assigned order
// also retires its open job and releases the carrying drone.
func (s *OrderService) Cancel(ctx context.Context, id string) (*CancelResult, error) {
	p, err := auth.RequireEndUserOrAdmin(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil || (p.Kind == auth.KindEndUser && o.UserID != p.Name) {
		return nil, notFoundf("order %s", id)
	}

	var refund float64
	switch o.Status {
	case models.OrderStatusPending:
		refund = o.Cost
	case models.OrderStatusAssigned:
		refund = roundCents(o.Cost * 0.5)
	default:
		return nil, conflictf("order %s cannot be cancelled from %s", id, o.Status)
	}

	now := time.Now().UTC()
	ok, err := s.orders.Transition(ctx, id, o.Status, models.OrderStatusCancelled, repository.TransitionTimes{CancelledAt: &now})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Raced with an assignment or another cancel.
		return nil, conflictf("order %s changed state during cancellation", id)
	}
	if err := s.jobs.CancelOpenByOrder(ctx, id); err != nil {
		return nil, err
	}
	if o.AssignedDroneID != nil {
		if err := s.drones.ClearCurrentOrder(ctx, *o.AssignedDroneID, models.DroneStatusOperational, false); err != nil {
			return nil, err
		}
	}
	s.log.Info("order cancelled",
		zap.String("order_id", id),
		zap.Float64("refund", refund))
	return &CancelResult{OrderID: id, Status: models.OrderStatusCancelled, RefundAmount: refund, CancelledAt: now}, nil
}

// Modify changes an order's origin and destination in any non-terminal state,
// appending an audit entry. When the package is already moving the delivery
// estimate is recomputed from the carrier's current position.
func (s *OrderService) Modify(ctx context.Context, id string, newOrigin, newDest models.Location, reason string) (*models.Order, error) {
	p, err := auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateLocation(newOrigin); err != nil {
		return nil, err
	}
	if err := validateLocation(newDest); err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, notFoundf("order %s", id)
	}
	if o.Status.Terminal() {
		return nil, conflictf("order %s is %s and cannot be modified", id, o.Status)
	}

	mod := &models.OrderModification{
		OrderID:         id,
		PrevOrigin:      o.Origin,
		PrevDestination: o.Destination,
		NewOrigin:       newOrigin,
		NewDestination:  newDest,
		Reason:          reason,
		Author:          p.Name,
	}
	if err := s.orders.ModifyRoute(ctx, mod); err != nil {
		return nil, err
	}

	if o.Status == models.OrderStatusPickedUp || o.Status == models.OrderStatusInTransit {
		if o.AssignedDroneID != nil {
			if d, err := s.drones.GetByID(ctx, *o.AssignedDroneID); err == nil && d != nil {
				distKm := geo.DistanceKm(d.CurrentLocation.Latitude, d.CurrentLocation.Longitude, newDest.Latitude, newDest.Longitude)
				eta := geo.ETA(time.Now().UTC(), distKm, effectiveSpeed(d.SpeedKmh, s.cfg.AverageSpeedKmh))
				if err := s.orders.UpdateEstimatedDelivery(ctx, id, eta); err != nil {
					return nil, err
				}
			}
		}
	}
	s.log.Info("order route modified",
		zap.String("order_id", id),
		zap.String("author", p.Name),
		zap.String("reason", reason))
	return s.orders.GetByID(ctx, id)
}

// Modifications returns the append-only audit log for an order.
func (s *OrderService) Modifications(ctx context.Context, orderID string) ([]models.OrderModification, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.orders.ListModifications(ctx, orderID)
}

// applyTransition moves an order through the state table, failing with
// ErrConflict on an out-of-table move or a concurrent state change.
func (s *OrderService) applyTransition(ctx context.Context, o *models.Order, to models.OrderStatus, t repository.TransitionTimes) error {
	if !CanTransition(o.Status, to) {
		return conflictf("order %s cannot move %s -> %s", o.ID, o.Status, to)
	}
	ok, err := s.orders.Transition(ctx, o.ID, o.Status, to, t)
	if err != nil {
		return err
	}
	if !ok {
		return conflictf("order %s changed state concurrently", o.ID)
	}
	o.Status = to
	return nil
}

func validateLocation(l models.Location) error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return validationf("latitude %.4f out of range", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return validationf("longitude %.4f out of range", l.Longitude)
	}
	return nil
}

func effectiveSpeed(droneSpeed, fallback float64) float64 {
	if droneSpeed > 0 {
		return droneSpeed
	}
	return fallback
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
