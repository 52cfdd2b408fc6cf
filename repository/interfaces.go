package repository

import (
	"context"
	"time"

	"droneDispatch/models"
)

// DroneStore defines the durable operations the fleet registry relies on.
type DroneStore interface {
	Create(ctx context.Context, d *models.Drone) (*models.Drone, error)
	GetByID(ctx context.Context, id string) (*models.Drone, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Drone, error)
	UpdateTelemetry(ctx context.Context, id string, loc models.Location, battery int, speed float64, status models.DroneStatus, at time.Time, flightHours float64) error
	UpdateStatus(ctx context.Context, id string, status models.DroneStatus) error
	MarkBroken(ctx context.Context, id string, loc models.Location) error
	ClearCurrentOrder(ctx context.Context, id string, status models.DroneStatus, delivered bool) error
	Repair(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, p ListDronesParams) ([]models.Drone, error)
}

// OrderStore defines the durable operations the order ledger relies on.
type OrderStore interface {
	Create(ctx context.Context, o *models.Order) (*models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	Transition(ctx context.Context, id string, from, to models.OrderStatus, t TransitionTimes) (bool, error)
	SetAssignedDrone(ctx context.Context, id string, droneID *string) error
	UpdateEstimatedDelivery(ctx context.Context, id string, eta time.Time) error
	ModifyRoute(ctx context.Context, mod *models.OrderModification) error
	ListModifications(ctx context.Context, orderID string) ([]models.OrderModification, error)
	ListByStatusWithoutOpenJob(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	ListByUserPage(ctx context.Context, userID string, pageSize int, after time.Time, afterID string) ([]models.Order, error)
}

// JobStore defines the durable operations the scheduler relies on.
type JobStore interface {
	Create(ctx context.Context, j *models.Job) (*models.Job, error)
	GetByID(ctx context.Context, id string) (*models.Job, error)
	GetOpenByOrder(ctx context.Context, orderID string) (*models.Job, error)
	GetAssignedToDrone(ctx context.Context, droneID string) (*models.Job, error)
	ReserveNext(ctx context.Context, droneID string) (*models.Job, error)
	Complete(ctx context.Context, id string, at time.Time) error
	CancelOpenByOrder(ctx context.Context, orderID string) error
	ListPending(ctx context.Context) ([]models.Job, error)
}

// BreakageStore defines the durable operations of the fault log.
type BreakageStore interface {
	Create(ctx context.Context, e *models.BreakageEvent) (*models.BreakageEvent, error)
	ListOpenByDrone(ctx context.Context, droneID string) ([]models.BreakageEvent, error)
	LatestOpenByOrder(ctx context.Context, orderID string) (*models.BreakageEvent, error)
	ResolveAllForDrone(ctx context.Context, droneID string, at time.Time, notes string) error
}
