package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"droneDispatch/internal/auth"
	"droneDispatch/internal/config"
	"droneDispatch/models"
	"droneDispatch/repository"
)

// SchedulerService hands out jobs to drones and keeps the queue consistent
// with the order ledger.
type SchedulerService struct {
	jobs    repository.JobStore
	orders  repository.OrderStore
	drones  repository.DroneStore
	faults  repository.BreakageStore
	cfg     config.ServiceConfig
	log     *zap.Logger
	stopped chan struct{}
}

func NewSchedulerService(jobs repository.JobStore, orders repository.OrderStore, drones repository.DroneStore, faults repository.BreakageStore, cfg config.ServiceConfig, log *zap.Logger) *SchedulerService {
	return &SchedulerService{
		jobs:    jobs,
		orders:  orders,
		drones:  drones,
		faults:  faults,
		cfg:     cfg,
		log:     log,
		stopped: make(chan struct{}),
	}
}

// ReserveJob assigns the best queued job to the requesting drone: highest
// priority first, oldest first within a tier. Exactly one drone wins any
// given job. An empty queue returns ErrNoJobsAvailable.
func (s *SchedulerService) ReserveJob(ctx context.Context, droneID string) (*models.Job, error) {
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
	if d.Status == models.DroneStatusBroken {
		return nil, conflictf("drone %s is broken", droneID)
	}
	if d.CurrentOrderID != nil {
		return nil, conflictf("drone %s already carries order %s", droneID, *d.CurrentOrderID)
	}
	if d.BatteryLevel < s.cfg.LowBatteryThreshold {
		return nil, conflictf("drone %s battery at %d%% is below the dispatch floor", droneID, d.BatteryLevel)
	}

	j, err := s.jobs.ReserveNext(ctx, droneID)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrNoJobsAvailable
	}
	s.log.Info("job reserved",
		zap.String("job_id", j.ID),
		zap.String("order_id", j.OrderID),
		zap.String("drone_id", droneID),
		zap.String("type", string(j.Type)),
		zap.String("priority", string(j.Priority)))
	return j, nil
}

// PendingJobs lists the queue in reservation order, for operators.
func (s *SchedulerService) PendingJobs(ctx context.Context) ([]models.Job, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.jobs.ListPending(ctx)
}

// RunReconciler periodically repairs drift between orders and the job queue
// until the context is cancelled. It runs one pass immediately on start.
func (s *SchedulerService) RunReconciler(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// Stopped is closed once the reconciler loop has exited.
func (s *SchedulerService) Stopped() <-chan struct{} {
	return s.stopped
}

// Reconcile runs a single pass. Exposed for startup recovery and tests;
// the loop calls it on every tick.
func (s *SchedulerService) Reconcile(ctx context.Context) {
	s.reconcile(ctx)
}

func (s *SchedulerService) reconcile(ctx context.Context) {
	s.backfillDeliveryJobs(ctx)
	s.backfillRescueJobs(ctx)
}

// backfillDeliveryJobs queues a delivery job for every pending order that
// lost its job, whatever the cause.
func (s *SchedulerService) backfillDeliveryJobs(ctx context.Context) {
	orders, err := s.orders.ListByStatusWithoutOpenJob(ctx, models.OrderStatusPending)
	if err != nil {
		s.log.Error("reconciler: listing pending orders failed", zap.Error(err))
		return
	}
	for i := range orders {
		o := &orders[i]
		j := &models.Job{
			OrderID:        o.ID,
			Type:           models.JobTypeDelivery,
			Priority:       models.PriorityMedium,
			PickupLocation: o.Origin,
		}
		if _, err := s.jobs.Create(ctx, j); err != nil {
			s.log.Error("reconciler: creating delivery job failed",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		s.log.Info("reconciler queued delivery job", zap.String("order_id", o.ID))
	}
}

// backfillRescueJobs re-queues a rescue for every stranded order whose rescue
// job went missing. The pickup point comes from the breakage report; if the
// fault was already resolved the order's own origin stands in.
func (s *SchedulerService) backfillRescueJobs(ctx context.Context) {
	orders, err := s.orders.ListByStatusWithoutOpenJob(ctx, models.OrderStatusAwaitingRescue)
	if err != nil {
		s.log.Error("reconciler: listing stranded orders failed", zap.Error(err))
		return
	}
	for i := range orders {
		o := &orders[i]
		pickup := o.Origin
		var brokenDroneID *string
		ev, err := s.faults.LatestOpenByOrder(ctx, o.ID)
		if err != nil {
			s.log.Error("reconciler: looking up breakage failed",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if ev != nil {
			pickup = ev.Location
			brokenDroneID = &ev.DroneID
		}
		j := &models.Job{
			OrderID:        o.ID,
			Type:           models.JobTypeRescue,
			Priority:       models.PriorityHigh,
			PickupLocation: pickup,
			BrokenDroneID:  brokenDroneID,
		}
		if _, err := s.jobs.Create(ctx, j); err != nil {
			s.log.Error("reconciler: creating rescue job failed",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		s.log.Info("reconciler queued rescue job", zap.String("order_id", o.ID))
	}
}
