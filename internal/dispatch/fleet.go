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

// FleetService owns drone records and their lifecycle. It is the single writer
// of fleet state; all mutations go through the drone store row by row, so
// contention is scoped to the one drone being touched.
type FleetService struct {
	drones   repository.DroneStore
	breakage repository.BreakageStore
	cfg      config.ServiceConfig
	log      *zap.Logger
}

func NewFleetService(drones repository.DroneStore, breakage repository.BreakageStore, cfg config.ServiceConfig, log *zap.Logger) *FleetService {
	return &FleetService{drones: drones, breakage: breakage, cfg: cfg, log: log}
}

// Register adds a new drone to the fleet. Fails with ErrConflict when the id
// is already present.
func (s *FleetService) Register(ctx context.Context, d *models.Drone) (*models.Drone, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, validationf("drone is required")
	}
	if d.ID != "" {
		existing, err := s.drones.GetByID(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, conflictf("drone %s already registered", d.ID)
		}
	}
	created, err := s.drones.Create(ctx, d)
	if err != nil {
		return nil, err
	}
	s.log.Info("drone registered", zap.String("drone_id", created.ID), zap.String("model", created.Model))
	return created, nil
}

// Get returns a drone with its effective (offline-aware) status.
func (s *FleetService) Get(ctx context.Context, id string) (*models.Drone, error) {
	if _, err := auth.RequirePrincipal(ctx); err != nil {
		return nil, err
	}
	d, err := s.drones.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFoundf("drone %s", id)
	}
	d.Status = d.EffectiveStatus(time.Now(), s.cfg.OfflineTimeout)
	return d, nil
}

// List returns a page of the fleet with effective statuses.
func (s *FleetService) List(ctx context.Context, p repository.ListDronesParams) ([]models.Drone, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	out, err := s.drones.List(ctx, p)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range out {
		out[i].Status = out[i].EffectiveStatus(now, s.cfg.OfflineTimeout)
	}
	return out, nil
}

// Repair returns a broken drone to service: status idle, maintenance stamped,
// and every open breakage event for the drone closed with the given notes.
func (s *FleetService) Repair(ctx context.Context, id, notes string) (*models.Drone, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	d, err := s.drones.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFoundf("drone %s", id)
	}
	now := time.Now().UTC()
	if err := s.drones.Repair(ctx, id, now); err != nil {
		return nil, err
	}
	if err := s.breakage.ResolveAllForDrone(ctx, id, now, notes); err != nil {
		return nil, err
	}
	s.log.Info("drone repaired", zap.String("drone_id", id))
	return s.drones.GetByID(ctx, id)
}

// Remove deletes a drone from the fleet. A drone that is in transit or still
// holds an order reference cannot be removed.
func (s *FleetService) Remove(ctx context.Context, id string) error {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	d, err := s.drones.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d == nil {
		return notFoundf("drone %s", id)
	}
	if d.CurrentOrderID != nil || d.Status == models.DroneStatusInTransit {
		return conflictf("drone %s is in flight", id)
	}
	if err := s.drones.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("drone removed", zap.String("drone_id", id))
	return nil
}
