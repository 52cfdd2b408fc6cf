package dispatch

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"droneDispatch/internal/auth"
	"droneDispatch/internal/config"
	"droneDispatch/internal/geo"
	"droneDispatch/internal/testutil"
	"droneDispatch/models"
	"droneDispatch/repository"
)

type engine struct {
	drones *repository.DroneRepository
	orders *repository.OrderRepository
	jobs   *repository.JobRepository
	faults *repository.BreakageRepository

	fleet     *FleetService
	ledger    *OrderService
	scheduler *SchedulerService
	telemetry *TelemetryService
	rescue    *RescueService

	cfg config.ServiceConfig
}

func newEngine(t *testing.T, name string) *engine {
	t.Helper()
	d := testutil.OpenInMemoryDB(t, name)
	cfg := config.ServiceConfig{
		LocationToleranceMeters: 50,
		LowBatteryThreshold:     20,
		OfflineTimeout:          5 * time.Minute,
		ServiceAreaRadiusKm:     50,
		ReconcileInterval:       30 * time.Second,
		AverageSpeedKmh:         50,
	}
	log := zap.NewNop()

	e := &engine{
		drones: repository.NewDroneRepository(d),
		orders: repository.NewOrderRepository(d),
		jobs:   repository.NewJobRepository(d),
		faults: repository.NewBreakageRepository(d),
		cfg:    cfg,
	}
	e.fleet = NewFleetService(e.drones, e.faults, cfg, log)
	e.ledger = NewOrderService(e.orders, e.jobs, e.drones, cfg, log)
	e.scheduler = NewSchedulerService(e.jobs, e.orders, e.drones, e.faults, cfg, log)
	e.telemetry = NewTelemetryService(e.drones, e.orders, e.jobs, e.ledger, cfg, log)
	e.rescue = NewRescueService(e.drones, e.orders, e.jobs, e.faults, e.ledger, log)
	return e
}

func adminCtx() context.Context {
	return testutil.CtxAs(context.Background(), "ops", auth.KindAdmin)
}

func userCtx(name string) context.Context {
	return testutil.CtxAs(context.Background(), name, auth.KindEndUser)
}

func droneCtx(id string) context.Context {
	return testutil.CtxAs(context.Background(), id, auth.KindDrone)
}

// Two points in San Francisco roughly 1.41 km apart.
var (
	pickupPoint  = models.Location{Latitude: 37.7749, Longitude: -122.4194}
	dropoffPoint = models.Location{Latitude: 37.7849, Longitude: -122.4294}
)

func (e *engine) registerDrone(t *testing.T, id string) *models.Drone {
	t.Helper()
	d, err := e.fleet.Register(adminCtx(), &models.Drone{
		ID:       id,
		Model:    "MK-4",
		HomeBase: pickupPoint,
		SpeedKmh: 50,
	})
	if err != nil {
		t.Fatalf("register drone %s: %v", id, err)
	}
	return d
}

func (e *engine) placeOrder(t *testing.T, user string) *models.Order {
	t.Helper()
	o, err := e.ledger.Create(userCtx(user), CreateOrderRequest{
		Origin:      pickupPoint,
		Destination: dropoffPoint,
		Package:     models.PackageDetails{WeightKg: 2},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// assignOrder runs the order through the reconciler and a reservation so it
// ends up ASSIGNED to the given drone.
func (e *engine) assignOrder(t *testing.T, orderID, droneID string) *models.Job {
	t.Helper()
	e.scheduler.Reconcile(context.Background())
	j, err := e.scheduler.ReserveJob(droneCtx(droneID), droneID)
	if err != nil {
		t.Fatalf("reserve job: %v", err)
	}
	if j.OrderID != orderID {
		t.Fatalf("reserved order %s, want %s", j.OrderID, orderID)
	}
	return j
}

func TestCreateOrderPricing(t *testing.T) {
	e := newEngine(t, "create_order")
	o := e.placeOrder(t, "alice")

	distKm := geo.DistanceKm(pickupPoint.Latitude, pickupPoint.Longitude, dropoffPoint.Latitude, dropoffPoint.Longitude)
	wantCost := math.Round((distKm*2.5+2*5)*100) / 100
	if o.Cost != wantCost {
		t.Errorf("cost = %.2f, want %.2f", o.Cost, wantCost)
	}
	if o.Status != models.OrderStatusPending {
		t.Errorf("status = %s, want pending", o.Status)
	}
	if !o.EstimatedDeliveryTime.After(time.Now()) {
		t.Errorf("estimated delivery %v is not in the future", o.EstimatedDeliveryTime)
	}
	if !o.EstimatedPickupTime.After(time.Now()) {
		t.Errorf("estimated pickup %v is not in the future", o.EstimatedPickupTime)
	}
}

func TestCreateOrderOutsideServiceArea(t *testing.T) {
	e := newEngine(t, "service_area")
	_, err := e.ledger.Create(userCtx("alice"), CreateOrderRequest{
		Origin:      models.Location{Latitude: 37.7749, Longitude: -122.4194},
		Destination: models.Location{Latitude: 34.0522, Longitude: -118.2437}, // Los Angeles
		Package:     models.PackageDetails{WeightKg: 1},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestOrderOwnership(t *testing.T) {
	e := newEngine(t, "ownership")
	o := e.placeOrder(t, "alice")

	if _, err := e.ledger.Get(userCtx("alice"), o.ID); err != nil {
		t.Errorf("owner read failed: %v", err)
	}
	if _, err := e.ledger.Get(userCtx("mallory"), o.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign read err = %v, want ErrNotFound", err)
	}
	if _, err := e.ledger.Get(adminCtx(), o.ID); err != nil {
		t.Errorf("admin read failed: %v", err)
	}
}

func TestCancelRefunds(t *testing.T) {
	e := newEngine(t, "refunds")

	t.Run("pending refunds full cost", func(t *testing.T) {
		o := e.placeOrder(t, "alice")
		res, err := e.ledger.Cancel(userCtx("alice"), o.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if res.RefundAmount != o.Cost {
			t.Errorf("refund = %.2f, want %.2f", res.RefundAmount, o.Cost)
		}
	})

	t.Run("assigned refunds half and releases the drone", func(t *testing.T) {
		e.registerDrone(t, "dr-cancel")
		o := e.placeOrder(t, "alice")
		e.assignOrder(t, o.ID, "dr-cancel")

		res, err := e.ledger.Cancel(userCtx("alice"), o.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		want := math.Round(o.Cost*0.5*100) / 100
		if res.RefundAmount != want {
			t.Errorf("refund = %.2f, want %.2f", res.RefundAmount, want)
		}
		d, err := e.drones.GetByID(context.Background(), "dr-cancel")
		if err != nil || d == nil {
			t.Fatalf("drone lookup: %v", err)
		}
		if d.CurrentOrderID != nil {
			t.Errorf("drone still references order %s", *d.CurrentOrderID)
		}
		if j, _ := e.jobs.GetOpenByOrder(context.Background(), o.ID); j != nil {
			t.Errorf("open job %s survived cancellation", j.ID)
		}
	})

	t.Run("picked up cannot be cancelled", func(t *testing.T) {
		e.registerDrone(t, "dr-picked")
		o := e.placeOrder(t, "alice")
		e.assignOrder(t, o.ID, "dr-picked")
		if _, err := e.telemetry.GrabOrder(droneCtx("dr-picked"), "dr-picked", pickupPoint); err != nil {
			t.Fatalf("grab: %v", err)
		}
		_, err := e.ledger.Cancel(userCtx("alice"), o.ID)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("err = %v, want ErrConflict", err)
		}
	})
}

func TestReservationPriorityAndFIFO(t *testing.T) {
	e := newEngine(t, "priority_fifo")
	ctx := context.Background()

	// Three orders, one job each; created in the sequence C, A, B so the
	// medium tier has C older than A and B is the lone high job.
	oC := e.placeOrder(t, "alice")
	oA := e.placeOrder(t, "alice")
	oB := e.placeOrder(t, "alice")

	mk := func(orderID string, p models.Priority) {
		t.Helper()
		_, err := e.jobs.Create(ctx, &models.Job{
			OrderID:        orderID,
			Type:           models.JobTypeDelivery,
			Priority:       p,
			PickupLocation: pickupPoint,
		})
		if err != nil {
			t.Fatalf("create job: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	mk(oC.ID, models.PriorityMedium)
	mk(oA.ID, models.PriorityMedium)
	mk(oB.ID, models.PriorityHigh)

	want := []string{oB.ID, oC.ID, oA.ID}
	for i, droneID := range []string{"dr-1", "dr-2", "dr-3"} {
		e.registerDrone(t, droneID)
		j, err := e.scheduler.ReserveJob(droneCtx(droneID), droneID)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if j.OrderID != want[i] {
			t.Errorf("reservation %d got order %s, want %s", i, j.OrderID, want[i])
		}
	}
}

func TestConcurrentReservationSingleWinner(t *testing.T) {
	e := newEngine(t, "single_winner")

	o := e.placeOrder(t, "alice")
	e.scheduler.Reconcile(context.Background())

	const n = 8
	droneIDs := make([]string, n)
	for i := range droneIDs {
		droneIDs[i] = "dr-" + string(rune('a'+i))
		e.registerDrone(t, droneIDs[i])
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = e.scheduler.ReserveJob(droneCtx(droneIDs[i]), droneIDs[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrNoJobsAvailable):
		default:
			t.Errorf("drone %s: unexpected error %v", droneIDs[i], err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	got, err := e.orders.GetByID(context.Background(), o.ID)
	if err != nil || got == nil {
		t.Fatalf("order lookup: %v", err)
	}
	if got.Status != models.OrderStatusAssigned || got.AssignedDroneID == nil {
		t.Fatalf("order = %s/%v, want assigned with a drone", got.Status, got.AssignedDroneID)
	}
	d, err := e.drones.GetByID(context.Background(), *got.AssignedDroneID)
	if err != nil || d == nil {
		t.Fatalf("winner lookup: %v", err)
	}
	if d.CurrentOrderID == nil || *d.CurrentOrderID != o.ID {
		t.Errorf("winner does not reference order %s", o.ID)
	}
}

func TestReserveJobEligibility(t *testing.T) {
	e := newEngine(t, "eligibility")
	ctx := context.Background()

	e.placeOrder(t, "alice")
	e.scheduler.Reconcile(ctx)

	if _, err := e.scheduler.ReserveJob(droneCtx("ghost"), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown drone err = %v, want ErrNotFound", err)
	}

	e.registerDrone(t, "dr-broken")
	if err := e.drones.MarkBroken(ctx, "dr-broken", pickupPoint); err != nil {
		t.Fatalf("mark broken: %v", err)
	}
	if _, err := e.scheduler.ReserveJob(droneCtx("dr-broken"), "dr-broken"); !errors.Is(err, ErrConflict) {
		t.Errorf("broken drone err = %v, want ErrConflict", err)
	}

	e.registerDrone(t, "dr-flat")
	now := time.Now().UTC()
	if err := e.drones.UpdateTelemetry(ctx, "dr-flat", pickupPoint, 5, 0, models.DroneStatusIdle, now, 0); err != nil {
		t.Fatalf("update telemetry: %v", err)
	}
	if _, err := e.scheduler.ReserveJob(droneCtx("dr-flat"), "dr-flat"); !errors.Is(err, ErrConflict) {
		t.Errorf("flat battery err = %v, want ErrConflict", err)
	}

	e.registerDrone(t, "dr-busy")
	if _, err := e.scheduler.ReserveJob(droneCtx("dr-busy"), "dr-busy"); err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	if _, err := e.scheduler.ReserveJob(droneCtx("dr-busy"), "dr-busy"); !errors.Is(err, ErrConflict) {
		t.Errorf("busy drone err = %v, want ErrConflict", err)
	}

	e.registerDrone(t, "dr-idle")
	if _, err := e.scheduler.ReserveJob(droneCtx("dr-idle"), "dr-idle"); !errors.Is(err, ErrNoJobsAvailable) {
		t.Errorf("empty queue err = %v, want ErrNoJobsAvailable", err)
	}
}

func TestDeliveryLifecycle(t *testing.T) {
	e := newEngine(t, "lifecycle")
	ctx := context.Background()

	e.registerDrone(t, "dr-1")
	o := e.placeOrder(t, "alice")
	j := e.assignOrder(t, o.ID, "dr-1")

	// Referential consistency after assignment.
	d, _ := e.drones.GetByID(ctx, "dr-1")
	if d.CurrentOrderID == nil || *d.CurrentOrderID != o.ID {
		t.Fatalf("drone order ref = %v, want %s", d.CurrentOrderID, o.ID)
	}
	got, _ := e.orders.GetByID(ctx, o.ID)
	if got.AssignedDroneID == nil || *got.AssignedDroneID != "dr-1" {
		t.Fatalf("order drone ref = %v, want dr-1", got.AssignedDroneID)
	}

	// Pickup away from the origin is refused and changes nothing.
	if _, err := e.telemetry.GrabOrder(droneCtx("dr-1"), "dr-1", dropoffPoint); !errors.Is(err, ErrValidation) {
		t.Fatalf("remote grab err = %v, want ErrValidation", err)
	}
	got, _ = e.orders.GetByID(ctx, o.ID)
	if got.Status != models.OrderStatusAssigned {
		t.Fatalf("order moved to %s after refused grab", got.Status)
	}

	picked, err := e.telemetry.GrabOrder(droneCtx("dr-1"), "dr-1", pickupPoint)
	if err != nil {
		t.Fatalf("grab: %v", err)
	}
	if picked.Status != models.OrderStatusPickedUp || picked.ActualPickupTime == nil {
		t.Fatalf("after grab: status=%s pickupTime=%v", picked.Status, picked.ActualPickupTime)
	}

	// The next heartbeat puts the order in flight and returns the job.
	ack, err := e.telemetry.Heartbeat(droneCtx("dr-1"), "dr-1", pickupPoint, 90, 45, time.Now().UTC())
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if ack.CurrentJob == nil || ack.CurrentJob.OrderID != o.ID {
		t.Fatalf("heartbeat ack carries no job for %s", o.ID)
	}
	got, _ = e.orders.GetByID(ctx, o.ID)
	if got.Status != models.OrderStatusInTransit {
		t.Fatalf("order = %s, want in_transit", got.Status)
	}

	// Delivery away from the destination is refused.
	if _, err := e.telemetry.CompleteDelivery(droneCtx("dr-1"), "dr-1", pickupPoint); !errors.Is(err, ErrValidation) {
		t.Fatalf("remote delivery err = %v, want ErrValidation", err)
	}

	done, err := e.telemetry.CompleteDelivery(droneCtx("dr-1"), "dr-1", dropoffPoint)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.OrderStatusDelivered || done.ActualDeliveryTime == nil {
		t.Fatalf("after delivery: status=%s deliveryTime=%v", done.Status, done.ActualDeliveryTime)
	}

	d, _ = e.drones.GetByID(ctx, "dr-1")
	if d.CurrentOrderID != nil {
		t.Errorf("drone still references an order after delivery")
	}
	if d.Status != models.DroneStatusIdle {
		t.Errorf("drone status = %s, want idle", d.Status)
	}
	if d.TotalDeliveries != 1 {
		t.Errorf("total deliveries = %d, want 1", d.TotalDeliveries)
	}
	jb, _ := e.jobs.GetByID(ctx, j.ID)
	if jb.Status != models.JobStatusCompleted || jb.CompletedAt == nil {
		t.Errorf("job = %s, want completed", jb.Status)
	}
}

func TestHeartbeatLowBattery(t *testing.T) {
	e := newEngine(t, "low_battery")
	ctx := context.Background()

	e.registerDrone(t, "dr-1")
	o := e.placeOrder(t, "alice")
	e.assignOrder(t, o.ID, "dr-1")
	if _, err := e.telemetry.GrabOrder(droneCtx("dr-1"), "dr-1", pickupPoint); err != nil {
		t.Fatalf("grab: %v", err)
	}
	if _, err := e.telemetry.Heartbeat(droneCtx("dr-1"), "dr-1", pickupPoint, 90, 45, time.Now().UTC()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	ack, err := e.telemetry.Heartbeat(droneCtx("dr-1"), "dr-1", pickupPoint, 12, 45, time.Now().UTC())
	if err != nil {
		t.Fatalf("low battery heartbeat: %v", err)
	}
	if ack.Status != models.DroneStatusIdle {
		t.Errorf("ack status = %s, want idle", ack.Status)
	}
	if ack.Instructions == "" {
		t.Errorf("ack carries no return-to-base instruction")
	}
	// The delivery in progress is untouched at the order level.
	got, _ := e.orders.GetByID(ctx, o.ID)
	if got.Status != models.OrderStatusInTransit {
		t.Errorf("order = %s, want in_transit", got.Status)
	}
}

func TestHeartbeatReplayIsIdempotent(t *testing.T) {
	e := newEngine(t, "replay")
	ctx := context.Background()

	e.registerDrone(t, "dr-1")
	o := e.placeOrder(t, "alice")
	e.assignOrder(t, o.ID, "dr-1")

	ts := time.Now().UTC()
	if _, err := e.telemetry.Heartbeat(droneCtx("dr-1"), "dr-1", pickupPoint, 80, 40, ts); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	later := ts.Add(30 * time.Second)
	if _, err := e.telemetry.Heartbeat(droneCtx("dr-1"), "dr-1", dropoffPoint, 78, 40, later); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	first, _ := e.drones.GetByID(ctx, "dr-1")

	// At-least-once delivery replays the same message.
	if _, err := e.telemetry.Heartbeat(droneCtx("dr-1"), "dr-1", dropoffPoint, 78, 40, later); err != nil {
		t.Fatalf("replayed heartbeat: %v", err)
	}
	second, _ := e.drones.GetByID(ctx, "dr-1")

	if second.TotalFlightTime != first.TotalFlightTime {
		t.Errorf("flight time drifted on replay: %.6f -> %.6f", first.TotalFlightTime, second.TotalFlightTime)
	}
	if second.BatteryLevel != first.BatteryLevel || second.CurrentLocation.Latitude != first.CurrentLocation.Latitude {
		t.Errorf("latest-value fields drifted on replay")
	}
	if !second.LastHeartbeat.Equal(*first.LastHeartbeat) {
		t.Errorf("last heartbeat drifted on replay")
	}
	if first.TotalFlightTime <= 0 {
		t.Errorf("flight time did not accrue across heartbeats")
	}
}

func TestBreakageWhileCarrying(t *testing.T) {
	e := newEngine(t, "breakage_cargo")
	ctx := context.Background()

	e.registerDrone(t, "dr-1")
	o := e.placeOrder(t, "alice")
	e.assignOrder(t, o.ID, "dr-1")
	if _, err := e.telemetry.GrabOrder(droneCtx("dr-1"), "dr-1", pickupPoint); err != nil {
		t.Fatalf("grab: %v", err)
	}

	crashSite := models.Location{Latitude: 37.7799, Longitude: -122.4244}
	ev, err := e.rescue.ReportBroken(droneCtx("dr-1"), BreakageReport{
		DroneID:  "dr-1",
		Location: crashSite,
		Issue:    "rotor failure",
		Severity: models.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("report broken: %v", err)
	}
	if !ev.WasCarryingOrder || ev.OrderID == nil || *ev.OrderID != o.ID {
		t.Fatalf("event = carrying:%v order:%v, want carrying order %s", ev.WasCarryingOrder, ev.OrderID, o.ID)
	}

	got, _ := e.orders.GetByID(ctx, o.ID)
	if got.Status != models.OrderStatusAwaitingRescue {
		t.Fatalf("order = %s, want awaiting_rescue", got.Status)
	}
	d, _ := e.drones.GetByID(ctx, "dr-1")
	if d.Status != models.DroneStatusBroken {
		t.Errorf("drone = %s, want broken", d.Status)
	}
	if d.CurrentOrderID != nil {
		t.Errorf("broken drone still references order %s", *d.CurrentOrderID)
	}

	j, err := e.jobs.GetOpenByOrder(ctx, o.ID)
	if err != nil || j == nil {
		t.Fatalf("no open rescue job: %v", err)
	}
	if j.Type != models.JobTypeRescue || j.Priority != models.PriorityHigh {
		t.Errorf("job = %s/%s, want rescue/high", j.Type, j.Priority)
	}
	if j.PickupLocation.Latitude != crashSite.Latitude || j.PickupLocation.Longitude != crashSite.Longitude {
		t.Errorf("rescue pickup is not the breakage site")
	}
	if j.BrokenDroneID == nil || *j.BrokenDroneID != "dr-1" {
		t.Errorf("rescue job does not reference the broken drone")
	}

	// A second drone rescues the package and finishes the delivery.
	e.registerDrone(t, "dr-2")
	rj, err := e.scheduler.ReserveJob(droneCtx("dr-2"), "dr-2")
	if err != nil {
		t.Fatalf("reserve rescue: %v", err)
	}
	if rj.ID != j.ID {
		t.Fatalf("reserved job %s, want rescue %s", rj.ID, j.ID)
	}
	if _, err := e.telemetry.GrabOrder(droneCtx("dr-2"), "dr-2", crashSite); err != nil {
		t.Fatalf("rescue grab: %v", err)
	}
	done, err := e.telemetry.CompleteDelivery(droneCtx("dr-2"), "dr-2", dropoffPoint)
	if err != nil {
		t.Fatalf("rescue delivery: %v", err)
	}
	if done.Status != models.OrderStatusDelivered {
		t.Fatalf("order = %s, want delivered", done.Status)
	}

	// Repair closes the fault log.
	if _, err := e.fleet.Repair(adminCtx(), "dr-1", "rotor replaced"); err != nil {
		t.Fatalf("repair: %v", err)
	}
	open, _ := e.faults.ListOpenByDrone(ctx, "dr-1")
	if len(open) != 0 {
		t.Errorf("open events after repair = %d, want 0", len(open))
	}
	d, _ = e.drones.GetByID(ctx, "dr-1")
	if d.Status != models.DroneStatusIdle || d.LastMaintenanceAt == nil {
		t.Errorf("repaired drone = %s/%v, want idle with maintenance stamp", d.Status, d.LastMaintenanceAt)
	}
}

func TestBreakageWithoutCargo(t *testing.T) {
	e := newEngine(t, "breakage_empty")
	ctx := context.Background()

	e.registerDrone(t, "dr-1")
	ev, err := e.rescue.ReportBroken(droneCtx("dr-1"), BreakageReport{
		DroneID:  "dr-1",
		Location: pickupPoint,
		Issue:    "battery swelling",
		Severity: models.SeverityMedium,
	})
	if err != nil {
		t.Fatalf("report broken: %v", err)
	}
	if ev.WasCarryingOrder || ev.OrderID != nil {
		t.Errorf("event claims cargo on an empty drone")
	}
	pending, _ := e.jobs.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("jobs created = %d, want 0", len(pending))
	}
}

func TestReconcilerBackfillsJobs(t *testing.T) {
	e := newEngine(t, "reconciler")
	ctx := context.Background()

	t.Run("pending order without a job", func(t *testing.T) {
		o := e.placeOrder(t, "alice")
		e.scheduler.Reconcile(ctx)
		j, err := e.jobs.GetOpenByOrder(ctx, o.ID)
		if err != nil || j == nil {
			t.Fatalf("no job after reconcile: %v", err)
		}
		if j.Type != models.JobTypeDelivery || j.Priority != models.PriorityMedium {
			t.Errorf("job = %s/%s, want delivery/medium", j.Type, j.Priority)
		}

		// A second pass does not duplicate.
		e.scheduler.Reconcile(ctx)
		pending, _ := e.jobs.ListPending(ctx)
		count := 0
		for _, p := range pending {
			if p.OrderID == o.ID {
				count++
			}
		}
		if count != 1 {
			t.Errorf("jobs for order = %d, want 1", count)
		}

		// Retire the order so it does not feed later reservations.
		if _, err := e.ledger.Cancel(userCtx("alice"), o.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
	})

	t.Run("stranded order without a rescue job", func(t *testing.T) {
		e.registerDrone(t, "dr-1")
		o := e.placeOrder(t, "bob")
		e.assignOrder(t, o.ID, "dr-1")
		if _, err := e.telemetry.GrabOrder(droneCtx("dr-1"), "dr-1", pickupPoint); err != nil {
			t.Fatalf("grab: %v", err)
		}
		crashSite := models.Location{Latitude: 37.7800, Longitude: -122.4250}
		if _, err := e.rescue.ReportBroken(droneCtx("dr-1"), BreakageReport{
			DroneID: "dr-1", Location: crashSite, Issue: "gps loss", Severity: models.SeverityLow,
		}); err != nil {
			t.Fatalf("report broken: %v", err)
		}

		// Simulate the rescue job getting lost.
		if err := e.jobs.CancelOpenByOrder(ctx, o.ID); err != nil {
			t.Fatalf("cancel job: %v", err)
		}

		e.scheduler.Reconcile(ctx)
		j, err := e.jobs.GetOpenByOrder(ctx, o.ID)
		if err != nil || j == nil {
			t.Fatalf("no rescue job after reconcile: %v", err)
		}
		if j.Type != models.JobTypeRescue || j.Priority != models.PriorityHigh {
			t.Errorf("job = %s/%s, want rescue/high", j.Type, j.Priority)
		}
		if j.PickupLocation.Latitude != crashSite.Latitude {
			t.Errorf("rescue pickup is not the breakage site")
		}
	})
}

func TestModifyRoute(t *testing.T) {
	e := newEngine(t, "modify")

	o := e.placeOrder(t, "alice")
	newDest := models.Location{Latitude: 37.7649, Longitude: -122.4094}

	if _, err := e.ledger.Modify(userCtx("alice"), o.ID, pickupPoint, newDest, "recipient moved"); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("enduser modify err = %v, want ErrPermissionDenied", err)
	}

	mod, err := e.ledger.Modify(adminCtx(), o.ID, pickupPoint, newDest, "recipient moved")
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if mod.Destination.Latitude != newDest.Latitude {
		t.Errorf("destination not updated")
	}

	audit, err := e.ledger.Modifications(adminCtx(), o.ID)
	if err != nil {
		t.Fatalf("modifications: %v", err)
	}
	if len(audit) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audit))
	}
	if audit[0].PrevDestination.Latitude != dropoffPoint.Latitude || audit[0].NewDestination.Latitude != newDest.Latitude {
		t.Errorf("audit entry does not record the change")
	}
	if audit[0].Reason != "recipient moved" || audit[0].Author != "ops" {
		t.Errorf("audit entry = %q by %q", audit[0].Reason, audit[0].Author)
	}

	// Terminal orders refuse modification.
	if _, err := e.ledger.Cancel(userCtx("alice"), o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := e.ledger.Modify(adminCtx(), o.ID, pickupPoint, newDest, "again"); !errors.Is(err, ErrConflict) {
		t.Errorf("terminal modify err = %v, want ErrConflict", err)
	}
}

func TestRemoveDroneInFlight(t *testing.T) {
	e := newEngine(t, "remove")

	e.registerDrone(t, "dr-1")
	o := e.placeOrder(t, "alice")
	e.assignOrder(t, o.ID, "dr-1")

	if err := e.fleet.Remove(adminCtx(), "dr-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("remove in flight err = %v, want ErrConflict", err)
	}

	e.registerDrone(t, "dr-2")
	if err := e.fleet.Remove(adminCtx(), "dr-2"); err != nil {
		t.Fatalf("remove idle drone: %v", err)
	}
}
