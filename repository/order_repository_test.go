package repository

import (
	"context"
	"testing"
	"time"

	"droneDispatch/internal/testutil"
	"droneDispatch/models"
)

func seedOrder(t *testing.T, repo *OrderRepository, userID string) *models.Order {
	t.Helper()
	desc := "spare parts"
	o, err := repo.Create(context.Background(), &models.Order{
		UserID:      userID,
		Origin:      models.Location{Latitude: 37.7749, Longitude: -122.4194},
		Destination: models.Location{Latitude: 37.7849, Longitude: -122.4294},
		Package: models.PackageDetails{
			WeightKg:    2.5,
			Fragile:     true,
			Description: &desc,
		},
		Cost:                  12.34,
		EstimatedPickupTime:   time.Now().UTC().Add(30 * time.Minute),
		EstimatedDeliveryTime: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestOrderCreateAndGet(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "order_create")
	repo := NewOrderRepository(db)

	o := seedOrder(t, repo, "alice")
	if o.ID == "" {
		t.Errorf("id was not generated")
	}
	if o.Status != models.OrderStatusPending {
		t.Errorf("status = %s, want pending", o.Status)
	}
	if o.Package.WeightKg != 2.5 || !o.Package.Fragile {
		t.Errorf("package round trip = %+v", o.Package)
	}
	if o.Package.Description == nil || *o.Package.Description != "spare parts" {
		t.Errorf("description round trip = %v", o.Package.Description)
	}
	if o.AssignedDroneID != nil || o.ActualPickupTime != nil || o.CancelledAt != nil {
		t.Errorf("fresh order carries stale optional fields")
	}

	missing, err := repo.GetByID(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("got %+v, want nil", missing)
	}
}

func TestOrderTransition(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "order_transition")
	repo := NewOrderRepository(db)
	ctx := context.Background()

	o := seedOrder(t, repo, "alice")

	ok, err := repo.Transition(ctx, o.ID, models.OrderStatusPending, models.OrderStatusAssigned, TransitionTimes{})
	if err != nil || !ok {
		t.Fatalf("transition = %v, %v; want applied", ok, err)
	}

	// The conditional update refuses a stale source status.
	ok, err = repo.Transition(ctx, o.ID, models.OrderStatusPending, models.OrderStatusCancelled, TransitionTimes{})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if ok {
		t.Fatalf("transition from a stale status was applied")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	ok, err = repo.Transition(ctx, o.ID, models.OrderStatusAssigned, models.OrderStatusCancelled, TransitionTimes{CancelledAt: &now})
	if err != nil || !ok {
		t.Fatalf("transition = %v, %v; want applied", ok, err)
	}
	got, _ := repo.GetByID(ctx, o.ID)
	if got.Status != models.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.CancelledAt == nil || !got.CancelledAt.Equal(now) {
		t.Errorf("cancelled_at = %v, want %v", got.CancelledAt, now)
	}
}

func TestOrderListByStatusWithoutOpenJob(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "order_nojob")
	orders := NewOrderRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()

	o := seedOrder(t, orders, "alice")

	got, err := orders.ListByStatusWithoutOpenJob(ctx, models.OrderStatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != o.ID {
		t.Fatalf("orders without job = %v", got)
	}

	j, err := jobs.Create(ctx, &models.Job{OrderID: o.ID, Type: models.JobTypeDelivery, PickupLocation: o.Origin})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	got, _ = orders.ListByStatusWithoutOpenJob(ctx, models.OrderStatusPending)
	if len(got) != 0 {
		t.Fatalf("order listed despite open job")
	}

	// A cancelled job no longer counts as open.
	if err := jobs.CancelOpenByOrder(ctx, j.OrderID); err != nil {
		t.Fatalf("cancel job: %v", err)
	}
	got, _ = orders.ListByStatusWithoutOpenJob(ctx, models.OrderStatusPending)
	if len(got) != 1 {
		t.Fatalf("order not listed after job cancellation")
	}
}

func TestOrderListByUserPage(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "order_page")
	repo := NewOrderRepository(db)
	ctx := context.Background()

	var created []*models.Order
	for i := 0; i < 3; i++ {
		created = append(created, seedOrder(t, repo, "alice"))
		time.Sleep(5 * time.Millisecond)
	}
	seedOrder(t, repo, "bob")

	page, err := repo.ListByUserPage(ctx, "alice", 2, time.Time{}, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("first page size = %d, want 2", len(page))
	}
	// Newest first.
	if page[0].ID != created[2].ID || page[1].ID != created[1].ID {
		t.Errorf("first page = %s, %s", page[0].ID, page[1].ID)
	}

	last := page[len(page)-1]
	rest, err := repo.ListByUserPage(ctx, "alice", 2, last.CreatedAt, last.ID)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != created[0].ID {
		t.Errorf("second page = %v", rest)
	}
}

func TestOrderModifyRouteAudit(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "order_modify")
	repo := NewOrderRepository(db)
	ctx := context.Background()

	o := seedOrder(t, repo, "alice")
	newDest := models.Location{Latitude: 37.7649, Longitude: -122.4094}
	mod := &models.OrderModification{
		OrderID:         o.ID,
		PrevOrigin:      o.Origin,
		PrevDestination: o.Destination,
		NewOrigin:       o.Origin,
		NewDestination:  newDest,
		Reason:          "recipient moved",
		Author:          "ops",
	}
	if err := repo.ModifyRoute(ctx, mod); err != nil {
		t.Fatalf("modify: %v", err)
	}

	got, _ := repo.GetByID(ctx, o.ID)
	if got.Destination.Latitude != newDest.Latitude {
		t.Errorf("destination = %v", got.Destination)
	}
	audit, err := repo.ListModifications(ctx, o.ID)
	if err != nil {
		t.Fatalf("modifications: %v", err)
	}
	if len(audit) != 1 || audit[0].Reason != "recipient moved" || audit[0].Author != "ops" {
		t.Errorf("audit = %+v", audit)
	}
}
