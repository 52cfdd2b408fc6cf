package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"droneDispatch/models"
)

// OrderRepository is the durable store behind the order ledger.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, user_id, status, origin_latitude, origin_longitude, origin_altitude, origin_address,
dest_latitude, dest_longitude, dest_altitude, dest_address,
package_weight, package_length, package_width, package_height, package_fragile, package_description, package_special_handling,
assigned_drone_id, cost, estimated_pickup_time, estimated_delivery_time, actual_pickup_time, actual_delivery_time,
scheduled_pickup_time, failure_reason, cancelled_at, created_at`

// Create inserts a new order. Status defaults to 'pending'; the ID is generated
// when empty.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (*models.Order, error) {
	if o == nil {
		return nil, errors.New("order is nil")
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO orders
(id, user_id, status, origin_latitude, origin_longitude, origin_altitude, origin_address,
 dest_latitude, dest_longitude, dest_altitude, dest_address,
 package_weight, package_length, package_width, package_height, package_fragile, package_description, package_special_handling,
 assigned_drone_id, cost, estimated_pickup_time, estimated_delivery_time, scheduled_pickup_time, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.UserID, string(o.Status),
		o.Origin.Latitude, o.Origin.Longitude, o.Origin.Altitude, o.Origin.Address,
		o.Destination.Latitude, o.Destination.Longitude, o.Destination.Altitude, o.Destination.Address,
		o.Package.WeightKg, o.Package.LengthCm, o.Package.WidthCm, o.Package.HeightCm, o.Package.Fragile,
		o.Package.Description, strings.Join(o.Package.SpecialHandling, ","),
		o.AssignedDroneID, o.Cost, o.EstimatedPickupTime, o.EstimatedDeliveryTime, o.ScheduledPickupTime, o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, o.ID)
}

// GetByID fetches an order by id; (nil, nil) when absent.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrderFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// TransitionTimes carries the optional timestamps and reason written together
// with a status change.
type TransitionTimes struct {
	ActualPickupTime   *time.Time
	ActualDeliveryTime *time.Time
	CancelledAt        *time.Time
	FailureReason      *string
}

// Transition moves an order from one status to another with a conditional
// update keyed on the current status, so a concurrent writer cannot be lost.
// Returns false when the order was not in the expected source status.
func (r *OrderRepository) Transition(ctx context.Context, id string, from, to models.OrderStatus, t TransitionTimes) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = ?,
actual_pickup_time = COALESCE(?, actual_pickup_time),
actual_delivery_time = COALESCE(?, actual_delivery_time),
cancelled_at = COALESCE(?, cancelled_at),
failure_reason = COALESCE(?, failure_reason)
WHERE id = ? AND status = ?`,
		string(to), t.ActualPickupTime, t.ActualDeliveryTime, t.CancelledAt, t.FailureReason, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetAssignedDrone writes the weak back-reference to the carrying drone.
// Pass nil to clear it.
func (r *OrderRepository) SetAssignedDrone(ctx context.Context, id string, droneID *string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET assigned_drone_id = ? WHERE id = ?`, droneID, id)
	return err
}

// UpdateEstimatedDelivery rewrites the delivery estimate, used after route
// modifications while the package is already moving.
func (r *OrderRepository) UpdateEstimatedDelivery(ctx context.Context, id string, eta time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET estimated_delivery_time = ? WHERE id = ?`, eta, id)
	return err
}

// ModifyRoute updates origin/destination and appends the audit entry in one
// transaction; the modification log is append-only.
func (r *OrderRepository) ModifyRoute(ctx context.Context, mod *models.OrderModification) error {
	if mod == nil {
		return errors.New("modification is nil")
	}
	if mod.ID == "" {
		mod.ID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE orders SET
origin_latitude = ?, origin_longitude = ?, dest_latitude = ?, dest_longitude = ?
WHERE id = ?`,
		mod.NewOrigin.Latitude, mod.NewOrigin.Longitude,
		mod.NewDestination.Latitude, mod.NewDestination.Longitude, mod.OrderID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO order_modifications
(id, order_id, prev_origin_latitude, prev_origin_longitude, prev_dest_latitude, prev_dest_longitude,
 new_origin_latitude, new_origin_longitude, new_dest_latitude, new_dest_longitude, reason, author, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)`,
		mod.ID, mod.OrderID,
		mod.PrevOrigin.Latitude, mod.PrevOrigin.Longitude,
		mod.PrevDestination.Latitude, mod.PrevDestination.Longitude,
		mod.NewOrigin.Latitude, mod.NewOrigin.Longitude,
		mod.NewDestination.Latitude, mod.NewDestination.Longitude,
		mod.Reason, mod.Author)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ListModifications returns the audit log for an order, oldest first.
func (r *OrderRepository) ListModifications(ctx context.Context, orderID string) ([]models.OrderModification, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT id, order_id,
prev_origin_latitude, prev_origin_longitude, prev_dest_latitude, prev_dest_longitude,
new_origin_latitude, new_origin_longitude, new_dest_latitude, new_dest_longitude,
reason, author, created_at
FROM order_modifications WHERE order_id = ? ORDER BY created_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.OrderModification
	for rows.Next() {
		var m models.OrderModification
		if err := rows.Scan(&m.ID, &m.OrderID,
			&m.PrevOrigin.Latitude, &m.PrevOrigin.Longitude,
			&m.PrevDestination.Latitude, &m.PrevDestination.Longitude,
			&m.NewOrigin.Latitude, &m.NewOrigin.Longitude,
			&m.NewDestination.Latitude, &m.NewDestination.Longitude,
			&m.Reason, &m.Author, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListByStatusWithoutOpenJob finds orders in the given status that have no
// pending or assigned job. The reconciler uses it to bridge order creation and
// the scheduler.
func (r *OrderRepository) ListByStatusWithoutOpenJob(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
SELECT `+prefixed(orderColumns, "o.")+`
FROM orders o
LEFT JOIN jobs j ON j.order_id = o.id AND j.status IN ('pending','assigned')
WHERE o.status = ? AND j.id IS NULL
ORDER BY o.created_at ASC, o.id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// ListByUserPage returns a page of a user's orders, newest first, with keyset
// pagination on (created_at, id).
func (r *OrderRepository) ListByUserPage(ctx context.Context, userID string, pageSize int, after time.Time, afterID string) ([]models.Order, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rows *sql.Rows
	var err error
	if !after.IsZero() && afterID != "" {
		rows, err = r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
WHERE user_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))
ORDER BY created_at DESC, id DESC LIMIT ?`, userID, after, after, afterID, pageSize)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, pageSize)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

func prefixed(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanOrderRows(rows *sql.Rows) ([]models.Order, error) {
	var out []models.Order
	for rows.Next() {
		o, err := scanOrderFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOrderFrom(row rowScanner) (*models.Order, error) {
	var o models.Order
	var status, specialHandling string
	var originAlt, destAlt sql.NullFloat64
	var originAddr, destAddr, desc, droneID, failReason sql.NullString
	var actualPickup, actualDelivery, scheduledPickup, cancelledAt sql.NullTime
	err := row.Scan(&o.ID, &o.UserID, &status,
		&o.Origin.Latitude, &o.Origin.Longitude, &originAlt, &originAddr,
		&o.Destination.Latitude, &o.Destination.Longitude, &destAlt, &destAddr,
		&o.Package.WeightKg, &o.Package.LengthCm, &o.Package.WidthCm, &o.Package.HeightCm, &o.Package.Fragile,
		&desc, &specialHandling,
		&droneID, &o.Cost, &o.EstimatedPickupTime, &o.EstimatedDeliveryTime,
		&actualPickup, &actualDelivery, &scheduledPickup, &failReason, &cancelledAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.Origin.Altitude = nullFloat(originAlt)
	o.Origin.Address = nullString(originAddr)
	o.Destination.Altitude = nullFloat(destAlt)
	o.Destination.Address = nullString(destAddr)
	o.Package.Description = nullString(desc)
	if specialHandling != "" {
		o.Package.SpecialHandling = strings.Split(specialHandling, ",")
	}
	o.AssignedDroneID = nullString(droneID)
	o.ActualPickupTime = nullTime(actualPickup)
	o.ActualDeliveryTime = nullTime(actualDelivery)
	o.ScheduledPickupTime = nullTime(scheduledPickup)
	o.FailureReason = nullString(failReason)
	o.CancelledAt = nullTime(cancelledAt)
	return &o, nil
}
