package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"droneDispatch/models"
)

// JobRepository is the durable store behind the job scheduler.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, type, order_id, broken_drone_id, pickup_latitude, pickup_longitude, pickup_altitude, pickup_address,
priority, status, assigned_drone_id, created_at, completed_at`

// priorityOrder serves HIGH before MEDIUM before LOW; FIFO within a tier.
const priorityOrder = `CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at ASC, id ASC`

// Create inserts a new job. The ID is generated when empty; status defaults to
// 'pending'.
func (r *JobRepository) Create(ctx context.Context, j *models.Job) (*models.Job, error) {
	if j == nil {
		return nil, errors.New("job is nil")
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = models.JobStatusPending
	}
	if j.Priority == "" {
		j.Priority = models.PriorityMedium
	}
	if j.CreatedAt.IsZero() {
		// Sub-second precision matters: FIFO tie-breaks within a priority tier
		// would collapse under CURRENT_TIMESTAMP's one-second resolution.
		j.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `INSERT INTO jobs
(id, type, order_id, broken_drone_id, pickup_latitude, pickup_longitude, pickup_altitude, pickup_address, priority, status, assigned_drone_id, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, string(j.Type), j.OrderID, j.BrokenDroneID,
		j.PickupLocation.Latitude, j.PickupLocation.Longitude, j.PickupLocation.Altitude, j.PickupLocation.Address,
		string(j.Priority), string(j.Status), j.AssignedDroneID, j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, j.ID)
}

// GetByID fetches a job by id; (nil, nil) when absent.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJobFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// GetOpenByOrder returns the pending or assigned job for an order, if any.
// At most one open job per order exists at a time.
func (r *JobRepository) GetOpenByOrder(ctx context.Context, orderID string) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs
WHERE order_id = ? AND status IN ('pending','assigned') ORDER BY created_at DESC LIMIT 1`, orderID)
	j, err := scanJobFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// GetAssignedToDrone returns the job a drone is currently working, if any.
func (r *JobRepository) GetAssignedToDrone(ctx context.Context, droneID string) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs
WHERE assigned_drone_id = ? AND status = 'assigned' LIMIT 1`, droneID)
	j, err := scanJobFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// ReserveNext atomically claims the best pending job for a drone: highest
// priority first, FIFO within a tier. The claim is a conditional update keyed
// on status = 'pending', so two concurrent reservations can never win the same
// job; the full claim + order + drone mutation commits as one transaction.
// Returns (nil, nil) when no pending job exists.
func (r *JobRepository) ReserveNext(ctx context.Context, droneID string) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// A claim can lose the race or refer to an order that moved on; retry with
	// the next candidate a few times before reporting an empty queue.
	for attempt := 0; attempt < 3; attempt++ {
		j, done, err := r.reserveOnce(ctx, droneID)
		if err != nil {
			return nil, err
		}
		if done {
			return j, nil
		}
	}
	return nil, nil
}

func (r *JobRepository) reserveOnce(ctx context.Context, droneID string) (*models.Job, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY `+priorityOrder+` LIMIT 1`)
	j, err := scanJobFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, true, nil // queue empty
		}
		return nil, false, err
	}

	// Single-writer-wins claim.
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'assigned', assigned_drone_id = ? WHERE id = ? AND status = 'pending'`,
		droneID, j.ID)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, false, nil // lost the race, retry
	}

	// Bind the order. Delivery jobs come from pending orders, rescue jobs from
	// awaiting_rescue ones.
	res, err = tx.ExecContext(ctx, `UPDATE orders SET status = 'assigned', assigned_drone_id = ?
WHERE id = ? AND status IN ('pending','awaiting_rescue')`, droneID, j.OrderID)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Order already moved on (e.g. cancelled): retire the stale job and
		// let the caller try the next candidate.
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'cancelled', assigned_drone_id = NULL WHERE id = ?`, j.ID); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	// Occupy the drone. The guard re-checks eligibility under the transaction.
	res, err = tx.ExecContext(ctx, `UPDATE drones SET current_order_id = ?, status = 'in_transit'
WHERE id = ? AND current_order_id IS NULL AND status != 'broken'`, j.OrderID, droneID)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, false, errors.New("drone not eligible for assignment")
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	j.Status = models.JobStatusAssigned
	j.AssignedDroneID = &droneID
	return j, true, nil
}

// Complete closes an assigned job.
func (r *JobRepository) Complete(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed', completed_at = ? WHERE id = ? AND status = 'assigned'`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CancelOpenByOrder cancels any pending or assigned job for the order.
func (r *JobRepository) CancelOpenByOrder(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = 'cancelled', assigned_drone_id = NULL
WHERE order_id = ? AND status IN ('pending','assigned')`, orderID)
	return err
}

// ListPending returns the pending queue in scheduling order, mainly for
// operator inspection and tests.
func (r *JobRepository) ListPending(ctx context.Context) ([]models.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY `+priorityOrder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		j, err := scanJobFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func scanJobFrom(row rowScanner) (*models.Job, error) {
	var j models.Job
	var typ, priority, status string
	var brokenDrone, assignedDrone, pickupAddr sql.NullString
	var pickupAlt sql.NullFloat64
	var completedAt sql.NullTime
	err := row.Scan(&j.ID, &typ, &j.OrderID, &brokenDrone,
		&j.PickupLocation.Latitude, &j.PickupLocation.Longitude, &pickupAlt, &pickupAddr,
		&priority, &status, &assignedDrone, &j.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	j.Type = models.JobType(typ)
	j.Priority = models.Priority(priority)
	j.Status = models.JobStatus(status)
	j.BrokenDroneID = nullString(brokenDrone)
	j.AssignedDroneID = nullString(assignedDrone)
	j.PickupLocation.Altitude = nullFloat(pickupAlt)
	j.PickupLocation.Address = nullString(pickupAddr)
	j.CompletedAt = nullTime(completedAt)
	return &j, nil
}
