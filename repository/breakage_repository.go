package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"droneDispatch/models"
)

// BreakageRepository is the append-only fault log.
type BreakageRepository struct {
	db *sql.DB
}

func NewBreakageRepository(db *sql.DB) *BreakageRepository {
	return &BreakageRepository{db: db}
}

const breakageColumns = `id, drone_id, latitude, longitude, altitude, address, issue, severity,
was_carrying_order, order_id, created_at, resolved_at, resolution_notes`

// Create records a reported fault.
func (r *BreakageRepository) Create(ctx context.Context, e *models.BreakageEvent) (*models.BreakageEvent, error) {
	if e == nil {
		return nil, errors.New("breakage event is nil")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Severity == "" {
		e.Severity = models.SeverityMedium
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `INSERT INTO breakage_events
(id, drone_id, latitude, longitude, altitude, address, issue, severity, was_carrying_order, order_id, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.DroneID, e.Location.Latitude, e.Location.Longitude, e.Location.Altitude, e.Location.Address,
		e.Issue, string(e.Severity), e.WasCarryingOrder, e.OrderID, e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListOpenByDrone returns unresolved events for a drone, newest first.
func (r *BreakageRepository) ListOpenByDrone(ctx context.Context, droneID string) ([]models.BreakageEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+breakageColumns+` FROM breakage_events
WHERE drone_id = ? AND resolved_at IS NULL ORDER BY created_at DESC, id DESC`, droneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBreakageRows(rows)
}

// LatestOpenByOrder returns the newest unresolved event referencing the order;
// (nil, nil) when none. The reconciler uses it to recover a rescue pickup site.
func (r *BreakageRepository) LatestOpenByOrder(ctx context.Context, orderID string) (*models.BreakageEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+breakageColumns+` FROM breakage_events
WHERE order_id = ? AND resolved_at IS NULL ORDER BY created_at DESC, id DESC LIMIT 1`, orderID)
	e, err := scanBreakageFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ResolveAllForDrone closes every open event for a drone, stamping the
// resolution time and notes. Called when an operator repairs the drone.
func (r *BreakageRepository) ResolveAllForDrone(ctx context.Context, droneID string, at time.Time, notes string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var n *string
	if notes != "" {
		n = &notes
	}
	_, err := r.db.ExecContext(ctx, `UPDATE breakage_events SET resolved_at = ?, resolution_notes = ?
WHERE drone_id = ? AND resolved_at IS NULL`, at, n, droneID)
	return err
}

func scanBreakageRows(rows *sql.Rows) ([]models.BreakageEvent, error) {
	var out []models.BreakageEvent
	for rows.Next() {
		e, err := scanBreakageFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanBreakageFrom(row rowScanner) (*models.BreakageEvent, error) {
	var e models.BreakageEvent
	var severity string
	var alt sql.NullFloat64
	var addr, orderID, notes sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&e.ID, &e.DroneID, &e.Location.Latitude, &e.Location.Longitude, &alt, &addr,
		&e.Issue, &severity, &e.WasCarryingOrder, &orderID, &e.CreatedAt, &resolvedAt, &notes)
	if err != nil {
		return nil, err
	}
	e.Severity = models.Severity(severity)
	e.Location.Altitude = nullFloat(alt)
	e.Location.Address = nullString(addr)
	e.OrderID = nullString(orderID)
	e.ResolvedAt = nullTime(resolvedAt)
	e.ResolutionNotes = nullString(notes)
	return &e, nil
}
