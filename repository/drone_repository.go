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

// DroneRepository is the durable store behind the fleet registry.
type DroneRepository struct {
	db *sql.DB
}

func NewDroneRepository(db *sql.DB) *DroneRepository {
	return &DroneRepository{db: db}
}

const droneColumns = `id, model, status, current_latitude, current_longitude, current_altitude, current_address, current_timestamp_at,
home_latitude, home_longitude, home_altitude, home_address, battery_level, capabilities, max_payload, max_range, speed,
current_order_id, last_heartbeat, total_deliveries, total_flight_time, created_at, last_maintenance_at`

// Create inserts a new drone. Status defaults to 'idle' and the ID is generated
// when empty. A duplicate id surfaces as a constraint error from SQLite.
func (r *DroneRepository) Create(ctx context.Context, d *models.Drone) (*models.Drone, error) {
	if d == nil {
		return nil, errors.New("drone is nil")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = models.DroneStatusIdle
	}
	if d.BatteryLevel == 0 {
		d.BatteryLevel = 100
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO drones
(id, model, status, current_latitude, current_longitude, current_altitude, current_address, current_timestamp_at,
 home_latitude, home_longitude, home_altitude, home_address, battery_level, capabilities, max_payload, max_range, speed,
 current_order_id, last_heartbeat, total_deliveries, total_flight_time, created_at, last_maintenance_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,?)`,
		d.ID, d.Model, string(d.Status),
		d.CurrentLocation.Latitude, d.CurrentLocation.Longitude, d.CurrentLocation.Altitude, d.CurrentLocation.Address, d.CurrentLocation.Timestamp,
		d.HomeBase.Latitude, d.HomeBase.Longitude, d.HomeBase.Altitude, d.HomeBase.Address,
		d.BatteryLevel, strings.Join(d.Capabilities, ","), d.MaxPayloadKg, d.MaxRangeKm, d.SpeedKmh,
		d.CurrentOrderID, d.LastHeartbeat, d.TotalDeliveries, d.TotalFlightTime, d.LastMaintenanceAt)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, d.ID)
}

// GetByID fetches a drone by id; (nil, nil) when absent.
func (r *DroneRepository) GetByID(ctx context.Context, id string) (*models.Drone, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+droneColumns+` FROM drones WHERE id = ?`, id)
	return scanDrone(row)
}

// GetByOrderID fetches the drone currently carrying the given order.
func (r *DroneRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Drone, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+droneColumns+` FROM drones WHERE current_order_id = ?`, orderID)
	return scanDrone(row)
}

// UpdateTelemetry writes one heartbeat's worth of state in a single statement so
// a replayed heartbeat leaves the row identical (last-write-wins).
// flightHours is the in-transit time accrued since the previous heartbeat.
func (r *DroneRepository) UpdateTelemetry(ctx context.Context, id string, loc models.Location, battery int, speed float64, status models.DroneStatus, at time.Time, flightHours float64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE drones SET
current_latitude = ?, current_longitude = ?, current_altitude = ?, current_address = ?, current_timestamp_at = ?,
battery_level = ?, speed = ?, status = ?, last_heartbeat = ?, total_flight_time = total_flight_time + ?
WHERE id = ?`,
		loc.Latitude, loc.Longitude, loc.Altitude, loc.Address, loc.Timestamp,
		battery, speed, string(status), at, flightHours, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStatus sets the stored status of a drone.
func (r *DroneRepository) UpdateStatus(ctx context.Context, id string, status models.DroneStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE drones SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkBroken records the fault status together with the reported location.
// The order reference is left in place; the rescue workflow clears it.
func (r *DroneRepository) MarkBroken(ctx context.Context, id string, loc models.Location) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE drones SET status = ?,
current_latitude = ?, current_longitude = ?, current_altitude = ?, current_address = ?, current_timestamp_at = ?
WHERE id = ?`,
		string(models.DroneStatusBroken),
		loc.Latitude, loc.Longitude, loc.Altitude, loc.Address, loc.Timestamp, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ClearCurrentOrder drops the order back-reference. The status argument lets
// the caller choose the post-release state; delivered counts the delivery.
func (r *DroneRepository) ClearCurrentOrder(ctx context.Context, id string, status models.DroneStatus, delivered bool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	inc := 0
	if delivered {
		inc = 1
	}
	_, err := r.db.ExecContext(ctx, `UPDATE drones SET current_order_id = NULL, status = ?, total_deliveries = total_deliveries + ? WHERE id = ?`,
		string(status), inc, id)
	return err
}

// Repair returns a broken drone to service: status idle, maintenance stamped.
func (r *DroneRepository) Repair(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE drones SET status = ?, last_maintenance_at = ? WHERE id = ?`,
		string(models.DroneStatusIdle), at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a drone. The in-flight guard lives in the fleet service.
func (r *DroneRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM drones WHERE id = ?`, id)
	return err
}

// ListDronesParams contains filters and pagination for List.
type ListDronesParams struct {
	Status   *models.DroneStatus
	PageSize int
	AfterID  string // keyset cursor: last id of the previous page
}

// List returns drones matching filters ordered by id asc with keyset pagination.
func (r *DroneRepository) List(ctx context.Context, p ListDronesParams) ([]models.Drone, error) {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	where := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if p.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.AfterID != "" {
		where = append(where, "id > ?")
		args = append(args, p.AfterID)
	}

	query := `SELECT ` + droneColumns + ` FROM drones`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, p.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Drone
	for rows.Next() {
		d, err := scanDroneFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrone(row *sql.Row) (*models.Drone, error) {
	d, err := scanDroneFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func scanDroneFrom(row rowScanner) (*models.Drone, error) {
	var d models.Drone
	var status, capabilities string
	var curAlt, homeAlt sql.NullFloat64
	var curAddr, homeAddr, orderID sql.NullString
	var curTS, lastHB, lastMaint sql.NullTime
	err := row.Scan(&d.ID, &d.Model, &status,
		&d.CurrentLocation.Latitude, &d.CurrentLocation.Longitude, &curAlt, &curAddr, &curTS,
		&d.HomeBase.Latitude, &d.HomeBase.Longitude, &homeAlt, &homeAddr,
		&d.BatteryLevel, &capabilities, &d.MaxPayloadKg, &d.MaxRangeKm, &d.SpeedKmh,
		&orderID, &lastHB, &d.TotalDeliveries, &d.TotalFlightTime, &d.CreatedAt, &lastMaint)
	if err != nil {
		return nil, err
	}
	d.Status = models.DroneStatus(status)
	d.CurrentLocation.Altitude = nullFloat(curAlt)
	d.CurrentLocation.Address = nullString(curAddr)
	d.CurrentLocation.Timestamp = nullTime(curTS)
	d.HomeBase.Altitude = nullFloat(homeAlt)
	d.HomeBase.Address = nullString(homeAddr)
	if capabilities != "" {
		d.Capabilities = strings.Split(capabilities, ",")
	}
	d.CurrentOrderID = nullString(orderID)
	d.LastHeartbeat = nullTime(lastHB)
	d.LastMaintenanceAt = nullTime(lastMaint)
	return &d, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
