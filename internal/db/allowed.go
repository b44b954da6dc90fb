package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AllowedVehicle is an allow-list entry keyed by plate.
type AllowedVehicle struct {
	Plate          string `json:"plate"`
	OwnerName      string `json:"owner_name"`
	VehicleType    string `json:"vehicle_type"`
	Notes          string `json:"notes"`
	AddedUnixNanos int64  `json:"added_unix_nanos"`
}

// AddAllowedVehicle inserts or replaces an allow-list entry.
func (db *DB) AddAllowedVehicle(ctx context.Context, v *AllowedVehicle) error {
	if v.Plate == "" {
		return fmt.Errorf("add allowed vehicle: empty plate")
	}
	if v.AddedUnixNanos == 0 {
		v.AddedUnixNanos = time.Now().UnixNano()
	}

	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO allowed_vehicles
			(plate, owner_name, vehicle_type, notes, added_unix_nanos)
		VALUES (?, ?, ?, ?, ?)`,
		v.Plate, v.OwnerName, v.VehicleType, v.Notes, v.AddedUnixNanos,
	)
	if err != nil {
		return fmt.Errorf("add allowed vehicle %s: %w", v.Plate, err)
	}
	return nil
}

// RemoveAllowedVehicle deletes an allow-list entry and reports whether it
// existed.
func (db *DB) RemoveAllowedVehicle(ctx context.Context, plate string) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM allowed_vehicles WHERE plate = ?`, plate)
	if err != nil {
		return false, fmt.Errorf("remove allowed vehicle %s: %w", plate, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AllowedVehicles lists the allow-list ordered by plate.
func (db *DB) AllowedVehicles(ctx context.Context) ([]AllowedVehicle, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT plate, owner_name, vehicle_type, notes, added_unix_nanos
		FROM allowed_vehicles ORDER BY plate`)
	if err != nil {
		return nil, fmt.Errorf("query allowed vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []AllowedVehicle
	for rows.Next() {
		var v AllowedVehicle
		if err := rows.Scan(&v.Plate, &v.OwnerName, &v.VehicleType, &v.Notes, &v.AddedUnixNanos); err != nil {
			return nil, fmt.Errorf("scan allowed vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// LookupAllowed returns the allow-list entry for plate, if any.
func (db *DB) LookupAllowed(ctx context.Context, plate string) (*AllowedVehicle, bool, error) {
	var v AllowedVehicle
	err := db.QueryRowContext(ctx, `
		SELECT plate, owner_name, vehicle_type, notes, added_unix_nanos
		FROM allowed_vehicles WHERE plate = ?`, plate,
	).Scan(&v.Plate, &v.OwnerName, &v.VehicleType, &v.Notes, &v.AddedUnixNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup allowed vehicle %s: %w", plate, err)
	}
	return &v, true, nil
}
