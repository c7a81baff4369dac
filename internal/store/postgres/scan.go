package postgres

import (
	"database/sql"

	"github.com/alfredjeanlab/carts/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	if err := scanEventInto(row, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// scanEventInto is scanEvent writing into an existing event, so an insert can
// fill in the caller's value.
func scanEventInto(row scannable, e *model.Event) error {
	var (
		operationText sql.NullString
		obstacle      sql.NullInt64
		obstacleText  sql.NullString
		speed         sql.NullInt64
		speedText     sql.NullString
	)

	err := row.Scan(
		&e.ID,
		&e.DeviceID,
		&e.ClientID,
		&e.Operation,
		&operationText,
		&obstacle,
		&obstacleText,
		&speed,
		&speedText,
		&e.Timestamp,
	)
	if err != nil {
		return err
	}

	e.OperationText = stringPtr(operationText)
	e.Obstacle = int64Ptr(obstacle)
	e.ObstacleText = stringPtr(obstacleText)
	e.Speed = int64Ptr(speed)
	e.SpeedText = stringPtr(speedText)
	return nil
}

// scanEvents scans all rows into a non-nil slice of events.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	events := []*model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}

// nullInt64Ptr converts an optional code to a driver value.
func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
