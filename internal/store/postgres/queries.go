package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/carts/internal/model"
)

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// eventColumns is the column order expected by scanEvent. It reads from an
// alias e (the events table or an INSERT ... RETURNING CTE) joined with
// eventJoins.
const eventColumns = `e.id, e.device_id, e.client_id,
	e.operation_id, op.description,
	e.obstacle_id, ob.description,
	e.speed_id, sp.description,
	e.created_at`

const eventJoins = `
	LEFT JOIN operations op ON op.id = e.operation_id
	LEFT JOIN obstacles ob ON ob.id = e.obstacle_id
	LEFT JOIN speeds sp ON sp.id = e.speed_id`

func queryInsertEvent(ctx context.Context, db executor, e *model.Event) error {
	row := db.QueryRowContext(ctx, `
		WITH e AS (
			INSERT INTO events (device_id, client_id, operation_id, obstacle_id, speed_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, device_id, client_id, operation_id, obstacle_id, speed_id, created_at
		)
		SELECT `+eventColumns+` FROM e`+eventJoins,
		e.DeviceID, e.ClientID, e.Operation, nullInt64Ptr(e.Obstacle), nullInt64Ptr(e.Speed),
	)
	return scanEventInto(row, e)
}

func queryInsertSequence(ctx context.Context, db executor, seq *model.Sequence) error {
	steps, err := json.Marshal(seq.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO sequences (name, steps, client_id)
		VALUES ($1, $2, $3)
		RETURNING id, active, created_at`,
		seq.Name, steps, seq.ClientID,
	).Scan(&seq.ID, &seq.Active, &seq.CreatedAt)
}

func queryLatestEvent(ctx context.Context, db executor, deviceID int64) (*model.Event, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events e`+eventJoins+`
		WHERE e.device_id = $1
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT 1`, deviceID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}

func queryLatestEvents(ctx context.Context, db executor, deviceID int64, n int) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events e`+eventJoins+`
		WHERE e.device_id = $1
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT $2`, deviceID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func queryListEventsAfter(ctx context.Context, db executor, afterID int64, limit int) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events e`+eventJoins+`
		WHERE e.id > $1
		ORDER BY e.id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}
