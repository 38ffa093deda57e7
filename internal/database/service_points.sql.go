package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const getPointLayout = `-- name: GetPointLayout :one
SELECT establishment_id, tables_enabled, tabs_enabled, table_count, tab_count, tab_prefix, updated_at
FROM point_layouts
WHERE establishment_id = $1`

func (q *Queries) GetPointLayout(ctx context.Context, establishmentID uuid.UUID) (PointLayout, error) {
	row := q.db.QueryRow(ctx, getPointLayout, establishmentID)
	var i PointLayout
	err := row.Scan(
		&i.EstablishmentID,
		&i.TablesEnabled,
		&i.TabsEnabled,
		&i.TableCount,
		&i.TabCount,
		&i.TabPrefix,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertPointLayout = `-- name: UpsertPointLayout :one
INSERT INTO point_layouts (establishment_id, tables_enabled, tabs_enabled, table_count, tab_count, tab_prefix)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (establishment_id) DO UPDATE
SET tables_enabled = EXCLUDED.tables_enabled,
    tabs_enabled = EXCLUDED.tabs_enabled,
    table_count = EXCLUDED.table_count,
    tab_count = EXCLUDED.tab_count,
    tab_prefix = EXCLUDED.tab_prefix,
    updated_at = now()
RETURNING establishment_id, tables_enabled, tabs_enabled, table_count, tab_count, tab_prefix, updated_at`

type UpsertPointLayoutParams struct {
	EstablishmentID uuid.UUID `json:"establishment_id"`
	TablesEnabled   bool      `json:"tables_enabled"`
	TabsEnabled     bool      `json:"tabs_enabled"`
	TableCount      int32     `json:"table_count"`
	TabCount        int32     `json:"tab_count"`
	TabPrefix       string    `json:"tab_prefix"`
}

func (q *Queries) UpsertPointLayout(ctx context.Context, arg UpsertPointLayoutParams) (PointLayout, error) {
	row := q.db.QueryRow(ctx, upsertPointLayout,
		arg.EstablishmentID,
		arg.TablesEnabled,
		arg.TabsEnabled,
		arg.TableCount,
		arg.TabCount,
		arg.TabPrefix,
	)
	var i PointLayout
	err := row.Scan(
		&i.EstablishmentID,
		&i.TablesEnabled,
		&i.TabsEnabled,
		&i.TableCount,
		&i.TabCount,
		&i.TabPrefix,
		&i.UpdatedAt,
	)
	return i, err
}

const servicePointColumns = `id, establishment_id, identifier, status, label, opened_at, updated_at`

func scanServicePoint(row interface{ Scan(...any) error }) (ServicePoint, error) {
	var i ServicePoint
	err := row.Scan(
		&i.ID,
		&i.EstablishmentID,
		&i.Identifier,
		&i.Status,
		&i.Label,
		&i.OpenedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const ensureServicePoint = `-- name: EnsureServicePoint :one
INSERT INTO service_points (establishment_id, identifier, label, status, opened_at)
VALUES ($1, $2, $3, 'opened', now())
ON CONFLICT (establishment_id, identifier) DO UPDATE
SET label = COALESCE(EXCLUDED.label, service_points.label),
    status = CASE WHEN service_points.status IN ('idle', 'settled') THEN 'opened' ELSE service_points.status END,
    opened_at = CASE WHEN service_points.status IN ('idle', 'settled') THEN now() ELSE service_points.opened_at END,
    updated_at = now()
RETURNING id, establishment_id, identifier, status, label, opened_at, updated_at, (xmax = 0) AS inserted`

type EnsureServicePointParams struct {
	EstablishmentID uuid.UUID   `json:"establishment_id"`
	Identifier      string      `json:"identifier"`
	Label           pgtype.Text `json:"label"`
}

type EnsureServicePointRow struct {
	ServicePoint
	Inserted bool `json:"inserted"`
}

// EnsureServicePoint materializes a point or touches the existing row. Either
// way the row stays locked until the surrounding transaction ends.
func (q *Queries) EnsureServicePoint(ctx context.Context, arg EnsureServicePointParams) (EnsureServicePointRow, error) {
	row := q.db.QueryRow(ctx, ensureServicePoint, arg.EstablishmentID, arg.Identifier, arg.Label)
	var i EnsureServicePointRow
	err := row.Scan(
		&i.ID,
		&i.EstablishmentID,
		&i.Identifier,
		&i.Status,
		&i.Label,
		&i.OpenedAt,
		&i.UpdatedAt,
		&i.Inserted,
	)
	return i, err
}

const getServicePoint = `-- name: GetServicePoint :one
SELECT ` + servicePointColumns + `
FROM service_points
WHERE establishment_id = $1 AND identifier = $2`

type GetServicePointParams struct {
	EstablishmentID uuid.UUID `json:"establishment_id"`
	Identifier      string    `json:"identifier"`
}

func (q *Queries) GetServicePoint(ctx context.Context, arg GetServicePointParams) (ServicePoint, error) {
	row := q.db.QueryRow(ctx, getServicePoint, arg.EstablishmentID, arg.Identifier)
	return scanServicePoint(row)
}

const getServicePointByID = `-- name: GetServicePointByID :one
SELECT ` + servicePointColumns + `
FROM service_points
WHERE id = $1`

func (q *Queries) GetServicePointByID(ctx context.Context, id uuid.UUID) (ServicePoint, error) {
	row := q.db.QueryRow(ctx, getServicePointByID, id)
	return scanServicePoint(row)
}

const getServicePointForUpdate = `-- name: GetServicePointForUpdate :one
SELECT ` + servicePointColumns + `
FROM service_points
WHERE establishment_id = $1 AND identifier = $2
FOR UPDATE`

type GetServicePointForUpdateParams struct {
	EstablishmentID uuid.UUID `json:"establishment_id"`
	Identifier      string    `json:"identifier"`
}

func (q *Queries) GetServicePointForUpdate(ctx context.Context, arg GetServicePointForUpdateParams) (ServicePoint, error) {
	row := q.db.QueryRow(ctx, getServicePointForUpdate, arg.EstablishmentID, arg.Identifier)
	return scanServicePoint(row)
}

const markServicePointInUse = `-- name: MarkServicePointInUse :one
UPDATE service_points
SET label = $2,
    status = $3,
    opened_at = COALESCE(opened_at, now()),
    updated_at = now()
WHERE id = $1
RETURNING ` + servicePointColumns

type MarkServicePointInUseParams struct {
	ID     uuid.UUID   `json:"id"`
	Label  pgtype.Text `json:"label"`
	Status string      `json:"status"`
}

func (q *Queries) MarkServicePointInUse(ctx context.Context, arg MarkServicePointInUseParams) (ServicePoint, error) {
	row := q.db.QueryRow(ctx, markServicePointInUse, arg.ID, arg.Label, arg.Status)
	return scanServicePoint(row)
}

const resetServicePoint = `-- name: ResetServicePoint :one
UPDATE service_points
SET status = $2,
    label = NULL,
    opened_at = NULL,
    updated_at = now()
WHERE id = $1
RETURNING ` + servicePointColumns

type ResetServicePointParams struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// ResetServicePoint returns a point to a free state (idle or settled).
func (q *Queries) ResetServicePoint(ctx context.Context, arg ResetServicePointParams) (ServicePoint, error) {
	row := q.db.QueryRow(ctx, resetServicePoint, arg.ID, arg.Status)
	return scanServicePoint(row)
}

const setServicePointStatus = `-- name: SetServicePointStatus :one
UPDATE service_points
SET status = $2,
    opened_at = CASE WHEN $2 IN ('idle', 'settled') THEN NULL ELSE COALESCE(opened_at, now()) END,
    updated_at = now()
WHERE id = $1
RETURNING ` + servicePointColumns

type SetServicePointStatusParams struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

func (q *Queries) SetServicePointStatus(ctx context.Context, arg SetServicePointStatusParams) (ServicePoint, error) {
	row := q.db.QueryRow(ctx, setServicePointStatus, arg.ID, arg.Status)
	return scanServicePoint(row)
}

const listServicePointOverlay = `-- name: ListServicePointOverlay :many
SELECT sp.id, sp.establishment_id, sp.identifier, sp.status, sp.label, sp.opened_at, sp.updated_at,
       o.id AS order_id, o.status AS order_status, o.sequence_code, o.total
FROM service_points sp
LEFT JOIN LATERAL (
    SELECT id, status, sequence_code, total
    FROM orders
    WHERE service_point_id = sp.id
    ORDER BY created_at DESC, id DESC
    LIMIT 1
) o ON TRUE
WHERE sp.establishment_id = $1
ORDER BY sp.identifier`

type ListServicePointOverlayRow struct {
	ServicePoint
	OrderID      pgtype.UUID    `json:"order_id"`
	OrderStatus  pgtype.Text    `json:"order_status"`
	SequenceCode pgtype.Text    `json:"sequence_code"`
	Total        pgtype.Numeric `json:"total"`
}

// ListServicePointOverlay returns every materialized point of an establishment
// joined with its most recent order, if any.
func (q *Queries) ListServicePointOverlay(ctx context.Context, establishmentID uuid.UUID) ([]ListServicePointOverlayRow, error) {
	rows, err := q.db.Query(ctx, listServicePointOverlay, establishmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ListServicePointOverlayRow{}
	for rows.Next() {
		var i ListServicePointOverlayRow
		if err := rows.Scan(
			&i.ID,
			&i.EstablishmentID,
			&i.Identifier,
			&i.Status,
			&i.Label,
			&i.OpenedAt,
			&i.UpdatedAt,
			&i.OrderID,
			&i.OrderStatus,
			&i.SequenceCode,
			&i.Total,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
