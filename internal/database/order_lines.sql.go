package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const deleteOrderLineModifiersByOrder = `-- name: DeleteOrderLineModifiersByOrder :exec
DELETE FROM order_line_modifiers
WHERE order_line_id IN (SELECT id FROM order_lines WHERE order_id = $1)`

func (q *Queries) DeleteOrderLineModifiersByOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteOrderLineModifiersByOrder, orderID)
	return err
}

const deleteOrderLinesByOrder = `-- name: DeleteOrderLinesByOrder :exec
DELETE FROM order_lines
WHERE order_id = $1`

func (q *Queries) DeleteOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteOrderLinesByOrder, orderID)
	return err
}

const createOrderLine = `-- name: CreateOrderLine :one
INSERT INTO order_lines (order_id, position, product_ref, product_name, quantity, unit_price, note)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, order_id, position, product_ref, product_name, quantity, unit_price, line_total, note, created_at`

type CreateOrderLineParams struct {
	OrderID     uuid.UUID      `json:"order_id"`
	Position    int32          `json:"position"`
	ProductRef  string         `json:"product_ref"`
	ProductName string         `json:"product_name"`
	Quantity    int32          `json:"quantity"`
	UnitPrice   pgtype.Numeric `json:"unit_price"`
	Note        pgtype.Text    `json:"note"`
}

func (q *Queries) CreateOrderLine(ctx context.Context, arg CreateOrderLineParams) (OrderLine, error) {
	row := q.db.QueryRow(ctx, createOrderLine,
		arg.OrderID,
		arg.Position,
		arg.ProductRef,
		arg.ProductName,
		arg.Quantity,
		arg.UnitPrice,
		arg.Note,
	)
	return scanOrderLine(row)
}

func scanOrderLine(row interface{ Scan(...any) error }) (OrderLine, error) {
	var i OrderLine
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.Position,
		&i.ProductRef,
		&i.ProductName,
		&i.Quantity,
		&i.UnitPrice,
		&i.LineTotal,
		&i.Note,
		&i.CreatedAt,
	)
	return i, err
}

const createOrderLineModifier = `-- name: CreateOrderLineModifier :one
INSERT INTO order_line_modifiers (order_line_id, position, modifier_ref, display_name, quantity, unit_price, status, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, order_line_id, position, modifier_ref, display_name, quantity, unit_price, status, note, created_at`

type CreateOrderLineModifierParams struct {
	OrderLineID uuid.UUID      `json:"order_line_id"`
	Position    int32          `json:"position"`
	ModifierRef string         `json:"modifier_ref"`
	DisplayName string         `json:"display_name"`
	Quantity    int32          `json:"quantity"`
	UnitPrice   pgtype.Numeric `json:"unit_price"`
	Status      string         `json:"status"`
	Note        pgtype.Text    `json:"note"`
}

func (q *Queries) CreateOrderLineModifier(ctx context.Context, arg CreateOrderLineModifierParams) (OrderLineModifier, error) {
	row := q.db.QueryRow(ctx, createOrderLineModifier,
		arg.OrderLineID,
		arg.Position,
		arg.ModifierRef,
		arg.DisplayName,
		arg.Quantity,
		arg.UnitPrice,
		arg.Status,
		arg.Note,
	)
	return scanOrderLineModifier(row)
}

func scanOrderLineModifier(row interface{ Scan(...any) error }) (OrderLineModifier, error) {
	var i OrderLineModifier
	err := row.Scan(
		&i.ID,
		&i.OrderLineID,
		&i.Position,
		&i.ModifierRef,
		&i.DisplayName,
		&i.Quantity,
		&i.UnitPrice,
		&i.Status,
		&i.Note,
		&i.CreatedAt,
	)
	return i, err
}

const listOrderLinesByOrder = `-- name: ListOrderLinesByOrder :many
SELECT id, order_id, position, product_ref, product_name, quantity, unit_price, line_total, note, created_at
FROM order_lines
WHERE order_id = $1
ORDER BY position, created_at`

func (q *Queries) ListOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, listOrderLinesByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderLine{}
	for rows.Next() {
		i, err := scanOrderLine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listOrderLineModifiersByOrder = `-- name: ListOrderLineModifiersByOrder :many
SELECT m.id, m.order_line_id, m.position, m.modifier_ref, m.display_name, m.quantity, m.unit_price, m.status, m.note, m.created_at
FROM order_line_modifiers m
JOIN order_lines l ON l.id = m.order_line_id
WHERE l.order_id = $1
ORDER BY l.position, m.position`

func (q *Queries) ListOrderLineModifiersByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderLineModifier, error) {
	rows, err := q.db.Query(ctx, listOrderLineModifiersByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderLineModifier{}
	for rows.Next() {
		i, err := scanOrderLineModifier(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getOrderLineForUpdate = `-- name: GetOrderLineForUpdate :one
SELECT l.id, l.order_id, o.establishment_id, o.service_point_id, o.status
FROM order_lines l
JOIN orders o ON o.id = l.order_id
WHERE l.id = $1
FOR UPDATE OF o`

type GetOrderLineForUpdateRow struct {
	ID              uuid.UUID `json:"id"`
	OrderID         uuid.UUID `json:"order_id"`
	EstablishmentID uuid.UUID `json:"establishment_id"`
	ServicePointID  uuid.UUID `json:"service_point_id"`
	OrderStatus     string    `json:"order_status"`
}

// GetOrderLineForUpdate locks the parent order of a line.
func (q *Queries) GetOrderLineForUpdate(ctx context.Context, id uuid.UUID) (GetOrderLineForUpdateRow, error) {
	row := q.db.QueryRow(ctx, getOrderLineForUpdate, id)
	var i GetOrderLineForUpdateRow
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.EstablishmentID,
		&i.ServicePointID,
		&i.OrderStatus,
	)
	return i, err
}

const deleteOrderLine = `-- name: DeleteOrderLine :exec
DELETE FROM order_lines
WHERE id = $1`

func (q *Queries) DeleteOrderLine(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteOrderLine, id)
	return err
}
