package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, establishment_id, service_point_id, cash_session_id, status, sequence_code,
    client_ref, payment_method_ref, actor_ref, channel, total, created_at, updated_at, finalized_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.EstablishmentID,
		&i.ServicePointID,
		&i.CashSessionID,
		&i.Status,
		&i.SequenceCode,
		&i.ClientRef,
		&i.PaymentMethodRef,
		&i.ActorRef,
		&i.Channel,
		&i.Total,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.FinalizedAt,
	)
	return i, err
}

const getLatestOrderForPoint = `-- name: GetLatestOrderForPoint :one
SELECT ` + orderColumns + `
FROM orders
WHERE service_point_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`

func (q *Queries) GetLatestOrderForPoint(ctx context.Context, servicePointID uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, getLatestOrderForPoint, servicePointID)
	return scanOrder(row)
}

const getPendingOrderForPointForUpdate = `-- name: GetPendingOrderForPointForUpdate :one
SELECT ` + orderColumns + `
FROM orders
WHERE service_point_id = $1 AND status = 'pending'
FOR UPDATE`

func (q *Queries) GetPendingOrderForPointForUpdate(ctx context.Context, servicePointID uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, getPendingOrderForPointForUpdate, servicePointID)
	return scanOrder(row)
}

const lockSessionSequence = `-- name: LockSessionSequence :exec
SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`

// LockSessionSequence serializes sequence code assignment within one cash
// session. Released at commit or rollback.
func (q *Queries) LockSessionSequence(ctx context.Context, cashSessionID uuid.UUID) error {
	_, err := q.db.Exec(ctx, lockSessionSequence, cashSessionID)
	return err
}

const getMaxSequenceCode = `-- name: GetMaxSequenceCode :one
SELECT COALESCE(MAX(sequence_code::integer), 0)::integer
FROM orders
WHERE cash_session_id = $1 AND status IN ('pending', 'finalized')`

func (q *Queries) GetMaxSequenceCode(ctx context.Context, cashSessionID uuid.UUID) (int32, error) {
	row := q.db.QueryRow(ctx, getMaxSequenceCode, cashSessionID)
	var maxCode int32
	err := row.Scan(&maxCode)
	return maxCode, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    establishment_id, service_point_id, cash_session_id, sequence_code,
    client_ref, payment_method_ref, actor_ref, channel
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	EstablishmentID  uuid.UUID   `json:"establishment_id"`
	ServicePointID   uuid.UUID   `json:"service_point_id"`
	CashSessionID    pgtype.UUID `json:"cash_session_id"`
	SequenceCode     string      `json:"sequence_code"`
	ClientRef        pgtype.Text `json:"client_ref"`
	PaymentMethodRef pgtype.Text `json:"payment_method_ref"`
	ActorRef         uuid.UUID   `json:"actor_ref"`
	Channel          string      `json:"channel"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.EstablishmentID,
		arg.ServicePointID,
		arg.CashSessionID,
		arg.SequenceCode,
		arg.ClientRef,
		arg.PaymentMethodRef,
		arg.ActorRef,
		arg.Channel,
	)
	return scanOrder(row)
}

const updateOrderHeader = `-- name: UpdateOrderHeader :one
UPDATE orders
SET cash_session_id = $2,
    sequence_code = $3,
    client_ref = $4,
    payment_method_ref = $5,
    actor_ref = $6,
    channel = $7,
    updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + orderColumns

type UpdateOrderHeaderParams struct {
	ID               uuid.UUID   `json:"id"`
	CashSessionID    pgtype.UUID `json:"cash_session_id"`
	SequenceCode     string      `json:"sequence_code"`
	ClientRef        pgtype.Text `json:"client_ref"`
	PaymentMethodRef pgtype.Text `json:"payment_method_ref"`
	ActorRef         uuid.UUID   `json:"actor_ref"`
	Channel          string      `json:"channel"`
}

func (q *Queries) UpdateOrderHeader(ctx context.Context, arg UpdateOrderHeaderParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderHeader,
		arg.ID,
		arg.CashSessionID,
		arg.SequenceCode,
		arg.ClientRef,
		arg.PaymentMethodRef,
		arg.ActorRef,
		arg.Channel,
	)
	return scanOrder(row)
}

const recalculateOrderTotal = `-- name: RecalculateOrderTotal :one
UPDATE orders
SET total = (
        SELECT COALESCE(SUM(l.line_total), 0)
        FROM order_lines l
        WHERE l.order_id = orders.id
    ) + (
        SELECT COALESCE(SUM(m.quantity * m.unit_price), 0)
        FROM order_line_modifiers m
        JOIN order_lines l ON l.id = m.order_line_id
        WHERE l.order_id = orders.id
    ),
    updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

// RecalculateOrderTotal derives the order total from its persisted lines and
// modifiers. The stored total is never taken from input.
func (q *Queries) RecalculateOrderTotal(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, recalculateOrderTotal, id)
	return scanOrder(row)
}

const finalizeOrder = `-- name: FinalizeOrder :one
UPDATE orders
SET status = 'finalized',
    payment_method_ref = COALESCE($2, payment_method_ref),
    client_ref = COALESCE($3, client_ref),
    actor_ref = $4,
    finalized_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + orderColumns

type FinalizeOrderParams struct {
	ID               uuid.UUID   `json:"id"`
	PaymentMethodRef pgtype.Text `json:"payment_method_ref"`
	ClientRef        pgtype.Text `json:"client_ref"`
	ActorRef         uuid.UUID   `json:"actor_ref"`
}

func (q *Queries) FinalizeOrder(ctx context.Context, arg FinalizeOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, finalizeOrder, arg.ID, arg.PaymentMethodRef, arg.ClientRef, arg.ActorRef)
	return scanOrder(row)
}

const deletePendingOrder = `-- name: DeletePendingOrder :execrows
DELETE FROM orders
WHERE id = $1 AND status = 'pending'`

// DeletePendingOrder never removes finalized history.
func (q *Queries) DeletePendingOrder(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deletePendingOrder, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
