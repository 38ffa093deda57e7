package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const cashSessionColumns = `id, establishment_id, opening_float, manual_in, manual_out, finalized_orders,
    opened_by, opened_at, closed_at, closing_count, balance, variance, total_sales, closed_by`

func scanCashSession(row interface{ Scan(...any) error }) (CashSession, error) {
	var i CashSession
	err := row.Scan(
		&i.ID,
		&i.EstablishmentID,
		&i.OpeningFloat,
		&i.ManualIn,
		&i.ManualOut,
		&i.FinalizedOrders,
		&i.OpenedBy,
		&i.OpenedAt,
		&i.ClosedAt,
		&i.ClosingCount,
		&i.Balance,
		&i.Variance,
		&i.TotalSales,
		&i.ClosedBy,
	)
	return i, err
}

const createCashSession = `-- name: CreateCashSession :one
INSERT INTO cash_sessions (establishment_id, opening_float, opened_by)
VALUES ($1, $2, $3)
RETURNING ` + cashSessionColumns

type CreateCashSessionParams struct {
	EstablishmentID uuid.UUID      `json:"establishment_id"`
	OpeningFloat    pgtype.Numeric `json:"opening_float"`
	OpenedBy        uuid.UUID      `json:"opened_by"`
}

func (q *Queries) CreateCashSession(ctx context.Context, arg CreateCashSessionParams) (CashSession, error) {
	row := q.db.QueryRow(ctx, createCashSession, arg.EstablishmentID, arg.OpeningFloat, arg.OpenedBy)
	return scanCashSession(row)
}

const getOpenCashSession = `-- name: GetOpenCashSession :one
SELECT ` + cashSessionColumns + `
FROM cash_sessions
WHERE establishment_id = $1 AND closed_at IS NULL`

func (q *Queries) GetOpenCashSession(ctx context.Context, establishmentID uuid.UUID) (CashSession, error) {
	row := q.db.QueryRow(ctx, getOpenCashSession, establishmentID)
	return scanCashSession(row)
}

const getOpenCashSessionForUpdate = `-- name: GetOpenCashSessionForUpdate :one
SELECT ` + cashSessionColumns + `
FROM cash_sessions
WHERE establishment_id = $1 AND closed_at IS NULL
FOR UPDATE`

// GetOpenCashSessionForUpdate locks the open session row. Used by movements
// and close, which must not interleave with each other or with upserts.
func (q *Queries) GetOpenCashSessionForUpdate(ctx context.Context, establishmentID uuid.UUID) (CashSession, error) {
	row := q.db.QueryRow(ctx, getOpenCashSessionForUpdate, establishmentID)
	return scanCashSession(row)
}

const getOpenCashSessionForShare = `-- name: GetOpenCashSessionForShare :one
SELECT ` + cashSessionColumns + `
FROM cash_sessions
WHERE establishment_id = $1 AND closed_at IS NULL
FOR SHARE`

// GetOpenCashSessionForShare holds the session open for the rest of the
// transaction: a concurrent close waits until the caller commits.
func (q *Queries) GetOpenCashSessionForShare(ctx context.Context, establishmentID uuid.UUID) (CashSession, error) {
	row := q.db.QueryRow(ctx, getOpenCashSessionForShare, establishmentID)
	return scanCashSession(row)
}

const addCashMovement = `-- name: AddCashMovement :one
UPDATE cash_sessions
SET manual_in = manual_in + $2,
    manual_out = manual_out + $3
WHERE id = $1 AND closed_at IS NULL
RETURNING ` + cashSessionColumns

type AddCashMovementParams struct {
	ID        uuid.UUID      `json:"id"`
	ManualIn  pgtype.Numeric `json:"manual_in"`
	ManualOut pgtype.Numeric `json:"manual_out"`
}

func (q *Queries) AddCashMovement(ctx context.Context, arg AddCashMovementParams) (CashSession, error) {
	row := q.db.QueryRow(ctx, addCashMovement, arg.ID, arg.ManualIn, arg.ManualOut)
	return scanCashSession(row)
}

const closeCashSession = `-- name: CloseCashSession :one
UPDATE cash_sessions
SET closed_at = now(),
    closing_count = $2,
    balance = $3,
    variance = $4,
    total_sales = $5,
    closed_by = $6
WHERE id = $1 AND closed_at IS NULL
RETURNING ` + cashSessionColumns

type CloseCashSessionParams struct {
	ID           uuid.UUID      `json:"id"`
	ClosingCount pgtype.Numeric `json:"closing_count"`
	Balance      pgtype.Numeric `json:"balance"`
	Variance     pgtype.Numeric `json:"variance"`
	TotalSales   pgtype.Numeric `json:"total_sales"`
	ClosedBy     uuid.UUID      `json:"closed_by"`
}

func (q *Queries) CloseCashSession(ctx context.Context, arg CloseCashSessionParams) (CashSession, error) {
	row := q.db.QueryRow(ctx, closeCashSession,
		arg.ID,
		arg.ClosingCount,
		arg.Balance,
		arg.Variance,
		arg.TotalSales,
		arg.ClosedBy,
	)
	return scanCashSession(row)
}

const incrementFinalizedOrders = `-- name: IncrementFinalizedOrders :exec
UPDATE cash_sessions
SET finalized_orders = finalized_orders + 1
WHERE id = $1`

func (q *Queries) IncrementFinalizedOrders(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, incrementFinalizedOrders, id)
	return err
}

const listCashSessions = `-- name: ListCashSessions :many
SELECT ` + cashSessionColumns + `
FROM cash_sessions
WHERE establishment_id = $1
ORDER BY opened_at DESC, id DESC
LIMIT $2 OFFSET $3`

type ListCashSessionsParams struct {
	EstablishmentID uuid.UUID `json:"establishment_id"`
	Limit           int32     `json:"limit"`
	Offset          int32     `json:"offset"`
}

func (q *Queries) ListCashSessions(ctx context.Context, arg ListCashSessionsParams) ([]CashSession, error) {
	rows, err := q.db.Query(ctx, listCashSessions, arg.EstablishmentID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []CashSession{}
	for rows.Next() {
		i, err := scanCashSession(rows)
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

const countCashSessions = `-- name: CountCashSessions :one
SELECT count(*) FROM cash_sessions WHERE establishment_id = $1`

func (q *Queries) CountCashSessions(ctx context.Context, establishmentID uuid.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, countCashSessions, establishmentID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const sumFinalizedOrderTotals = `-- name: SumFinalizedOrderTotals :one
SELECT COALESCE(SUM(total), 0)::numeric(12,2)
FROM orders
WHERE cash_session_id = $1 AND status = 'finalized'`

func (q *Queries) SumFinalizedOrderTotals(ctx context.Context, cashSessionID uuid.UUID) (pgtype.Numeric, error) {
	row := q.db.QueryRow(ctx, sumFinalizedOrderTotals, cashSessionID)
	var total pgtype.Numeric
	err := row.Scan(&total)
	return total, err
}

const countPendingOrdersBySession = `-- name: CountPendingOrdersBySession :one
SELECT count(*)
FROM orders
WHERE cash_session_id = $1 AND status = 'pending'`

func (q *Queries) CountPendingOrdersBySession(ctx context.Context, cashSessionID uuid.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, countPendingOrdersBySession, cashSessionID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
