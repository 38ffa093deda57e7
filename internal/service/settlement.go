package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SettlementStore defines the DB methods needed to release or finalize the
// pending order of a point.
type SettlementStore interface {
	GetServicePointForUpdate(ctx context.Context, arg database.GetServicePointForUpdateParams) (database.ServicePoint, error)
	GetPendingOrderForPointForUpdate(ctx context.Context, servicePointID uuid.UUID) (database.Order, error)
	GetOpenCashSessionForShare(ctx context.Context, establishmentID uuid.UUID) (database.CashSession, error)
	ListOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderLine, error)
	DeleteOrderLineModifiersByOrder(ctx context.Context, orderID uuid.UUID) error
	DeleteOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) error
	DeletePendingOrder(ctx context.Context, id uuid.UUID) (int64, error)
	RecalculateOrderTotal(ctx context.Context, id uuid.UUID) (database.Order, error)
	FinalizeOrder(ctx context.Context, arg database.FinalizeOrderParams) (database.Order, error)
	IncrementFinalizedOrders(ctx context.Context, id uuid.UUID) error
	ResetServicePoint(ctx context.Context, arg database.ResetServicePointParams) (database.ServicePoint, error)
}

// NewSettlementStore creates a SettlementStore from a DBTX (pool or tx).
type NewSettlementStore func(db database.DBTX) SettlementStore

// ReleaseResult reports what Release did. Point is nil for unknown points.
type ReleaseResult struct {
	Deleted bool
	OrderID *uuid.UUID
	Point   *database.ServicePoint
}

// FinalizeRequest settles the pending order of a point.
type FinalizeRequest struct {
	EstablishmentID  uuid.UUID
	Identifier       string
	PaymentMethodRef string
	ClientRef        string
	ActorRef         uuid.UUID
}

// FinalizeResult is the finalized order and the settled point.
type FinalizeResult struct {
	Order database.Order
	Point database.ServicePoint
}

// SettlementService discards or finalizes pending orders and frees points.
type SettlementService struct {
	pool     TxBeginner
	newStore NewSettlementStore
	events   EventPublisher
}

// NewSettlementService creates a new SettlementService. events may be nil.
func NewSettlementService(pool TxBeginner, newStore NewSettlementStore, events EventPublisher) *SettlementService {
	return &SettlementService{pool: pool, newStore: newStore, events: events}
}

// Release discards the pending order of a point and returns the point to
// idle. Finalized orders are never touched. Unknown points are a no-op.
func (s *SettlementService) Release(ctx context.Context, establishmentID uuid.UUID, identifier string) (*ReleaseResult, error) {
	if establishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}
	id, err := NormalizeIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	point, err := store.GetServicePointForUpdate(ctx, database.GetServicePointForUpdateParams{
		EstablishmentID: establishmentID,
		Identifier:      id,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &ReleaseResult{}, nil
		}
		return nil, fmt.Errorf("lock point: %w", err)
	}

	result := &ReleaseResult{}
	order, err := store.GetPendingOrderForPointForUpdate(ctx, point.ID)
	switch {
	case err == nil:
		if err := store.DeleteOrderLineModifiersByOrder(ctx, order.ID); err != nil {
			return nil, fmt.Errorf("delete modifiers: %w", err)
		}
		if err := store.DeleteOrderLinesByOrder(ctx, order.ID); err != nil {
			return nil, fmt.Errorf("delete lines: %w", err)
		}
		n, err := store.DeletePendingOrder(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("delete order: %w", err)
		}
		result.Deleted = n > 0
		result.OrderID = &order.ID
	case errors.Is(err, pgx.ErrNoRows):
		if enum.IsFreePointStatus(point.Status) {
			result.Point = &point
			return result, nil
		}
	default:
		return nil, fmt.Errorf("lock pending order: %w", err)
	}

	point, err = store.ResetServicePoint(ctx, database.ResetServicePointParams{
		ID:     point.ID,
		Status: enum.PointStatusIdle,
	})
	if err != nil {
		return nil, fmt.Errorf("reset point: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	result.Point = &point
	publish(s.events, EventPointReleased, establishmentID, id, result)
	return result, nil
}

// Finalize turns the pending order of a point into history and settles the
// point. The order's cash session, if any, must still be open.
func (s *SettlementService) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	if req.EstablishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}
	id, err := NormalizeIdentifier(req.Identifier)
	if err != nil {
		return nil, err
	}
	if req.ActorRef == uuid.Nil {
		return nil, ErrActorRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	point, err := store.GetServicePointForUpdate(ctx, database.GetServicePointForUpdateParams{
		EstablishmentID: req.EstablishmentID,
		Identifier:      id,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPendingOrder
		}
		return nil, fmt.Errorf("lock point: %w", err)
	}
	order, err := store.GetPendingOrderForPointForUpdate(ctx, point.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPendingOrder
		}
		return nil, fmt.Errorf("lock pending order: %w", err)
	}

	lines, err := store.ListOrderLinesByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}

	if order.CashSessionID.Valid {
		session, err := store.GetOpenCashSessionForShare(ctx, req.EstablishmentID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get open session: %w", err)
		}
		if err != nil || session.ID != uuid.UUID(order.CashSessionID.Bytes) {
			return nil, ErrSessionNotOpen
		}
	}

	if _, err := store.RecalculateOrderTotal(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("recalculate total: %w", err)
	}
	order, err = store.FinalizeOrder(ctx, database.FinalizeOrderParams{
		ID:               order.ID,
		PaymentMethodRef: optionalText(req.PaymentMethodRef),
		ClientRef:        optionalText(req.ClientRef),
		ActorRef:         req.ActorRef,
	})
	if err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}

	if order.CashSessionID.Valid {
		if err := store.IncrementFinalizedOrders(ctx, order.CashSessionID.Bytes); err != nil {
			return nil, fmt.Errorf("count finalized order: %w", err)
		}
	}

	point, err = store.ResetServicePoint(ctx, database.ResetServicePointParams{
		ID:     point.ID,
		Status: enum.PointStatusSettled,
	})
	if err != nil {
		return nil, fmt.Errorf("settle point: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	publish(s.events, EventOrderFinalized, req.EstablishmentID, id, order)
	return &FinalizeResult{Order: order, Point: point}, nil
}
