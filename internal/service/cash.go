package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// CashStore defines the DB methods needed by the cash session manager.
// Satisfied by *database.Queries.
type CashStore interface {
	CreateCashSession(ctx context.Context, arg database.CreateCashSessionParams) (database.CashSession, error)
	GetOpenCashSession(ctx context.Context, establishmentID uuid.UUID) (database.CashSession, error)
	GetOpenCashSessionForUpdate(ctx context.Context, establishmentID uuid.UUID) (database.CashSession, error)
	AddCashMovement(ctx context.Context, arg database.AddCashMovementParams) (database.CashSession, error)
	CloseCashSession(ctx context.Context, arg database.CloseCashSessionParams) (database.CashSession, error)
	ListCashSessions(ctx context.Context, arg database.ListCashSessionsParams) ([]database.CashSession, error)
	CountCashSessions(ctx context.Context, establishmentID uuid.UUID) (int64, error)
	SumFinalizedOrderTotals(ctx context.Context, cashSessionID uuid.UUID) (pgtype.Numeric, error)
	CountPendingOrdersBySession(ctx context.Context, cashSessionID uuid.UUID) (int64, error)
}

// NewCashStore creates a CashStore from a DBTX (pool or tx).
type NewCashStore func(db database.DBTX) CashStore

// SessionSummary is a cash session with its derived figures. For a closed
// session Balance and TotalSales are the values frozen at close.
type SessionSummary struct {
	Session       database.CashSession
	Balance       decimal.Decimal
	TotalSales    decimal.Decimal
	Variance      *decimal.Decimal
	PendingOrders int64
}

// Page selects a window of a listing.
type Page struct {
	Limit  int
	Offset int
}

// SessionPage is one page of cash session history.
type SessionPage struct {
	Sessions []SessionSummary
	Total    int64
	Limit    int
	Offset   int
}

// CashService opens, moves and closes cash sessions.
type CashService struct {
	pool     TxBeginner
	newStore NewCashStore
	events   EventPublisher
}

// NewCashService creates a new CashService. events may be nil.
func NewCashService(pool TxBeginner, newStore NewCashStore, events EventPublisher) *CashService {
	return &CashService{pool: pool, newStore: newStore, events: events}
}

// CurrentBalance is opening_float + manual_in - manual_out.
func CurrentBalance(s database.CashSession) decimal.Decimal {
	return numericToDecimal(s.OpeningFloat).
		Add(numericToDecimal(s.ManualIn)).
		Sub(numericToDecimal(s.ManualOut))
}

// Open starts a cash session for the establishment.
func (s *CashService) Open(ctx context.Context, establishmentID uuid.UUID, openingFloat decimal.Decimal, actor uuid.UUID) (*SessionSummary, error) {
	if establishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}
	if actor == uuid.Nil {
		return nil, ErrActorRequired
	}
	if !openingFloat.IsPositive() || !validAmount(openingFloat) {
		return nil, fmt.Errorf("opening_float: %w", ErrInvalidAmount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	_, err = store.GetOpenCashSession(ctx, establishmentID)
	if err == nil {
		return nil, ErrSessionAlreadyOpen
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get open session: %w", err)
	}

	session, err := store.CreateCashSession(ctx, database.CreateCashSessionParams{
		EstablishmentID: establishmentID,
		OpeningFloat:    decimalToNumeric(openingFloat),
		OpenedBy:        actor,
	})
	if err != nil {
		if isUniqueViolation(err, constraintOneOpenSession) {
			return nil, ErrSessionAlreadyOpen
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	summary := &SessionSummary{Session: session, Balance: CurrentBalance(session), TotalSales: decimal.Zero}
	publish(s.events, EventCashSessionOpened, establishmentID, "", session)
	return summary, nil
}

// RecordMovement adds a manual cash-in or cash-out to the open session.
func (s *CashService) RecordMovement(ctx context.Context, establishmentID uuid.UUID, amount decimal.Decimal, direction string) (*SessionSummary, error) {
	if establishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}
	if direction != enum.MovementIn && direction != enum.MovementOut {
		return nil, ErrInvalidDirection
	}
	if !amount.IsPositive() || !validAmount(amount) {
		return nil, fmt.Errorf("amount: %w", ErrInvalidAmount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	session, err := store.GetOpenCashSessionForUpdate(ctx, establishmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOpenSession
		}
		return nil, fmt.Errorf("lock open session: %w", err)
	}

	in, out := decimal.Zero, decimal.Zero
	if direction == enum.MovementIn {
		in = amount
	} else {
		out = amount
	}

	session, err = store.AddCashMovement(ctx, database.AddCashMovementParams{
		ID:        session.ID,
		ManualIn:  decimalToNumeric(in),
		ManualOut: decimalToNumeric(out),
	})
	if err != nil {
		return nil, fmt.Errorf("add movement: %w", err)
	}

	summary, err := liveSummary(ctx, store, session)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return summary, nil
}

// Close reconciles and closes the open session. The declared closing count
// is compared against the expected balance; the difference is the variance.
func (s *CashService) Close(ctx context.Context, establishmentID uuid.UUID, closingCount decimal.Decimal, actor uuid.UUID) (*SessionSummary, error) {
	if establishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}
	if actor == uuid.Nil {
		return nil, ErrActorRequired
	}
	if closingCount.IsNegative() || !validAmount(closingCount) {
		return nil, fmt.Errorf("closing_count: %w", ErrInvalidAmount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	session, err := store.GetOpenCashSessionForUpdate(ctx, establishmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotOpen
		}
		return nil, fmt.Errorf("lock open session: %w", err)
	}

	balance := CurrentBalance(session)
	sales, err := store.SumFinalizedOrderTotals(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("sum finalized orders: %w", err)
	}
	totalSales := numericToDecimal(sales)
	variance := closingCount.Sub(balance)

	pending, err := store.CountPendingOrdersBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("count pending orders: %w", err)
	}

	closed, err := store.CloseCashSession(ctx, database.CloseCashSessionParams{
		ID:           session.ID,
		ClosingCount: decimalToNumeric(closingCount),
		Balance:      decimalToNumeric(balance),
		Variance:     decimalToNumeric(variance),
		TotalSales:   decimalToNumeric(totalSales),
		ClosedBy:     actor,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotOpen
		}
		return nil, fmt.Errorf("close session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	summary := &SessionSummary{
		Session:       closed,
		Balance:       balance,
		TotalSales:    totalSales,
		Variance:      &variance,
		PendingOrders: pending,
	}
	publish(s.events, EventCashSessionClosed, establishmentID, "", closed)
	return summary, nil
}

// Current returns the open session with its live balance and running sales.
func (s *CashService) Current(ctx context.Context, establishmentID uuid.UUID) (*SessionSummary, error) {
	if establishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	session, err := store.GetOpenCashSession(ctx, establishmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOpenSession
		}
		return nil, fmt.Errorf("get open session: %w", err)
	}
	return liveSummary(ctx, store, session)
}

// ListHistory returns open and closed sessions, newest first.
func (s *CashService) ListHistory(ctx context.Context, establishmentID uuid.UUID, page Page) (*SessionPage, error) {
	if establishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}
	page = normalizePage(page)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	sessions, err := store.ListCashSessions(ctx, database.ListCashSessionsParams{
		EstablishmentID: establishmentID,
		Limit:           int32(page.Limit),
		Offset:          int32(page.Offset),
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	total, err := store.CountCashSessions(ctx, establishmentID)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	result := &SessionPage{
		Sessions: make([]SessionSummary, 0, len(sessions)),
		Total:    total,
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	for _, session := range sessions {
		if !session.ClosedAt.Valid {
			summary, err := liveSummary(ctx, store, session)
			if err != nil {
				return nil, err
			}
			result.Sessions = append(result.Sessions, *summary)
			continue
		}
		summary := SessionSummary{
			Session:    session,
			Balance:    numericToDecimal(session.Balance),
			TotalSales: numericToDecimal(session.TotalSales),
		}
		if session.Variance.Valid {
			v := numericToDecimal(session.Variance)
			summary.Variance = &v
		}
		result.Sessions = append(result.Sessions, summary)
	}
	return result, nil
}

func liveSummary(ctx context.Context, store CashStore, session database.CashSession) (*SessionSummary, error) {
	sales, err := store.SumFinalizedOrderTotals(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("sum finalized orders: %w", err)
	}
	pending, err := store.CountPendingOrdersBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("count pending orders: %w", err)
	}
	return &SessionSummary{
		Session:       session,
		Balance:       CurrentBalance(session),
		TotalSales:    numericToDecimal(sales),
		PendingOrders: pending,
	}, nil
}

func normalizePage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = defaultHistoryLimit
	}
	if p.Limit > maxHistoryLimit {
		p.Limit = maxHistoryLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
