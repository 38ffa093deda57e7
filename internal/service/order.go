package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// A unique violation on the pending-order or sequence index is retried once.
const maxUpsertAttempts = 2

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by the order upsert engine.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	EnsureServicePoint(ctx context.Context, arg database.EnsureServicePointParams) (database.EnsureServicePointRow, error)
	GetServicePoint(ctx context.Context, arg database.GetServicePointParams) (database.ServicePoint, error)
	GetServicePointByID(ctx context.Context, id uuid.UUID) (database.ServicePoint, error)
	MarkServicePointInUse(ctx context.Context, arg database.MarkServicePointInUseParams) (database.ServicePoint, error)
	GetOpenCashSessionForShare(ctx context.Context, establishmentID uuid.UUID) (database.CashSession, error)
	GetLatestOrderForPoint(ctx context.Context, servicePointID uuid.UUID) (database.Order, error)
	LockSessionSequence(ctx context.Context, cashSessionID uuid.UUID) error
	GetMaxSequenceCode(ctx context.Context, cashSessionID uuid.UUID) (int32, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	UpdateOrderHeader(ctx context.Context, arg database.UpdateOrderHeaderParams) (database.Order, error)
	RecalculateOrderTotal(ctx context.Context, id uuid.UUID) (database.Order, error)
	DeleteOrderLineModifiersByOrder(ctx context.Context, orderID uuid.UUID) error
	DeleteOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) error
	CreateOrderLine(ctx context.Context, arg database.CreateOrderLineParams) (database.OrderLine, error)
	CreateOrderLineModifier(ctx context.Context, arg database.CreateOrderLineModifierParams) (database.OrderLineModifier, error)
	ListOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderLine, error)
	ListOrderLineModifiersByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderLineModifier, error)
	GetOrderLineForUpdate(ctx context.Context, id uuid.UUID) (database.GetOrderLineForUpdateRow, error)
	DeleteOrderLine(ctx context.Context, id uuid.UUID) error
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// UpsertRequest is the full desired content of a point's pending order.
type UpsertRequest struct {
	EstablishmentID  uuid.UUID
	Identifier       string
	Label            string
	Lines            []LineInput
	TotalHint        *decimal.Decimal // informational only, never stored
	ClientRef        string
	PaymentMethodRef string
	ActorRef         uuid.UUID
	Channel          string
}

// LineInput is one requested line. The same product may appear more than once.
type LineInput struct {
	ProductRef  string
	ProductName string
	Quantity    int32
	UnitPrice   decimal.Decimal
	Note        string
	Modifiers   []ModifierInput
}

// ModifierInput is an add-on attached to a line.
type ModifierInput struct {
	ModifierRef string
	DisplayName string
	Quantity    int32
	UnitPrice   decimal.Decimal
	Status      string
	Note        string
}

// UpsertResult is the persisted order after an upsert.
type UpsertResult struct {
	Point   database.ServicePoint
	Order   database.Order
	Lines   []LineResult
	Created bool
}

// LineResult is a line with its raw modifiers.
type LineResult struct {
	Line      database.OrderLine
	Modifiers []database.OrderLineModifier
}

// DisplayLine is a line with its modifiers aggregated by modifier_ref.
type DisplayLine struct {
	Line      database.OrderLine
	Modifiers []DisplayModifier
}

// DisplayModifier sums every submission of one modifier_ref on a line.
type DisplayModifier struct {
	ModifierRef string
	DisplayName string
	Quantity    int32
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// PointOrderView is what Read returns. Order is nil when the point has no
// pending order; Materialized is false for identifiers never used.
type PointOrderView struct {
	Point        database.ServicePoint
	Materialized bool
	Order        *database.Order
	Lines        []LineResult
	Display      []DisplayLine
}

// DeleteLineResult is the order after one of its lines was removed.
type DeleteLineResult struct {
	Order      database.Order
	Identifier string
}

// OrderService is the order upsert engine.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	events   EventPublisher
}

// NewOrderService creates a new OrderService. events may be nil.
func NewOrderService(pool TxBeginner, newStore NewOrderStore, events EventPublisher) *OrderService {
	return &OrderService{pool: pool, newStore: newStore, events: events}
}

// Upsert creates or replaces the pending order of a point in one transaction.
// A concurrent writer that trips the pending-order or sequence index causes
// one transparent retry; a second conflict returns ErrConcurrentUpdate.
func (s *OrderService) Upsert(ctx context.Context, req UpsertRequest) (*UpsertResult, error) {
	if req.EstablishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}
	identifier, err := NormalizeIdentifier(req.Identifier)
	if err != nil {
		return nil, err
	}
	if req.ActorRef == uuid.Nil {
		return nil, ErrActorRequired
	}
	channel := req.Channel
	if channel == "" {
		channel = enum.ChannelPOS
	}
	if !enum.IsValidChannel(channel) {
		return nil, ErrInvalidChannel
	}
	lines, err := validateLines(req.Lines)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		result, err := s.upsertTx(ctx, req, identifier, channel, lines)
		if err == nil {
			publish(s.events, EventOrderUpserted, req.EstablishmentID, identifier, result.Order)
			return result, nil
		}
		if !isUniqueViolation(err, constraintOnePendingOrder, constraintSessionSequence) {
			return nil, err
		}
		lastErr = err
		log.Warn().Err(err).
			Str("establishment_id", req.EstablishmentID.String()).
			Str("identifier", identifier).
			Int("attempt", attempt).
			Msg("order upsert conflict")
	}
	return nil, fmt.Errorf("%w (%v)", ErrConcurrentUpdate, lastErr)
}

func (s *OrderService) upsertTx(ctx context.Context, req UpsertRequest, identifier, channel string, lines []LineInput) (*UpsertResult, error) {
	// --- Begin transaction ---
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Lock the point (serializes upserts per point) ---
	point, err := store.EnsureServicePoint(ctx, database.EnsureServicePointParams{
		EstablishmentID: req.EstablishmentID,
		Identifier:      identifier,
		Label:           optionalText(req.Label),
	})
	if err != nil {
		return nil, fmt.Errorf("ensure point: %w", err)
	}

	// --- Resolve the open session; held until commit ---
	var session *database.CashSession
	cs, err := store.GetOpenCashSessionForShare(ctx, req.EstablishmentID)
	switch {
	case err == nil:
		session = &cs
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("get open session: %w", err)
	}
	sessionID := pgtype.UUID{}
	if session != nil {
		sessionID = pgtype.UUID{Bytes: session.ID, Valid: true}
	}

	// --- Reuse the pending order or create one ---
	var existing *database.Order
	latest, err := store.GetLatestOrderForPoint(ctx, point.ID)
	switch {
	case err == nil:
		if latest.Status == enum.OrderStatusPending {
			existing = &latest
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("get latest order: %w", err)
	}

	var order database.Order
	if existing != nil {
		code := existing.SequenceCode
		if session != nil && existing.CashSessionID != sessionID {
			if code, err = nextSequenceCode(ctx, store, session); err != nil {
				return nil, err
			}
		}
		if err := store.DeleteOrderLineModifiersByOrder(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("delete modifiers: %w", err)
		}
		if err := store.DeleteOrderLinesByOrder(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("delete lines: %w", err)
		}
		order, err = store.UpdateOrderHeader(ctx, database.UpdateOrderHeaderParams{
			ID:               existing.ID,
			CashSessionID:    sessionID,
			SequenceCode:     code,
			ClientRef:        optionalText(req.ClientRef),
			PaymentMethodRef: optionalText(req.PaymentMethodRef),
			ActorRef:         req.ActorRef,
			Channel:          channel,
		})
		if err != nil {
			return nil, fmt.Errorf("update order: %w", err)
		}
	} else {
		code, err := nextSequenceCode(ctx, store, session)
		if err != nil {
			return nil, err
		}
		order, err = store.CreateOrder(ctx, database.CreateOrderParams{
			EstablishmentID:  req.EstablishmentID,
			ServicePointID:   point.ID,
			CashSessionID:    sessionID,
			SequenceCode:     code,
			ClientRef:        optionalText(req.ClientRef),
			PaymentMethodRef: optionalText(req.PaymentMethodRef),
			ActorRef:         req.ActorRef,
			Channel:          channel,
		})
		if err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}
	}

	// --- Insert lines and modifiers ---
	lineResults := make([]LineResult, 0, len(lines))
	for i, in := range lines {
		line, err := store.CreateOrderLine(ctx, database.CreateOrderLineParams{
			OrderID:     order.ID,
			Position:    int32(i),
			ProductRef:  in.ProductRef,
			ProductName: in.ProductName,
			Quantity:    in.Quantity,
			UnitPrice:   decimalToNumeric(in.UnitPrice),
			Note:        optionalText(in.Note),
		})
		if err != nil {
			return nil, fmt.Errorf("create order line: %w", err)
		}

		mods := make([]database.OrderLineModifier, 0, len(in.Modifiers))
		for j, m := range in.Modifiers {
			mod, err := store.CreateOrderLineModifier(ctx, database.CreateOrderLineModifierParams{
				OrderLineID: line.ID,
				Position:    int32(j),
				ModifierRef: m.ModifierRef,
				DisplayName: m.DisplayName,
				Quantity:    m.Quantity,
				UnitPrice:   decimalToNumeric(m.UnitPrice),
				Status:      m.Status,
				Note:        optionalText(m.Note),
			})
			if err != nil {
				return nil, fmt.Errorf("create order line modifier: %w", err)
			}
			mods = append(mods, mod)
		}
		lineResults = append(lineResults, LineResult{Line: line, Modifiers: mods})
	}

	// --- Recompute total from persisted rows ---
	order, err = store.RecalculateOrderTotal(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("recalculate total: %w", err)
	}
	if req.TotalHint != nil && !req.TotalHint.Equal(numericToDecimal(order.Total)) {
		log.Debug().
			Str("order_id", order.ID.String()).
			Str("total_hint", req.TotalHint.StringFixed(2)).
			Str("total", numericToDecimal(order.Total).StringFixed(2)).
			Msg("total hint differs from recomputed total")
	}

	// --- Point status follows order content ---
	// An upsert never demotes a busy point.
	status := enum.PointStatusOpened
	if len(lineResults) > 0 || point.Status == enum.PointStatusOccupied {
		status = enum.PointStatusOccupied
	}
	updated, err := store.MarkServicePointInUse(ctx, database.MarkServicePointInUseParams{
		ID:     point.ID,
		Label:  point.Label,
		Status: status,
	})
	if err != nil {
		return nil, fmt.Errorf("update point: %w", err)
	}

	// --- Commit ---
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &UpsertResult{
		Point:   updated,
		Order:   order,
		Lines:   lineResults,
		Created: existing == nil,
	}, nil
}

// Read returns the point and its pending order, raw and aggregated for
// display. Unknown identifiers yield an idle view and are not materialized.
func (s *OrderService) Read(ctx context.Context, establishmentID uuid.UUID, identifier string) (*PointOrderView, error) {
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

	point, err := store.GetServicePoint(ctx, database.GetServicePointParams{
		EstablishmentID: establishmentID,
		Identifier:      id,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &PointOrderView{
				Point: database.ServicePoint{
					EstablishmentID: establishmentID,
					Identifier:      id,
					Status:          enum.PointStatusIdle,
				},
				Lines:   []LineResult{},
				Display: []DisplayLine{},
			}, nil
		}
		return nil, fmt.Errorf("get point: %w", err)
	}

	view := &PointOrderView{Point: point, Materialized: true, Lines: []LineResult{}, Display: []DisplayLine{}}

	latest, err := store.GetLatestOrderForPoint(ctx, point.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return view, nil
		}
		return nil, fmt.Errorf("get latest order: %w", err)
	}
	if latest.Status != enum.OrderStatusPending {
		return view, nil
	}
	view.Order = &latest

	lines, err := store.ListOrderLinesByOrder(ctx, latest.ID)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	mods, err := store.ListOrderLineModifiersByOrder(ctx, latest.ID)
	if err != nil {
		return nil, fmt.Errorf("list modifiers: %w", err)
	}

	byLine := make(map[uuid.UUID][]database.OrderLineModifier, len(lines))
	for _, m := range mods {
		byLine[m.OrderLineID] = append(byLine[m.OrderLineID], m)
	}
	for _, line := range lines {
		raw := byLine[line.ID]
		if raw == nil {
			raw = []database.OrderLineModifier{}
		}
		view.Lines = append(view.Lines, LineResult{Line: line, Modifiers: raw})
		view.Display = append(view.Display, DisplayLine{Line: line, Modifiers: AggregateModifiers(raw)})
	}
	return view, nil
}

// DeleteLine removes one line of a pending order and recomputes the total.
// Lines of another establishment are reported as not found.
func (s *OrderService) DeleteLine(ctx context.Context, establishmentID, lineID uuid.UUID) (*DeleteLineResult, error) {
	if establishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}
	if lineID == uuid.Nil {
		return nil, ErrLineNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	line, err := store.GetOrderLineForUpdate(ctx, lineID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("lock order line: %w", err)
	}
	if line.EstablishmentID != establishmentID {
		return nil, ErrLineNotFound
	}
	if line.OrderStatus != enum.OrderStatusPending {
		return nil, ErrOrderNotEditable
	}

	if err := store.DeleteOrderLine(ctx, line.ID); err != nil {
		return nil, fmt.Errorf("delete order line: %w", err)
	}
	order, err := store.RecalculateOrderTotal(ctx, line.OrderID)
	if err != nil {
		return nil, fmt.Errorf("recalculate total: %w", err)
	}
	point, err := store.GetServicePointByID(ctx, line.ServicePointID)
	if err != nil {
		return nil, fmt.Errorf("get point: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	publish(s.events, EventOrderLineDeleted, establishmentID, point.Identifier, order)
	return &DeleteLineResult{Order: order, Identifier: point.Identifier}, nil
}

// AggregateLines folds repeated product refs into the first occurrence:
// quantities are summed and modifier lists concatenated. The first
// occurrence's price, name and note are kept. Order of first appearance is
// preserved. A merged quantity above MaxQuantity is rejected.
func AggregateLines(lines []LineInput) ([]LineInput, error) {
	out := make([]LineInput, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if i, ok := index[l.ProductRef]; ok {
			sum := int64(out[i].Quantity) + int64(l.Quantity)
			if sum > MaxQuantity {
				return nil, fmt.Errorf("product_ref %q: %w", l.ProductRef, ErrInvalidQuantity)
			}
			out[i].Quantity = int32(sum)
			out[i].Modifiers = append(out[i].Modifiers, l.Modifiers...)
			continue
		}
		index[l.ProductRef] = len(out)
		l.Modifiers = append([]ModifierInput(nil), l.Modifiers...)
		out = append(out, l)
	}
	return out, nil
}

// AggregateModifiers groups modifiers by modifier_ref for display, summing
// quantities and totals. The first display name and unit price are kept.
func AggregateModifiers(mods []database.OrderLineModifier) []DisplayModifier {
	out := make([]DisplayModifier, 0, len(mods))
	index := make(map[string]int, len(mods))
	for _, m := range mods {
		price := numericToDecimal(m.UnitPrice)
		total := price.Mul(decimal.NewFromInt32(m.Quantity))
		if i, ok := index[m.ModifierRef]; ok {
			out[i].Quantity += m.Quantity
			out[i].Total = out[i].Total.Add(total)
			continue
		}
		index[m.ModifierRef] = len(out)
		out = append(out, DisplayModifier{
			ModifierRef: m.ModifierRef,
			DisplayName: m.DisplayName,
			Quantity:    m.Quantity,
			UnitPrice:   price,
			Total:       total,
		})
	}
	return out
}

// --- Helpers ---

func validateLines(in []LineInput) ([]LineInput, error) {
	lines := make([]LineInput, len(in))
	for i, l := range in {
		l.ProductRef = strings.TrimSpace(l.ProductRef)
		if l.ProductRef == "" {
			return nil, fmt.Errorf("lines[%d]: %w", i, ErrProductRefRequired)
		}
		if l.Quantity < 1 || l.Quantity > MaxQuantity {
			return nil, fmt.Errorf("lines[%d]: %w", i, ErrInvalidQuantity)
		}
		if !validPrice(l.UnitPrice) {
			return nil, fmt.Errorf("lines[%d]: %w", i, ErrInvalidPrice)
		}
		mods := make([]ModifierInput, len(l.Modifiers))
		for j, m := range l.Modifiers {
			m.ModifierRef = strings.TrimSpace(m.ModifierRef)
			if m.ModifierRef == "" {
				return nil, fmt.Errorf("lines[%d].modifiers[%d]: %w", i, j, ErrModifierRefRequired)
			}
			if m.Quantity < 1 || m.Quantity > MaxQuantity {
				return nil, fmt.Errorf("lines[%d].modifiers[%d]: %w", i, j, ErrInvalidQuantity)
			}
			if !validPrice(m.UnitPrice) {
				return nil, fmt.Errorf("lines[%d].modifiers[%d]: %w", i, j, ErrInvalidPrice)
			}
			if m.Status == "" {
				m.Status = enum.ModifierStatusActive
			}
			mods[j] = m
		}
		l.Modifiers = mods
		lines[i] = l
	}
	lines, err := AggregateLines(lines)
	if err != nil {
		return nil, err
	}
	if !validAmount(linesTotal(lines)) {
		return nil, fmt.Errorf("total: %w", ErrInvalidAmount)
	}
	return lines, nil
}

// linesTotal mirrors the total the database recomputes from persisted rows.
func linesTotal(lines []LineInput) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity)))
		for _, m := range l.Modifiers {
			total = total.Add(m.UnitPrice.Mul(decimal.NewFromInt32(m.Quantity)))
		}
	}
	return total
}

// nextSequenceCode returns max+1 over the session's orders, zero-padded to
// two digits. Without a session every order is "01".
func nextSequenceCode(ctx context.Context, store OrderStore, session *database.CashSession) (string, error) {
	if session == nil {
		return formatSequenceCode(1), nil
	}
	if err := store.LockSessionSequence(ctx, session.ID); err != nil {
		return "", fmt.Errorf("lock sequence: %w", err)
	}
	maxCode, err := store.GetMaxSequenceCode(ctx, session.ID)
	if err != nil {
		return "", fmt.Errorf("get max sequence code: %w", err)
	}
	return formatSequenceCode(maxCode + 1), nil
}

func formatSequenceCode(n int32) string {
	return fmt.Sprintf("%02d", n)
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
