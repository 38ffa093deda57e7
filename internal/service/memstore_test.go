package service

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory Ledger Store. Begin takes a global lock held
// until Commit or Rollback, so transactions are fully serialized; Rollback
// without Commit restores the state captured at Begin. It enforces the same
// unique rules as the real schema and reports violations as pgconn errors.
type memStore struct {
	lock sync.Mutex // held by the open transaction

	state memState
	clock time.Time

	beginErr error
	// failOnce maps a method name to errors returned by its next calls, one
	// per call.
	failOnce map[string][]error

	commits      int
	rollbacks    int
	sequenceLock int
}

type memState struct {
	sessions []database.CashSession
	layouts  map[uuid.UUID]database.PointLayout
	points   []database.ServicePoint
	orders   []database.Order
	lines    []database.OrderLine
	mods     []database.OrderLineModifier
}

func newMemStore() *memStore {
	return &memStore{
		state:    memState{layouts: map[uuid.UUID]database.PointLayout{}},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		failOnce: map[string][]error{},
	}
}

func (s memState) clone() memState {
	c := memState{
		sessions: append([]database.CashSession(nil), s.sessions...),
		layouts:  make(map[uuid.UUID]database.PointLayout, len(s.layouts)),
		points:   append([]database.ServicePoint(nil), s.points...),
		orders:   append([]database.Order(nil), s.orders...),
		lines:    append([]database.OrderLine(nil), s.lines...),
		mods:     append([]database.OrderLineModifier(nil), s.mods...),
	}
	for k, v := range s.layouts {
		c.layouts[k] = v
	}
	return c
}

// tick advances the fake clock so rows created later sort later.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func (m *memStore) injected(method string) error {
	errs := m.failOnce[method]
	if len(errs) == 0 {
		return nil
	}
	m.failOnce[method] = errs[1:]
	return errs[0]
}

func (m *memStore) failNext(method string, errs ...error) {
	m.failOnce[method] = append(m.failOnce[method], errs...)
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

// --- TxBeginner / pgx.Tx ---

func (m *memStore) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	m.lock.Lock()
	return &memTx{store: m, snapshot: m.state.clone()}, nil
}

func (m *memStore) newCashStore(database.DBTX) CashStore             { return m }
func (m *memStore) newPointStore(database.DBTX) PointStore           { return m }
func (m *memStore) newOrderStore(database.DBTX) OrderStore           { return m }
func (m *memStore) newSettlementStore(database.DBTX) SettlementStore { return m }

// memTx implements pgx.Tx. Query methods are never called directly by the
// services; they go through the store.
type memTx struct {
	store    *memStore
	snapshot memState
	done     bool
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.commits++
	t.store.lock.Unlock()
	return nil
}
func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.state = t.snapshot
	t.store.rollbacks++
	t.store.lock.Unlock()
	return nil
}
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (t *memTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (t *memTx) Conn() *pgx.Conn { panic("not implemented") }

// --- cash sessions ---

func (m *memStore) openSessionIndex(establishmentID uuid.UUID) int {
	for i, s := range m.state.sessions {
		if s.EstablishmentID == establishmentID && !s.ClosedAt.Valid {
			return i
		}
	}
	return -1
}

func (m *memStore) CreateCashSession(ctx context.Context, arg database.CreateCashSessionParams) (database.CashSession, error) {
	if err := m.injected("CreateCashSession"); err != nil {
		return database.CashSession{}, err
	}
	if m.openSessionIndex(arg.EstablishmentID) >= 0 {
		return database.CashSession{}, uniqueViolation(constraintOneOpenSession)
	}
	s := database.CashSession{
		ID:              uuid.New(),
		EstablishmentID: arg.EstablishmentID,
		OpeningFloat:    arg.OpeningFloat,
		ManualIn:        decimalToNumeric(decimal.Zero),
		ManualOut:       decimalToNumeric(decimal.Zero),
		OpenedBy:        arg.OpenedBy,
		OpenedAt:        m.tick(),
	}
	m.state.sessions = append(m.state.sessions, s)
	return s, nil
}

func (m *memStore) GetOpenCashSession(ctx context.Context, establishmentID uuid.UUID) (database.CashSession, error) {
	if err := m.injected("GetOpenCashSession"); err != nil {
		return database.CashSession{}, err
	}
	i := m.openSessionIndex(establishmentID)
	if i < 0 {
		return database.CashSession{}, pgx.ErrNoRows
	}
	return m.state.sessions[i], nil
}

func (m *memStore) GetOpenCashSessionForUpdate(ctx context.Context, establishmentID uuid.UUID) (database.CashSession, error) {
	return m.GetOpenCashSession(ctx, establishmentID)
}

func (m *memStore) GetOpenCashSessionForShare(ctx context.Context, establishmentID uuid.UUID) (database.CashSession, error) {
	return m.GetOpenCashSession(ctx, establishmentID)
}

func (m *memStore) sessionIndex(id uuid.UUID) int {
	for i, s := range m.state.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *memStore) AddCashMovement(ctx context.Context, arg database.AddCashMovementParams) (database.CashSession, error) {
	if err := m.injected("AddCashMovement"); err != nil {
		return database.CashSession{}, err
	}
	i := m.sessionIndex(arg.ID)
	if i < 0 || m.state.sessions[i].ClosedAt.Valid {
		return database.CashSession{}, pgx.ErrNoRows
	}
	s := &m.state.sessions[i]
	s.ManualIn = decimalToNumeric(numericToDecimal(s.ManualIn).Add(numericToDecimal(arg.ManualIn)))
	s.ManualOut = decimalToNumeric(numericToDecimal(s.ManualOut).Add(numericToDecimal(arg.ManualOut)))
	return *s, nil
}

func (m *memStore) CloseCashSession(ctx context.Context, arg database.CloseCashSessionParams) (database.CashSession, error) {
	if err := m.injected("CloseCashSession"); err != nil {
		return database.CashSession{}, err
	}
	i := m.sessionIndex(arg.ID)
	if i < 0 || m.state.sessions[i].ClosedAt.Valid {
		return database.CashSession{}, pgx.ErrNoRows
	}
	s := &m.state.sessions[i]
	s.ClosedAt = pgtype.Timestamptz{Time: m.tick(), Valid: true}
	s.ClosingCount = arg.ClosingCount
	s.Balance = arg.Balance
	s.Variance = arg.Variance
	s.TotalSales = arg.TotalSales
	s.ClosedBy = pgtype.UUID{Bytes: arg.ClosedBy, Valid: true}
	return *s, nil
}

func (m *memStore) IncrementFinalizedOrders(ctx context.Context, id uuid.UUID) error {
	if err := m.injected("IncrementFinalizedOrders"); err != nil {
		return err
	}
	if i := m.sessionIndex(id); i >= 0 {
		m.state.sessions[i].FinalizedOrders++
	}
	return nil
}

func (m *memStore) ListCashSessions(ctx context.Context, arg database.ListCashSessionsParams) ([]database.CashSession, error) {
	var out []database.CashSession
	for _, s := range m.state.sessions {
		if s.EstablishmentID == arg.EstablishmentID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	start := int(arg.Offset)
	if start > len(out) {
		start = len(out)
	}
	end := start + int(arg.Limit)
	if end > len(out) {
		end = len(out)
	}
	return append([]database.CashSession{}, out[start:end]...), nil
}

func (m *memStore) CountCashSessions(ctx context.Context, establishmentID uuid.UUID) (int64, error) {
	var n int64
	for _, s := range m.state.sessions {
		if s.EstablishmentID == establishmentID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SumFinalizedOrderTotals(ctx context.Context, cashSessionID uuid.UUID) (pgtype.Numeric, error) {
	sum := decimal.Zero
	for _, o := range m.state.orders {
		if o.CashSessionID.Valid && o.CashSessionID.Bytes == cashSessionID && o.Status == enum.OrderStatusFinalized {
			sum = sum.Add(numericToDecimal(o.Total))
		}
	}
	return decimalToNumeric(sum), nil
}

func (m *memStore) CountPendingOrdersBySession(ctx context.Context, cashSessionID uuid.UUID) (int64, error) {
	var n int64
	for _, o := range m.state.orders {
		if o.CashSessionID.Valid && o.CashSessionID.Bytes == cashSessionID && o.Status == enum.OrderStatusPending {
			n++
		}
	}
	return n, nil
}

// --- layouts and service points ---

func (m *memStore) GetPointLayout(ctx context.Context, establishmentID uuid.UUID) (database.PointLayout, error) {
	l, ok := m.state.layouts[establishmentID]
	if !ok {
		return database.PointLayout{}, pgx.ErrNoRows
	}
	return l, nil
}

func (m *memStore) UpsertPointLayout(ctx context.Context, arg database.UpsertPointLayoutParams) (database.PointLayout, error) {
	l := database.PointLayout{
		EstablishmentID: arg.EstablishmentID,
		TablesEnabled:   arg.TablesEnabled,
		TabsEnabled:     arg.TabsEnabled,
		TableCount:      arg.TableCount,
		TabCount:        arg.TabCount,
		TabPrefix:       arg.TabPrefix,
		UpdatedAt:       m.tick(),
	}
	m.state.layouts[arg.EstablishmentID] = l
	return l, nil
}

func (m *memStore) pointIndex(establishmentID uuid.UUID, identifier string) int {
	for i, p := range m.state.points {
		if p.EstablishmentID == establishmentID && p.Identifier == identifier {
			return i
		}
	}
	return -1
}

func (m *memStore) pointIndexByID(id uuid.UUID) int {
	for i, p := range m.state.points {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (m *memStore) EnsureServicePoint(ctx context.Context, arg database.EnsureServicePointParams) (database.EnsureServicePointRow, error) {
	if err := m.injected("EnsureServicePoint"); err != nil {
		return database.EnsureServicePointRow{}, err
	}
	now := m.tick()
	i := m.pointIndex(arg.EstablishmentID, arg.Identifier)
	if i < 0 {
		p := database.ServicePoint{
			ID:              uuid.New(),
			EstablishmentID: arg.EstablishmentID,
			Identifier:      arg.Identifier,
			Status:          enum.PointStatusOpened,
			Label:           arg.Label,
			OpenedAt:        pgtype.Timestamptz{Time: now, Valid: true},
			UpdatedAt:       now,
		}
		m.state.points = append(m.state.points, p)
		return database.EnsureServicePointRow{ServicePoint: p, Inserted: true}, nil
	}
	p := &m.state.points[i]
	if arg.Label.Valid {
		p.Label = arg.Label
	}
	if enum.IsFreePointStatus(p.Status) {
		p.Status = enum.PointStatusOpened
		p.OpenedAt = pgtype.Timestamptz{Time: now, Valid: true}
	}
	p.UpdatedAt = now
	return database.EnsureServicePointRow{ServicePoint: *p}, nil
}

func (m *memStore) GetServicePoint(ctx context.Context, arg database.GetServicePointParams) (database.ServicePoint, error) {
	i := m.pointIndex(arg.EstablishmentID, arg.Identifier)
	if i < 0 {
		return database.ServicePoint{}, pgx.ErrNoRows
	}
	return m.state.points[i], nil
}

func (m *memStore) GetServicePointByID(ctx context.Context, id uuid.UUID) (database.ServicePoint, error) {
	i := m.pointIndexByID(id)
	if i < 0 {
		return database.ServicePoint{}, pgx.ErrNoRows
	}
	return m.state.points[i], nil
}

func (m *memStore) GetServicePointForUpdate(ctx context.Context, arg database.GetServicePointForUpdateParams) (database.ServicePoint, error) {
	return m.GetServicePoint(ctx, database.GetServicePointParams(arg))
}

func (m *memStore) MarkServicePointInUse(ctx context.Context, arg database.MarkServicePointInUseParams) (database.ServicePoint, error) {
	if err := m.injected("MarkServicePointInUse"); err != nil {
		return database.ServicePoint{}, err
	}
	i := m.pointIndexByID(arg.ID)
	if i < 0 {
		return database.ServicePoint{}, pgx.ErrNoRows
	}
	p := &m.state.points[i]
	now := m.tick()
	p.Label = arg.Label
	p.Status = arg.Status
	if !p.OpenedAt.Valid {
		p.OpenedAt = pgtype.Timestamptz{Time: now, Valid: true}
	}
	p.UpdatedAt = now
	return *p, nil
}

func (m *memStore) ResetServicePoint(ctx context.Context, arg database.ResetServicePointParams) (database.ServicePoint, error) {
	if err := m.injected("ResetServicePoint"); err != nil {
		return database.ServicePoint{}, err
	}
	i := m.pointIndexByID(arg.ID)
	if i < 0 {
		return database.ServicePoint{}, pgx.ErrNoRows
	}
	p := &m.state.points[i]
	p.Status = arg.Status
	p.Label = pgtype.Text{}
	p.OpenedAt = pgtype.Timestamptz{}
	p.UpdatedAt = m.tick()
	return *p, nil
}

func (m *memStore) SetServicePointStatus(ctx context.Context, arg database.SetServicePointStatusParams) (database.ServicePoint, error) {
	i := m.pointIndexByID(arg.ID)
	if i < 0 {
		return database.ServicePoint{}, pgx.ErrNoRows
	}
	p := &m.state.points[i]
	now := m.tick()
	p.Status = arg.Status
	if enum.IsFreePointStatus(arg.Status) {
		p.OpenedAt = pgtype.Timestamptz{}
	} else if !p.OpenedAt.Valid {
		p.OpenedAt = pgtype.Timestamptz{Time: now, Valid: true}
	}
	p.UpdatedAt = now
	return *p, nil
}

func (m *memStore) ListServicePointOverlay(ctx context.Context, establishmentID uuid.UUID) ([]database.ListServicePointOverlayRow, error) {
	var out []database.ListServicePointOverlayRow
	for _, p := range m.state.points {
		if p.EstablishmentID != establishmentID {
			continue
		}
		row := database.ListServicePointOverlayRow{ServicePoint: p}
		if o, ok := m.latestOrder(p.ID); ok {
			row.OrderID = pgtype.UUID{Bytes: o.ID, Valid: true}
			row.OrderStatus = pgtype.Text{String: o.Status, Valid: true}
			row.SequenceCode = pgtype.Text{String: o.SequenceCode, Valid: true}
			row.Total = o.Total
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// --- orders ---

func (m *memStore) latestOrder(pointID uuid.UUID) (database.Order, bool) {
	var latest database.Order
	found := false
	for _, o := range m.state.orders {
		if o.ServicePointID == pointID && (!found || o.CreatedAt.After(latest.CreatedAt)) {
			latest, found = o, true
		}
	}
	return latest, found
}

func (m *memStore) orderIndex(id uuid.UUID) int {
	for i, o := range m.state.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (m *memStore) checkOrderUnique(o database.Order) error {
	for _, other := range m.state.orders {
		if other.ID == o.ID {
			continue
		}
		if o.Status == enum.OrderStatusPending && other.Status == enum.OrderStatusPending && other.ServicePointID == o.ServicePointID {
			return uniqueViolation(constraintOnePendingOrder)
		}
		if o.CashSessionID.Valid && other.CashSessionID == o.CashSessionID && other.SequenceCode == o.SequenceCode {
			return uniqueViolation(constraintSessionSequence)
		}
	}
	return nil
}

func (m *memStore) GetLatestOrderForPoint(ctx context.Context, servicePointID uuid.UUID) (database.Order, error) {
	if err := m.injected("GetLatestOrderForPoint"); err != nil {
		return database.Order{}, err
	}
	o, ok := m.latestOrder(servicePointID)
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *memStore) GetPendingOrderForPointForUpdate(ctx context.Context, servicePointID uuid.UUID) (database.Order, error) {
	for _, o := range m.state.orders {
		if o.ServicePointID == servicePointID && o.Status == enum.OrderStatusPending {
			return o, nil
		}
	}
	return database.Order{}, pgx.ErrNoRows
}

func (m *memStore) LockSessionSequence(ctx context.Context, cashSessionID uuid.UUID) error {
	m.sequenceLock++
	return nil
}

func (m *memStore) GetMaxSequenceCode(ctx context.Context, cashSessionID uuid.UUID) (int32, error) {
	var maxCode int32
	for _, o := range m.state.orders {
		if !o.CashSessionID.Valid || o.CashSessionID.Bytes != cashSessionID {
			continue
		}
		n, err := strconv.Atoi(o.SequenceCode)
		if err == nil && int32(n) > maxCode {
			maxCode = int32(n)
		}
	}
	return maxCode, nil
}

func (m *memStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	if err := m.injected("CreateOrder"); err != nil {
		return database.Order{}, err
	}
	now := m.tick()
	o := database.Order{
		ID:               uuid.New(),
		EstablishmentID:  arg.EstablishmentID,
		ServicePointID:   arg.ServicePointID,
		CashSessionID:    arg.CashSessionID,
		Status:           enum.OrderStatusPending,
		SequenceCode:     arg.SequenceCode,
		ClientRef:        arg.ClientRef,
		PaymentMethodRef: arg.PaymentMethodRef,
		ActorRef:         arg.ActorRef,
		Channel:          arg.Channel,
		Total:            decimalToNumeric(decimal.Zero),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.checkOrderUnique(o); err != nil {
		return database.Order{}, err
	}
	m.state.orders = append(m.state.orders, o)
	return o, nil
}

func (m *memStore) UpdateOrderHeader(ctx context.Context, arg database.UpdateOrderHeaderParams) (database.Order, error) {
	i := m.orderIndex(arg.ID)
	if i < 0 || m.state.orders[i].Status != enum.OrderStatusPending {
		return database.Order{}, pgx.ErrNoRows
	}
	o := m.state.orders[i]
	o.CashSessionID = arg.CashSessionID
	o.SequenceCode = arg.SequenceCode
	o.ClientRef = arg.ClientRef
	o.PaymentMethodRef = arg.PaymentMethodRef
	o.ActorRef = arg.ActorRef
	o.Channel = arg.Channel
	o.UpdatedAt = m.tick()
	if err := m.checkOrderUnique(o); err != nil {
		return database.Order{}, err
	}
	m.state.orders[i] = o
	return o, nil
}

func (m *memStore) RecalculateOrderTotal(ctx context.Context, id uuid.UUID) (database.Order, error) {
	if err := m.injected("RecalculateOrderTotal"); err != nil {
		return database.Order{}, err
	}
	i := m.orderIndex(id)
	if i < 0 {
		return database.Order{}, pgx.ErrNoRows
	}
	total := decimal.Zero
	lineIDs := map[uuid.UUID]bool{}
	for _, l := range m.state.lines {
		if l.OrderID == id {
			lineIDs[l.ID] = true
			total = total.Add(numericToDecimal(l.LineTotal))
		}
	}
	for _, md := range m.state.mods {
		if lineIDs[md.OrderLineID] {
			total = total.Add(numericToDecimal(md.UnitPrice).Mul(decimal.NewFromInt32(md.Quantity)))
		}
	}
	m.state.orders[i].Total = decimalToNumeric(total)
	m.state.orders[i].UpdatedAt = m.tick()
	return m.state.orders[i], nil
}

func (m *memStore) FinalizeOrder(ctx context.Context, arg database.FinalizeOrderParams) (database.Order, error) {
	i := m.orderIndex(arg.ID)
	if i < 0 || m.state.orders[i].Status != enum.OrderStatusPending {
		return database.Order{}, pgx.ErrNoRows
	}
	o := &m.state.orders[i]
	now := m.tick()
	o.Status = enum.OrderStatusFinalized
	if arg.PaymentMethodRef.Valid {
		o.PaymentMethodRef = arg.PaymentMethodRef
	}
	if arg.ClientRef.Valid {
		o.ClientRef = arg.ClientRef
	}
	o.ActorRef = arg.ActorRef
	o.FinalizedAt = pgtype.Timestamptz{Time: now, Valid: true}
	o.UpdatedAt = now
	return *o, nil
}

func (m *memStore) DeletePendingOrder(ctx context.Context, id uuid.UUID) (int64, error) {
	i := m.orderIndex(id)
	if i < 0 || m.state.orders[i].Status != enum.OrderStatusPending {
		return 0, nil
	}
	m.deleteLinesWhere(func(l database.OrderLine) bool { return l.OrderID == id })
	m.state.orders = append(m.state.orders[:i], m.state.orders[i+1:]...)
	return 1, nil
}

// --- lines and modifiers ---

func (m *memStore) deleteLinesWhere(match func(database.OrderLine) bool) {
	gone := map[uuid.UUID]bool{}
	kept := m.state.lines[:0:0]
	for _, l := range m.state.lines {
		if match(l) {
			gone[l.ID] = true
			continue
		}
		kept = append(kept, l)
	}
	m.state.lines = kept
	keptMods := m.state.mods[:0:0]
	for _, md := range m.state.mods {
		if !gone[md.OrderLineID] {
			keptMods = append(keptMods, md)
		}
	}
	m.state.mods = keptMods
}

func (m *memStore) DeleteOrderLineModifiersByOrder(ctx context.Context, orderID uuid.UUID) error {
	lineIDs := map[uuid.UUID]bool{}
	for _, l := range m.state.lines {
		if l.OrderID == orderID {
			lineIDs[l.ID] = true
		}
	}
	kept := m.state.mods[:0:0]
	for _, md := range m.state.mods {
		if !lineIDs[md.OrderLineID] {
			kept = append(kept, md)
		}
	}
	m.state.mods = kept
	return nil
}

func (m *memStore) DeleteOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) error {
	m.deleteLinesWhere(func(l database.OrderLine) bool { return l.OrderID == orderID })
	return nil
}

func (m *memStore) CreateOrderLine(ctx context.Context, arg database.CreateOrderLineParams) (database.OrderLine, error) {
	if err := m.injected("CreateOrderLine"); err != nil {
		return database.OrderLine{}, err
	}
	for _, l := range m.state.lines {
		if l.OrderID == arg.OrderID && l.ProductRef == arg.ProductRef {
			return database.OrderLine{}, uniqueViolation("order_lines_order_id_product_ref_key")
		}
	}
	price := numericToDecimal(arg.UnitPrice)
	l := database.OrderLine{
		ID:          uuid.New(),
		OrderID:     arg.OrderID,
		Position:    arg.Position,
		ProductRef:  arg.ProductRef,
		ProductName: arg.ProductName,
		Quantity:    arg.Quantity,
		UnitPrice:   arg.UnitPrice,
		LineTotal:   decimalToNumeric(price.Mul(decimal.NewFromInt32(arg.Quantity))),
		Note:        arg.Note,
		CreatedAt:   m.tick(),
	}
	m.state.lines = append(m.state.lines, l)
	return l, nil
}

func (m *memStore) CreateOrderLineModifier(ctx context.Context, arg database.CreateOrderLineModifierParams) (database.OrderLineModifier, error) {
	if err := m.injected("CreateOrderLineModifier"); err != nil {
		return database.OrderLineModifier{}, err
	}
	md := database.OrderLineModifier{
		ID:          uuid.New(),
		OrderLineID: arg.OrderLineID,
		Position:    arg.Position,
		ModifierRef: arg.ModifierRef,
		DisplayName: arg.DisplayName,
		Quantity:    arg.Quantity,
		UnitPrice:   arg.UnitPrice,
		Status:      arg.Status,
		Note:        arg.Note,
		CreatedAt:   m.tick(),
	}
	m.state.mods = append(m.state.mods, md)
	return md, nil
}

func (m *memStore) ListOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderLine, error) {
	out := []database.OrderLine{}
	for _, l := range m.state.lines {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memStore) ListOrderLineModifiersByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderLineModifier, error) {
	linePos := map[uuid.UUID]int32{}
	for _, l := range m.state.lines {
		if l.OrderID == orderID {
			linePos[l.ID] = l.Position
		}
	}
	out := []database.OrderLineModifier{}
	for _, md := range m.state.mods {
		if _, ok := linePos[md.OrderLineID]; ok {
			out = append(out, md)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := linePos[out[i].OrderLineID], linePos[out[j].OrderLineID]
		if pi != pj {
			return pi < pj
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (m *memStore) GetOrderLineForUpdate(ctx context.Context, id uuid.UUID) (database.GetOrderLineForUpdateRow, error) {
	for _, l := range m.state.lines {
		if l.ID != id {
			continue
		}
		o := m.state.orders[m.orderIndex(l.OrderID)]
		return database.GetOrderLineForUpdateRow{
			ID:              l.ID,
			OrderID:         l.OrderID,
			EstablishmentID: o.EstablishmentID,
			ServicePointID:  o.ServicePointID,
			OrderStatus:     o.Status,
		}, nil
	}
	return database.GetOrderLineForUpdateRow{}, pgx.ErrNoRows
}

func (m *memStore) DeleteOrderLine(ctx context.Context, id uuid.UUID) error {
	m.deleteLinesWhere(func(l database.OrderLine) bool { return l.ID == id })
	return nil
}

// --- inspection helpers for tests (call outside a transaction) ---

func (m *memStore) pendingOrders(pointID uuid.UUID) []database.Order {
	var out []database.Order
	for _, o := range m.state.orders {
		if o.ServicePointID == pointID && o.Status == enum.OrderStatusPending {
			out = append(out, o)
		}
	}
	return out
}

func (m *memStore) linesOf(orderID uuid.UUID) []database.OrderLine {
	var out []database.OrderLine
	for _, l := range m.state.lines {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out
}

// orphanLines counts lines whose order no longer exists and modifiers whose
// line no longer exists.
func (m *memStore) orphanRows() int {
	n := 0
	for _, l := range m.state.lines {
		if m.orderIndex(l.OrderID) < 0 {
			n++
		}
	}
	lineIDs := map[uuid.UUID]bool{}
	for _, l := range m.state.lines {
		lineIDs[l.ID] = true
	}
	for _, md := range m.state.mods {
		if !lineIDs[md.OrderLineID] {
			n++
		}
	}
	return n
}
