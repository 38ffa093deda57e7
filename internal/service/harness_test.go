package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// harness wires every service to one memStore.
type harness struct {
	mem    *memStore
	events *eventRecorder
	cash   *CashService
	points *PointService
	orders *OrderService
	settle *SettlementService
	eid    uuid.UUID
	actor  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := newMemStore()
	events := &eventRecorder{}
	return &harness{
		mem:    mem,
		events: events,
		cash:   NewCashService(mem, mem.newCashStore, events),
		points: NewPointService(mem, mem.newPointStore, events),
		orders: NewOrderService(mem, mem.newOrderStore, events),
		settle: NewSettlementService(mem, mem.newSettlementStore, events),
		eid:    uuid.New(),
		actor:  uuid.New(),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *harness) openSession(t *testing.T, float string) *SessionSummary {
	t.Helper()
	s, err := h.cash.Open(context.Background(), h.eid, dec(float), h.actor)
	require.NoError(t, err)
	return s
}

func (h *harness) upsert(t *testing.T, identifier string, lines ...LineInput) *UpsertResult {
	t.Helper()
	res, err := h.orders.Upsert(context.Background(), UpsertRequest{
		EstablishmentID: h.eid,
		Identifier:      identifier,
		Lines:           lines,
		ActorRef:        h.actor,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) finalize(t *testing.T, identifier string) *FinalizeResult {
	t.Helper()
	res, err := h.settle.Finalize(context.Background(), FinalizeRequest{
		EstablishmentID:  h.eid,
		Identifier:       identifier,
		PaymentMethodRef: "cash",
		ActorRef:         h.actor,
	})
	require.NoError(t, err)
	return res
}

func line(ref string, qty int32, price string, mods ...ModifierInput) LineInput {
	return LineInput{ProductRef: ref, ProductName: "Product " + ref, Quantity: qty, UnitPrice: dec(price), Modifiers: mods}
}

func modifier(ref string, qty int32, price string) ModifierInput {
	return ModifierInput{ModifierRef: ref, DisplayName: "Extra " + ref, Quantity: qty, UnitPrice: dec(price)}
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2))
}
