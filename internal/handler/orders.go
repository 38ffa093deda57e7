package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderServicer defines the order engine methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	Upsert(ctx context.Context, req service.UpsertRequest) (*service.UpsertResult, error)
	Read(ctx context.Context, establishmentID uuid.UUID, identifier string) (*service.PointOrderView, error)
	DeleteLine(ctx context.Context, establishmentID, lineID uuid.UUID) (*service.DeleteLineResult, error)
}

// SettlementServicer defines the release/finalize methods needed by order handlers.
// Satisfied by *service.SettlementService.
type SettlementServicer interface {
	Release(ctx context.Context, establishmentID uuid.UUID, identifier string) (*service.ReleaseResult, error)
	Finalize(ctx context.Context, req service.FinalizeRequest) (*service.FinalizeResult, error)
}

// OrderHandler handles the pending order of a point.
type OrderHandler struct {
	svc    OrderServicer
	settle SettlementServicer
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer, settle SettlementServicer) *OrderHandler {
	return &OrderHandler{svc: svc, settle: settle}
}

// RegisterRoutes registers order endpoints on an establishment-scoped router
// (/establishments/{eid}).
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/points/{identifier}", h.Get)
	r.Put("/points/{identifier}/order", h.Upsert)
	r.Delete("/points/{identifier}/order", h.Release)
	r.Post("/points/{identifier}/finalize", h.Finalize)
	r.Delete("/order-lines/{lineID}", h.DeleteLine)
}

// --- Request / Response types ---

type upsertOrderRequest struct {
	Label            string              `json:"label" validate:"max=80"`
	Lines            []upsertLineRequest `json:"lines" validate:"dive"`
	TotalHint        *decimal.Decimal    `json:"total_hint"`
	ClientRef        string              `json:"client_ref" validate:"max=64"`
	PaymentMethodRef string              `json:"payment_method_ref" validate:"max=64"`
	Channel          string              `json:"channel" validate:"omitempty,oneof=pos waiter kiosk"`
}

type upsertLineRequest struct {
	ProductRef  string                  `json:"product_ref" validate:"required,max=64"`
	ProductName string                  `json:"product_name" validate:"max=200"`
	Quantity    int32                   `json:"quantity" validate:"gte=1,lte=9999"`
	UnitPrice   decimal.Decimal         `json:"unit_price" validate:"gte=0,lte=999999.99"`
	Note        string                  `json:"note" validate:"max=500"`
	Modifiers   []upsertModifierRequest `json:"modifiers" validate:"dive"`
}

type upsertModifierRequest struct {
	ModifierRef string          `json:"modifier_ref" validate:"required,max=64"`
	DisplayName string          `json:"display_name" validate:"max=200"`
	Quantity    int32           `json:"quantity" validate:"gte=1,lte=9999"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0,lte=999999.99"`
	Status      string          `json:"status" validate:"max=32"`
	Note        string          `json:"note" validate:"max=500"`
}

type finalizeRequest struct {
	PaymentMethodRef string `json:"payment_method_ref" validate:"max=64"`
	ClientRef        string `json:"client_ref" validate:"max=64"`
}

type orderResponse struct {
	ID               uuid.UUID      `json:"id"`
	ServicePointID   uuid.UUID      `json:"service_point_id"`
	CashSessionID    *uuid.UUID     `json:"cash_session_id"`
	Status           string         `json:"status"`
	SequenceCode     string         `json:"sequence_code"`
	ClientRef        *string        `json:"client_ref"`
	PaymentMethodRef *string        `json:"payment_method_ref"`
	ActorRef         uuid.UUID      `json:"actor_ref"`
	Channel          string         `json:"channel"`
	Total            string         `json:"total"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	FinalizedAt      *time.Time     `json:"finalized_at"`
	Lines            []lineResponse `json:"lines,omitempty"`
}

type lineResponse struct {
	ID          uuid.UUID          `json:"id"`
	Position    int32              `json:"position"`
	ProductRef  string             `json:"product_ref"`
	ProductName string             `json:"product_name"`
	Quantity    int32              `json:"quantity"`
	UnitPrice   string             `json:"unit_price"`
	LineTotal   string             `json:"line_total"`
	Note        *string            `json:"note"`
	Modifiers   []modifierResponse `json:"modifiers"`
}

type modifierResponse struct {
	ID          uuid.UUID `json:"id"`
	ModifierRef string    `json:"modifier_ref"`
	DisplayName string    `json:"display_name"`
	Quantity    int32     `json:"quantity"`
	UnitPrice   string    `json:"unit_price"`
	Status      string    `json:"status"`
	Note        *string   `json:"note"`
}

type displayLineResponse struct {
	LineID      uuid.UUID                 `json:"line_id"`
	ProductRef  string                    `json:"product_ref"`
	ProductName string                    `json:"product_name"`
	Quantity    int32                     `json:"quantity"`
	UnitPrice   string                    `json:"unit_price"`
	LineTotal   string                    `json:"line_total"`
	Note        *string                   `json:"note"`
	Modifiers   []displayModifierResponse `json:"modifiers"`
}

type displayModifierResponse struct {
	ModifierRef string `json:"modifier_ref"`
	DisplayName string `json:"display_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Total       string `json:"total"`
}

type pointOrderResponse struct {
	Point        servicePointResponse  `json:"point"`
	Materialized bool                  `json:"materialized"`
	Order        *orderResponse        `json:"order"`
	Display      []displayLineResponse `json:"display"`
}

type upsertOrderResponse struct {
	Point   servicePointResponse `json:"point"`
	Order   orderResponse        `json:"order"`
	Created bool                 `json:"created"`
}

type releaseResponse struct {
	Deleted bool                  `json:"deleted"`
	OrderID *uuid.UUID            `json:"order_id"`
	Point   *servicePointResponse `json:"point"`
}

type finalizeResponse struct {
	Order orderResponse        `json:"order"`
	Point servicePointResponse `json:"point"`
}

type deleteLineResponse struct {
	Identifier string        `json:"identifier"`
	Order      orderResponse `json:"order"`
}

// --- Handlers ---

// Get handles GET /establishments/{eid}/points/{identifier}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}

	view, err := h.svc.Read(r.Context(), eid, chi.URLParam(r, "identifier"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := pointOrderResponse{
		Point:        toServicePointResponse(view.Point),
		Materialized: view.Materialized,
		Display:      make([]displayLineResponse, 0, len(view.Display)),
	}
	if view.Order != nil {
		o := toOrderResponse(*view.Order, view.Lines)
		resp.Order = &o
	}
	for _, d := range view.Display {
		resp.Display = append(resp.Display, toDisplayLineResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Upsert handles PUT /establishments/{eid}/points/{identifier}/order.
func (h *OrderHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	eid, claims, ok := requestScope(w, r)
	if !ok {
		return
	}
	var req upsertOrderRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	in := service.UpsertRequest{
		EstablishmentID:  eid,
		Identifier:       chi.URLParam(r, "identifier"),
		Label:            req.Label,
		Lines:            make([]service.LineInput, 0, len(req.Lines)),
		TotalHint:        req.TotalHint,
		ClientRef:        req.ClientRef,
		PaymentMethodRef: req.PaymentMethodRef,
		ActorRef:         claims.UserID,
		Channel:          req.Channel,
	}
	for _, l := range req.Lines {
		line := service.LineInput{
			ProductRef:  l.ProductRef,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Note:        l.Note,
			Modifiers:   make([]service.ModifierInput, 0, len(l.Modifiers)),
		}
		for _, m := range l.Modifiers {
			line.Modifiers = append(line.Modifiers, service.ModifierInput(m))
		}
		in.Lines = append(in.Lines, line)
	}

	result, err := h.svc.Upsert(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, upsertOrderResponse{
		Point:   toServicePointResponse(result.Point),
		Order:   toOrderResponse(result.Order, result.Lines),
		Created: result.Created,
	})
}

// Release handles DELETE /establishments/{eid}/points/{identifier}/order.
func (h *OrderHandler) Release(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}

	result, err := h.settle.Release(r.Context(), eid, chi.URLParam(r, "identifier"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := releaseResponse{Deleted: result.Deleted, OrderID: result.OrderID}
	if result.Point != nil {
		p := toServicePointResponse(*result.Point)
		resp.Point = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

// Finalize handles POST /establishments/{eid}/points/{identifier}/finalize.
func (h *OrderHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	eid, claims, ok := requestScope(w, r)
	if !ok {
		return
	}
	var req finalizeRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	result, err := h.settle.Finalize(r.Context(), service.FinalizeRequest{
		EstablishmentID:  eid,
		Identifier:       chi.URLParam(r, "identifier"),
		PaymentMethodRef: req.PaymentMethodRef,
		ClientRef:        req.ClientRef,
		ActorRef:         claims.UserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, finalizeResponse{
		Order: toOrderResponse(result.Order, nil),
		Point: toServicePointResponse(result.Point),
	})
}

// DeleteLine handles DELETE /establishments/{eid}/order-lines/{lineID}.
func (h *OrderHandler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}
	lineID, err := uuid.Parse(chi.URLParam(r, "lineID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line ID"})
		return
	}

	result, err := h.svc.DeleteLine(r.Context(), eid, lineID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteLineResponse{
		Identifier: result.Identifier,
		Order:      toOrderResponse(result.Order, nil),
	})
}

// --- Helpers ---

func toOrderResponse(o database.Order, lines []service.LineResult) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		ServicePointID:   o.ServicePointID,
		CashSessionID:    optionalUUID(o.CashSessionID),
		Status:           o.Status,
		SequenceCode:     o.SequenceCode,
		ClientRef:        optionalString(o.ClientRef),
		PaymentMethodRef: optionalString(o.PaymentMethodRef),
		ActorRef:         o.ActorRef,
		Channel:          o.Channel,
		Total:            numericToString(o.Total),
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		FinalizedAt:      optionalTime(o.FinalizedAt),
	}
	if lines != nil {
		resp.Lines = make([]lineResponse, 0, len(lines))
		for _, l := range lines {
			resp.Lines = append(resp.Lines, toLineResponse(l))
		}
	}
	return resp
}

func toLineResponse(l service.LineResult) lineResponse {
	resp := lineResponse{
		ID:          l.Line.ID,
		Position:    l.Line.Position,
		ProductRef:  l.Line.ProductRef,
		ProductName: l.Line.ProductName,
		Quantity:    l.Line.Quantity,
		UnitPrice:   numericToString(l.Line.UnitPrice),
		LineTotal:   numericToString(l.Line.LineTotal),
		Note:        optionalString(l.Line.Note),
		Modifiers:   make([]modifierResponse, 0, len(l.Modifiers)),
	}
	for _, m := range l.Modifiers {
		resp.Modifiers = append(resp.Modifiers, modifierResponse{
			ID:          m.ID,
			ModifierRef: m.ModifierRef,
			DisplayName: m.DisplayName,
			Quantity:    m.Quantity,
			UnitPrice:   numericToString(m.UnitPrice),
			Status:      m.Status,
			Note:        optionalString(m.Note),
		})
	}
	return resp
}

func toDisplayLineResponse(d service.DisplayLine) displayLineResponse {
	resp := displayLineResponse{
		LineID:      d.Line.ID,
		ProductRef:  d.Line.ProductRef,
		ProductName: d.Line.ProductName,
		Quantity:    d.Line.Quantity,
		UnitPrice:   numericToString(d.Line.UnitPrice),
		LineTotal:   numericToString(d.Line.LineTotal),
		Note:        optionalString(d.Line.Note),
		Modifiers:   make([]displayModifierResponse, 0, len(d.Modifiers)),
	}
	for _, m := range d.Modifiers {
		resp.Modifiers = append(resp.Modifiers, displayModifierResponse{
			ModifierRef: m.ModifierRef,
			DisplayName: m.DisplayName,
			Quantity:    m.Quantity,
			UnitPrice:   money(m.UnitPrice),
			Total:       money(m.Total),
		})
	}
	return resp
}
