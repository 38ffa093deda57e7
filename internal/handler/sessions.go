package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/comanda-pos/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CashServicer defines the service methods needed by cash session handlers.
// Satisfied by *service.CashService; narrow interface for testability.
type CashServicer interface {
	Open(ctx context.Context, establishmentID uuid.UUID, openingFloat decimal.Decimal, actor uuid.UUID) (*service.SessionSummary, error)
	RecordMovement(ctx context.Context, establishmentID uuid.UUID, amount decimal.Decimal, direction string) (*service.SessionSummary, error)
	Close(ctx context.Context, establishmentID uuid.UUID, closingCount decimal.Decimal, actor uuid.UUID) (*service.SessionSummary, error)
	Current(ctx context.Context, establishmentID uuid.UUID) (*service.SessionSummary, error)
	ListHistory(ctx context.Context, establishmentID uuid.UUID, page service.Page) (*service.SessionPage, error)
}

// SessionHandler handles cash session endpoints.
type SessionHandler struct {
	svc CashServicer
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(svc CashServicer) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// RegisterRoutes registers cash session endpoints on the given Chi router.
// Expected to be mounted at /establishments/{eid}/cash-sessions.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Open)
	r.Get("/current", h.Current)
	r.Post("/current/movements", h.RecordMovement)
	r.Post("/current/close", h.Close)
}

// --- Request / Response types ---

type openSessionRequest struct {
	OpeningFloat decimal.Decimal `json:"opening_float" validate:"gt=0,lte=9999999999.99"`
}

type movementRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0,lte=9999999999.99"`
	Direction string          `json:"direction" validate:"required,oneof=in out"`
}

type closeSessionRequest struct {
	ClosingCount decimal.Decimal `json:"closing_count" validate:"gte=0,lte=9999999999.99"`
}

type sessionResponse struct {
	ID              uuid.UUID  `json:"id"`
	EstablishmentID uuid.UUID  `json:"establishment_id"`
	Status          string     `json:"status"`
	OpeningFloat    string     `json:"opening_float"`
	ManualIn        string     `json:"manual_in"`
	ManualOut       string     `json:"manual_out"`
	Balance         string     `json:"balance"`
	TotalSales      string     `json:"total_sales"`
	ClosingCount    *string    `json:"closing_count"`
	Variance        *string    `json:"variance"`
	FinalizedOrders int32      `json:"finalized_orders"`
	PendingOrders   int64      `json:"pending_orders"`
	OpenedBy        uuid.UUID  `json:"opened_by"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedBy        *uuid.UUID `json:"closed_by"`
	ClosedAt        *time.Time `json:"closed_at"`
}

type sessionListResponse struct {
	Sessions []sessionResponse `json:"sessions"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// --- Handlers ---

// List handles GET /establishments/{eid}/cash-sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}

	page := service.Page{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		page.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
			return
		}
		page.Offset = n
	}

	result, err := h.svc.ListHistory(r.Context(), eid, page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := sessionListResponse{
		Sessions: make([]sessionResponse, 0, len(result.Sessions)),
		Total:    result.Total,
		Limit:    result.Limit,
		Offset:   result.Offset,
	}
	for i := range result.Sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(&result.Sessions[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Open handles POST /establishments/{eid}/cash-sessions.
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	eid, claims, ok := requestScope(w, r)
	if !ok {
		return
	}
	var req openSessionRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	summary, err := h.svc.Open(r.Context(), eid, req.OpeningFloat, claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(summary))
}

// Current handles GET /establishments/{eid}/cash-sessions/current.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}

	summary, err := h.svc.Current(r.Context(), eid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(summary))
}

// RecordMovement handles POST /establishments/{eid}/cash-sessions/current/movements.
func (h *SessionHandler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	summary, err := h.svc.RecordMovement(r.Context(), eid, req.Amount, req.Direction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(summary))
}

// Close handles POST /establishments/{eid}/cash-sessions/current/close.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	eid, claims, ok := requestScope(w, r)
	if !ok {
		return
	}
	var req closeSessionRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	summary, err := h.svc.Close(r.Context(), eid, req.ClosingCount, claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(summary))
}

// --- Helpers ---

func toSessionResponse(s *service.SessionSummary) sessionResponse {
	resp := sessionResponse{
		ID:              s.Session.ID,
		EstablishmentID: s.Session.EstablishmentID,
		Status:          "open",
		OpeningFloat:    numericToString(s.Session.OpeningFloat),
		ManualIn:        numericToString(s.Session.ManualIn),
		ManualOut:       numericToString(s.Session.ManualOut),
		Balance:         money(s.Balance),
		TotalSales:      money(s.TotalSales),
		ClosingCount:    optionalNumeric(s.Session.ClosingCount),
		FinalizedOrders: s.Session.FinalizedOrders,
		PendingOrders:   s.PendingOrders,
		OpenedBy:        s.Session.OpenedBy,
		OpenedAt:        s.Session.OpenedAt,
		ClosedBy:        optionalUUID(s.Session.ClosedBy),
		ClosedAt:        optionalTime(s.Session.ClosedAt),
	}
	if s.Session.ClosedAt.Valid {
		resp.Status = "closed"
	}
	if s.Variance != nil {
		v := money(*s.Variance)
		resp.Variance = &v
	}
	return resp
}
