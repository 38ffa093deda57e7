package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PointServicer defines the service methods needed by point handlers.
// Satisfied by *service.PointService.
type PointServicer interface {
	GetLayout(ctx context.Context, establishmentID uuid.UUID) (service.Layout, error)
	SaveLayout(ctx context.Context, establishmentID uuid.UUID, l service.Layout) (service.Layout, error)
	ListPoints(ctx context.Context, establishmentID uuid.UUID) ([]service.PointView, error)
	EnsurePoint(ctx context.Context, establishmentID uuid.UUID, identifier, label string) (*service.EnsureResult, error)
	SetStatus(ctx context.Context, establishmentID uuid.UUID, identifier, status string) (database.ServicePoint, error)
}

// PointHandler handles point layout and point registry endpoints.
type PointHandler struct {
	svc PointServicer
}

// NewPointHandler creates a new PointHandler.
func NewPointHandler(svc PointServicer) *PointHandler {
	return &PointHandler{svc: svc}
}

// RegisterRoutes registers layout and point endpoints on an
// establishment-scoped router (/establishments/{eid}).
func (h *PointHandler) RegisterRoutes(r chi.Router) {
	r.Get("/point-layout", h.GetLayout)
	r.Put("/point-layout", h.SaveLayout)
	r.Get("/points", h.List)
	r.Post("/points/{identifier}/open", h.Open)
	r.With(middleware.RequireRole(enum.UserRoleManager, enum.UserRoleOwner)).
		Patch("/points/{identifier}/status", h.SetStatus)
}

// --- Request / Response types ---

type layoutRequest struct {
	TablesEnabled bool   `json:"tables_enabled"`
	TabsEnabled   bool   `json:"tabs_enabled"`
	TableCount    int    `json:"table_count" validate:"gte=0,lte=500"`
	TabCount      int    `json:"tab_count" validate:"gte=0,lte=500"`
	TabPrefix     string `json:"tab_prefix" validate:"max=32"`
}

type layoutResponse struct {
	TablesEnabled bool   `json:"tables_enabled"`
	TabsEnabled   bool   `json:"tabs_enabled"`
	TableCount    int    `json:"table_count"`
	TabCount      int    `json:"tab_count"`
	TabPrefix     string `json:"tab_prefix"`
}

type openPointRequest struct {
	Label string `json:"label" validate:"max=80"`
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=idle opened occupied settled"`
}

type pointOrderSummary struct {
	ID           uuid.UUID `json:"id"`
	Status       string    `json:"status"`
	SequenceCode string    `json:"sequence_code"`
	Total        string    `json:"total"`
}

type pointViewResponse struct {
	Identifier     string             `json:"identifier"`
	Kind           string             `json:"kind"`
	Label          string             `json:"label"`
	Status         string             `json:"status"`
	Materialized   bool               `json:"materialized"`
	OpenedAt       *time.Time         `json:"opened_at"`
	ElapsedSeconds int64              `json:"elapsed_seconds"`
	Order          *pointOrderSummary `json:"order"`
}

type pointListResponse struct {
	Points []pointViewResponse `json:"points"`
}

type servicePointResponse struct {
	ID         uuid.UUID  `json:"id"`
	Identifier string     `json:"identifier"`
	Status     string     `json:"status"`
	Label      *string    `json:"label"`
	OpenedAt   *time.Time `json:"opened_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type openPointResponse struct {
	Point   servicePointResponse `json:"point"`
	Created bool                 `json:"created"`
}

// --- Handlers ---

// GetLayout handles GET /establishments/{eid}/point-layout.
func (h *PointHandler) GetLayout(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}

	l, err := h.svc.GetLayout(r.Context(), eid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layoutResponse(l))
}

// SaveLayout handles PUT /establishments/{eid}/point-layout.
func (h *PointHandler) SaveLayout(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}
	var req layoutRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	l, err := h.svc.SaveLayout(r.Context(), eid, service.Layout(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layoutResponse(l))
}

// List handles GET /establishments/{eid}/points.
func (h *PointHandler) List(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}

	views, err := h.svc.ListPoints(r.Context(), eid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := pointListResponse{Points: make([]pointViewResponse, 0, len(views))}
	for _, v := range views {
		resp.Points = append(resp.Points, toPointViewResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Open handles POST /establishments/{eid}/points/{identifier}/open.
func (h *PointHandler) Open(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}
	var req openPointRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	res, err := h.svc.EnsurePoint(r.Context(), eid, chi.URLParam(r, "identifier"), req.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, openPointResponse{Point: toServicePointResponse(res.Point), Created: res.Created})
}

// SetStatus handles PATCH /establishments/{eid}/points/{identifier}/status.
func (h *PointHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	eid, _, ok := requestScope(w, r)
	if !ok {
		return
	}
	var req setStatusRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	point, err := h.svc.SetStatus(r.Context(), eid, chi.URLParam(r, "identifier"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServicePointResponse(point))
}

// --- Helpers ---

func toPointViewResponse(v service.PointView) pointViewResponse {
	resp := pointViewResponse{
		Identifier:     v.Identifier,
		Kind:           v.Kind,
		Label:          v.Label,
		Status:         v.Status,
		Materialized:   v.Materialized,
		OpenedAt:       v.OpenedAt,
		ElapsedSeconds: int64(v.Elapsed / time.Second),
	}
	if v.OrderID != nil {
		resp.Order = &pointOrderSummary{
			ID:           *v.OrderID,
			Status:       v.OrderStatus,
			SequenceCode: v.SequenceCode,
			Total:        "0.00",
		}
		if v.Total != nil {
			resp.Order.Total = money(*v.Total)
		}
	}
	return resp
}

func toServicePointResponse(p database.ServicePoint) servicePointResponse {
	return servicePointResponse{
		ID:         p.ID,
		Identifier: p.Identifier,
		Status:     p.Status,
		Label:      optionalString(p.Label),
		OpenedAt:   optionalTime(p.OpenedAt),
		UpdatedAt:  p.UpdatedAt,
	}
}
