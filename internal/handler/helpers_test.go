package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/comanda-pos/api/internal/auth"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const testJWTSecret = "test-secret-for-handlers"

// establishmentRouter mounts register under /establishments/{eid} behind the
// same auth chain the real router uses.
func establishmentRouter(register func(r chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testJWTSecret))
	r.Route("/establishments/{eid}", func(r chi.Router) {
		r.Use(middleware.RequireEstablishment)
		register(r)
	})
	return r
}

func doAuthRequest(t *testing.T, router http.Handler, method, path string, body interface{}, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()

	// Generate a real JWT token from claims
	token, err := auth.GenerateToken(testJWTSecret, claims.UserID, claims.EstablishmentID, claims.Role, 0)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case string:
		req = httptest.NewRequest(method, path, strings.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func requireStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

// --- Helpers to build test data ---

func testClaims(establishmentID uuid.UUID) *auth.Claims {
	return &auth.Claims{
		UserID:          uuid.New(),
		EstablishmentID: establishmentID,
		Role:            enum.UserRoleCashier,
	}
}

func testNumeric(s string) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		panic(err)
	}
	return n
}

func testPoint(eid uuid.UUID, identifier, status string) database.ServicePoint {
	now := time.Now()
	p := database.ServicePoint{
		ID:              uuid.New(),
		EstablishmentID: eid,
		Identifier:      identifier,
		Status:          status,
		UpdatedAt:       now,
	}
	if status != enum.PointStatusIdle {
		p.OpenedAt = pgtype.Timestamptz{Time: now, Valid: true}
	}
	return p
}

func testOrder(eid, pointID uuid.UUID, total string) database.Order {
	now := time.Now()
	return database.Order{
		ID:              uuid.New(),
		EstablishmentID: eid,
		ServicePointID:  pointID,
		CashSessionID:   pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Status:          enum.OrderStatusPending,
		SequenceCode:    "01",
		ActorRef:        uuid.New(),
		Channel:         enum.ChannelPOS,
		Total:           testNumeric(total),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
