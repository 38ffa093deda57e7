package router

import (
	"context"
	"net/http"
	"time"

	"github.com/comanda-pos/api/internal/config"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/handler"
	"github.com/comanda-pos/api/internal/logging"
	mw "github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/service"
	"github.com/comanda-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New creates a Chi router with all application routes wired up.
// idem may be nil, which disables Idempotency-Key handling.
func New(cfg *config.Config, pool *pgxpool.Pool, hub *ws.Hub, idem mw.IdempotencyStore) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.IdempotencyHeader},
		ExposedHeaders:   []string{mw.ReplayedHeader},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/establishments/{eid}/events", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	cashService := service.NewCashService(pool, func(db database.DBTX) service.CashStore {
		return database.New(db)
	}, hub)
	pointService := service.NewPointService(pool, func(db database.DBTX) service.PointStore {
		return database.New(db)
	}, hub)
	orderService := service.NewOrderService(pool, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}, hub)
	settlementService := service.NewSettlementService(pool, func(db database.DBTX) service.SettlementStore {
		return database.New(db)
	}, hub)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Establishment-scoped routes
		r.Route("/establishments/{eid}", func(r chi.Router) {
			r.Use(mw.RequireEstablishment)
			if idem != nil {
				r.Use(mw.Idempotency(idem, cfg.IdempotencyTTL))
			}

			sessionHandler := handler.NewSessionHandler(cashService)
			r.Route("/cash-sessions", sessionHandler.RegisterRoutes)

			handler.NewPointHandler(pointService).RegisterRoutes(r)
			handler.NewOrderHandler(orderService, settlementService).RegisterRoutes(r)
		})
	})

	return r
}
