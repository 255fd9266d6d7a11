package api

import (
	"log"
	"net/http"
	"time"

	"github.com/agrilink/marketplace/internal/api/middleware"
	"github.com/agrilink/marketplace/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP surface. checkout, when non-nil, serves the
// hosted page of the local mock gateway under /mock-checkout/{reference}.
func NewRouter(handlers *Handlers, jwtService *auth.JWTService, checkout http.HandlerFunc) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(withLogging)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.Health)

	r.Route("/api", func(r chi.Router) {
		// Orders
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService))

			r.Post("/orders", handlers.PlaceOrder)
			r.Get("/orders", handlers.GetOrders)
			r.Get("/orders/{id}", handlers.GetOrder)
			r.With(middleware.RequireRole(auth.RoleFarmer, auth.RoleAdmin)).
				Put("/orders/{id}/status", handlers.UpdateOrderStatus)

			r.Post("/payments/initialize", handlers.InitializePayment)
			r.Get("/payments/status/{orderId}", handlers.PaymentStatus)
		})

		// Payments reachable without a session: the payer's return from
		// checkout and the gateway's signed notifications.
		r.With(middleware.OptionalAuthMiddleware(jwtService)).
			Get("/payments/verify/{reference}", handlers.VerifyPayment)
		r.Post("/payments/webhook", handlers.PaystackWebhook)
	})

	if checkout != nil {
		r.Get("/mock-checkout/{reference}", checkout)
	}

	return r
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Printf("[API] %s %s %d %s (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond), chimw.GetReqID(r.Context()))
	})
}
