package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter wires the payment and coupon routes. Gateway callbacks are
// unauthenticated; they are trusted only through gateway verification.
func NewRouter(h *HTTPHandler, auth func(http.Handler) http.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/payment", func(r chi.Router) {
		r.With(auth).Post("/create-checkout-session", h.CreateCheckoutSession)
		r.With(auth).Get("/order/{orderId}", h.GetOrderStatus)

		r.Post("/success", h.PaymentSuccess)
		r.Post("/fail", h.PaymentFail)
		r.Post("/cancel", h.PaymentCancel)
		r.Post("/ipn", h.PaymentIPN)
	})

	r.Route("/api/coupons", func(r chi.Router) {
		r.Use(auth)
		r.Get("/", h.GetCoupon)
		r.Get("/validate", h.ValidateCoupon)
	})

	return r
}
