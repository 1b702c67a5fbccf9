package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/boltlink/api/internal/platform/auth"
	"github.com/boltlink/api/internal/platform/httpx"
	"github.com/boltlink/api/internal/platform/idempotency"
	"github.com/boltlink/api/internal/platform/observability"
	"github.com/boltlink/api/internal/services"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Logger      *zap.Logger
	CartBuilder services.CartBuilderService
	Orders      services.OrderCreatorService
	Lifecycle   services.PreAuthLifecycleService
	Coupons     services.CouponService
	Verifier    *auth.HMACVerifier
	Idempotency idempotency.Store
	Clock       services.Clock
}

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.InjectLoggerMiddleware(deps.Logger))
	r.Use(observability.TraceMiddleware())
	r.Use(observability.RequestLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	checkout := &checkoutHandler{carts: deps.CartBuilder}
	webhook := newWebhookHandler(deps)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/checkout/token", checkout.createToken)

		r.Group(func(r chi.Router) {
			if deps.Verifier != nil {
				r.Use(deps.Verifier.Middleware())
			}
			r.Post("/webhooks/bolt", webhook.handle)
		})
	})

	return r
}
