package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oakmart/oakmart-backend/api/controllers"
	"github.com/oakmart/oakmart-backend/api/middleware"
	checkoutsvc "github.com/oakmart/oakmart-backend/internal/checkout"
	"github.com/oakmart/oakmart-backend/internal/fulfillment"
	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/internal/payments"
	returnsvc "github.com/oakmart/oakmart-backend/internal/returns"
	"github.com/oakmart/oakmart-backend/pkg/config"
	"github.com/oakmart/oakmart-backend/pkg/logger"
)

// Services groups everything the router wires into handlers.
type Services struct {
	Checkout    *checkoutsvc.Service
	Orders      *orders.Service
	Payments    *payments.Service
	Fulfillment *fulfillment.Service
	Returns     *returnsvc.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	registry *prometheus.Registry,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Get("/readyz", controllers.HealthReady(cfg, logg, dbP, redisP))
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// Webhooks authenticate through provider signatures, not bearer tokens.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/{provider}", controllers.ProviderWebhook(svcs.Payments, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(cfg.JWT, logg))

		r.Post("/checkout", controllers.Checkout(svcs.Checkout, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(svcs.Orders, logg))
			r.Route("/{orderNumber}", func(r chi.Router) {
				r.Get("/", controllers.OrderGet(svcs.Orders, logg))
				r.Get("/history", controllers.OrderHistory(svcs.Orders, logg))
				r.Post("/cancel", controllers.OrderCancel(svcs.Orders, logg))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin(logg))
					r.Post("/fulfill", controllers.OrderFulfill(svcs.Fulfillment, logg))
					r.Post("/ship", controllers.OrderShip(svcs.Fulfillment, logg))
					r.Post("/deliver", controllers.OrderDeliver(svcs.Fulfillment, logg))
				})
			})
		})

		r.Route("/payments/{orderNumber}", func(r chi.Router) {
			r.Post("/confirm", controllers.PaymentConfirm(svcs.Payments, svcs.Orders, logg))
			r.Get("/transactions", controllers.PaymentTransactions(svcs.Payments, svcs.Orders, logg))
		})

		r.Route("/returns/{orderNumber}", func(r chi.Router) {
			r.Post("/", controllers.ReturnCreate(svcs.Returns, svcs.Orders, logg))
			r.Get("/", controllers.ReturnList(svcs.Returns, svcs.Orders, logg))
			r.With(middleware.RequireAdmin(logg)).
				Post("/{returnId}/receive", controllers.ReturnReceive(svcs.Returns, logg))
		})
	})

	return r
}
