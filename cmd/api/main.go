package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/oakmart/oakmart-backend/api/routes"
	"github.com/oakmart/oakmart-backend/internal/checkout"
	"github.com/oakmart/oakmart-backend/internal/fulfillment"
	"github.com/oakmart/oakmart-backend/internal/inventory"
	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/internal/payments"
	"github.com/oakmart/oakmart-backend/internal/returns"
	"github.com/oakmart/oakmart-backend/internal/shipping"
	"github.com/oakmart/oakmart-backend/pkg/config"
	"github.com/oakmart/oakmart-backend/pkg/db"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/metrics"
	"github.com/oakmart/oakmart-backend/pkg/migrate"
	"github.com/oakmart/oakmart-backend/pkg/outbox"
	"github.com/oakmart/oakmart-backend/pkg/outbox/idempotency"
	"github.com/oakmart/oakmart-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.Open(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis client", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ordersRepo := orders.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repo: inventory.NewRepository(dbClient.DB()),
		Logg: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	stripeGateway, err := payments.NewStripeGateway(context.Background(), cfg.Stripe, cfg.Payments, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe gateway", err)
		os.Exit(1)
	}
	payhubGateway, err := payments.NewPayhubGateway(cfg.Payhub)
	if err != nil {
		logg.Error(context.Background(), "failed to create payhub gateway", err)
		os.Exit(1)
	}

	idemManager, err := idempotency.NewManager(redisClient, cfg.Payments.WebhookIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Repo:     payments.NewRepository(dbClient.DB()),
		Orders:   ordersRepo,
		Gateways: payments.NewRegistry(stripeGateway, payhubGateway),
		Tx:       dbClient,
		Outbox:   outboxSvc,
		Idem:     idemManager,
		Metrics:  metrics.NewPaymentMetrics(registry),
		Logg:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:             ordersRepo,
		Tx:               dbClient,
		Outbox:           outboxSvc,
		Stock:            inventorySvc,
		Refunder:         paymentsSvc,
		Logg:             logg,
		TaxRatePercent:   cfg.Tax.RatePercent,
		ReturnWindowDays: cfg.Returns.WindowDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Orders:  ordersSvc,
		Stock:   inventorySvc,
		Intents: paymentsSvc,
		Tx:      dbClient,
		Logg:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	carriers, err := buildCarriers(cfg.Shipping)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipping carriers", err)
		os.Exit(1)
	}
	shippingSvc, err := shipping.NewService(shipping.ServiceParams{
		Carriers: carriers,
		Config:   cfg.Shipping,
		Logg:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create shipping service", err)
		os.Exit(1)
	}

	fulfillmentSvc, err := fulfillment.NewService(fulfillment.ServiceParams{
		Orders:   ordersSvc,
		Repo:     ordersRepo,
		Shipping: shippingSvc,
		Stock:    inventorySvc,
		Tx:       dbClient,
		Outbox:   outboxSvc,
		Logg:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	returnsSvc, err := returns.NewService(returns.ServiceParams{
		Repo:       returns.NewRepository(dbClient.DB()),
		Orders:     ordersSvc,
		OrdersRepo: ordersRepo,
		Stock:      inventorySvc,
		Refunder:   paymentsSvc,
		Labels:     shippingSvc,
		Tx:         dbClient,
		Outbox:     outboxSvc,
		Logg:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create returns service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	addr := ":" + cfg.App.Port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry, routes.Services{
			Checkout:    checkoutSvc,
			Orders:      ordersSvc,
			Payments:    paymentsSvc,
			Fulfillment: fulfillmentSvc,
			Returns:     returnsSvc,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shutting down gracefully")
}

// buildCarriers wires every carrier that has credentials configured.
func buildCarriers(cfg config.ShippingConfig) ([]shipping.Carrier, error) {
	var carriers []shipping.Carrier
	if cfg.FleetShipBaseURL != "" {
		fleet, err := shipping.NewHTTPCarrier(shipping.CarrierFleetShip, cfg.FleetShipBaseURL, cfg.FleetShipAPIKey, cfg.QuoteTimeout)
		if err != nil {
			return nil, err
		}
		carriers = append(carriers, fleet)
	}
	if cfg.ParcelOneBaseURL != "" {
		parcel, err := shipping.NewHTTPCarrier(shipping.CarrierParcelOne, cfg.ParcelOneBaseURL, cfg.ParcelOneAPIKey, cfg.QuoteTimeout)
		if err != nil {
			return nil, err
		}
		carriers = append(carriers, parcel)
	}
	if len(carriers) == 0 {
		return nil, errors.New("no shipping carriers configured")
	}
	return carriers, nil
}
