package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/boltlink/api/internal/bolt"
	"github.com/boltlink/api/internal/handlers"
	"github.com/boltlink/api/internal/platform/auth"
	"github.com/boltlink/api/internal/platform/config"
	pfirestore "github.com/boltlink/api/internal/platform/firestore"
	"github.com/boltlink/api/internal/platform/idempotency"
	"github.com/boltlink/api/internal/platform/jobs"
	"github.com/boltlink/api/internal/platform/observability"
	"github.com/boltlink/api/internal/platform/secrets"
	repofirestore "github.com/boltlink/api/internal/repositories/firestore"
	"github.com/boltlink/api/internal/services"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	ctx = observability.WithLogger(ctx, logger)

	var loadOpts []config.Option
	if projectID := strings.TrimSpace(os.Getenv("API_FIRESTORE_PROJECT_ID")); projectID != "" {
		fetcher, ferr := secrets.NewFetcher(ctx, projectID)
		if ferr != nil {
			logger.Warn("secret manager unavailable, secret:// references will fail", zap.Error(ferr))
		} else {
			defer func() { _ = fetcher.Close() }()
			loadOpts = append(loadOpts, config.WithSecretResolver(fetcher))
		}
	}

	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	provider := pfirestore.NewProvider(pfirestore.ProviderConfig{
		ProjectID:    cfg.Firestore.ProjectID,
		EmulatorHost: cfg.Firestore.EmulatorHost,
	})
	registry, err := repofirestore.NewRegistry(provider)
	if err != nil {
		return fmt.Errorf("build repositories: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if cerr := registry.Close(closeCtx); cerr != nil {
			logger.Warn("closing repositories", zap.Error(cerr))
		}
	}()

	gateway, err := bolt.NewClient(bolt.ClientDeps{
		BaseURL:    cfg.Bolt.APIBaseURL,
		APIKey:     cfg.Bolt.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.Bolt.Timeout},
	})
	if err != nil {
		return fmt.Errorf("build platform client: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
	if err != nil {
		return fmt.Errorf("build pubsub client: %w", err)
	}
	defer func() { _ = pubsubClient.Close() }()
	topic := pubsubClient.Topic(cfg.Events.OrderEventsTopic)
	defer topic.Stop()

	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		return fmt.Errorf("build event publisher: %w", err)
	}

	eventLog := observability.EventLogger()
	clock := func() time.Time { return time.Now().UTC() }
	policy := bluemonday.StrictPolicy()
	sanitize := func(input string) string { return strings.TrimSpace(policy.Sanitize(input)) }

	pipeline := services.NewCartFilterPipeline(eventLog)

	reconciler, err := services.NewTotalsReconcilerService(services.TotalsReconcilerDeps{
		ToleranceCents:     cfg.Reconciliation.ToleranceCents,
		PriceFaultTolerant: cfg.Reconciliation.PriceFaultTolerant,
		Coupons:            registry.Coupons(),
		Clock:              clock,
		Logger:             eventLog,
	})
	if err != nil {
		return fmt.Errorf("build totals reconciler: %w", err)
	}

	cartBuilder, err := services.NewCartBuilderService(services.CartBuilderDeps{
		Quotes:     registry.Quotes(),
		Coupons:    registry.Coupons(),
		Counters:   registry.Counters(),
		Gateway:    gateway,
		Pipeline:   pipeline,
		TokenCache: services.NewMemoryTokenCache(cfg.Reconciliation.CartCacheTTL),
		Clock:      clock,
		Logger:     eventLog,
	})
	if err != nil {
		return fmt.Errorf("build cart builder: %w", err)
	}

	orderCreator, err := services.NewOrderCreatorService(services.OrderCreatorDeps{
		Quotes:     registry.Quotes(),
		Orders:     registry.Orders(),
		Products:   registry.Products(),
		Coupons:    registry.Coupons(),
		Counters:   registry.Counters(),
		Reconciler: reconciler,
		Publisher:  publisher,
		UnitOfWork: registry,
		Sanitize:   sanitize,
		Clock:      clock,
		Logger:     eventLog,
	})
	if err != nil {
		return fmt.Errorf("build order creator: %w", err)
	}

	lifecycle, err := services.NewPreAuthLifecycleService(services.PreAuthLifecycleDeps{
		Orders:               registry.Orders(),
		Quotes:               registry.Quotes(),
		Coupons:              registry.Coupons(),
		Gateway:              gateway,
		Publisher:            publisher,
		ExpiryAge:            cfg.PreAuth.ExpiryAge,
		OrphanQuoteTTL:       cfg.PreAuth.OrphanQuoteTTL,
		RetainCanceledOrders: cfg.PreAuth.RetainCanceledOrders,
		CleanupBatchSize:     cfg.PreAuth.CleanupBatchSize,
		Clock:                clock,
		Logger:               eventLog,
	})
	if err != nil {
		return fmt.Errorf("build pre-auth lifecycle: %w", err)
	}

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		Quotes:  registry.Quotes(),
		Orders:  registry.Orders(),
		Coupons: registry.Coupons(),
		Clock:   clock,
		Logger:  eventLog,
	})
	if err != nil {
		return fmt.Errorf("build coupon service: %w", err)
	}

	verifier, err := auth.NewHMACVerifier(cfg.Bolt.SigningSecret, cfg.Bolt.HMACHeader)
	if err != nil {
		return fmt.Errorf("build webhook verifier: %w", err)
	}

	idemStore, err := idempotency.NewFirestoreStore(provider)
	if err != nil {
		return fmt.Errorf("build idempotency store: %w", err)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Logger:      logger,
		CartBuilder: cartBuilder,
		Orders:      orderCreator,
		Lifecycle:   lifecycle,
		Coupons:     coupons,
		Verifier:    verifier,
		Idempotency: idemStore,
		Clock:       clock,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go runCleanupLoop(ctx, logger, lifecycle, idemStore, cfg, clock)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-serveErr
}

// runCleanupLoop drives the scheduled maintenance: stale pre-auth orders,
// orphaned quotes and expired idempotency keys.
func runCleanupLoop(ctx context.Context, logger *zap.Logger, lifecycle services.PreAuthLifecycleService, store idempotency.Store, cfg config.Config, clock services.Clock) {
	interval := cfg.PreAuth.CleanupInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runCtx := observability.WithLogger(ctx, logger)
		report, err := lifecycle.RunCleanup(runCtx)
		if err != nil {
			logger.Error("cleanup sweep failed", zap.Error(err))
		} else {
			logger.Info("cleanup sweep finished",
				zap.Int("expired_orders", report.ExpiredOrders),
				zap.Int("activated_orders", report.ActivatedOrders),
				zap.Int("removed_orders", report.RemovedOrders),
				zap.Int("deleted_quotes", report.DeletedQuotes),
				zap.Int("deactivated_quotes", report.DeactivatedQuotes),
			)
		}

		cutoff := clock().Add(-cfg.Idempotency.TTL)
		if removed, err := store.CleanupExpired(runCtx, cutoff, cfg.PreAuth.CleanupBatchSize); err != nil {
			logger.Error("idempotency cleanup failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("idempotency keys expired", zap.Int("removed", removed))
		}
	}
}
