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
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/cellstore/api/internal/di"
	"github.com/cellstore/api/internal/handlers"
	"github.com/cellstore/api/internal/payments"
	"github.com/cellstore/api/internal/platform/auth"
	"github.com/cellstore/api/internal/platform/config"
	pfirestore "github.com/cellstore/api/internal/platform/firestore"
	"github.com/cellstore/api/internal/platform/idempotency"
	"github.com/cellstore/api/internal/platform/jobs"
	"github.com/cellstore/api/internal/platform/observability"
	"github.com/cellstore/api/internal/repositories"
	firestoreRepo "github.com/cellstore/api/internal/repositories/firestore"
	"github.com/cellstore/api/internal/services"
)

// Populated through -ldflags at release time.
var (
	version   = "dev"
	commitSHA = ""
)

const shutdownGracePeriod = 15 * time.Second

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	client, err := provider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	healthRepo, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		},
	})
	if err != nil {
		logger.Fatal("failed to build health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(provider, healthRepo)
	if err != nil {
		logger.Fatal("failed to build repositories", zap.Error(err))
	}

	serviceLog := func(ctx context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Warn(event, zapFields...)
	}

	var (
		orderEvents  services.OrderEventPublisher
		stockEvents  services.StockEventPublisher
		pubsubClient *pubsub.Client
	)
	if cfg.Events.ProjectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		if cfg.Events.OrderTopic != "" {
			publisher, err := jobs.NewPubSubOrderPublisher(pubsubClient.Topic(cfg.Events.OrderTopic))
			if err != nil {
				logger.Fatal("failed to build order event publisher", zap.Error(err))
			}
			orderEvents = publisher
		}
		if cfg.Events.StockTopic != "" {
			publisher, err := jobs.NewPubSubStockPublisher(pubsubClient.Topic(cfg.Events.StockTopic))
			if err != nil {
				logger.Fatal("failed to build stock event publisher", zap.Error(err))
			}
			stockEvents = publisher
		}
	} else {
		logger.Info("event publishing disabled; no pubsub project configured")
	}

	paymentProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: payments.StripeLogger(serviceLog),
	})
	if err != nil {
		logger.Fatal("failed to build payment provider", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, di.Deps{
		Config:      cfg,
		Registry:    registry,
		Policy:      config.EnvPolicy(),
		Payments:    paymentProvider,
		OrderEvents: orderEvents,
		StockEvents: stockEvents,
		Logger:      logger,
		Build: services.BuildInfo{
			Version:     version,
			CommitSHA:   commitSHA,
			Environment: environmentName(),
			StartedAt:   startedAt,
		},
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	var authn *auth.Authenticator
	if cfg.Firebase.ProjectID != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		authn = auth.NewAuthenticator(verifier)
	} else {
		logger.Warn("firebase project not configured; authenticated routes will reject requests")
	}

	idemStore := idempotency.NewFirestoreStore(client)
	idemMiddleware := idempotency.Middleware(idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	go runIdempotencyCleanup(ctx, logger, idemStore, cfg.Idempotency)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(container.Services.System)),
		handlers.WithPublicRoutes(handlers.NewCouponHandlers(container.Services.Coupons).Routes),
		handlers.WithCartRoutes(handlers.NewCartHandlers(authn, container.Services.Cart).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(authn, container.Services.Checkout).Routes),
		handlers.WithCheckoutMiddlewares(idemMiddleware),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authn, container.Services.Orders).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminOrderHandlers(authn, container.Services.Orders).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store *idempotency.FirestoreStore, cfg config.IdempotencyConfig) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		return
	}
	batch := cfg.CleanupBatchSize
	if batch <= 0 {
		batch = 100
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx, time.Now().UTC(), batch)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency records expired", zap.Int("removed", removed))
			}
		}
	}
}

func environmentName() string {
	if env := strings.TrimSpace(os.Getenv("API_ENVIRONMENT")); env != "" {
		return env
	}
	return "development"
}
