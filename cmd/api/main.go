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

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/shelfsort/api/internal/handlers"
	"github.com/shelfsort/api/internal/platform/cache"
	"github.com/shelfsort/api/internal/platform/config"
	pfirestore "github.com/shelfsort/api/internal/platform/firestore"
	"github.com/shelfsort/api/internal/platform/jobs"
	"github.com/shelfsort/api/internal/platform/observability"
	"github.com/shelfsort/api/internal/platform/secrets"
	"github.com/shelfsort/api/internal/repositories"
	firestoreRepo "github.com/shelfsort/api/internal/repositories/firestore"
	"github.com/shelfsort/api/internal/services"
	"github.com/shelfsort/api/internal/shopify"
)

const (
	resortRateLimit  = 10
	resortRateWindow = time.Minute
)

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

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	settingsRepo, err := firestoreRepo.NewSettingsRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise settings repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}

	shopifyClient, err := shopify.NewClient(shopify.Config{
		StoreDomain: cfg.Shopify.StoreDomain,
		AdminToken:  cfg.Shopify.AdminToken,
		APIVersion:  cfg.Shopify.APIVersion,
		HTTPTimeout: cfg.Shopify.HTTPTimeout,
	})
	if err != nil {
		logger.Fatal("failed to initialise shopify admin client", zap.Error(err))
	}

	cacheStore, redisStore, err := newCacheStore(cfg.Cache)
	if err != nil {
		logger.Fatal("failed to initialise cache store", zap.Error(err))
	}
	if redisStore != nil {
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	timezone, err := time.LoadLocation(cfg.Aggregation.ShopTimezone)
	if err != nil {
		logger.Fatal("invalid shop timezone", zap.Error(err))
	}

	aggregator, err := services.NewMetricsAggregator(services.AggregatorDeps{
		Orders:  shopifyClient,
		Catalog: shopifyClient,
		Budgets: services.AggregationBudgets{
			MaxRecords:   cfg.Aggregation.MaxOrderRecords,
			MaxWallClock: cfg.Aggregation.MaxDuration,
			PageSize:     cfg.Aggregation.PageSize,
			MaxPages:     cfg.Aggregation.MaxPages,
			MaxProducts:  cfg.Aggregation.MaxProducts,
		},
		Timezone: timezone,
		Logger:   newServiceLogger(logger.Named("aggregator")),
	})
	if err != nil {
		logger.Fatal("failed to initialise metrics aggregator", zap.Error(err))
	}

	executor, err := services.NewReorderExecutor(services.ReorderExecutorDeps{
		Gateway:      shopifyClient,
		BatchSize:    cfg.Reorder.BatchSize,
		PollInterval: cfg.Reorder.PollInterval,
		PollAttempts: cfg.Reorder.PollAttempts,
		Logger:       newServiceLogger(logger.Named("reorder")),
	})
	if err != nil {
		logger.Fatal("failed to initialise reorder executor", zap.Error(err))
	}

	var publisher services.EventPublisher
	var pubsubClient *pubsub.Client
	if cfg.Events.Enabled {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		publisher, err = jobs.NewPubSubEventPublisher(pubsubClient.Topic(cfg.Events.Topic))
		if err != nil {
			logger.Fatal("failed to initialise resort event publisher", zap.Error(err))
		}
	}
	defer func() {
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	settingsService, err := services.NewSettingsService(services.SettingsServiceDeps{
		Repository: settingsRepo,
		Aggregator: aggregator,
		Logger:     newServiceLogger(logger.Named("settings")),
	})
	if err != nil {
		logger.Fatal("failed to initialise settings service", zap.Error(err))
	}

	collectionService, err := services.NewCollectionService(services.CollectionServiceDeps{
		Settings:   settingsRepo,
		Counters:   counterRepo,
		Aggregator: aggregator,
		Executor:   executor,
		Cache:      cacheStore,
		CacheTTL:   cfg.Cache.TTL,
		Publisher:  publisher,
		Logger:     newServiceLogger(logger.Named("collections")),
	})
	if err != nil {
		logger.Fatal("failed to initialise collection service", zap.Error(err))
	}

	reportService, err := services.NewReportService(services.ReportServiceDeps{
		Aggregator: aggregator,
		Catalog:    shopifyClient,
		Budgets: services.AggregationBudgets{
			MaxRecords:   cfg.Aggregation.MaxOrderRecords,
			MaxWallClock: cfg.Aggregation.MaxDuration,
			PageSize:     cfg.Aggregation.PageSize,
			MaxPages:     cfg.Aggregation.MaxPages,
			MaxProducts:  cfg.Aggregation.MaxProducts,
		},
		Cache:    cacheStore,
		CacheTTL: cfg.Cache.TTL,
		Logger:   newServiceLogger(logger.Named("reports")),
	})
	if err != nil {
		logger.Fatal("failed to initialise report service", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreClient, redisStore)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	collectionHandlers := handlers.NewCollectionHandlers(collectionService, settingsService,
		handlers.WithResortRateLimit(resortRateLimit, resortRateWindow, nil))
	reportHandlers := handlers.NewReportHandlers(reportService)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthChecker(healthRepo),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		handlers.ShopContext(cfg.Shopify.StoreDomain),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCollectionRoutes(collectionHandlers.Routes),
		handlers.WithReportRoutes(reportHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("shelfsort api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newServiceLogger adapts a zap logger to the callback signature services
// accept in their Deps structs.
func newServiceLogger(logger *zap.Logger) services.Logger {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}

func newCacheStore(cfg config.CacheConfig) (cache.Store, *cache.RedisStore, error) {
	switch cfg.Backend {
	case "redis":
		store, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return cache.NewMemoryStore(), nil, nil
	}
}

func newHealthRepository(client *firestore.Client, redisStore *cache.RedisStore) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if redisStore != nil {
		store := redisStore
		checks = append(checks, repositories.DependencyCheck{
			Name:    "cache",
			Timeout: time.Second,
			Check:   store.Ping,
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildInfoFromEnv(env map[string]string, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_SECRET_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve when they are
// given as secret references.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if isSecretRef(env["API_SHOPIFY_ADMIN_TOKEN"]) {
		required = append(required, "Shopify.AdminToken")
	}
	if isSecretRef(env["API_CACHE_REDIS_PASSWORD"]) {
		required = append(required, "Cache.RedisPassword")
	}
	return required
}

func isSecretRef(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}
