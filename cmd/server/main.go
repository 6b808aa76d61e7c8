package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketplace-orders/config"
	"marketplace-orders/internal/api"
	"marketplace-orders/internal/auth"
	"marketplace-orders/internal/broker"
	"marketplace-orders/internal/notify"
	"marketplace-orders/internal/pricing"
	"marketplace-orders/internal/redisclient"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"
	"marketplace-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace order service")

	if err := util.InitIDGenerator(cfg.Server.NodeID); err != nil {
		logger.Fatal("Failed to initialize id generator", zap.Error(err))
	}

	tp, err := util.InitTracer("marketplace-orders", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer repo.Close()
	readiness := []api.Pinger{repo}

	tax, shipping, err := config.LoadPricing(cfg.Business.PricingFile)
	if err != nil {
		logger.Fatal("Failed to load pricing", zap.Error(err))
	}

	// Redis backs locks, idempotency hints and the inventory mirror; the
	// service keeps working from the database alone when it is down.
	var (
		locker service.Locker
		idem   service.IdempotencyCache
		mirror service.InventoryMirror
		stock  service.StockReader
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without cache and locks", zap.Error(err))
	} else {
		defer redisClient.Close()
		locker, idem, mirror, stock = redisClient, redisClient, redisClient, redisClient
		readiness = append(readiness, redisClient)
		logger.Info("Redis connected")
	}

	var (
		publisher     broker.Publisher
		paymentSource broker.Source
		notifySource  broker.Source
	)
	if cfg.Kafka.Bus == "local" {
		bus := broker.NewLocalBus()
		publisher = bus
		paymentSource = bus.Subscribe(cfg.Kafka.PaymentGroup)
		notifySource = bus.Subscribe(cfg.Kafka.NotificationGroup)
		logger.Info("Using in-process event bus")
	} else {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher = producer
		paymentSource = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.PaymentGroup)
		notifySource = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.NotificationGroup)
		logger.Info("Kafka initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.RabbitMQ.URL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	}

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	inventory := service.NewInventoryService(repo, mirror)
	lifecycle := service.NewOrderLifecycle(repo, inventory)
	orderService := service.NewOrderService(repo, pricing.NewCalculator(tax, shipping), inventory,
		locker, idem, cfg.Business.CheckoutLockTTL, cfg.Business.IdempotencyTTL)
	paymentService := service.NewPaymentService(repo, lifecycle, service.NewStubGateway(cfg.Business.GatewaySuccessRate))
	notificationService := service.NewNotificationService(notifier, cfg.Business.NotificationParallel)
	relay := service.NewOutboxRelay(repo, publisher, cfg.Business.OutboxBatchSize, cfg.Business.OutboxPollInterval)

	if _, err := inventory.SyncAll(ctx); err != nil {
		logger.Warn("Failed to sync inventory mirror", zap.Error(err))
	}

	paymentWorker := worker.NewPaymentWorker(paymentSource, paymentService)
	notificationWorker := worker.NewNotificationWorker(notifySource, notificationService)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handler := api.NewHandler(api.Services{
		Orders:    orderService,
		Lifecycle: lifecycle,
		Payments:  paymentService,
		Catalog:   service.NewCatalogService(repo, inventory),
		Carts:     service.NewCartService(repo, stock),
		Users:     service.NewUserService(repo, tokens, cfg.Auth.BcryptCost),
	}, tokens, cfg.Auth.WebhookSecret, readiness...)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error { return relay.Run(egCtx) })
	eg.Go(func() error { return ignoreCanceled(paymentWorker.Start(egCtx)) })
	eg.Go(func() error { return ignoreCanceled(notificationWorker.Start(egCtx)) })
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
	}

	if err := paymentWorker.Stop(); err != nil {
		logger.Warn("Failed to stop payment worker", zap.Error(err))
	}
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Failed to stop notification worker", zap.Error(err))
	}
	logger.Info("Server exited")
}

func openRepository(ctx context.Context, cfg config.DatabaseConfig) (store.Repository, error) {
	if cfg.Driver == "memory" {
		util.GetLogger().Warn("Using in-memory store; data is lost on exit")
		return store.NewMemoryStore(), nil
	}

	db, err := store.NewStore(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	util.GetLogger().Info("Database connected")
	return db, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
