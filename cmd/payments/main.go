package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"payments-core/internal/app/payments"
	"payments-core/internal/app/refunds"
	"payments-core/internal/app/wallets"
	"payments-core/internal/clients/identity"
	"payments-core/internal/clients/orders"
	"payments-core/internal/config"
	"payments-core/internal/domain"
	"payments-core/internal/events"
	payments_http "payments-core/internal/handler/http/payments"
	kafka_handler "payments-core/internal/handler/kafka"
	"payments-core/internal/infrastructure/database"
	kafka_infra "payments-core/internal/infrastructure/kafka"
	"payments-core/internal/metrics"
	"payments-core/internal/repository/memory"
	"payments-core/internal/repository/payments_repo"
	"payments-core/internal/repository/preferred_repo"
	"payments-core/internal/repository/wallets_repo"
)

func ensureKafkaTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			logger.Info("Часть топиков Kafka уже существует, создание пропущено")
			return nil
		}
		return fmt.Errorf("failed to create kafka topics: %w", err)
	}
	logger.Info("Топики Kafka готовы", zap.Strings("topics", topics))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	return zapConfig.Build()
}

// connectPostgres retries a fixed number of times with a fixed pause.
func connectPostgres(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	dbConfig := database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	const maxRetries = 10
	const retryDelay = 5 * time.Second

	var (
		db  *sql.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			logger.Info("Подключение к PostgreSQL установлено")
			return db, nil
		}
		logger.Warn("Не удалось подключиться к базе данных, повтор",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_in", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}

func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	m, err := migrate.New(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Миграции базы данных применены")
	return nil
}

type storage struct {
	tx        domain.TxManager
	payments  payments_repo.PaymentRepository
	wallets   wallets_repo.WalletRepository
	preferred preferred_repo.PreferredMethodRepository
	close     func()
}

func openStorage(cfg *config.Config, logger *zap.Logger) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		logger.Warn("Используется хранилище в памяти, данные не переживут перезапуск")
		store := memory.NewStore()
		return &storage{
			tx:        store,
			payments:  store.Payments(),
			wallets:   store.Wallets(),
			preferred: store.PreferredMethods(),
			close:     func() {},
		}, nil
	}

	db, err := connectPostgres(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(cfg, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &storage{
		tx:        database.NewTxManager(db, logger.With(zap.String("component", "TxManager"))),
		payments:  payments_repo.NewPaymentRepository(),
		wallets:   wallets_repo.NewWalletRepository(),
		preferred: preferred_repo.NewPreferredMethodRepository(),
		close: func() {
			if err := db.Close(); err != nil {
				logger.Error("Ошибка при закрытии соединения с базой данных", zap.Error(err))
			}
		},
	}, nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("Payments Service запускается", zap.String("storage", cfg.StorageDriver))

	store, err := openStorage(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Не удалось подготовить хранилище", zap.Error(err))
	}
	defer store.close()

	kafkaBrokers := cfg.GetKafkaBrokers()
	topicsCtx, topicsCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = ensureKafkaTopics(topicsCtx, kafkaBrokers, []string{
		cfg.KafkaPaymentsTopic,
		cfg.KafkaOrderCanceledTopic,
		cfg.KafkaAuthTopic,
	}, appLogger)
	topicsCancel()
	if err != nil {
		appLogger.Fatal("Не удалось подготовить топики Kafka", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	paymentMetrics := metrics.NewPayments(registry)

	kafkaProducer := kafka_infra.NewProducer(kafkaBrokers, appLogger.With(zap.String("component", "KafkaProducer")))
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			appLogger.Error("Ошибка при закрытии Kafka producer", zap.Error(err))
		}
	}()
	publisher := events.NewPublisher(kafkaProducer, cfg.KafkaPaymentsTopic, paymentMetrics,
		appLogger.With(zap.String("component", "EventPublisher")))

	redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
	redisClient, err := identity.NewRedisClient(redisCtx, cfg.RedisURL)
	redisCancel()
	if err != nil {
		appLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	defer redisClient.Close()

	identityClient := identity.NewClient(cfg.AuthServiceURL,
		appLogger.With(zap.String("component", "IdentityClient")),
		identity.WithCache(identity.NewRedisCache(redisClient, cfg.IdentityCacheTTL, appLogger.With(zap.String("component", "IdentityCache")))),
	)
	ordersClient := orders.NewClient(cfg.OrdersServiceURL,
		appLogger.With(zap.String("component", "OrdersClient")),
		orders.WithDerivedTotals(cfg.OrdersDeriveTotals),
	)

	walletService := wallets.NewService(store.tx, store.wallets, appLogger.With(zap.String("component", "WalletService")))
	paymentService := payments.NewService(payments.Dependencies{
		Tx:        store.tx,
		Payments:  store.payments,
		Preferred: store.preferred,
		Wallets:   walletService,
		Orders:    ordersClient,
		Publisher: publisher,
		Metrics:   paymentMetrics,
	}, cfg.BankSettlementDelay, appLogger.With(zap.String("component", "PaymentService")))

	resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	resumed, err := paymentService.ResumeBankSettlements(resumeCtx)
	resumeCancel()
	if err != nil {
		appLogger.Error("Не удалось возобновить ожидающие банковские переводы", zap.Error(err))
	} else {
		appLogger.Info("Ожидающие банковские переводы возобновлены", zap.Int("count", resumed))
	}

	refundOrchestrator := refunds.NewOrchestrator(paymentService, cfg.RefundBaseDelay, paymentMetrics,
		appLogger.With(zap.String("component", "RefundOrchestrator")))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	payments_http.RegisterRoutes(router, paymentService, walletService, identityClient,
		appLogger.With(zap.String("component", "HTTPHandler")))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	orderCanceledConsumer := kafka_infra.NewConsumer(kafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaOrderCanceledTopic,
		appLogger.With(zap.String("component", "OrderCanceledConsumer")))
	logoutConsumer := kafka_infra.NewConsumer(kafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaAuthTopic,
		appLogger.With(zap.String("component", "LogoutConsumer")))

	ctxMain, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	go func() {
		appLogger.Info("Запуск HTTP сервера", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP сервер завершился с ошибкой", zap.Error(err))
		}
	}()

	consumersDone := make(chan struct{}, 2)
	startConsumer := func(name string, c kafka_infra.Consumer, handler kafka_infra.MessageHandler) {
		go func() {
			defer func() { consumersDone <- struct{}{} }()
			if err := c.Start(ctxMain, handler); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("Kafka consumer завершился с ошибкой", zap.String("consumer", name), zap.Error(err))
			}
		}()
	}
	startConsumer("order_canceled", orderCanceledConsumer, kafka_handler.OrderCanceledMessageHandler(
		refundOrchestrator, appLogger.With(zap.String("component", "OrderCanceledHandler"))))
	startConsumer("logout", logoutConsumer, kafka_handler.LogoutMessageHandler(
		identityClient, appLogger.With(zap.String("component", "LogoutHandler"))))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Завершение работы приложения...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Ошибка при остановке HTTP сервера", zap.Error(err))
	}

	cancelMain()
	orderCanceledConsumer.Stop()
	logoutConsumer.Stop()
waitConsumers:
	for i := 0; i < 2; i++ {
		select {
		case <-consumersDone:
		case <-shutdownCtx.Done():
			appLogger.Warn("Kafka consumers не остановились вовремя")
			break waitConsumers
		}
	}

	// Pending bank timers are dropped; ResumeBankSettlements re-arms them on the next start.
	paymentService.Close()
	appLogger.Info("Приложение корректно остановлено")
}
