package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/taskloop/marketplace-be/internal/admin"
	"github.com/taskloop/marketplace-be/internal/analysis"
	"github.com/taskloop/marketplace-be/internal/config"
	"github.com/taskloop/marketplace-be/internal/dispatch"
	"github.com/taskloop/marketplace-be/internal/lifecycle"
	"github.com/taskloop/marketplace-be/internal/notify"
	"github.com/taskloop/marketplace-be/internal/pipeline"
	"github.com/taskloop/marketplace-be/internal/queue"
	"github.com/taskloop/marketplace-be/internal/retrieval"
	"github.com/taskloop/marketplace-be/internal/store"
	"github.com/taskloop/marketplace-be/shared/logger"
	"github.com/taskloop/marketplace-be/shared/postgresql"
	"github.com/taskloop/marketplace-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("DISPATCH_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/dispatch-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateDispatchConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting dispatch service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Redis backs the context vector index
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Dispatch.Redis.Addr,
		Password: cfg.Dispatch.Redis.Password,
		DB:       cfg.Dispatch.Redis.DB,
	})

	// Record store and lifecycle service
	recordStore := store.NewPostgres(dbClient, appLogger.Logger)
	lifecycleSvc := lifecycle.NewService(recordStore, appLogger.Logger)

	// External providers
	extractor := analysis.NewHTTPExtractor(analysis.HTTPExtractorConfig{
		BaseURL: cfg.Dispatch.Extraction.BaseURL,
		APIKey:  cfg.Dispatch.Extraction.APIKey,
		Model:   cfg.Dispatch.Extraction.Model,
		Timeout: cfg.Dispatch.Extraction.Timeout,
	})

	embedder := retrieval.NewHTTPEmbedder(retrieval.HTTPEmbedderConfig{
		BaseURL: cfg.Dispatch.Embedding.BaseURL,
		APIKey:  cfg.Dispatch.Embedding.APIKey,
		Model:   cfg.Dispatch.Embedding.Model,
		Timeout: cfg.Dispatch.Embedding.Timeout,
	})

	vectorIndex := retrieval.NewRedisIndex(redisClient, appLogger.Logger)
	retrievalSvc := retrieval.NewService(embedder, vectorIndex, cfg.Dispatch.Retrieval, appLogger.Logger)

	// Completed jobs feed the context index for future retrieval
	lifecycleSvc.SetContextIndexer(retrievalSvc)

	notifier := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.Dispatch.SendGrid.APIKey,
		FromEmail: cfg.Dispatch.SendGrid.FromEmail,
		FromName:  cfg.Dispatch.SendGrid.FromName,
	}, appLogger.Logger)

	webhookSender := pipeline.NewHTTPWebhookSender(pipeline.HTTPWebhookConfig{
		Secret:  cfg.Dispatch.Webhook.Secret,
		Timeout: cfg.Dispatch.Webhook.Timeout,
	})

	// Task queue fabric and stage handlers
	fabric := queue.NewFabric(cfg.Dispatch.Queues, appLogger.Logger)

	pipeline.New(pipeline.Config{
		Store:     recordStore,
		Lifecycle: lifecycleSvc,
		Extractor: extractor,
		Retriever: retrievalSvc,
		Notifier:  notifier,
		Webhooks:  webhookSender,
		Fabric:    fabric,
		Matching:  cfg.Dispatch.Matching,
		Logger:    appLogger.Logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fabric.Start(ctx)

	// Submissions consumer bridges RabbitMQ into the fabric
	consumer := dispatch.NewConsumer(dispatch.ConsumerConfig{
		RabbitClient:  rabbitClient,
		Fabric:        fabric,
		Logger:        appLogger.Logger,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		ConsumerTag:   cfg.RabbitMQ.Consumer.ConsumerTag,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// Admin server exposes queue stats and the dead-letter store
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	adminRouter := admin.SetupRouter(&admin.Dependencies{
		Logger: appLogger.Logger,
		Fabric: fabric,
	})

	adminAddr := fmt.Sprintf(":%d", cfg.Dispatch.AdminPort)
	adminSrv := &http.Server{
		Addr:    adminAddr,
		Handler: adminRouter,
	}

	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Admin server failed",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Dispatch service started successfully",
		slog.String("admin_address", adminAddr),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Consumer error",
			slog.Any("error", err),
		)
		return err
	}

	// Stop the consumer first so no new entries arrive, then drain the fabric
	cancel()

	shutdownTimeout := cfg.Dispatch.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		fabric.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Queue fabric stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Fabric shutdown timeout exceeded, forcing exit")
	}

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Admin server forced to shutdown",
			slog.Any("error", err),
		)
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Dispatch service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
