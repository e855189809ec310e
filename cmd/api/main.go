package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"resortwala/internal/api"
	"resortwala/internal/bot"
	"resortwala/internal/config"
	"resortwala/internal/database"
	"resortwala/internal/domain"
	"resortwala/internal/events"
	"resortwala/internal/export"
	"resortwala/internal/google"
	"resortwala/internal/logging"
	"resortwala/internal/metrics"
	"resortwala/internal/models"
	"resortwala/internal/notify"
	"resortwala/internal/payment"
	"resortwala/internal/realtime"
	"resortwala/internal/repository"
	"resortwala/internal/service"
	"resortwala/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	properties, err := loadProperties(cfg.PropertiesPath, &logger)
	if err != nil {
		return err
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, properties, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	guard := initGuardStore(redisClient, &logger)

	eventBus := events.NewEventBus()
	eventBus.OnError(func(e *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", e.Type).Msg("event handler failed")
	})

	kafkaPublisher := initKafka(cfg, eventBus, &logger)
	if kafkaPublisher != nil {
		defer kafkaPublisher.Close()
	}

	// Зеркалирование в Google Sheets
	var syncWorker domain.SyncWorker
	if sheetsService := initGoogleSheets(ctx, cfg, &logger); sheetsService != nil {
		retryPolicy := worker.RetryPolicy{MaxRetries: 5, InitialDelay: 2 * time.Second, MaxDelay: time.Minute, BackoffFactor: 2, Jitter: 0.2}
		sheetsWorker := worker.NewSheetsWorker(db, sheetsService, redisClient, retryPolicy, logging.Component(&logger, "sheets-worker"))
		go sheetsWorker.Start(ctx)
		syncWorker = sheetsWorker
	}

	calendarService := service.NewCalendarService(db, db, eventBus, cfg.Booking, logging.Component(&logger, "calendar"))
	bookingService := service.NewBookingService(db, db, db, calendarService, eventBus, syncWorker, logging.Component(&logger, "booking"))
	gateway := payment.NewPhonePeClient(cfg.Payment.PhonePe, logging.Component(&logger, "phonepe"))
	paymentService := service.NewPaymentService(gateway, db, bookingService, guard, logging.Component(&logger, "payment"))

	telegramAPI, err := initTelegram(cfg, &logger)
	if err != nil {
		return err
	}
	var telegramSender domain.TelegramSender
	if telegramAPI != nil {
		telegramSender = telegramAPI
	}

	dispatcher, err := initNotifications(cfg, db, telegramSender, &logger)
	if err != nil {
		return err
	}
	dispatcher.Attach(eventBus)
	dispatcher.Start(ctx)

	hub := realtime.NewHub(logging.Component(&logger, "realtime"))
	go hub.Run(ctx)
	hub.Attach(eventBus)

	if telegramAPI != nil && cfg.Notifications.Telegram.PollUpdates {
		vendorBot := bot.NewBot(bot.API{BotAPI: telegramAPI}, cfg.Notifications.Telegram, db,
			bookingService, calendarService, guard, logging.Component(&logger, "telegram-bot"))
		vendorBot.Attach(eventBus)
		go vendorBot.Start(ctx)
		defer vendorBot.Stop()
	}

	sweeper := worker.NewSweeper(bookingService, cfg.Booking.SweepInterval, logging.Component(&logger, "sweeper"))
	go sweeper.Start(ctx)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup"))
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	readiness := map[string]api.ReadinessCheck{"database": db.PingContext}
	if redisClient != nil {
		readiness["redis"] = func(ctx context.Context) error { return repository.Ping(ctx, redisClient) }
	}

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Properties: db,
		Calendar:   calendarService,
		Bookings:   bookingService,
		Payments:   paymentService,
		Exporter:   export.NewExporter(db, db, cfg.Exports.Path, logging.Component(&logger, "export")),
		Hub:        hub,
		Guard:      guard,
		Readiness:  readiness,
	}, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, calendarService, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	err = startServers(ctx, grpcServer, httpServer, cfg, &logger)
	dispatcher.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func loadProperties(path string, logger *zerolog.Logger) ([]*models.Property, error) {
	if env := os.Getenv("PROPERTIES_PATH"); env != "" {
		path = env
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("properties_path", path).Msg("read properties")
		return nil, err
	}

	var propertiesConfig struct {
		Properties []*models.Property `yaml:"properties"`
	}
	if err := yaml.Unmarshal(data, &propertiesConfig); err != nil {
		logger.Error().Err(err).Str("properties_path", path).Msg("parse properties")
		return nil, err
	}

	if err := config.ValidateProperties(propertiesConfig.Properties); err != nil {
		logger.Error().Err(err).Msg("properties validation failed")
		return nil, err
	}
	return propertiesConfig.Properties, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	for _, dir := range []string{filepath.Dir(cfg.Database.Path), cfg.Exports.Path} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error().Err(err).Str("dir", dir).Msg("create directory")
			return err
		}
	}
	return nil
}

func initDatabase(cfg *config.Config, properties []*models.Property, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	ctx := context.Background()
	if err := db.SyncProperties(ctx, properties); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync properties: %w", err)
	}
	if err := db.SyncNotificationTemplates(ctx, cfg.Notifications.Templates); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync notification templates: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, guard store starts on the in-memory fallback")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

// initGuardStore returns the idempotency/throttling store: redis with an
// in-memory fallback, or memory only.
func initGuardStore(redisClient *redis.Client, logger *zerolog.Logger) domain.GuardStore {
	memory := repository.NewMemoryGuardStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverGuardStore(repository.NewRedisGuardStore(redisClient), memory, logging.Component(logger, "guard"))
}

func initKafka(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *events.KafkaPublisher {
	if !cfg.Kafka.Enabled {
		return nil
	}
	publisher, err := events.NewKafkaPublisher(cfg.Kafka, cfg.App.Name, logging.Component(logger, "kafka"))
	if err != nil {
		logger.Warn().Err(err).Msg("kafka publisher init failed, continuing without kafka")
		return nil
	}
	publisher.Attach(bus)
	return publisher
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	sheetsService, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheetsService.Ping(ctx); err != nil {
		logger.Warn().Err(err).
			Str("service_account", sheetsService.ServiceAccount()).
			Msg("google sheets unreachable, share the spreadsheet with the service account; continuing without sheets")
		return nil
	}

	go sheetsService.RefreshIndexEvery(ctx, time.Hour)
	logger.Info().Msg("google sheets connected")
	return sheetsService
}

func initTelegram(cfg *config.Config, logger *zerolog.Logger) (*tgbotapi.BotAPI, error) {
	if !cfg.Notifications.Telegram.Enabled {
		return nil, nil
	}
	api, err := notify.NewTelegramBot(cfg.Notifications.Telegram)
	if err != nil {
		logger.Error().Err(err).Msg("telegram bot init failed")
		return nil, err
	}
	logger.Info().Str("username", api.Self.UserName).Msg("telegram bot authorized")
	return api, nil
}

func initNotifications(cfg *config.Config, db *database.DB, telegram domain.TelegramSender, logger *zerolog.Logger) (*notify.Dispatcher, error) {
	channels, err := notify.ChannelsFromConfig(cfg.Notifications, telegram)
	if err != nil {
		logger.Error().Err(err).Msg("notification channels init failed")
		return nil, err
	}
	opts := notify.OptionsFromConfig(cfg.Notifications)
	return notify.NewDispatcher(db, db, db, opts, logging.Component(logger, "notify"), channels...), nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

// startServers runs the listeners until ctx is cancelled or one of them
// fails, then drains both.
func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)
	if grpcServer != nil {
		g.Go(grpcServer.Serve)
	}
	if cfg.API.HTTP.Enabled {
		g.Go(httpServer.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down API servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if grpcServer != nil {
			grpcServer.Shutdown(shutdownCtx)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info().Bool("grpc", grpcServer != nil).Bool("http", cfg.API.HTTP.Enabled).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")
	err := g.Wait()
	if err != nil {
		logger.Error().Err(err).Msg("API server stopped with error")
		return err
	}
	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
