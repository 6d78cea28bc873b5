package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studiobook/internal/api"
	"studiobook/internal/auth"
	"studiobook/internal/config"
	"studiobook/internal/database"
	"studiobook/internal/docstore"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/google"
	"studiobook/internal/logging"
	"studiobook/internal/metrics"
	"studiobook/internal/notify"
	"studiobook/internal/repository"
	"studiobook/internal/service"
	"studiobook/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// store is what both backends provide.
type store interface {
	domain.BookingStore
	domain.SyncTaskStore
}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventBus := events.NewEventBus()
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.SubscribeEvents(eventBus)
	}
	if forwarder := initAMQP(cfg, eventBus, &logger); forwarder != nil {
		defer forwarder.Close()
	}

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxRetries,
		InitialDelay:  cfg.Worker.InitialDelay,
		MaxDelay:      cfg.Worker.MaxDelay,
		BackoffFactor: cfg.Worker.BackoffFactor,
	}
	calendarWorker := worker.NewCalendarWorker(db, redisClient, retry, cfg.Worker.PollInterval,
		logging.Component(&logger, "calendar-worker"))

	deps := service.Deps{
		Store:    db,
		Locker:   initLocker(cfg, redisClient, &logger),
		Notifier: initNotifier(cfg, &logger),
		Events:   eventBus,
		Syncer:   calendarWorker,
	}
	if calendar := initCalendar(ctx, cfg, &logger); calendar != nil {
		deps.Calendar = calendar
	}

	bookingService := service.NewBookingService(deps, service.Options{
		DefaultTimeZone:  cfg.Booking.DefaultTimeZone,
		MaxDurationHours: cfg.Booking.MaxDurationHours,
		DefaultUserName:  cfg.Booking.DefaultUserName,
		LockWait:         cfg.Lock.WaitTimeout,
	}, logging.Component(&logger, "booking-service"))
	calendarWorker.SetReconciler(bookingService)

	if deps.Calendar != nil {
		go calendarWorker.Start(ctx)
	}

	verifier := auth.NewVerifier(cfg.Auth)
	httpServer := api.NewHTTPServer(cfg.API, bookingService, verifier, db, logging.Component(&logger, "http"))

	startMetrics(ctx, cfg, &logger)

	return startServer(ctx, httpServer, cfg, &logger)
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

func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store, error) {
	if cfg.Database.Driver == "mongo" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		s, err := docstore.Connect(connectCtx, cfg.Database.Mongo.URI, cfg.Database.Mongo.Database, logger)
		if err != nil {
			logger.Error().Err(err).Str("database", cfg.Database.Mongo.Database).Msg("init mongo store")
			return nil, err
		}
		return s, nil
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	backup := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
	go backup.Start(ctx)

	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		// клиент оставляем: failover вернется к Redis, когда он поднимется
		logger.Warn().Err(err).Msg("redis connection failed, starting with in-memory locks")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

func initLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.DateLocker {
	memory := repository.NewMemoryDateLocker(cfg.Lock.WaitTimeout)
	if redisClient == nil {
		logger.Warn().Msg("redis is not configured, date locks are process-local")
		return memory
	}
	return repository.NewFailoverDateLocker(
		repository.NewRedisDateLocker(redisClient, cfg.Lock),
		memory,
		logging.Component(logger, "locker"),
	)
}

func initCalendar(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.CalendarService {
	if !cfg.CalendarEnabled() {
		logger.Info().Msg("google calendar is not configured, mirroring disabled")
		return nil
	}

	calendarService, err := google.NewCalendarService(ctx,
		cfg.Google.CredentialsFile,
		cfg.Google.CalendarID,
		cfg.Google.StudioName,
		cfg.Google.Location,
	)
	if err != nil {
		logger.Warn().Err(err).Msg("google calendar init failed, continuing without calendar")
		return nil
	}

	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := calendarService.TestConnection(testCtx); err != nil {
		logger.Warn().Err(err).Msg("google calendar connection test failed, events will be reconciled later")
	} else {
		logger.Info().Str("calendar_id", cfg.Google.CalendarID).Msg("google calendar connected")
	}
	return calendarService
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	var channels []domain.Notifier

	if cfg.Email.Enabled {
		channels = append(channels, notify.NewSMTPNotifier(cfg.Email))
	}

	if cfg.Telegram.BotToken != "" {
		telegram, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without manager notifications")
		} else {
			channels = append(channels, telegram)
		}
	}

	if len(channels) == 0 {
		return nil
	}
	dispatcher := notify.NewDispatcher(logging.Component(logger, "notify"), channels...)
	logger.Info().Int("channels", dispatcher.Len()).Msg("notifications enabled")
	return dispatcher
}

func initAMQP(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *events.AMQPForwarder {
	if cfg.AMQP.URL == "" {
		return nil
	}

	forwarder, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logging.Component(logger, "amqp"))
	if err != nil {
		logger.Warn().Err(err).Msg("amqp connection failed, events stay in-process")
		return nil
	}
	forwarder.Attach(bus)
	logger.Info().Str("exchange", cfg.AMQP.Exchange).Msg("amqp forwarder attached")
	return forwarder
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
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
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
