package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/opsdesk/support-desk/internal/api/http"
	"github.com/opsdesk/support-desk/internal/api/http/handlers"
	"github.com/opsdesk/support-desk/internal/auth"
	"github.com/opsdesk/support-desk/internal/config"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/internal/observability"
	"github.com/opsdesk/support-desk/internal/persistence"
	"github.com/opsdesk/support-desk/internal/repository"
	"github.com/opsdesk/support-desk/internal/service"
	"github.com/opsdesk/support-desk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	pool := pg.PoolHandle()
	if pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var (
		ticketRepo  repository.TicketRepository
		messageRepo repository.MessageRepository
		userRepo    repository.UserRepository
	)
	if pool != nil {
		ticketRepo = repository.NewTicketRepository(pool)
		messageRepo = repository.NewMessageRepository(pool)
		userRepo = repository.NewUserRepository(pool)
	} else {
		store := repository.NewMemoryStore()
		ticketRepo = store.Tickets()
		messageRepo = store.Messages()
		userRepo = store.Users()
	}

	memBus := events.NewMemoryBus(logger, events.MemoryBusOptions{
		BacklogSize: cfg.Bus.BacklogSize,
		BufferSize:  cfg.Bus.SubscriberBuffer,
		Metrics:     metrics,
	})
	defer memBus.Close()

	var bus events.Bus = memBus
	var redisConn *persistence.Redis
	var relay *events.RedisRelay
	if cfg.Redis.EnableRelay {
		redisConn = persistence.NewRedis(cfg.Redis, logger)
		defer redisConn.Close()

		relay = events.NewRedisRelay(memBus, redisConn.Client, logger)
		relay.Start(ctx)
		defer relay.Stop()
		bus = relay
	}

	authService := service.NewAuthService(*cfg, service.AuthDependencies{UserRepo: userRepo})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		Bus:         bus,
		Logger:      logger,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		UserRepo:    userRepo,
		Bus:         bus,
		Logger:      logger,
	})
	lifecycleService := service.NewLifecycleService(service.LifecycleDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		Bus:         bus,
		Logger:      logger,
	})
	chatService := service.NewChatService(service.ChatDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		Bus:         bus,
		Logger:      logger,
	})

	notificationService := service.NewNotificationService(bus, logger, cfg.Notification)
	if err := worker.StartNotificationWorker(ctx, notificationService); err != nil {
		logger.Warn("notification worker unavailable", zap.Error(err))
	}
	defer notificationService.Stop()

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redisConn, cfg.Redis.EnableRelay),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService, chatService),
		Agent:          handlers.NewAgentHandler(ticketService, assignmentService, lifecycleService),
		Stream:         handlers.NewStreamHandler(ticketRepo, messageRepo, bus, ticketService, logger),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
