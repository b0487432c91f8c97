package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/channelads/backend/internal/config"
	"github.com/channelads/backend/internal/db"
	"github.com/channelads/backend/internal/events"
	apphttp "github.com/channelads/backend/internal/http"
	"github.com/channelads/backend/internal/http/handlers"
	"github.com/channelads/backend/internal/repositories"
	"github.com/channelads/backend/internal/services"
	"github.com/channelads/backend/internal/tme"
	"github.com/channelads/backend/internal/ton"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// TON
	tonClient, err := ton.Connect(ctx, ton.ConnectOptions{
		Network:        cfg.TONNetwork,
		LiteServerHost: cfg.LiteServerHost,
		LiteServerPort: cfg.LiteServerPort,
		LiteServerKey:  cfg.LiteServerKey,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to TON", zap.Error(err))
	}
	platformWallet, err := ton.NewPlatformWallet(tonClient, cfg.PlatformWalletMnemonic, log)
	if err != nil {
		log.Fatal("failed to init platform wallet", zap.Error(err))
	}
	escrowCode, err := ton.LoadEscrowCode(cfg.EscrowCodeBOC)
	if err != nil {
		log.Fatal("failed to load escrow contract code", zap.Error(err))
	}

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	channelRepo := repositories.NewChannelRepo(pool)
	dealRepo := repositories.NewDealRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	creativeRepo := repositories.NewCreativeRepo(pool)
	postingRepo := repositories.NewPostingRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	campaignRepo := repositories.NewCampaignRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	fallback := tme.NewFetcher(cfg.TMEFetchTimeoutMS, cfg.TMEFetchMaxRetries, log)
	gateway := services.NewTelegramGateway(cfg.BotInternalURL, cfg.UserbotInternalURL, fallback, log)
	escrowService := services.NewEscrowService(escrowRepo, tonClient, platformWallet, escrowCode, cfg.PlatformFeePercent, log)
	notifier := services.NewNotifier(publisher, gateway, userRepo, log)
	orch := services.NewOrchestrator(services.OrchestratorDeps{
		Deals:              dealRepo,
		Escrows:            escrowRepo,
		Creatives:          creativeRepo,
		Postings:           postingRepo,
		Channels:           channelRepo,
		Audit:              auditRepo,
		Escrow:             escrowService,
		Gateway:            gateway,
		Locker:             services.NewRedisLocker(rdb),
		Notifier:           notifier,
		Log:                log,
		RetentionHours:     cfg.RetentionHours,
		MaxPublishAttempts: cfg.MaxPublishAttempts,
	})
	channelService := services.NewChannelService(channelRepo, userRepo, auditRepo, gateway, cfg, log)
	walletService := services.NewWalletService(walletRepo, auditRepo, cfg, log)
	campaignService := services.NewCampaignService(campaignRepo, auditRepo, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, cfg, log)
	userHandler := handlers.NewUserHandler(userRepo, log)
	channelHandler := handlers.NewChannelHandler(channelService, log)
	dealHandler := handlers.NewDealHandler(orch, dealRepo, auditRepo, log)
	walletHandler := handlers.NewWalletHandler(walletService, log)
	campaignHandler := handlers.NewCampaignHandler(campaignService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, channelHandler, dealHandler, walletHandler, campaignHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
