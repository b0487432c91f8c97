package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/channelads/backend/internal/config"
	"github.com/channelads/backend/internal/db"
	"github.com/channelads/backend/internal/events"
	"github.com/channelads/backend/internal/repositories"
	"github.com/channelads/backend/internal/scheduler"
	"github.com/channelads/backend/internal/services"
	"github.com/channelads/backend/internal/statemachine"
	"github.com/channelads/backend/internal/tme"
	"github.com/channelads/backend/internal/ton"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

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

	// Repos
	userRepo := repositories.NewUserRepo(pool)
	dealRepo := repositories.NewDealRepo(pool)
	channelRepo := repositories.NewChannelRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	creativeRepo := repositories.NewCreativeRepo(pool)
	postingRepo := repositories.NewPostingRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
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

	timeouts := scheduler.Timeouts{
		statemachine.StatusNegotiation:              time.Duration(cfg.DealTimeoutNegotiationSeconds) * time.Second,
		statemachine.StatusOwnerAccepted:            time.Duration(cfg.DealTimeoutAcceptedSeconds) * time.Second,
		statemachine.StatusAwaitingEscrowPayment:    time.Duration(cfg.DealTimeoutPaymentSeconds) * time.Second,
		statemachine.StatusCreativePendingOwner:     time.Duration(cfg.DealTimeoutCreativeSeconds) * time.Second,
		statemachine.StatusCreativeChangesRequested: time.Duration(cfg.DealTimeoutCreativeSeconds) * time.Second,
		statemachine.StatusScheduled:                time.Duration(cfg.DealTimeoutScheduledSeconds) * time.Second,
	}
	sched := scheduler.New(dealRepo, escrowRepo, escrowService, orch, timeouts, log)

	log.Info("worker started")

	depositTicker := time.NewTicker(30 * time.Second)
	completionTicker := time.NewTicker(1 * time.Minute)
	timeoutTicker := time.NewTicker(2 * time.Minute)
	postingTicker := time.NewTicker(30 * time.Second)
	retentionTicker := time.NewTicker(5 * time.Minute)
	defer depositTicker.Stop()
	defer completionTicker.Stop()
	defer timeoutTicker.Stop()
	defer postingTicker.Stop()
	defer retentionTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-depositTicker.C:
			sched.SweepDeposits(ctx)
		case <-completionTicker.C:
			sched.SweepCompletions(ctx)
		case <-timeoutTicker.C:
			sched.SweepTimeouts(ctx)
		case <-postingTicker.C:
			sched.SweepScheduledPosts(ctx)
		case <-retentionTicker.C:
			sched.SweepRetention(ctx)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
