package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"channel-access-bot/internal/access"
	"channel-access-bot/internal/admin"
	"channel-access-bot/internal/bot"
	"channel-access-bot/internal/config"
	"channel-access-bot/internal/database"
	"channel-access-bot/internal/logger"
	"channel-access-bot/internal/server"
	"channel-access-bot/internal/shortener"
	"channel-access-bot/internal/telegram"
	"channel-access-bot/internal/tracker"
	"channel-access-bot/internal/worker"
)

const (
	serviceName  = "channel-access-bot"
	queueLease   = 2 * time.Minute
	grantLockTTL = 2 * time.Minute
)

func main() {
	// Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	baseLog := logger.Init(serviceName, cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to storage
	store, err := database.Open(ctx, cfg)
	if err != nil {
		baseLog.Fatal().Err(err).Msg("Could not connect to database")
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			baseLog.Warn().Err(err).Msg("Failed to close database")
		}
	}()
	if _, err := store.InitSettings(ctx); err != nil {
		baseLog.Fatal().Err(err).Msg("Could not initialise settings")
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(ctx, cfg)
	if err != nil {
		baseLog.Fatal().Err(err).Msg("Could not connect to redis")
	}
	defer func() { _ = rdb.Close() }()

	// Telegram
	var botOpts []telego.BotOption
	if cfg.Debug {
		botOpts = append(botOpts, telego.WithDefaultDebugLogger())
	}
	tgBot, err := telego.NewBot(cfg.BotToken, botOpts...)
	if err != nil {
		baseLog.Fatal().Err(err).Msg("Failed to create bot")
	}
	me, err := tgBot.GetMe(ctx)
	if err != nil {
		baseLog.Fatal().Err(err).Msg("Failed to get bot info")
	}
	client := telegram.NewClient(tgBot, me.ID, cfg.AdminID, cfg.RequestTimeout, logger.Module(baseLog, "telegram"))

	// Revocation worker runs before any request is accepted
	queue := worker.NewQueue(rdb, queueLease)
	revoker := worker.NewRevoker(queue, client, worker.Config{
		PollInterval: cfg.RevocationPollInterval,
		Timeout:      2 * cfg.RequestTimeout,
	}, logger.Module(baseLog, "revoker"))

	accessService := access.NewService(access.Deps{
		Settings:  store,
		Ledger:    store,
		Issuer:    client,
		Shortener: shortener.NewClient(cfg.RequestTimeout, logger.Module(baseLog, "shortener")),
		Delivery:  client,
		Scheduler: queue,
		Locker:    database.NewGrantLock(rdb, grantLockTTL),
		Alerts:    client,
	}, access.Options{
		LinkTTL:        cfg.InviteLinkTTL,
		PersistTimeout: cfg.RequestTimeout,
	}, logger.Module(baseLog, "access"))

	adminService := admin.NewService(store, store, queue, client, cfg.BroadcastDelay, logger.Module(baseLog, "admin"))
	joinTracker := tracker.New(store, store, client, logger.Module(baseLog, "tracker"))

	b := bot.NewBot(client, admin.NewGuard(cfg.AdminID), accessService, adminService, joinTracker, logger.Module(baseLog, "bot"))

	health := server.New(cfg.HTTPAddr, map[string]server.Pinger{
		"storage": store,
		"redis": server.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	}, logger.Module(baseLog, "server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		revoker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return health.Run(gctx)
	})
	g.Go(func() error {
		return b.Start(gctx)
	})

	baseLog.Info().Str("bot", me.Username).Int64("admin_id", cfg.AdminID).Msg("Service started successfully")

	if err := g.Wait(); err != nil {
		baseLog.Error().Err(err).Msg("Service stopped with error")
		return
	}
	baseLog.Info().Msg("Service stopped")
}
