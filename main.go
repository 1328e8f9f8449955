package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nighton/server/internal/cache"
	"nighton/server/internal/config"
	"nighton/server/internal/database"
	"nighton/server/internal/handlers"
	"nighton/server/internal/logger"
	"nighton/server/internal/presence"
	"nighton/server/internal/routes"
	"nighton/server/internal/store"
	"nighton/server/internal/utils"
	ws "nighton/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration (including .env)
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	log := logger.Log
	defer log.Sync()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	db := store.New(pool)
	if err := db.Migrate(ctx); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	// Local cache is best effort; sessions run without it
	var (
		relations     presence.RelationStore
		directory     presence.Directory
		defaultsCache handlers.DefaultsCache
	)
	if redisStore, err := cache.NewRedisStore(cfg.RedisURL); err != nil {
		log.Warn("redis unavailable, running without local cache", zap.Error(err))
	} else {
		defer redisStore.Close()
		relations, directory, defaultsCache = redisStore, redisStore, redisStore
	}

	g, gctx := errgroup.WithContext(ctx)

	// Change feed
	var (
		feed   presence.ChangeFeed
		writer presence.PresenceWriter = db
	)
	switch cfg.FeedDriver {
	case config.FeedNATS:
		natsFeed, err := store.NewNATSFeed(cfg.NATSURL, "", log)
		if err != nil {
			log.Fatal("failed to connect to nats", zap.Error(err))
		}
		defer natsFeed.Close()
		feed = natsFeed
		writer = store.AnnouncingWriter{Store: db, Announcer: natsFeed, Log: log}
	default:
		pgFeed := store.NewPGFeed(pool, cfg.FeedChannel, log)
		feed = pgFeed
		g.Go(func() error { return pgFeed.Run(gctx) })
	}
	log.Info("change feed ready", zap.String("driver", cfg.FeedDriver))

	deps := presence.Deps{
		Rows:          db,
		Connections:   db,
		Feed:          feed,
		Writer:        writer,
		Relations:     relations,
		Directory:     directory,
		PollInterval:  cfg.PollInterval,
		PollDebounce:  cfg.PollDebounce,
		MergeDebounce: cfg.MergeDebounce,
		Logger:        log,
	}
	hub := ws.NewHub(func(viewerID string) *presence.Session {
		return presence.StartSession(gctx, viewerID, deps)
	}, cfg.SessionIdle, log)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	h := &handlers.Handler{
		Accounts:      db,
		Settings:      db,
		Friends:       db,
		Cache:         defaultsCache,
		Hub:           hub,
		Tokens:        utils.NewTokenManager(cfg.JWTSecret, cfg.IdentityJWTSecret),
		Log:           log,
		SecureCookies: cfg.SecureCookies,
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Nighton API v1.0",
	})

	// Middleware
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowCredentials: true,
	}))

	// Setup routes
	routes.SetupRoutes(app, h)

	g.Go(func() error {
		log.Info("server starting", zap.String("port", cfg.Port))
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped", zap.Error(err))
		return
	}
	log.Info("server stopped")
}
