package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"classchat/api/db/migrations"
	"classchat/api/internal/app"
	"classchat/api/internal/attachments"
	"classchat/api/internal/chat"
	"classchat/api/internal/config"
	"classchat/api/internal/gateway"
	"classchat/api/internal/logging"
	"classchat/api/internal/metrics"
	"classchat/api/internal/presence"
	"classchat/api/internal/search"
	"classchat/api/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("ignoring .env: %v", err)
	}
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := store.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns
	db, err := store.Open(ctx, cfg.DatabaseURL, pool)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	var schema fs.FS = migrations.FS
	if strings.TrimSpace(cfg.MigrationsDir) != "" {
		schema = os.DirFS(cfg.MigrationsDir)
	}
	if err := store.ApplyMigrations(ctx, db, schema); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	dataStore := store.NewPostgresStore(db)
	stats := metrics.New()

	var mirror presence.Mirror
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisMirror, err := presence.NewRedisMirror(cfg.RedisURL, cfg.PresenceTTL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisMirror.Close()
		mirror = redisMirror
		logger.Info("presence mirrored to redis", zap.Duration("ttl", cfg.PresenceTTL))
	}
	registry := presence.NewRegistry()
	tracker := presence.NewTracker(registry, mirror, logger)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx, pgfts)
	}

	opts := chat.Options{
		Profiles: dataStore,
		Presence: registry,
		Indexer:  searchService,
		Metrics:  stats,
		Logger:   logger,
	}
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		signer, err := attachments.NewSigner(attachments.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			URLTTL:    cfg.AttachmentURLTTL,
		}, logger)
		if err != nil {
			logger.Fatal("attachment signer setup failed", zap.Error(err))
		}
		opts.Signer = signer
	}
	chatService := chat.NewService(dataStore, opts)

	secret := []byte(cfg.TokenSecret)
	live := gateway.New(chatService, tracker, gateway.Options{
		TokenSecret:     secret,
		EventsPerSecond: cfg.GatewayEventsPerSecond,
		EventBurst:      cfg.GatewayEventBurst,
		WriteTimeout:    cfg.GatewayWriteTimeout,
		Metrics:         stats,
		Logger:          logger,
	})

	httpServer := app.NewHTTPServer(app.Deps{
		Chat:        chatService,
		Search:      searchService,
		Presence:    tracker,
		Ready:       dataStore.Ping,
		Gateway:     live,
		Metrics:     stats.Handler(),
		TokenSecret: secret,
		CORSOrigin:  cfg.CORSOrigin,
		Logger:      logger,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("classchat api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	if err := live.Close(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", zap.Error(err))
	}
}
