package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"diagcenter/internal/app"
	"diagcenter/internal/config"
	"diagcenter/internal/events"
	"diagcenter/internal/payment"
	"diagcenter/internal/server"
	"diagcenter/internal/storage"
	"diagcenter/internal/store"
	"diagcenter/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session ttl: %v", err)
	}

	gormStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer gormStore.Close()

	sessions := store.NewJWTSessionStore(cfg.SessionSecret, sessionTTL)
	payments := payment.NewClient(cfg.PaymentSecretKey, cfg.PaymentBaseURL)

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	} else {
		slog.Warn("object storage disabled, report endpoints unavailable")
	}

	var publisher *events.Publisher
	if cfg.AmqpURL != "" {
		exchange := cfg.EventsExchange
		if exchange == "" {
			exchange = "diagcenter.events"
		}
		publisher, err = events.NewPublisher(cfg.AmqpURL, exchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer publisher.Close()
	} else {
		slog.Warn("event publisher disabled, booking events will not be emitted")
	}

	appCore, err := app.New(app.Config{
		Store:     gormStore,
		Sessions:  sessions,
		Payments:  payments,
		Objects:   objects,
		Publisher: publisher,
		Currency:  cfg.PaymentCurrency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		AllowedOrigins:            cfg.AllowedOrigins,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		SessionRateLimitPerMinute: cfg.SessionRateLimitPerMinute,
		SessionTTL:                sessionTTL,
		CookieSecure:              cfg.CookieSecure,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
