package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/example/optical-storefront/internal/apitest"
	"github.com/example/optical-storefront/internal/infrastructure/kafka"
	"github.com/example/optical-storefront/internal/logger"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	logger.Initialize(logger.ParseLevel(getEnv("LOG_LEVEL", "INFO")), getEnv("APP_ENV", "development") == "development")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := getEnv("MOCKAPI_ADDR", ":8080")
	var opts []apitest.Option

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		if len(secret) < 32 {
			logger.Error("[MockAPI] JWT_SECRET must be at least 32 characters long")
			os.Exit(1)
		}
		opts = append(opts, apitest.WithJWTService(apitest.NewJWTService(secret, 15*time.Minute, 7*24*time.Hour)))
	}

	// Catalog changes are published so storefront clients can drop their caches
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		producer := kafka.NewProducer(strings.Split(brokers, ","), getEnv("KAFKA_TOPIC", "ec-events"))
		defer producer.Close()
		opts = append(opts, apitest.WithPublisher(producer))
		logger.Info("[MockAPI] publishing catalog events", "brokers", brokers)
	}

	srv := apitest.NewServer(opts...)

	if email := os.Getenv("ADMIN_EMAIL"); email != "" {
		if _, err := srv.CreateUser(email, os.Getenv("ADMIN_PASSWORD"), "admin"); err != nil {
			logger.Error("[MockAPI] failed to create admin user", "error", err)
			os.Exit(1)
		}
		logger.Info("[MockAPI] admin user created", "email", email)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("[MockAPI] server started", "addr", addr, "products", len(srv.Products()))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("[MockAPI] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("[MockAPI] server error", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
