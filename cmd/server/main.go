// Command server runs the REST backend ticket scanners sign in to, list
// showtimes from and verify tickets against.
package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/config"
	"github.com/iliyamo/cinema-ticket-scanner/internal/database"
	"github.com/iliyamo/cinema-ticket-scanner/internal/handler"
	"github.com/iliyamo/cinema-ticket-scanner/internal/logger"
	"github.com/iliyamo/cinema-ticket-scanner/internal/middleware"
	"github.com/iliyamo/cinema-ticket-scanner/internal/queue"
	"github.com/iliyamo/cinema-ticket-scanner/internal/repository"
	"github.com/iliyamo/cinema-ticket-scanner/internal/router"
	"github.com/iliyamo/cinema-ticket-scanner/internal/service"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine

	cfg := config.Load()
	log, err := logger.New(cfg.Env, os.Getenv("LOG_LEVEL"))
	if err != nil {
		stdlog.Fatal(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Fatal("database open failed", zap.Error(err))
	}
	defer db.Close()

	rdb := config.NewRedisClient(log)
	if rdb != nil {
		defer rdb.Close()
	}

	broker := config.LoadBrokerConfig()
	if broker.Consume {
		go func() {
			if err := queue.NewCheckinConsumer(broker, log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("check-in consumer stopped", zap.Error(err))
			}
		}()
	}

	deps := router.Deps{
		DB:        db,
		Auth:      handler.NewAuthHandler(cfg, repository.NewOperatorRepo(db), repository.NewTokenRepo(db), log),
		Showtimes: handler.NewShowtimeHandler(repository.NewShowtimeRepo(db), cfg.RequestTimeout, log),
		Tickets:   handler.NewTicketHandler(repository.NewTicketRepo(db), service.NewCheckinPublisher(broker, log), cfg.RequestTimeout, log),
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log))
	router.RegisterRoutes(e, deps)
	router.RegisterAuth(e, deps)
	router.RegisterScanner(e, deps)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
