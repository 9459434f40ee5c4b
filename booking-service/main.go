package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cinema-realtime/shared"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

type config struct {
	Addr          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	HoldDuration  time.Duration
	SweepInterval time.Duration
	Showtimes     []string
}

func loadConfig() config {
	shared.LoadDotEnv()
	return config{
		Addr:          shared.EnvString("BOOKING_ADDR", shared.BookingServicePort),
		RedisAddr:     shared.EnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: shared.EnvString("REDIS_PASSWORD", ""),
		RedisDB:       shared.EnvInt("REDIS_DB", 0),
		NATSURL:       shared.EnvString("NATS_URL", nats.DefaultURL),
		HoldDuration:  shared.EnvDuration("HOLD_DURATION", shared.HoldDuration),
		SweepInterval: shared.EnvDuration("SWEEP_INTERVAL", shared.TimerCheckInterval),
		Showtimes:     shared.EnvList("SHOWTIMES", []string{"101", "102", "201"}),
	}
}

func main() {
	cfg := loadConfig()
	logger := shared.NewLogger("booking-service")
	slog.SetDefault(logger)
	if !shared.EnvBool("GIN_DEBUG", false) {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("booking service stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	logger.Info("connected to redis", slog.String("addr", cfg.RedisAddr))

	natsConn, err := nats.Connect(cfg.NATSURL,
		nats.Name("booking-service"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return err
	}
	defer natsConn.Close()
	logger.Info("connected to nats", slog.String("url", cfg.NATSURL))

	seats := NewSeatManager(redisClient, natsConn, cfg.HoldDuration, logger)
	for _, id := range cfg.Showtimes {
		if err := seats.EnsureShowtime(ctx, id); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           setupRoutes(&API{seats: seats, log: logger}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		seats.StartTimerService(gctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		logger.Info("booking service started", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down booking service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
