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
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

type config struct {
	Addr              string
	BookingServiceURL string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	NATSURL           string
	JWTSecret         string
	AllowedOrigins    []string
}

func loadConfig() config {
	shared.LoadDotEnv()
	addr := shared.DefaultEdgePort
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	return config{
		Addr:              addr,
		BookingServiceURL: shared.EnvString("BOOKING_SERVICE_URL", "http://localhost"+shared.BookingServicePort),
		RedisAddr:         shared.EnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     shared.EnvString("REDIS_PASSWORD", ""),
		RedisDB:           shared.EnvInt("REDIS_DB", 0),
		NATSURL:           shared.EnvString("NATS_URL", nats.DefaultURL),
		JWTSecret:         shared.EnvString("JWT_SECRET", ""),
		AllowedOrigins:    shared.EnvList("ALLOWED_ORIGINS", nil),
	}
}

func main() {
	cfg := loadConfig()
	logger := shared.NewLogger("edge-server")
	slog.SetDefault(logger)
	if !shared.EnvBool("GIN_DEBUG", false) {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("edge server stopped", slog.String("error", err.Error()))
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

	natsConn, err := connectNATS(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer natsConn.Close()

	bookingClient := NewBookingClient(cfg.BookingServiceURL)
	if err := bookingClient.HealthCheck(ctx); err != nil {
		logger.Warn("booking service not reachable yet", slog.String("url", cfg.BookingServiceURL), slog.String("error", err.Error()))
	}

	hub := newHub(bookingClient, NewRedisChatStore(redisClient), logger)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, trusting identity query parameters")
	}

	sub, err := subscribeToNATS(natsConn, hub)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           setupRoutes(ctx, hub, NewAuthenticator(cfg.JWTSecret), newUpgrader(cfg.AllowedOrigins)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("edge server started", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down edge server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func connectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("edge-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats error", slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		return nil, err
	}
	if !nc.IsConnected() {
		nc.Close()
		return nil, errors.New("nats connection not established")
	}
	logger.Info("connected to nats", slog.String("url", url))
	return nc, nil
}

// newUpgrader accepts any origin when origins is empty.
func newUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}

func setupRoutes(ctx context.Context, hub *Hub, auth *Authenticator, upgrader websocket.Upgrader) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(shared.WebSocketEndpoint, func(c *gin.Context) {
		handleWebSocket(ctx, hub, auth, &upgrader, c.Writer, c.Request)
	})
	router.GET(shared.APIEndpointHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "edge-server", "clients": hub.GetClientCount()})
	})
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.GetStats())
	})
	return router
}

func handleWebSocket(ctx context.Context, hub *Hub, auth *Authenticator, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	who, err := auth.Identify(r)
	if err != nil {
		hub.log.Warn("websocket rejected", slog.String("remote", r.RemoteAddr), slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade error", slog.String("error", err.Error()))
		return
	}

	client := newClient(hub, conn, "client-"+uuid.NewString(), who)
	client.serve(ctx)
}
