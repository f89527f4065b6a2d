package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cwrk-planet/coursechat-service/config"
	"github.com/cwrk-planet/coursechat-service/internal/broker"
	"github.com/cwrk-planet/coursechat-service/internal/gateway"
	"github.com/cwrk-planet/coursechat-service/internal/memstore"
	"github.com/cwrk-planet/coursechat-service/internal/postgres"
	"github.com/cwrk-planet/coursechat-service/internal/presence"
	"github.com/cwrk-planet/coursechat-service/internal/ratelimit"
	"github.com/cwrk-planet/coursechat-service/internal/registry"
	"github.com/cwrk-planet/coursechat-service/internal/rooms"
	"github.com/cwrk-planet/coursechat-service/internal/sqlite"
	grpcx "github.com/cwrk-planet/coursechat-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/coursechat-service/internal/transport/http"
	"github.com/cwrk-planet/coursechat-service/internal/transport/ws"
	"github.com/cwrk-planet/coursechat-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting coursechat-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("service stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- storage ---
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter, closeLimiter, err := openLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	// --- core ---
	gw := gateway.New(store, gateway.Options{
		DefaultLimit: cfg.Chat.HistoryDefaultLimit,
		MaxLimit:     cfg.Chat.HistoryMaxLimit,
	})
	reg := registry.New(cfg.Chat.OutboundQueueSize)
	rm := rooms.NewManager(reg)
	b := broker.New(reg, rm, gw, broker.Options{
		MaxContentLength: cfg.Chat.MaxContentLength,
		PersistTimeout:   cfg.Chat.PersistTimeout,
		EchoToSender:     cfg.Chat.Echo(),
		Limiter:          limiter,
	})
	coord := presence.NewCoordinator(reg, rm, b)

	// --- WS Hub & Server ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, coord, ws.Options{
		PingEvery:    cfg.WS.PingEvery,
		WriteTimeout: cfg.WS.WriteTimeout,
		ReadLimit:    cfg.WS.ReadLimit,
	})

	// --- HTTP ---
	handler := httpx.NewHandler(gw, rm, coord)
	router := httpx.NewRouter(handler, wsServer.HandleWS, httpx.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	httpSrv := httpx.NewServer(httpx.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, router)

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerInterceptor(cfg.GRPC.CallTimeout)),
		grpc.ChainStreamInterceptor(grpcx.StreamServerInterceptor()),
	)
	health := grpcx.Register(grpcServer, grpcx.NewServer(gw, rm))

	var lis net.Listener
	if cfg.GRPC.Addr != "" {
		if lis, err = net.Listen("tcp", cfg.GRPC.Addr); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	// --- run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		return httpSrv.Run(gctx)
	})

	if lis != nil {
		g.Go(func() error {
			slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		health.SetServingStatus(grpcx.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		grpcServer.GracefulStop()

		closed := hub.CloseAll("server shutting down")
		conns, roomCount := coord.Stats()
		slog.Info("websockets closed", "sockets", closed, "connections", conns, "rooms", roomCount)
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (gateway.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		repo := postgres.NewMessageRepository(db.Pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		return repo, db.Close, nil

	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("sqlite dir: %w", err)
			}
		}
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	default:
		slog.Warn("using in-memory message store; history is lost on restart")
		return memstore.New(), func() {}, nil
	}
}

func openLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func(), error) {
	rl := cfg.RateLimit
	switch rl.Backend {
	case "local":
		return ratelimit.NewLocal(rl.PerWindow, rl.Window), func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return ratelimit.NewRedis(client, rl.PerWindow, rl.Window, rl.Prefix), func() { _ = client.Close() }, nil

	default:
		return ratelimit.Nop{}, func() {}, nil
	}
}
