package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/homecart/listsync/internal/app/listapi"
	"github.com/homecart/listsync/internal/app/shopping"
	platformauth "github.com/homecart/listsync/internal/platform/auth"
	"github.com/homecart/listsync/internal/platform/dbpool"
	"github.com/homecart/listsync/internal/platform/env"
	"github.com/homecart/listsync/internal/platform/logger"
	"github.com/homecart/listsync/internal/platform/natsutil"
	"github.com/homecart/listsync/internal/realtime"
	"github.com/homecart/listsync/internal/realtime/bus"
)

func main() {
	os.Exit(runMain())
}

// runMain returns the exit code so deferred cleanup runs before os.Exit.
func runMain() int {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logger.New(env.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()

	if err := run(runCtx, log); err != nil {
		log.Error("list-api stopped", "error", err)
		return 1
	}
	return 0
}

func run(runCtx context.Context, log *logger.Logger) error {
	addr := env.String("LIST_API_ADDR", env.DefaultListAPIAddr)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)
	jwtSecret := env.String("JWT_SECRET", "dev-insecure-change-me")

	repo, ready, closeRepo, err := openRepository(runCtx, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	registry := realtime.NewRegistry(realtime.Options{
		HeartbeatInterval: env.Duration("HEARTBEAT_INTERVAL", realtime.DefaultHeartbeatInterval),
		SubscriberBuffer:  env.Int("SUBSCRIBER_BUFFER", realtime.DefaultSubscriberBuffer),
		Logger:            log,
	})

	relay, closeRelay, err := openRelay(runCtx, log)
	if err != nil {
		return err
	}
	defer closeRelay()

	var notifier realtime.Notifier = registry
	if relay != nil {
		relayNotifier := bus.NewNotifier(relay, log, env.Int("RELAY_QUEUE_SIZE", bus.DefaultQueueSize))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := relayNotifier.Close(ctx); err != nil {
				log.Warn("relay queue not drained", "error", err)
			}
		}()
		notifier = relayNotifier
	}

	handler := listapi.NewHandler(shopping.NewService(repo), registry, notifier, platformauth.NewManager(jwtSecret, 12*time.Hour), log)
	handler.APIKey = platformauth.NewAPIKeyVerifier(env.String("API_KEY_HASH", ""))
	handler.AllowedOrigin = env.String("ALLOWED_ORIGIN", "")
	handler.Ready = ready

	// Streams hang off their own context so shutdown can end them; Shutdown
	// alone waits for handlers that never return.
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Keep WriteTimeout unset for long-lived SSE streams.
		IdleTimeout: 120 * time.Second,
	}
	server.RegisterOnShutdown(cancelStreams)

	g, gctx := errgroup.WithContext(runCtx)
	if relay != nil {
		if err := bus.Forward(gctx, relay, registry); err != nil {
			return fmt.Errorf("start relay forwarder: %w", err)
		}
	}
	g.Go(func() error {
		log.Info("list-api listening", "addr", addr, "relay", env.String("RELAY_BACKEND", env.DefaultRelayBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func openRepository(ctx context.Context, log *logger.Logger) (shopping.Repository, func(context.Context) error, func(), error) {
	if strings.EqualFold(env.String("LIST_STORE", "postgres"), "memory") {
		log.Warn("using in-memory list store; data is lost on restart")
		return shopping.NewMemoryRepository(), nil, func() {}, nil
	}

	pool, err := dbpool.New(ctx, env.String("DATABASE_URL", env.DefaultDatabaseURL))
	if err != nil {
		return nil, nil, nil, err
	}
	repo := shopping.NewPostgresRepository(pool)
	err = dbpool.WaitReady(ctx, pool, repo.EnsureSchema, env.Duration("DB_STARTUP_TIMEOUT", 30*time.Second), func(err error) {
		log.Warn("waiting for postgres", "error", err)
	})
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return repo, pingReady(pool), pool.Close, nil
}

func pingReady(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

func openRelay(ctx context.Context, log *logger.Logger) (bus.Bus, func(), error) {
	switch backend := strings.ToLower(env.String("RELAY_BACKEND", env.DefaultRelayBackend)); backend {
	case "", "local":
		return nil, func() {}, nil
	case "nats":
		conn, err := natsutil.ConnectWithRetry(env.String("NATS_URL", env.DefaultNATSURL), "list-api", env.Duration("NATS_CONNECT_TIMEOUT", 30*time.Second))
		if err != nil {
			return nil, nil, err
		}
		b, err := bus.NewNATSBus(conn, log)
		if err != nil {
			natsutil.Close(conn)
			return nil, nil, err
		}
		return b, func() { natsutil.Close(conn) }, nil
	case "redis":
		b, err := bus.NewRedisBus(ctx, env.String("REDIS_ADDR", env.DefaultRedisAddr), env.String("REDIS_CHANNEL", bus.DefaultRedisChannel), log)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown RELAY_BACKEND %q", backend)
	}
}
