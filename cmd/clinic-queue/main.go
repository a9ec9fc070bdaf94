package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boobacar/clinic-queue/internal/announce"
	"github.com/boobacar/clinic-queue/internal/config"
	"github.com/boobacar/clinic-queue/internal/dispatch"
	"github.com/boobacar/clinic-queue/internal/httpapi"
	"github.com/boobacar/clinic-queue/internal/hub"
	"github.com/boobacar/clinic-queue/internal/notify"
	"github.com/boobacar/clinic-queue/internal/notify/redisbus"
	"github.com/boobacar/clinic-queue/internal/store"
	"github.com/boobacar/clinic-queue/internal/store/gormstore"
	"github.com/boobacar/clinic-queue/internal/store/postgres"
	"github.com/boobacar/clinic-queue/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "clinic-queue"

func main() {
	cfg := config.Load()
	telemetry.InitLogger(serviceName, cfg.Env)
	shutdownTelemetry := telemetry.Setup(serviceName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ticketStore, err := openStore(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}
	defer ticketStore.Close()

	h := hub.New()
	local := []notify.Publisher{h}

	var announcer *announce.Announcer
	if cfg.AnnounceEnabled {
		rooms, err := config.LoadRooms(cfg.RoomsFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.RoomsFile).Msg("load rooms")
		}
		announcer = announce.New(announce.NewCommandPlayer(cfg.AnnounceLanguage), announce.Options{
			Template: cfg.AnnounceTemplate,
			Words:    config.RoomWords(rooms),
			Chime:    cfg.AnnounceChime,
		})
		local = append(local, announcer)
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	var upstream notify.Publisher = notify.Multi(local...)
	var bus *redisbus.Bus
	if cfg.RedisAddr != "" {
		bus = redisbus.New(redisbus.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := bus.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		ready := make(chan struct{})
		target := notify.Multi(local...)
		go func() {
			if err := bus.Relay(relayCtx, target, ready); err != nil {
				log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			log.Warn().Msg("redis relay not ready, calls may be missed by this instance")
		}
		upstream = bus
	}

	notifier := notify.NewAsync(upstream, cfg.NotifyBuffer, cfg.NotifyTimeout)
	engine := dispatch.New(ticketStore, dispatch.Options{
		Publisher:    notifier,
		HistoryLimit: cfg.HistoryLimit,
	})

	handler := httpapi.NewHandler(engine, httpapi.Options{Health: ticketStore})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	mux := handler.Routes()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", h.SockJSHandler("/realtime"))
	mux.Handle("/ws", h.WebSocketHandler())

	root := httpapi.CORSMiddleware(cfg.AllowedOrigins, limiter.Middleware(mux))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(root), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("clinic-queue listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if err := notifier.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("notifier drain")
	}
	stopRelay()
	if announcer != nil {
		if err := announcer.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("announcer drain")
		}
	}
	if bus != nil {
		_ = bus.Close()
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.TicketStore, error) {
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DB_DSN is required for the postgres store")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		st := postgres.NewStore(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return st, nil
	case gormstore.DriverMySQL, gormstore.DriverSQLite, "":
		dsn := cfg.DatabasePath
		if cfg.StoreDriver == gormstore.DriverMySQL {
			dsn = cfg.DatabaseURL
		}
		st, err := gormstore.Open(gormstore.Options{Driver: cfg.StoreDriver, DSN: dsn})
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
