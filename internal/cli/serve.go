package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-sitechat/internal/auth"
	"github.com/tbourn/go-sitechat/internal/config"
	"github.com/tbourn/go-sitechat/internal/gateway"
	httpapi "github.com/tbourn/go-sitechat/internal/http"
	"github.com/tbourn/go-sitechat/internal/observability"
	"github.com/tbourn/go-sitechat/internal/presence"
	"github.com/tbourn/go-sitechat/internal/realtime"
	"github.com/tbourn/go-sitechat/internal/repo"
	"github.com/tbourn/go-sitechat/internal/services"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the widget/operator sockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				cfg.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

// sharedState is the presence store, coalescer and room bus. Redis backs all
// three when configured so several replicas share one view.
type sharedState struct {
	store     presence.Store
	coalescer presence.Coalescer
	bus       realtime.Bus
	close     func() error
}

func openSharedState(ctx context.Context, c config.Config, hub *realtime.Hub) (*sharedState, error) {
	if c.Redis.URL == "" {
		log.Info().Msg("presence and fan-out in process (REDIS_URL unset)")
		return &sharedState{
			store:     presence.NewMemoryStore(time.Now),
			coalescer: presence.NewMemoryCoalescer(c.Realtime.PresenceCoalesce),
			bus:       realtime.NewLocalBus(hub),
			close:     func() error { return nil },
		}, nil
	}

	opt, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	bus, err := realtime.NewRedisBus(rdb, c.Redis.Channel, hub, log.Logger.With().Str("component", "bus").Logger())
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	log.Info().Str("addr", opt.Addr).Str("channel", c.Redis.Channel).Msg("presence and fan-out via redis")
	return &sharedState{
		store:     presence.NewRedisStore(rdb),
		coalescer: presence.NewRedisCoalescer(rdb, c.Realtime.PresenceCoalesce),
		bus:       bus,
		close: func() error {
			return errors.Join(bus.Close(), rdb.Close())
		},
	}, nil
}

func runServe(ctx context.Context, c config.Config) error {
	gin.SetMode(c.GinMode)

	shutdownOTel, err := observability.SetupOTel(ctx, c.OTEL, Version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(c.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	hub := realtime.NewHub(log.Logger)
	shared, err := openSharedState(ctx, c, hub)
	if err != nil {
		return err
	}
	defer func() {
		if err := shared.close(); err != nil {
			log.Warn().Err(err).Msg("close shared state")
		}
	}()

	issuer := auth.NewIssuer(c.Auth.Secret, c.Auth.Issuer, c.Auth.SessionTTL)
	access := &services.AccessService{DB: db}
	messages := &services.MessageService{
		DB:             db,
		Access:         access,
		MaxRunes:       c.Realtime.MessageMaxRunes,
		ResyncMaxLimit: c.Realtime.ResyncMaxLimit,
	}
	gw := gateway.NewServer(gateway.Deps{
		Issuer:   issuer,
		Access:   access,
		Messages: messages,
		Calls:    &services.CallService{DB: db, Access: access},
		Presence: &services.PresenceService{
			Store:     shared.store,
			Coalescer: shared.coalescer,
			TTL:       c.Realtime.PresenceTTL,
		},
		Hub:       hub,
		Broadcast: realtime.NewBroadcaster(shared.bus),
	}, c.Realtime, log.Logger)

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       db,
		Issuer:   issuer,
		Sessions: &services.SessionService{DB: db, Issuer: issuer, Access: access},
		Access:   access,
		Messages: messages,
		Gateway:  gw,
	}, c)

	srv := &http.Server{
		Addr:              ":" + c.Port,
		Handler:           r,
		ReadTimeout:       c.ReadTimeout,
		ReadHeaderTimeout: c.ReadHeaderTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       c.IdleTimeout,
		MaxHeaderBytes:    c.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := shared.bus.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", Version).Str("instance", observability.InstanceID()).Msg("sitechat listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		expireRingingCalls(gctx, gw, c.Realtime.CallRingTimeout)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Int("connections", gw.Connections()).Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		// Hijacked sockets are not tracked by Shutdown.
		gw.CloseAll()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// callExpirer is the part of the gateway the ringing sweeper needs.
type callExpirer interface {
	ExpireCalls(ctx context.Context, olderThan time.Duration) (int, error)
}

// expireRingingCalls ends unanswered calls older than timeout until ctx ends.
func expireRingingCalls(ctx context.Context, gw callExpirer, timeout time.Duration) {
	every := timeout / 3
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := gw.ExpireCalls(ctx, timeout)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("expire ringing calls")
			}
			if n > 0 {
				log.Info().Int("calls", n).Msg("ringing calls timed out")
			}
		}
	}
}
