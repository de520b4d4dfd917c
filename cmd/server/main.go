// Command gtlab-server starts the fleet telemetry API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/gt-lab/internal/config"
	"github.com/and161185/gt-lab/internal/events"
	"github.com/and161185/gt-lab/internal/export"
	"github.com/and161185/gt-lab/internal/logging"
	"github.com/and161185/gt-lab/internal/migrate"
	"github.com/and161185/gt-lab/internal/model"
	"github.com/and161185/gt-lab/internal/repository"
	"github.com/and161185/gt-lab/internal/repository/postgres"
	"github.com/and161185/gt-lab/internal/repository/redisstore"
	httpserver "github.com/and161185/gt-lab/internal/server/http"
	"github.com/and161185/gt-lab/internal/service"
	"github.com/and161185/gt-lab/internal/telemetry"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// stores holds the repositories of both principal kinds.
type stores struct {
	adminPrincipals *postgres.PrincipalRepo
	userPrincipals  *postgres.PrincipalRepo
	adminTokens     repository.AccessTokenRepository
	userTokens      repository.AccessTokenRepository
	registrations   repository.RegistrationTokenRepository
}

func openStores(db *postgres.DB, rdb redis.UniversalClient, backend string) (*stores, error) {
	var s stores
	var err error
	if s.adminPrincipals, err = postgres.NewPrincipalRepo(db, model.KindAdmin); err != nil {
		return nil, err
	}
	if s.userPrincipals, err = postgres.NewPrincipalRepo(db, model.KindUser); err != nil {
		return nil, err
	}
	if backend == config.StoreRedis {
		s.adminTokens = redisstore.NewTokenStore(rdb, model.KindAdmin)
		s.userTokens = redisstore.NewTokenStore(rdb, model.KindUser)
		s.registrations = redisstore.NewRegistrationStore(rdb)
		return &s, nil
	}
	if s.adminTokens, err = postgres.NewTokenRepo(db, model.KindAdmin); err != nil {
		return nil, err
	}
	if s.userTokens, err = postgres.NewTokenRepo(db, model.KindUser); err != nil {
		return nil, err
	}
	s.registrations = postgres.NewRegistrationRepo(db)
	return &s, nil
}

// main loads configuration, runs migrations and serves the HTTP API until SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "", "config file (yaml, json, toml or env)")
	addr := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("tokenStore", cfg.TokenStore),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()

	var rdb redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis url", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	st, err := openStores(db, rdb, cfg.TokenStore)
	if err != nil {
		logger.Fatal("repositories", zap.Error(err))
	}

	var pub events.Publisher = events.Nop{}
	if cfg.EventsEnabled {
		rs, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: rdb}, events.NewZapAdapter(logger))
		if err != nil {
			logger.Fatal("event publisher", zap.Error(err))
		}
		wp := events.NewWatermillPublisher(rs, logger)
		defer wp.Close()
		pub = wp
	}

	common := []service.Option{
		service.WithLogger(logger),
		service.WithEvents(pub),
		service.WithSyncExpiryDelete(cfg.SyncExpiryDelete),
	}
	if cfg.ReplayWindow > 0 {
		common = append(common, service.WithReplayGuard(redisstore.NewChallengeLedger(rdb), cfg.ReplayWindow))
	}
	admin := service.NewLifecycle(st.adminPrincipals, st.adminTokens,
		append([]service.Option{service.WithAccessTTL(cfg.AdminAccessTTL)}, common...)...)
	user := service.NewLifecycle(st.userPrincipals, st.userTokens,
		append([]service.Option{service.WithAccessTTL(cfg.UserAccessTTL)}, common...)...)
	issuer := service.NewRegistrationIssuer(admin, st.userPrincipals, st.registrations,
		service.WithLogger(logger),
		service.WithEvents(pub),
		service.WithRegistrationTTL(cfg.RegistrationTTL),
		service.WithRejectExisting(cfg.RejectExistingUsers),
	)

	var wg sync.WaitGroup
	var data service.DataService
	if cfg.TelemetryConfigured() {
		tm, err := telemetry.New(telemetry.Config{
			Server:   cfg.GeotabServer,
			Database: cfg.GeotabDatabase,
			Username: cfg.GeotabUsername,
			Password: cfg.GeotabPassword,
		}, logger)
		if err != nil {
			logger.Fatal("telemetry", zap.Error(err))
		}
		data = service.NewDataService(tm)

		if cfg.ExportEnabled {
			loc, _ := time.LoadLocation(cfg.ExportTZ)
			ex, err := export.New(tm, export.Config{Dir: cfg.ExportDir, At: cfg.ExportAt, Location: loc}, logger)
			if err != nil {
				logger.Fatal("exporter", zap.Error(err))
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = ex.Run(ctx)
			}()
		}
	} else {
		logger.Warn("telemetry not configured; /api/user/geotab-data is disabled")
	}

	if cfg.SweepInterval > 0 {
		for _, l := range []*service.Lifecycle{admin, user} {
			wg.Add(1)
			go func(l *service.Lifecycle) {
				defer wg.Done()
				l.RunSweeper(ctx, cfg.SweepInterval)
			}(l)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	api := httpserver.New(admin, user, issuer, st.userPrincipals, data, logger).WithReadiness(db.Ping)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forced shutdown", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	stop()
	wg.Wait()
	admin.Wait()
	user.Wait()
	logger.Info("shutdown complete")
}
