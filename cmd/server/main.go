package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/example/curblink/internal/bus"
	"github.com/example/curblink/internal/config"
	"github.com/example/curblink/internal/dispatch"
	"github.com/example/curblink/internal/geo"
	"github.com/example/curblink/internal/geoloc"
	httpapi "github.com/example/curblink/internal/http"
	"github.com/example/curblink/internal/ingest"
	"github.com/example/curblink/internal/logging"
	"github.com/example/curblink/internal/push"
	"github.com/example/curblink/internal/registry"
	"github.com/example/curblink/internal/roles"
	"github.com/example/curblink/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	// Rides and drivers share one backing store: Postgres when configured,
	// in-memory otherwise.
	var rides store.RideStore
	var drivers store.DriverStore
	if cfg.PGDSN != "" {
		ps, err := store.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "err", err)
			os.Exit(1)
		}
		defer ps.Close()
		if cfg.RunMigrations {
			runMigrations(ps.DB(), logger)
		}
		rides, drivers = ps, ps
	} else {
		ms := store.NewMemoryStore()
		rides, drivers = ms, ms
	}

	var gidx geo.Geo
	if cfg.RedisAddr != "" {
		gidx = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.LocationStaleness)
	} else {
		gidx = geo.NewIndex(cfg.LocationStaleness)
	}

	b := bus.New()
	driverWS := push.NewRegistry()
	riderWS := push.NewRegistry()

	reg := registry.NewService(drivers, rides, gidx, geoloc.NewStatic(), b, logger)
	reg.Staleness = cfg.LocationStaleness
	reg.RefreshInterval = cfg.LocationRefresh
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		reg.Publisher = kp
	}

	coord := dispatch.NewCoordinator(rides, drivers, reg, gidx, b, logger)
	coord.Offers = &push.DriverOffers{Drivers: driverWS, Log: logger}
	coord.OfferFanout = cfg.OfferFanout

	resolver := &roles.Resolver{
		Admins:    roles.NewMemberSet(splitIDs(os.Getenv("ADMIN_IDS"))...),
		Drivers:   roles.DriverRecords{Store: drivers},
		Customers: roles.NewMemberSet(splitIDs(os.Getenv("CUSTOMER_IDS"))...),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := b.Subscribe(64)
	defer sub.Close()
	fwd := &push.Forwarder{Drivers: driverWS, Riders: riderWS, Log: logger}
	go fwd.Run(ctx, sub)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(coord, reg, resolver, driverWS, riderWS, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("dispatch service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	reg.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}

func runMigrations(db *sql.DB, logger *slog.Logger) {
	path := filepath.Join("migrations", "001_init.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("migration skipped", "path", path, "err", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "err", err)
		return
	}
	logger.Info("migration applied", "path", path)
}

func splitIDs(v string) []string {
	out := make([]string, 0)
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
