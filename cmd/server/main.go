package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/parimutuel/internal/api"
	"github.com/xtrntr/parimutuel/internal/auth"
	"github.com/xtrntr/parimutuel/internal/config"
	"github.com/xtrntr/parimutuel/internal/db"
	"github.com/xtrntr/parimutuel/internal/exchange"
	"github.com/xtrntr/parimutuel/internal/logging"
	"github.com/xtrntr/parimutuel/internal/models"
	"github.com/xtrntr/parimutuel/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// eventLookup resolves events lazily so the journal can be built before the
// engine it reads from
type eventLookup func(id models.EventID) (models.Event, error)

func (f eventLookup) GetEvent(id models.EventID) (models.Event, error) { return f(id) }

// Main entry point: loads config, wires the engine, serves HTTP until signalled
func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence is optional; without a DSN users live in memory
	var store auth.UserStore = auth.NewMemoryStore()
	var database *db.DB
	if cfg.Database.DSN != "" {
		var err error
		database, err = db.NewDB(ctx, db.Config{
			DSN:      cfg.Database.DSN,
			MaxConns: int32(cfg.Database.MaxConns),
			MinConns: int32(cfg.Database.MinConns),
		})
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		store = database
	} else {
		logger.Warn("no database configured, running in memory")
	}

	var ex *exchange.Exchange
	hub := notify.NewHub(logger.Named("ws"))
	defer hub.Close()

	var sinks []notify.Sink
	if database != nil {
		sinks = append(sinks, notify.NewJournal(database, eventLookup(func(id models.EventID) (models.Event, error) {
			return ex.GetEvent(id)
		})))
	}
	if cfg.Redis.Enabled {
		pub, err := notify.NewRedisPublisher(ctx, notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)

		// WebSocket clients are fed from the channel so every instance sees all activity
		feed, err := pub.Subscribe(ctx)
		if err != nil {
			return err
		}
		go func() {
			for a := range feed {
				_ = hub.Deliver(ctx, a)
			}
		}()
	} else {
		sinks = append(sinks, hub)
	}

	if cfg.Kafka.Enabled {
		kp, err := notify.NewKafkaPublisher(notify.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return err
		}
		defer kp.Close()
		sinks = append(sinks, kp)
	}

	dispatcher := notify.NewDispatcher(logger.Named("notify"), 0, sinks...)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()
	defer func() {
		stopDispatch()
		<-dispatchDone
	}()

	var err error
	ex, err = exchange.New(exchange.Config{
		Owner:      models.Identity(cfg.Exchange.Owner),
		Treasury:   models.Identity(cfg.Exchange.Treasury),
		FeePercent: cfg.Exchange.FeePercent,
		Observer:   dispatcher,
		Logger:     logger.Named("engine"),
	})
	if err != nil {
		return err
	}

	authService := auth.NewAuthService(store, auth.Config{
		Secret: cfg.Auth.JWTSecret,
		TTL:    cfg.Auth.TTL(),
		Reserved: []models.Identity{
			models.Identity(cfg.Exchange.Owner),
			models.Identity(cfg.Exchange.Treasury),
			exchange.CoordinatorID,
			exchange.VaultAID,
			exchange.VaultBID,
		},
	})
	if cfg.Auth.OwnerPassword != "" {
		if _, err := authService.EnsureUser(ctx, cfg.Exchange.Owner, cfg.Auth.OwnerPassword); err != nil {
			return fmt.Errorf("failed to provision owner account: %w", err)
		}
	} else {
		logger.Warn("auth.owner_password not set, admin endpoints are unreachable")
	}

	opts := api.Options{InitialBalance: cfg.Exchange.InitialBalance, Logger: logger.Named("api")}
	if database != nil {
		opts.Journal = database
	}
	handler := api.NewHandler(ex, authService, opts)

	// Set up HTTP router
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/ws", hub)
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Int("dropped_activity", dispatcher.Dropped()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
