// Package app wires the sync core, its collaborators and its HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/config"
	"github.com/mmynk/tripsync/internal/feed"
	"github.com/mmynk/tripsync/internal/metrics"
	"github.com/mmynk/tripsync/internal/middleware"
	"github.com/mmynk/tripsync/internal/notify"
	"github.com/mmynk/tripsync/internal/overlay"
	"github.com/mmynk/tripsync/internal/remote"
	"github.com/mmynk/tripsync/internal/service"
	"github.com/mmynk/tripsync/internal/storage/sqlite"
	"github.com/mmynk/tripsync/internal/store"
)

// App owns every long-lived component. Create it with New, then Start it;
// Close releases everything in reverse order.
type App struct {
	logger   *slog.Logger
	registry *prometheus.Registry

	Remote   *remote.Manager
	JWT      *auth.JWTManager
	Auth     *auth.TokenProvider
	Users    *store.UserStore
	Trips    *store.TripStore
	Bills    *store.BillStore
	Feed     *feed.Hub
	Service  *service.TripService
	Notifier notify.Notifier

	closers []func() error
	detach  func()
	stopHub context.CancelFunc
	hubDone chan struct{}
}

// New builds the components described by cfg. The remote backend is
// Firestore when cfg.FirestoreProject is set, in-memory otherwise.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	var backend remote.Backend
	if cfg.FirestoreProject != "" {
		fs, err := remote.NewFirestoreBackend(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fs.Close)
		backend = fs
		logger.Info("Remote store initialized", "backend", "firestore", "project", cfg.FirestoreProject)
	} else {
		backend = remote.NewMemoryBackend()
		logger.Warn("FIRESTORE_PROJECT not set, using in-memory remote store")
	}

	kv, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.closers = append(a.closers, kv.Close)
	logger.Info("Storage initialized", "database", cfg.DBPath)

	if cfg.AMQPURL != "" {
		n, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n.Close)
		a.Notifier = n
	} else {
		a.Notifier = notify.NewLogNotifier(logger)
	}

	a.Remote = remote.NewManager(backend, logger, m)
	a.JWT = auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	a.Auth = auth.NewTokenProvider(a.JWT, logger)
	a.Users = store.NewUserStore(a.Remote, a.Auth, logger)
	a.Trips = store.NewTripStore(a.Remote, a.Users, logger)
	a.Bills = store.NewBillStore(a.Remote, a.Trips, a.Users, overlay.New(kv, logger, m), a.Notifier, logger)
	a.Feed = feed.NewHub(a.JWT, logger)
	a.Service = service.NewTripService(a.Users, a.Trips, a.Bills, a.Auth, a.JWT, logger)
	return a, nil
}

// Start starts the stores upstream first and begins feeding clients.
func (a *App) Start() {
	a.Users.Start()
	a.Trips.Start()
	a.Bills.Start()
	a.detach = a.Feed.Attach(a.Users, a.Trips, a.Bills)

	ctx, cancel := context.WithCancel(context.Background())
	a.stopHub = cancel
	a.hubDone = make(chan struct{})
	go func() {
		defer close(a.hubDone)
		a.Feed.Run(ctx)
	}()
}

// Handler serves the Connect service, the live feed and the metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	path, handler := a.Service.Handler()
	mux.Handle(path, handler)
	mux.Handle("/feed", a.Feed)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return middleware.HTTPLogging(a.logger, middleware.CORS(mux))
}

// Close stops the stores downstream first, then releases the remote
// subscriptions and every external resource.
func (a *App) Close() error {
	if a.detach != nil {
		a.detach()
	}
	a.Bills.Stop()
	a.Trips.Stop()
	a.Users.Stop()
	if a.stopHub != nil {
		a.stopHub()
		<-a.hubDone
	}
	a.Remote.Close()
	return a.closeResources()
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
