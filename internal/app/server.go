// Package app wires configuration, storage, the realtime core and the
// HTTP surface into one runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoravur/livescore/internal/api"
	"github.com/zoravur/livescore/internal/config"
	"github.com/zoravur/livescore/internal/logutil"
	"github.com/zoravur/livescore/internal/metrics"
	"github.com/zoravur/livescore/internal/pgstore"
	"github.com/zoravur/livescore/internal/reactive"
	"github.com/zoravur/livescore/internal/sqlitestore"
	"github.com/zoravur/livescore/internal/store"
	"github.com/zoravur/livescore/internal/wal"
)

type Server struct {
	cfg     *config.Config
	log     *zap.Logger
	Store   store.MatchStore
	Metrics *metrics.Metrics

	Registry    *reactive.Registry
	Broadcaster *reactive.Broadcaster
	// relay is nil in write mode
	relay *reactive.Relay

	httpServer *http.Server
	// onListen reports the bound address; tests listen on port 0
	onListen func(addr string)
}

// NewServer opens the configured store and builds every component. The
// caller owns the returned server and must Run it to release the store.
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := metrics.New()

	st, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := reactive.NewRegistry(cfg.Realtime.RegistryShards, m)
	b := reactive.NewBroadcaster(reg, log, m)

	s := &Server{
		cfg:         cfg,
		log:         log,
		Store:       st,
		Metrics:     m,
		Registry:    reg,
		Broadcaster: b,
	}

	if cfg.Realtime.Mode == config.ModeFeed {
		w, err := feedFor(cfg, st, log)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		s.relay = reactive.NewRelay(w, st, b, log, m)
	}

	h := &api.Handlers{
		Store:          st,
		Registry:       reg,
		Broadcaster:    b,
		Metrics:        m,
		Log:            log,
		PublishOnWrite: cfg.Realtime.Mode == config.ModeWrite,
		StaticDir:      cfg.HTTP.StaticDir,
		StoreTimeout:   cfg.Store.Timeout,
		SendBuffer:     cfg.Realtime.SendBuffer,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		PingInterval:   cfg.Realtime.PingInterval,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.SetupRoutes(h),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}
	return s, nil
}

// OpenStore opens the store for cfg.Store.Driver, migrating SQL schemas
// first.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.MatchStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	case config.DriverSQLite:
		return sqlitestore.Open(ctx, cfg.Store.SQLitePath, log)
	case config.DriverPostgres:
		if err := pgstore.MigrateDSN(ctx, cfg.Store.DSN); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return pgstore.Open(ctx, cfg.Store.DSN, log)
	}
	return nil, fmt.Errorf("%w: unknown store.driver %q", config.ErrInvalidConfig, cfg.Store.Driver)
}

// feedFor picks the change feed that drives publishing in feed mode.
func feedFor(cfg *config.Config, st store.MatchStore, log *zap.Logger) (store.Watcher, error) {
	if cfg.Store.Driver == config.DriverPostgres && cfg.Realtime.Feed == config.FeedReplication {
		return wal.NewStream(cfg.Store.DSN, cfg.Realtime.ReplicationSlot, cfg.Realtime.Publication, log), nil
	}
	w, ok := st.(store.Watcher)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrWatchUnsupported, cfg.Store.Driver)
	}
	return w, nil
}

// Run serves until ctx is done or a component fails, then shuts the HTTP
// server down and closes the store. Cancelling ctx also closes every
// realtime session, since request contexts derive from it.
func (s *Server) Run(ctx context.Context) error {
	defer s.Store.Close()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	if s.onListen != nil {
		s.onListen(ln.Addr().String())
	}

	g, ctx := errgroup.WithContext(ctx)
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()), logutil.Values(
			zap.String("driver", s.cfg.Store.Driver),
			zap.String("mode", s.cfg.Realtime.Mode),
			zap.String("feed", s.cfg.Realtime.Feed),
		))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.relay != nil {
		g.Go(func() error { return s.relay.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
