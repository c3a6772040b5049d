package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Vasu1712/silensess-backend/internal/api/simulation"
	"github.com/Vasu1712/silensess-backend/internal/clock"
	"github.com/Vasu1712/silensess-backend/internal/metrics"
	"github.com/Vasu1712/silensess-backend/internal/middleware"
	"github.com/Vasu1712/silensess-backend/internal/session"
	"github.com/Vasu1712/silensess-backend/internal/submit"
	"github.com/Vasu1712/silensess-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var connectOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, dashboard WebSocket and telemetry session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), connectOnStart)
		},
	}
	cmd.Flags().BoolVar(&connectOnStart, "connect", false, "connect to the stored channel on startup")
	return cmd
}

func runServe(parent context.Context, connectOnStart bool) error {
	cfg, logger, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sess := session.New(store, sessionOptions(cfg, logger, m))
	defer sess.Close()

	hub := ws.NewHub(logger, m)
	hub.Upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || cfg.Server.AllowedOrigin == "*" || origin == cfg.Server.AllowedOrigin
	}
	feed := &simulation.DashboardFeed{Hub: hub, Session: sess, Logger: logger}
	hub.Snapshot = feed.Snapshot
	unsubscribe := sess.Subscribe(feed)
	defer unsubscribe()
	go hub.Run(ctx)

	handler := &simulation.SimulationHandler{
		Session:      sess,
		Submitter:    submit.New(cfg.Submit.BaseURL, cfg.Submit.Timeout, store, logger, m),
		Channels:     store,
		Snapshots:    store,
		Hub:          hub,
		Clock:        clock.Real(),
		ConnectDelay: cfg.Submit.ConnectDelay,
		Logger:       logger,
	}

	r := mux.NewRouter()
	r.Use(middleware.RequestLog(logger))
	simulation.RegisterSimulationRoutes(r, handler,
		middleware.Auth(cfg.Server.JWTSecret, logger),
		middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst, logger),
	)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           middleware.CORS(cfg.Server.AllowedOrigin, logger)(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if connectOnStart {
		go sess.Connect(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", cfg.Server.Addr, "ws_url", cfg.Telemetry.WSURL,
			"storage", cfg.Storage.Backend, "fps", cfg.Telemetry.FPS)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
