// cmd/aptitude/app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aptitude-client/internal/backend"
	"aptitude-client/internal/common/auth"
	"aptitude-client/internal/common/config"
	"aptitude-client/internal/common/database"
	"aptitude-client/internal/common/logger"
	"aptitude-client/internal/common/observability"
	"aptitude-client/internal/progress"
	"aptitude-client/internal/session"
)

// tokenCacheTTL bounds how long a stored bearer token is reused before re-reading the store.
const tokenCacheTTL = 5 * time.Minute

// app is everything one CLI invocation needs.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	kv      database.KV
	store   *progress.Store
	machine *session.Machine
	obs     *observability.Observability
	metrics *http.Server
	onClose []func()
}

// bootstrapFunc builds the app for a command. configPath may be empty.
type bootstrapFunc func(ctx context.Context, configPath string) (*app, error)

func bootstrapFromConfig(ctx context.Context, configPath string) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log := logger.NewZapAdapter(zapLog)

	kv, err := database.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		log.Warn("Observability disabled", map[string]interface{}{"error": err.Error()})
		obs = nil
	}

	a := newApp(cfg, log, kv, obs)
	a.onClose = append(a.onClose, func() { _ = zapLog.Sync() })
	a.startMetricsServer()
	return a, nil
}

// newApp wires the store, backend client and machine over an opened KV.
func newApp(cfg *config.Config, log logger.Logger, kv database.KV, obs *observability.Observability) *app {
	store := progress.NewStore(kv, cfg.Store.Namespace, log.WithFields(map[string]interface{}{
		"component": "progress-store",
	}))

	tokens := auth.NewCachedSource(auth.Chain(auth.StaticToken(cfg.Backend.AuthToken), store), tokenCacheTTL)
	client := backend.NewClient(cfg.Backend, log.WithFields(map[string]interface{}{
		"component": "scoring-backend",
	}), backend.WithTokenSource(tokens))

	machine := session.NewMachine(client, store, log.WithFields(map[string]interface{}{
		"component": "session",
	}), session.WithTotalQuestions(cfg.Test.NominalTotalQuestions), session.WithObservability(obs))

	return &app{
		cfg:     cfg,
		log:     log,
		kv:      kv,
		store:   store,
		machine: machine,
		obs:     obs,
	}
}

func (a *app) startMetricsServer() {
	if a.cfg.Metrics.Address == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	a.log.Info("Metrics server listening", map[string]interface{}{"address": a.cfg.Metrics.Address})
}

func (a *app) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metrics.Shutdown(ctx)
		cancel()
	}
	if err := a.obs.Shutdown(); err != nil {
		a.log.Warn("Observability shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if err := a.kv.Close(); err != nil {
		a.log.Warn("Failed to close store", map[string]interface{}{"error": err.Error()})
	}
	for _, fn := range a.onClose {
		fn()
	}
}
