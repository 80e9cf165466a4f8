/*
Copyright © 2025 Denis Khalturin
All rights reserved.

Redistribution and use in source and binary forms, with or without
modification, are permitted provided that the following conditions are met:

1. Redistributions of source code must retain the above copyright notice,
   this list of conditions and the following disclaimer.

2. Redistributions in binary form must reproduce the above copyright notice,
   this list of conditions and the following disclaimer in the documentation
   and/or other materials provided with the distribution.

3. Neither the name of the copyright holder nor the names of its contributors
   may be used to endorse or promote products derived from this software
   without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
POSSIBILITY OF SUCH DAMAGE.
*/
// prettier-ignore-end
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schemapin-go/internal/config"
	"schemapin-go/internal/discoverywatch"
	"schemapin-go/internal/metrics"
	"schemapin-go/internal/pinstore/postgres"
	"schemapin-go/internal/resolver"
	"schemapin-go/internal/server"
)

// App wires the discovery-freshness watch daemon: a resolver chain over
// every configured domain, a durable pin store, and an HTTP server that
// exposes Prometheus metrics plus health probes. It never hosts discovery
// endpoints or a verification API of its own; that is an out-of-scope
// collaborator per the watch daemon's own scope.
type App struct {
	config        config.Config
	collector     *metrics.Collector
	pinStore      *postgres.Store
	resolver      resolver.Resolver
	serverMetrics *server.Server
	watcher       *discoverywatch.Watcher
	cacheResolver *resolver.CachingResolver
}

// New creates and initializes a new App instance with all required
// components: configuration, durable pin store, resolver chain (optionally
// Redis-cached), discovery-freshness watcher, and the metrics server.
func New() (*App, error) {
	slog.Debug("initializing application")

	ctx := context.Background()

	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config")
		return nil, err
	}

	collector := metrics.NewCollector()

	store, err := postgres.New(ctx, cfg.PinStore.DSN,
		postgres.WithConnMaxIdleTime(cfg.PinStore.ConnMaxIdleTime),
		postgres.WithConnMaxLifetime(cfg.PinStore.ConnMaxLifetime),
		postgres.WithMaxIdleConns(cfg.PinStore.MaxIdleConns),
		postgres.WithMaxOpenConns(cfg.PinStore.MaxOpenConns),
	)
	if err != nil {
		slog.Error("failed to create pin store")
		return nil, err
	}

	chain := resolver.NewChainResolver(
		resolver.NewWellKnownResolver(),
		&resolver.LocalFileResolver{DiscoveryDir: "."},
	)

	var r resolver.Resolver = chain
	var cacheResolver *resolver.CachingResolver
	if cfg.Cache.DSN != "" {
		cacheResolver, err = resolver.NewCachingResolver(chain, cfg.Cache.DSN, cfg.Cache.TTL)
		if err != nil {
			slog.Error("failed to create discovery cache", "error", err)
			return nil, err
		}
		r = cacheResolver
	}

	domains := make([]string, 0, len(cfg.Domains))
	for _, d := range cfg.Domains {
		domains = append(domains, d.Domain)
	}

	watcher := discoverywatch.NewWatcher(ctx, r, domains,
		discoverywatch.WithCollector(collector),
	)

	srvMetrics := server.NewServer(
		server.WithAddr(cfg.Server.Listen),
		server.WithReadTimeout(cfg.Server.ReadTimeout),
		server.WithWriteTimeout(cfg.Server.WriteTimeout),
	)
	srvMetrics.SetHandle("/metrics", promhttp.Handler())
	srvMetrics.SetHandleFunc("/", metrics.Root)

	app := &App{
		config:        cfg,
		collector:     collector,
		pinStore:      store,
		resolver:      r,
		serverMetrics: srvMetrics,
		watcher:       watcher,
		cacheResolver: cacheResolver,
	}

	srvMetrics.SetHandleFunc("/health/liveness", app.probeLiveness)
	srvMetrics.SetHandleFunc("/health/readiness", app.probeReadiness)
	srvMetrics.SetHandleFunc("/health/startup", app.probeStartup)
	srvMetrics.SetHandleFunc("/discovery/{domain}", app.handleDiscoverySnapshot)

	return app, nil
}

// probeLiveness always reports healthy once the process is running.
func (a *App) probeLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// probeReadiness reports unhealthy if the durable pin store is unreachable.
func (a *App) probeReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.pinStore.Ping(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// probeStartup reports ready once the watcher has at least attempted one
// poll for every configured domain.
func (a *App) probeStartup(w http.ResponseWriter, r *http.Request) {
	for _, d := range a.config.Domains {
		snap, ok := a.watcher.Get(d.Domain)
		if !ok || snap.LastChecked.IsZero() {
			http.Error(w, fmt.Sprintf("domain %s not yet polled", d.Domain), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// handleDiscoverySnapshot reports the watcher's last observed fingerprint
// for a configured domain, for operators debugging a rotation.
func (a *App) handleDiscoverySnapshot(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	snap, ok := a.watcher.Get(domain)
	if !ok {
		http.Error(w, fmt.Sprintf("domain %s not watched", domain), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		slog.Error("failed to encode discovery snapshot", "error", err)
	}
}

// Up starts the metrics/health server and blocks until a shutdown signal
// arrives, then triggers graceful shutdown. The discovery watcher's workers
// are already running in the background since New.
func (a *App) Up() {
	slog.Info("starting application",
		"app_id", a.config.UUID.String(),
		"domains", len(a.config.Domains),
	)

	go a.serverMetrics.Up()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs,
		syscall.SIGTERM,
		syscall.SIGINT,
	)

	sig := <-sigs
	slog.Info("shutdown signal received", "signal", fmt.Sprintf("%s (%d)", sig.String(), sig))

	a.Down()
}

// Down performs graceful shutdown of the application.
func (a *App) Down() error {
	if a.serverMetrics != nil {
		a.serverMetrics.Down()
	}

	if a.cacheResolver != nil {
		if err := a.cacheResolver.Close(); err != nil {
			slog.Error("failed to close discovery cache", "error", err)
		}
	}

	if a.pinStore != nil {
		if err := a.pinStore.Close(); err != nil {
			slog.Error("failed to close pin store", "error", err)
		}
	}

	slog.Info("application stopped")
	return nil
}
