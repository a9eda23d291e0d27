package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surrealdb/surreal-sync/internal/common/health"
)

// startHealthServer serves /q/health, /q/health/ready and /metrics for a
// long-running `incremental --follow` process the same way cmd/outbox
// exposes health/metrics alongside its poll loop, so an orchestrator can
// probe an incremental run instead of only watching its exit code.
// pingTarget and pingStore verify the target SurrealDB connection and
// the checkpoint store are actually reachable, not just that they were
// reachable at startup.
func startHealthServer(addr string, healthy func() bool, pingTarget, pingStore func(context.Context) error) (shutdown func(context.Context) error) {
	checker := health.NewChecker()
	checker.AddReadinessCheck(func() health.Check {
		if !healthy() {
			return health.Check{Name: "incremental-sync", Status: health.StatusDown}
		}
		return health.Check{Name: "incremental-sync", Status: health.StatusUp}
	})
	checker.AddReadinessCheck(health.SurrealDBCheck(func() error {
		return pingTarget(context.Background())
	}))
	checker.AddReadinessCheck(health.CheckpointStoreCheck(func() error {
		return pingStore(context.Background())
	}))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/q/health", checker.HandleHealth)
	r.Get("/q/health/live", checker.HandleLive)
	r.Get("/q/health/ready", checker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		slog.Info("health/metrics server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health/metrics server failed", "error", err)
		}
	}()

	return server.Shutdown
}

func defaultHealthAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
