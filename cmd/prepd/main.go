package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ieltsgenai/prep/internal/apiclient"
	"github.com/ieltsgenai/prep/internal/assessment"
	"github.com/ieltsgenai/prep/internal/auth"
	"github.com/ieltsgenai/prep/internal/config"
	"github.com/ieltsgenai/prep/internal/httpapi"
	"github.com/ieltsgenai/prep/internal/observability"
	"github.com/ieltsgenai/prep/internal/purchase"
	"github.com/ieltsgenai/prep/internal/region"
	"github.com/ieltsgenai/prep/internal/session"
	"github.com/ieltsgenai/prep/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()
	if cfg.DatabaseURL != "" {
		log.Printf("store: postgres")
	} else {
		log.Printf("store: in-memory")
	}

	sessions := session.NewCache(cfg.SessionTTL)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.AuthEvents.WithLabelValues("session_expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	authSvc := auth.NewService(st, sessions)

	var verifier purchase.Verifier
	switch cfg.PurchaseVerifierMode {
	case "http":
		regions := region.NewMap(map[region.ID]region.Region{
			region.USEast1: {APIBaseURL: cfg.PurchaseBackendURL},
		})
		client, err := apiclient.New(apiclient.Config{
			Regions:     regions,
			Timezone:    cfg.Timezone,
			MaxAttempts: cfg.MaxAttempts,
		})
		if err != nil {
			log.Fatalf("purchase backend client init failed: %v", err)
		}
		client.Executor().SetRetryHook(func(int) { metrics.APIRetries.Inc() })
		verifier = purchase.NewHTTPVerifier(client)
		log.Printf("purchase verifier: http (%s)", cfg.PurchaseBackendURL)
	default:
		verifier = purchase.NewFakeVerifier()
		log.Printf("purchase verifier: fake")
	}

	api := httpapi.New(cfg, st, sessions, authSvc, verifier, assessment.NewExaminer(), metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.JanitorInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
