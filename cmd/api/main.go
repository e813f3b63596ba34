package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presshook/internal/admin"
	"presshook/internal/audit"
	"presshook/internal/config"
	"presshook/internal/db"
	"presshook/internal/dispatch"
	"presshook/internal/health"
	"presshook/internal/hook"
	"presshook/internal/logging"
	"presshook/internal/metrics"
	"presshook/internal/store"
	"presshook/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("presshook-api")

	shutdown, err := tracing.InitTracing(ctx, "presshook-api")
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		logger.Plain().WithError(err).Fatal("schema setup failed")
	}

	prod, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer prod.Stop()

	deliveries := store.NewDeliveryStore(pool)
	audits := store.NewAuditStore(pool)

	coord := dispatch.NewCoordinator(deliveries, prod, cfg.NSQ.RevalidationsTopic, cfg.Revalidate.TargetURL, logger)
	auditor := audit.NewRecorder(audits, logger)

	validator, err := admin.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		logger.Plain().WithError(err).Fatal("operator auth key setup failed")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.HTTPHandler(pool))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /internal/events", triggerHandler(coord, logger))

	adminHandler := admin.NewHandler(deliveries, coord, auditor, logger)
	adminHandler.Register(mux, validator.Middleware)

	srv := &http.Server{Addr: cfg.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", srv.Addr).Info("api HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("api HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down api service")
	_ = srv.Shutdown(context.Background())
	logger.Plain().Info("api service stopped")
}

// triggerHandler accepts content-lifecycle events from the editorial system.
// It answers as soon as the delivery record is persisted and enqueued; the
// outbound HTTP attempt never happens on this request path.
func triggerHandler(coord *dispatch.Coordinator, logger *logging.Logger) http.HandlerFunc {
	type triggerResponse struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var ev struct {
			Action string `json:"action"`
			Path   string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rec, err := coord.Dispatch(r.Context(), hook.Event{Action: ev.Action, Path: ev.Path})
		switch {
		case errors.Is(err, dispatch.ErrUnknownAction), errors.Is(err, dispatch.ErrMissingPath):
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			logger.WithContext(r.Context()).WithPath(ev.Path).WithError(err).Error("trigger dispatch failed")
			writeJSONError(w, http.StatusInternalServerError, "failed to enqueue delivery")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(triggerResponse{ID: rec.ID, Status: string(rec.Status)})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
