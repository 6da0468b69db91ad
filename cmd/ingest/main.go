// Command ingest runs the HTTP-facing half of WebhookHub: it authenticates
// and durably captures inbound webhook events and fans them out as delivery
// jobs on the broker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cvieirasp/webhookhub/internal/adminauth"
	"github.com/cvieirasp/webhookhub/internal/api"
	"github.com/cvieirasp/webhookhub/internal/broker"
	"github.com/cvieirasp/webhookhub/internal/config"
	"github.com/cvieirasp/webhookhub/internal/health"
	"github.com/cvieirasp/webhookhub/internal/ingest"
	"github.com/cvieirasp/webhookhub/internal/logging"
	"github.com/cvieirasp/webhookhub/internal/metrics"
	"github.com/cvieirasp/webhookhub/internal/store"
	"github.com/cvieirasp/webhookhub/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()
	logger := logging.New(cfg.AppName + "-ingest")

	shutdown, err := tracing.InitTracing(ctx, cfg.AppName+"-ingest")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := store.Connect(ctx, cfg.DSN(), 10)
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	st := store.New(pool)

	conn, err := amqp.Dial(cfg.RabbitMQ.AMQPURL())
	if err != nil {
		logger.Plain().WithError(err).Fatal("amqp dial failed")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Plain().WithError(err).Fatal("amqp channel failed")
	}
	defer ch.Close()

	if err := broker.Declare(ch); err != nil {
		logger.Plain().WithError(err).Fatal("broker topology declare failed")
	}

	svc := ingest.New(st, ch)
	svc.MaxAttempts = cfg.Worker.MaxAttempts

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Handler(pool, conn))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/ingest/", ingest.Handler(svc, logger))

	// Admin surfaces: source/destination CRUD and the event/delivery
	// queries, behind a bearer-JWT auth gate when a key is configured.
	var authMW func(http.Handler) http.Handler
	if cfg.AdminAuth.JWTPublicKeyPath != "" {
		validator, err := adminauth.LoadFromFile(cfg.AdminAuth.JWTPublicKeyPath, cfg.AdminAuth.JWTIssuer, cfg.AdminAuth.JWTAudience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("admin auth key load failed")
		}
		authMW = validator.HTTPMiddleware
	}
	adminSrv := api.New(st)
	mux.Handle("/admin/", api.Guard(authMW, adminSrv.Handler()))

	httpSrv := &http.Server{
		Addr:         cfg.HTTPPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("ingest HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("ingest HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down ingest")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("ingest stopped")
}
