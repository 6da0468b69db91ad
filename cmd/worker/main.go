// Command worker runs the delivery side of WebhookHub: it consumes delivery
// jobs from the broker, dispatches them over HTTP, and drives each delivery
// row through its terminal or retrying state.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cvieirasp/webhookhub/internal/broker"
	"github.com/cvieirasp/webhookhub/internal/config"
	"github.com/cvieirasp/webhookhub/internal/dispatch"
	"github.com/cvieirasp/webhookhub/internal/health"
	"github.com/cvieirasp/webhookhub/internal/logging"
	"github.com/cvieirasp/webhookhub/internal/metrics"
	"github.com/cvieirasp/webhookhub/internal/store"
	"github.com/cvieirasp/webhookhub/internal/tracing"
	"github.com/cvieirasp/webhookhub/internal/worker"
)

func main() {
	cfg := config.FromEnv()
	ctx, stopNotify := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopNotify()

	logger := logging.New(cfg.AppName + "-worker")

	shutdown, err := tracing.InitTracing(ctx, cfg.AppName+"-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := store.Connect(ctx, cfg.DSN(), 5)
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

	client := dispatch.New()
	defer client.Close()

	w := worker.New(st, client, ch, nil)
	w.Schedule = cfg.Worker.BackoffSchedule

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Handler(pool, conn))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- worker.Run(ctx, ch, w, logger, cfg.Worker.Prefetch)
	}()

	logger.Plain().Info("worker service started")

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil {
			logger.Plain().WithError(err).Error("consumer loop exited")
		}
	}

	logger.Plain().Info("shutting down worker service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker service stopped")
}
