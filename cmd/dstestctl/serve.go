package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dstestkit/harness/internal/config"
	"github.com/dstestkit/harness/internal/logging"
	"github.com/dstestkit/harness/pkg/controller"
	"github.com/dstestkit/harness/pkg/metrics"
	"github.com/dstestkit/harness/pkg/wire"
)

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfg, err := config.Parse(fs, args)
	if err != nil {
		return err
	}
	logging.Apply(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logrus.WithField("component", "cli")

	var rec *metrics.Recorder
	if cfg.MetricsAddr != "" {
		rec, err = startMetrics(cfg.MetricsAddr, log)
		if err != nil {
			return fmt.Errorf("start metrics: %w", err)
		}
	}

	ctrl := controller.New(controller.Config{Addr: cfg.Addr, Metrics: rec, AckTimeout: cfg.AckTimeout})
	ctrl.SetRealTimeMode(cfg.RealTimeDefault)

	serveErr := make(chan error, 1)
	go func() { serveErr <- ctrl.Serve() }()

	log.WithField("addr", cfg.Addr).Info("dstestctl serving")

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		runStdinDriver(ctx, ctrl, cfg, log)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-driverDone:
		log.Info("stdin closed, shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("controller: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AckTimeout)
	defer cancel()
	return ctrl.Shutdown(shutdownCtx)
}

// runStdinDriver reads "<recipient> <type> [body]" lines and injects each
// as a local message into recipient, per spec.md §6's line-oriented driver.
func runStdinDriver(ctx context.Context, ctrl *controller.Controller, cfg config.Controller, log *logrus.Entry) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 2 {
			log.Warnf("malformed driver line %q: expected <recipient> <type> [body]", line)
			continue
		}
		recipient, typ := fields[0], fields[1]
		body := ""
		if len(fields) == 3 {
			body = fields[2]
		}
		env := wire.Envelope{Type: typ, Body: body}
		if err := ctrl.SendLocalMessage(ctx, recipient, env, cfg.AckTimeout); err != nil {
			log.WithError(err).Errorf("inject local message to %s", recipient)
		}
	}
}

// startMetrics wires the scheduler's OpenTelemetry instruments to a real
// Prometheus-compatible exporter and serves /metrics, per SPEC_FULL.md
// §7.2.
func startMetrics(addr string, log *logrus.Entry) (*metrics.Recorder, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	rec, err := metrics.New()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.WithField("addr", addr).Info("metrics endpoint listening")
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	return rec, nil
}
